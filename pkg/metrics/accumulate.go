package metrics

import (
	"fmt"
	"math"
)

// HistogramSample is the state of one histogram store. Buckets[i] counts the
// observations less than or equal to the i-th boundary; Overflow counts those
// above every boundary.
type HistogramSample struct {
	Buckets  []uint64
	Overflow uint64
	Sum      float64
	Count    uint64
}

// CounterAdd adds a non-negative value to a counter.
func (r *Registry) CounterAdd(m *Metric, value float64, labels ...Label) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.update(m, KindCounter, labels, func() error {
		if math.IsNaN(value) {
			return ErrInvalidValue
		}
		if value < 0 {
			return fmt.Errorf("%w: %v", ErrNegativeValue, value)
		}
		return nil
	})
	if err != nil {
		return r.warn("counter add", metricName(m), err)
	}
	s.value += value
	return nil
}

// CounterInc adds one to a counter.
func (r *Registry) CounterInc(m *Metric, labels ...Label) error {
	return r.CounterAdd(m, 1, labels...)
}

// GaugeSet sets a gauge.
func (r *Registry) GaugeSet(m *Metric, value float64, labels ...Label) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.update(m, KindGauge, labels, nil)
	if err != nil {
		return r.warn("gauge set", metricName(m), err)
	}
	s.value = value
	return nil
}

// GaugeAdd adds a signed delta to a gauge.
func (r *Registry) GaugeAdd(m *Metric, delta float64, labels ...Label) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.update(m, KindGauge, labels, nil)
	if err != nil {
		return r.warn("gauge add", metricName(m), err)
	}
	s.value += delta
	return nil
}

// GaugeInc adds one to a gauge.
func (r *Registry) GaugeInc(m *Metric, labels ...Label) error {
	return r.GaugeAdd(m, 1, labels...)
}

// GaugeDec subtracts one from a gauge.
func (r *Registry) GaugeDec(m *Metric, labels ...Label) error {
	return r.GaugeAdd(m, -1, labels...)
}

// HistogramObserve records one observation.
func (r *Registry) HistogramObserve(m *Metric, value float64, labels ...Label) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.update(m, KindHistogram, labels, func() error {
		if math.IsNaN(value) {
			return ErrInvalidValue
		}
		return nil
	})
	if err != nil {
		return r.warn("histogram observe", metricName(m), err)
	}

	above := true
	for i, b := range m.buckets {
		if value <= b {
			s.buckets[i]++
			above = false
		}
	}
	if above {
		s.overflow++
	}
	s.sum += value
	s.count++
	return nil
}

// CounterValue returns the value of a counter. ok is false when the label
// combination has never been updated.
func (r *Registry) CounterValue(m *Metric, labels ...Label) (value float64, ok bool, err error) {
	return r.scalar(m, KindCounter, labels)
}

// GaugeValue returns the value of a gauge. ok is false when the label
// combination has never been updated.
func (r *Registry) GaugeValue(m *Metric, labels ...Label) (value float64, ok bool, err error) {
	return r.scalar(m, KindGauge, labels)
}

// HistogramValue returns a copy of a histogram store.
func (r *Registry) HistogramValue(m *Metric, labels ...Label) (HistogramSample, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, err := r.read(m, KindHistogram, labels)
	if err != nil || s == nil {
		return HistogramSample{}, false, err
	}
	return s.histogram(len(m.buckets)), true, nil
}

// update runs the kind and value checks, then resolves the store. A failing
// check never allocates. Callers hold the write lock.
func (r *Registry) update(m *Metric, kind Kind, labels []Label, check func() error) (*store, error) {
	if err := r.owns(m); err != nil {
		return nil, err
	}
	if m.kind != kind {
		return nil, fmt.Errorf("%w: %s is a %s", ErrWrongKind, m.name, m.kind)
	}
	if check != nil {
		if err := check(); err != nil {
			return nil, err
		}
	}
	idx, err := r.resolve(m, labels)
	if err != nil {
		return nil, err
	}
	return &m.stores[idx], nil
}

func (r *Registry) scalar(m *Metric, kind Kind, labels []Label) (float64, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, err := r.read(m, kind, labels)
	if err != nil || s == nil {
		return 0, false, err
	}
	return s.value, true, nil
}

func (r *Registry) read(m *Metric, kind Kind, labels []Label) (*store, error) {
	if err := r.owns(m); err != nil {
		return nil, err
	}
	if m.kind != kind {
		return nil, fmt.Errorf("%w: %s is a %s", ErrWrongKind, m.name, m.kind)
	}
	return r.lookup(m, labels)
}

func (s *store) histogram(n int) HistogramSample {
	return HistogramSample{
		Buckets:  append([]uint64(nil), s.buckets[:n]...),
		Overflow: s.overflow,
		Sum:      s.sum,
		Count:    s.count,
	}
}

func metricName(m *Metric) string {
	if m == nil {
		return ""
	}
	return m.name
}
