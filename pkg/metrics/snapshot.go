package metrics

// MetricSnapshot is a point-in-time copy of one metric and its populated
// stores.
type MetricSnapshot struct {
	Name       string
	Help       string
	Kind       Kind
	LabelNames []string
	Buckets    []float64
	Series     []SeriesSnapshot
}

// SeriesSnapshot is one label-value combination. LabelValues are unquoted and
// follow LabelNames. Histogram is nil for counters and gauges.
type SeriesSnapshot struct {
	LabelValues []string
	Value       float64
	Histogram   *HistogramSample
}

// Snapshot copies the registry in registration order. Stores appear in slot
// order.
func (r *Registry) Snapshot() []MetricSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]MetricSnapshot, 0, len(r.metrics))
	for _, m := range r.metrics {
		ms := MetricSnapshot{
			Name:       m.name,
			Help:       m.help,
			Kind:       m.kind,
			LabelNames: append([]string(nil), m.labels...),
			Buckets:    append([]float64(nil), m.buckets...),
			Series:     make([]SeriesSnapshot, 0, m.used),
		}
		for i := range m.stores {
			s := &m.stores[i]
			if !s.used {
				continue
			}
			ss := SeriesSnapshot{
				LabelValues: append([]string(nil), s.raw...),
				Value:       s.value,
			}
			if m.kind == KindHistogram {
				h := s.histogram(len(m.buckets))
				ss.Histogram = &h
			}
			ms.Series = append(ms.Series, ss)
		}
		out = append(out, ms)
	}
	return out
}
