package metrics

import "fmt"

// Kind is the type of a metric.
type Kind int

const (
	KindCounter Kind = iota
	KindGauge
	KindHistogram
)

// String returns the exposition name of the kind.
func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindGauge:
		return "gauge"
	case KindHistogram:
		return "histogram"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k >= KindCounter && k <= KindHistogram
}

// ParseKind converts "counter", "gauge" or "histogram" into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "counter":
		return KindCounter, nil
	case "gauge":
		return KindGauge, nil
	case "histogram":
		return KindHistogram, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Metric is a registered metric together with its value stores. A *Metric is
// only valid with the Registry that created it.
type Metric struct {
	registry *Registry

	name   string
	help   string
	kind   Kind
	labels []string

	buckets        []float64
	bucketsDefined bool

	stores []store
	used   int
}

// store holds the value of one label-value combination.
type store struct {
	used bool
	// raw label values and their quoted, escaped form, in declared order
	raw    []string
	quoted []string

	value float64

	buckets  []uint64
	overflow uint64
	sum      float64
	count    uint64
}

func newMetric(r *Registry, name, help string, kind Kind, labels []string) *Metric {
	m := &Metric{
		registry: r,
		name:     name,
		help:     help,
		kind:     kind,
		labels:   labels,
		stores:   make([]store, r.limits.MaxStores),
	}
	if kind == KindHistogram {
		m.buckets = make([]float64, 0, r.limits.MaxBuckets)
		for i := range m.stores {
			m.stores[i].buckets = make([]uint64, r.limits.MaxBuckets)
		}
	}
	return m
}

// Name returns the metric name.
func (m *Metric) Name() string { return m.name }

// Help returns the help text.
func (m *Metric) Help() string { return m.help }

// Kind returns the metric kind.
func (m *Metric) Kind() Kind { return m.kind }

// LabelNames returns a copy of the declared label names.
func (m *Metric) LabelNames() []string {
	return append([]string(nil), m.labels...)
}

// Buckets returns a copy of the histogram boundaries.
func (m *Metric) Buckets() []float64 {
	m.registry.mu.RLock()
	defer m.registry.mu.RUnlock()
	return append([]float64(nil), m.buckets...)
}

// StoreCount returns the number of allocated label-value combinations.
func (m *Metric) StoreCount() int {
	m.registry.mu.RLock()
	defer m.registry.mu.RUnlock()
	return m.used
}

func (m *Metric) labelIndex(name string) int {
	for i, l := range m.labels {
		if l == name {
			return i
		}
	}
	return -1
}
