// Package metrics implements a fixed-capacity registry of counters, gauges and
// histograms that renders itself in the Prometheus text exposition format.
//
// Every array the registry owns is sized from its Limits when it is built.
// Label-value combinations are allocated lazily, on first update, into a
// bounded set of store slots; once the slots are used up further combinations
// are rejected instead of growing memory.
package metrics

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/sandboxrunner/pmstore/pkg/metrics"

// Registry is the metric catalog. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	id      string
	limits  Limits
	metrics []*Metric
	byName  map[string]*Metric
	logger  zerolog.Logger
	tracer  trace.Tracer
}

// Option configures a Registry.
type Option func(*Registry)

// WithLimits sets the capacity limits. Unusable values fall back to defaults.
func WithLimits(l Limits) Option {
	return func(r *Registry) {
		r.limits = l.withDefaults()
	}
}

// WithLogger sets the logger used for registrations and misuse warnings.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithTracerProvider sets the provider for dump spans. Defaults to the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Registry) {
		if tp != nil {
			r.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		id:     uuid.NewString(),
		limits: DefaultLimits(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tracer == nil {
		r.tracer = otel.GetTracerProvider().Tracer(instrumentationName)
	}
	r.metrics = make([]*Metric, 0, r.limits.MaxMetrics)
	r.byName = make(map[string]*Metric, r.limits.MaxMetrics)
	r.logger = r.logger.With().Str("registry", r.id).Logger()
	return r
}

// ID returns the registry instance id.
func (r *Registry) ID() string {
	return r.id
}

// Limits returns the capacity limits of the registry.
func (r *Registry) Limits() Limits {
	return r.limits
}

// Register adds a metric to the catalog. Nothing is committed on failure.
func (r *Registry) Register(name, help string, kind Kind, labelNames ...string) (*Metric, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.prepare(name, help, kind, labelNames)
	if err != nil {
		return nil, r.warn("register", name, err)
	}
	r.commit(m)
	return m, nil
}

// NewCounter registers a counter.
func (r *Registry) NewCounter(name, help string, labelNames ...string) (*Metric, error) {
	return r.Register(name, help, KindCounter, labelNames...)
}

// NewGauge registers a gauge.
func (r *Registry) NewGauge(name, help string, labelNames ...string) (*Metric, error) {
	return r.Register(name, help, KindGauge, labelNames...)
}

// NewHistogram registers a histogram and defines its buckets in one step. If
// either part fails the catalog is left unchanged.
func (r *Registry) NewHistogram(name, help string, buckets []float64, labelNames ...string) (*Metric, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.prepare(name, help, KindHistogram, labelNames)
	if err != nil {
		return nil, r.warn("register", name, err)
	}
	if err := r.defineBuckets(m, buckets); err != nil {
		return nil, r.warn("define buckets", name, err)
	}
	r.commit(m)
	return m, nil
}

// DefineHistogramBuckets assigns the bucket boundaries of a histogram. It may
// be called once, before the first observation. Boundaries past
// Limits.MaxBuckets are dropped.
func (r *Registry) DefineHistogramBuckets(m *Metric, boundaries ...float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.owns(m); err != nil {
		return err
	}
	if err := r.defineBuckets(m, boundaries); err != nil {
		return r.warn("define buckets", m.name, err)
	}
	return nil
}

// Lookup returns the metric registered under name.
func (r *Registry) Lookup(name string) (*Metric, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	return m, ok
}

// Metrics returns the registered metrics in registration order.
func (r *Registry) Metrics() []*Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Metric(nil), r.metrics...)
}

// Len returns the number of registered metrics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.metrics)
}

func (r *Registry) prepare(name, help string, kind Kind, labelNames []string) (*Metric, error) {
	if len(r.metrics) >= r.limits.MaxMetrics {
		return nil, ErrCatalogFull
	}
	if name == "" {
		return nil, ErrEmptyName
	}
	if !r.limits.fits(name) {
		return nil, fmt.Errorf("%w: metric name", ErrFieldTooLong)
	}
	if !r.limits.fits(help) {
		return nil, fmt.Errorf("%w: help text", ErrFieldTooLong)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if !model.IsValidLegacyMetricName(name) {
		return nil, fmt.Errorf("%w: metric %q", ErrInvalidName, name)
	}
	if _, exists := r.byName[name]; exists {
		return nil, ErrDuplicateName
	}
	if len(labelNames) > r.limits.MaxLabels {
		return nil, fmt.Errorf("%w: %d declared, limit %d", ErrTooManyLabels, len(labelNames), r.limits.MaxLabels)
	}

	labels := make([]string, len(labelNames))
	for i, l := range labelNames {
		if !r.limits.fits(l) {
			return nil, fmt.Errorf("%w: label name", ErrFieldTooLong)
		}
		if !model.LabelName(l).IsValidLegacy() {
			return nil, fmt.Errorf("%w: label %q", ErrInvalidName, l)
		}
		if kind == KindHistogram && l == model.BucketLabel {
			return nil, fmt.Errorf("%w: %q", ErrReservedLabel, l)
		}
		for _, prev := range labels[:i] {
			if prev == l {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateLabel, l)
			}
		}
		labels[i] = l
	}
	return newMetric(r, name, help, kind, labels), nil
}

func (r *Registry) commit(m *Metric) {
	r.metrics = append(r.metrics, m)
	r.byName[m.name] = m
	r.logger.Debug().
		Str("metric", m.name).
		Str("kind", m.kind.String()).
		Strs("labels", m.labels).
		Msg("Metric registered")
}

func (r *Registry) defineBuckets(m *Metric, boundaries []float64) error {
	if m.kind != KindHistogram {
		return ErrWrongKind
	}
	if m.bucketsDefined || m.used > 0 {
		return ErrBucketsDefined
	}
	for i, b := range boundaries {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return fmt.Errorf("%w: boundary %d is %v", ErrBucketsUnsorted, i, b)
		}
	}
	if !sort.SliceIsSorted(boundaries, func(i, j int) bool { return boundaries[i] < boundaries[j] }) {
		return ErrBucketsUnsorted
	}
	for i := 1; i < len(boundaries); i++ {
		if boundaries[i] == boundaries[i-1] {
			return fmt.Errorf("%w: duplicate boundary %v", ErrBucketsUnsorted, boundaries[i])
		}
	}

	kept := boundaries
	if len(kept) > r.limits.MaxBuckets {
		kept = kept[:r.limits.MaxBuckets]
		r.logger.Warn().
			Str("metric", m.name).
			Int("given", len(boundaries)).
			Int("kept", len(kept)).
			Msg("Histogram buckets truncated")
	}
	m.buckets = append(m.buckets[:0], kept...)
	m.bucketsDefined = true
	return nil
}

func (r *Registry) owns(m *Metric) error {
	if m == nil {
		return ErrNilMetric
	}
	if m.registry != r {
		return fmt.Errorf("%w: %q", ErrForeignMetric, m.name)
	}
	return nil
}

// warn logs a rejected operation and wraps err with the metric name.
func (r *Registry) warn(op, name string, err error) error {
	r.logger.Warn().Err(err).Str("op", op).Str("metric", name).Msg("Metric operation rejected")
	return fmt.Errorf("%s %q: %w", op, name, err)
}
