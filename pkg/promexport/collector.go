// Package promexport exposes a pmstore registry through a client_golang
// registry.
package promexport

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sandboxrunner/pmstore/pkg/metrics"
)

// Option configures a Collector.
type Option func(*Collector)

// WithNamespace prefixes every exported metric name with namespace and an
// underscore.
func WithNamespace(namespace string) Option {
	return func(c *Collector) {
		c.namespace = namespace
	}
}

// WithConstLabels attaches labels to every exported series.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Collector) {
		c.constLabels = labels
	}
}

// Collector implements prometheus.Collector on top of a registry snapshot.
//
// It is an unchecked collector: Describe sends nothing, so metrics registered
// with the pmstore registry after the Collector was registered are exported
// too.
type Collector struct {
	registry    *metrics.Registry
	namespace   string
	constLabels prometheus.Labels
}

// NewCollector returns a Collector reading from r.
func NewCollector(r *metrics.Registry, opts ...Option) *Collector {
	c := &Collector{registry: r}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, ms := range c.registry.Snapshot() {
		desc := prometheus.NewDesc(
			prometheus.BuildFQName(c.namespace, "", ms.Name),
			ms.Help,
			ms.LabelNames,
			c.constLabels,
		)
		for _, series := range ms.Series {
			ch <- c.metric(desc, ms, series)
		}
	}
}

func (c *Collector) metric(desc *prometheus.Desc, ms metrics.MetricSnapshot, series metrics.SeriesSnapshot) prometheus.Metric {
	var (
		m   prometheus.Metric
		err error
	)
	switch ms.Kind {
	case metrics.KindCounter:
		m, err = prometheus.NewConstMetric(desc, prometheus.CounterValue, series.Value, series.LabelValues...)
	case metrics.KindGauge:
		m, err = prometheus.NewConstMetric(desc, prometheus.GaugeValue, series.Value, series.LabelValues...)
	case metrics.KindHistogram:
		h := series.Histogram
		buckets := make(map[float64]uint64, len(ms.Buckets))
		for i, b := range ms.Buckets {
			buckets[b] = h.Buckets[i]
		}
		m, err = prometheus.NewConstHistogram(desc, h.Count, h.Sum, buckets, series.LabelValues...)
	default:
		err = fmt.Errorf("%w: %s", metrics.ErrUnknownKind, ms.Kind)
	}
	if err != nil {
		return prometheus.NewInvalidMetric(desc, err)
	}
	return m
}
