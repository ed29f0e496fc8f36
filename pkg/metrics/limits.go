package metrics

import "fmt"

// Default capacity limits.
const (
	DefaultMaxMetrics = 30
	DefaultMaxLabels  = 5
	DefaultMaxStores  = 5
	DefaultMaxBuckets = 10
	DefaultFieldLen   = 128
)

// Limits bounds every array the registry owns. They are fixed when the
// registry is constructed; nothing grows past them afterwards.
type Limits struct {
	// MaxMetrics is the catalog capacity.
	MaxMetrics int `json:"max_metrics" yaml:"max_metrics" mapstructure:"max_metrics"`
	// MaxLabels is the number of label names one metric may declare.
	MaxLabels int `json:"max_labels" yaml:"max_labels" mapstructure:"max_labels"`
	// MaxStores is the number of distinct label-value combinations per metric.
	MaxStores int `json:"max_stores" yaml:"max_stores" mapstructure:"max_stores"`
	// MaxBuckets is the number of histogram boundaries kept per metric.
	MaxBuckets int `json:"max_buckets" yaml:"max_buckets" mapstructure:"max_buckets"`
	// FieldLen bounds names, help texts and quoted label values. A field fits
	// when its length is strictly below FieldLen.
	FieldLen int `json:"field_len" yaml:"field_len" mapstructure:"field_len"`
}

// DefaultLimits returns the default capacity limits.
func DefaultLimits() Limits {
	return Limits{
		MaxMetrics: DefaultMaxMetrics,
		MaxLabels:  DefaultMaxLabels,
		MaxStores:  DefaultMaxStores,
		MaxBuckets: DefaultMaxBuckets,
		FieldLen:   DefaultFieldLen,
	}
}

// Validate checks that every limit is usable.
func (l Limits) Validate() error {
	if l.MaxMetrics < 1 {
		return fmt.Errorf("max metrics must be at least 1")
	}
	if l.MaxLabels < 1 {
		return fmt.Errorf("max labels must be at least 1")
	}
	if l.MaxStores < 1 {
		return fmt.Errorf("max stores must be at least 1")
	}
	if l.MaxBuckets < 1 {
		return fmt.Errorf("max buckets must be at least 1")
	}
	// room for a quoted empty label value
	if l.FieldLen < 3 {
		return fmt.Errorf("field length must be at least 3")
	}
	return nil
}

// withDefaults replaces unset or unusable limits with their defaults.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxMetrics < 1 {
		l.MaxMetrics = d.MaxMetrics
	}
	if l.MaxLabels < 1 {
		l.MaxLabels = d.MaxLabels
	}
	if l.MaxStores < 1 {
		l.MaxStores = d.MaxStores
	}
	if l.MaxBuckets < 1 {
		l.MaxBuckets = d.MaxBuckets
	}
	if l.FieldLen < 3 {
		l.FieldLen = d.FieldLen
	}
	return l
}

func (l Limits) fits(s string) bool {
	return len(s) < l.FieldLen
}
