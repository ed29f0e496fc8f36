package metrics

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by this package wraps exactly one of
// them, so callers can branch with errors.Is on the category alone.
var (
	ErrCapacityExhausted = errors.New("capacity exhausted")
	ErrTypeMismatch      = errors.New("metric type mismatch")
	ErrValidation        = errors.New("validation failed")
	ErrUnknownLabelName  = errors.New("unknown label name")
	ErrRenderOverflow    = errors.New("render buffer overflow")
)

// Capacity errors
var (
	ErrCatalogFull    = fmt.Errorf("%w: catalog full", ErrCapacityExhausted)
	ErrTooManyLabels  = fmt.Errorf("%w: too many labels", ErrCapacityExhausted)
	ErrStoreExhausted = fmt.Errorf("%w: store slots exhausted", ErrCapacityExhausted)
)

// Type errors
var (
	ErrWrongKind   = fmt.Errorf("%w: wrong metric kind", ErrTypeMismatch)
	ErrUnknownKind = fmt.Errorf("%w: unknown metric kind", ErrTypeMismatch)
)

// Validation errors
var (
	ErrNegativeValue   = fmt.Errorf("%w: negative counter delta", ErrValidation)
	ErrInvalidValue    = fmt.Errorf("%w: value is not a number", ErrValidation)
	ErrFieldTooLong    = fmt.Errorf("%w: field too long", ErrValidation)
	ErrEmptyName       = fmt.Errorf("%w: empty metric name", ErrValidation)
	ErrInvalidName     = fmt.Errorf("%w: invalid name", ErrValidation)
	ErrDuplicateName   = fmt.Errorf("%w: metric already registered", ErrValidation)
	ErrDuplicateLabel  = fmt.Errorf("%w: duplicate label name", ErrValidation)
	ErrReservedLabel   = fmt.Errorf("%w: reserved label name", ErrValidation)
	ErrBucketsUnsorted = fmt.Errorf("%w: bucket boundaries must be finite and strictly ascending", ErrValidation)
	ErrBucketsDefined  = fmt.Errorf("%w: histogram buckets already defined or observed", ErrValidation)
	ErrNilMetric       = fmt.Errorf("%w: nil metric", ErrValidation)
	ErrForeignMetric   = fmt.Errorf("%w: metric belongs to another registry", ErrValidation)
)

// ErrLabelMismatch is returned when the supplied label set does not cover the
// declared labels exactly once each.
var ErrLabelMismatch = fmt.Errorf("%w: label set does not match declared labels", ErrUnknownLabelName)
