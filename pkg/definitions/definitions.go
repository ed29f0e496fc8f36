// Package definitions reads metric definition files and registers their
// metrics with a registry.
//
// A definitions file is YAML:
//
//	metrics:
//	  - name: http_requests_total
//	    help: Total number of HTTP requests
//	    type: counter
//	    labels: [method, status]
//	  - name: http_request_duration_seconds
//	    type: histogram
//	    buckets: [0.05, 0.1, 0.5, 1]
//
// Documents are checked against an embedded JSON schema before they are
// decoded.
package definitions

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/sandboxrunner/pmstore/pkg/metrics"
)

//go:embed schema.json
var schemaJSON []byte

var schemaLoader = gojsonschema.NewBytesLoader(schemaJSON)

var (
	// ErrInvalidDocument is returned when a document does not match the
	// definitions schema.
	ErrInvalidDocument = errors.New("invalid definitions document")
	// ErrEmptyDocument is returned for documents with no content.
	ErrEmptyDocument = errors.New("empty definitions document")
)

// Definition describes one metric.
type Definition struct {
	Name    string    `json:"name" yaml:"name"`
	Help    string    `json:"help,omitempty" yaml:"help,omitempty"`
	Type    string    `json:"type" yaml:"type"`
	Labels  []string  `json:"labels,omitempty" yaml:"labels,omitempty"`
	Buckets []float64 `json:"buckets,omitempty" yaml:"buckets,omitempty"`
}

// File is a decoded definitions document.
type File struct {
	Metrics []Definition `json:"metrics" yaml:"metrics"`
}

// SchemaError lists every schema violation found in a document.
type SchemaError struct {
	Violations []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidDocument, strings.Join(e.Violations, "; "))
}

// Unwrap allows errors.Is(err, ErrInvalidDocument).
func (e *SchemaError) Unwrap() error {
	return ErrInvalidDocument
}

// Load reads and parses the definitions file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Read parses a definitions document from r.
func Read(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions: %w", err)
	}
	return Parse(data)
}

// Parse validates a YAML definitions document and decodes it.
func Parse(data []byte) (*File, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse definitions: %w", err)
	}
	if doc == nil {
		return nil, ErrEmptyDocument
	}

	// The schema is applied to the JSON form of the document.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert definitions to JSON: %w", err)
	}
	if err := validate(raw); err != nil {
		return nil, err
	}

	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to decode definitions: %w", err)
	}
	return &f, nil
}

func validate(raw []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return &SchemaError{Violations: violations}
}

// Apply registers every definition with r in document order. It stops at the
// first failure; metrics registered before it stay registered and are
// returned alongside the error.
func Apply(r *metrics.Registry, f *File) ([]*metrics.Metric, error) {
	if f == nil {
		return nil, ErrEmptyDocument
	}
	out := make([]*metrics.Metric, 0, len(f.Metrics))
	for i, d := range f.Metrics {
		m, err := apply(r, d)
		if err != nil {
			return out, fmt.Errorf("definition %d (%s): %w", i, d.Name, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func apply(r *metrics.Registry, d Definition) (*metrics.Metric, error) {
	kind, err := metrics.ParseKind(d.Type)
	if err != nil {
		return nil, err
	}
	// A histogram without buckets keeps them open for DefineHistogramBuckets.
	if kind == metrics.KindHistogram && len(d.Buckets) > 0 {
		return r.NewHistogram(d.Name, d.Help, d.Buckets, d.Labels...)
	}
	return r.Register(d.Name, d.Help, kind, d.Labels...)
}

// FromSnapshot builds definitions describing the metrics of a snapshot.
func FromSnapshot(snap []metrics.MetricSnapshot) *File {
	f := &File{Metrics: make([]Definition, 0, len(snap))}
	for _, ms := range snap {
		d := Definition{
			Name:   ms.Name,
			Help:   ms.Help,
			Type:   ms.Kind.String(),
			Labels: ms.LabelNames,
		}
		if ms.Kind == metrics.KindHistogram {
			d.Buckets = ms.Buckets
		}
		f.Metrics = append(f.Metrics, d)
	}
	return f
}

// Marshal encodes f as YAML.
func (f *File) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal definitions: %w", err)
	}
	return data, nil
}
