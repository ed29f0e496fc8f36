package definitions

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrunner/pmstore/pkg/metrics"
)

const exampleDefinitions = `
metrics:
  - name: http_requests_total
    help: Total number of HTTP requests
    type: counter
    labels: [method, status]
  - name: agents_connected
    help: Number of connected agents
    type: gauge
  - name: http_request_duration_seconds
    help: HTTP request latency
    type: histogram
    labels: [method]
    buckets: [0.05, 0.1, 0.5, 1]
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(exampleDefinitions))
	require.NoError(t, err)
	require.Len(t, f.Metrics, 3)

	assert.Equal(t, Definition{
		Name:   "http_requests_total",
		Help:   "Total number of HTTP requests",
		Type:   "counter",
		Labels: []string{"method", "status"},
	}, f.Metrics[0])
	assert.Equal(t, "gauge", f.Metrics[1].Type)
	assert.Empty(t, f.Metrics[1].Labels)
	assert.Equal(t, []float64{0.05, 0.1, 0.5, 1}, f.Metrics[2].Buckets)
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := []struct {
		name     string
		document string
		contains string
	}{
		{
			name:     "missing_metrics",
			document: "other: 1\n",
			contains: "metrics",
		},
		{
			name: "unknown_type",
			document: `
metrics:
  - name: x
    type: summary
`,
			contains: "type",
		},
		{
			name: "missing_name",
			document: `
metrics:
  - type: counter
`,
			contains: "name",
		},
		{
			name: "invalid_metric_name",
			document: `
metrics:
  - name: "9lives"
    type: counter
`,
			contains: "name",
		},
		{
			name: "invalid_label_name",
			document: `
metrics:
  - name: x
    type: counter
    labels: ["bad-label"]
`,
			contains: "labels",
		},
		{
			name: "duplicate_labels",
			document: `
metrics:
  - name: x
    type: counter
    labels: [a, a]
`,
			contains: "labels",
		},
		{
			name: "buckets_on_counter",
			document: `
metrics:
  - name: x
    type: counter
    buckets: [1, 2]
`,
			contains: "metrics.0",
		},
		{
			name: "non_numeric_bucket",
			document: `
metrics:
  - name: x
    type: histogram
    buckets: [fast]
`,
			contains: "buckets",
		},
		{
			name: "unknown_field",
			document: `
metrics:
  - name: x
    type: gauge
    unit: seconds
`,
			contains: "unit",
		},
		{
			name:     "scalar_document",
			document: "just text\n",
			contains: "object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.document))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidDocument)

			var schemaErr *SchemaError
			require.True(t, errors.As(err, &schemaErr))
			assert.NotEmpty(t, schemaErr.Violations)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("metrics: [\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse definitions")

	_, err = Parse(nil)
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.yaml")
	require.NoError(t, os.WriteFile(path, []byte(exampleDefinitions), 0644))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, f.Metrics, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read definitions file")
}

func TestRead(t *testing.T) {
	f, err := Read(strings.NewReader(exampleDefinitions))
	require.NoError(t, err)
	assert.Len(t, f.Metrics, 3)
}

func TestApply(t *testing.T) {
	f, err := Parse([]byte(exampleDefinitions))
	require.NoError(t, err)

	r := metrics.NewRegistry()
	registered, err := Apply(r, f)
	require.NoError(t, err)
	require.Len(t, registered, 3)

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, metrics.KindCounter, registered[0].Kind())
	assert.Equal(t, []string{"method", "status"}, registered[0].LabelNames())
	assert.Equal(t, metrics.KindGauge, registered[1].Kind())
	assert.Equal(t, metrics.KindHistogram, registered[2].Kind())
	assert.Equal(t, []float64{0.05, 0.1, 0.5, 1}, registered[2].Buckets())

	m, ok := r.Lookup("http_request_duration_seconds")
	require.True(t, ok)
	assert.Same(t, registered[2], m)
}

func TestApply_HistogramWithoutBuckets(t *testing.T) {
	f, err := Parse([]byte(`
metrics:
  - name: latency
    type: histogram
`))
	require.NoError(t, err)

	r := metrics.NewRegistry()
	registered, err := Apply(r, f)
	require.NoError(t, err)
	require.Len(t, registered, 1)
	assert.Empty(t, registered[0].Buckets())

	// Buckets stay open for a later definition.
	assert.NoError(t, r.DefineHistogramBuckets(registered[0], 1, 2))
}

func TestApply_StopsAtFirstFailure(t *testing.T) {
	f, err := Parse([]byte(`
metrics:
  - name: first
    type: counter
  - name: first
    type: gauge
  - name: third
    type: gauge
`))
	require.NoError(t, err)

	r := metrics.NewRegistry()
	registered, err := Apply(r, f)
	require.Error(t, err)
	assert.ErrorIs(t, err, metrics.ErrDuplicateName)
	assert.Contains(t, err.Error(), "definition 1 (first)")

	assert.Len(t, registered, 1)
	assert.Equal(t, 1, r.Len())
	_, ok := r.Lookup("third")
	assert.False(t, ok)
}

func TestApply_RegistryLimits(t *testing.T) {
	f, err := Parse([]byte(`
metrics:
  - name: le_on_histogram
    type: histogram
    labels: [le]
    buckets: [1]
`))
	require.NoError(t, err)

	_, err = Apply(metrics.NewRegistry(), f)
	assert.ErrorIs(t, err, metrics.ErrReservedLabel)

	_, err = Apply(metrics.NewRegistry(), nil)
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestFromSnapshot_RoundTrip(t *testing.T) {
	f, err := Parse([]byte(exampleDefinitions))
	require.NoError(t, err)

	r := metrics.NewRegistry()
	_, err = Apply(r, f)
	require.NoError(t, err)

	data, err := FromSnapshot(r.Snapshot()).Marshal()
	require.NoError(t, err)

	again, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, f, again)
}
