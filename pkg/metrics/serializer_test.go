package metrics

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func dump(t *testing.T, r *Registry) string {
	t.Helper()
	buf := make([]byte, 8192)
	n, err := r.Dump(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func newMixedRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()

	c, err := r.NewCounter("requests", "Total requests")
	require.NoError(t, err)
	require.NoError(t, r.CounterAdd(c, 3))

	g, err := r.NewGauge("conns", "Open connections", "node")
	require.NoError(t, err)
	require.NoError(t, r.GaugeSet(g, 5, L("node", "a")))
	require.NoError(t, r.GaugeAdd(g, -2, L("node", "a")))
	require.NoError(t, r.GaugeSet(g, 1, L("node", "b")))

	h, err := r.NewHistogram("latency", "Request latency", []float64{0.1, 0.5}, "path")
	require.NoError(t, err)
	for _, v := range []float64{0.05, 0.3, 2} {
		require.NoError(t, r.HistogramObserve(h, v, L("path", "/v1")))
	}
	return r
}

const mixedDump = `# HELP requests Total requests
# TYPE requests counter
requests{} 3.000000

# HELP conns Open connections
# TYPE conns gauge
conns{node="a"} 3.000000
conns{node="b"} 1.000000

# HELP latency Request latency
# TYPE latency histogram
latency_bucket{path="/v1",le="0.100000"} 1
latency_bucket{path="/v1",le="0.500000"} 2
latency_bucket{path="/v1",le="+Inf"} 1
latency_sum{path="/v1"} 2.350000
latency_count{path="/v1"} 3`

func TestDump_SingleCounter(t *testing.T) {
	r := NewRegistry()
	c, err := r.NewCounter("requests", "Total requests")
	require.NoError(t, err)
	require.NoError(t, r.CounterAdd(c, 3))

	want := "# HELP requests Total requests\n# TYPE requests counter\nrequests{} 3.000000"
	assert.Equal(t, want, dump(t, r))
	assert.Equal(t, want, dump(t, r))
}

func TestDump_AllKinds(t *testing.T) {
	r := newMixedRegistry(t)
	assert.Equal(t, mixedDump, dump(t, r))
}

func TestDump_Empty(t *testing.T) {
	r := NewRegistry()
	n, err := r.Dump(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDump_MetricWithoutStores(t *testing.T) {
	r := NewRegistry()
	_, err := r.NewCounter("a", "help")
	require.NoError(t, err)
	b, err := r.NewCounter("b", "help")
	require.NoError(t, err)
	require.NoError(t, r.CounterInc(b))

	want := "# HELP a help\n# TYPE a counter\n\n\n# HELP b help\n# TYPE b counter\nb{} 1.000000"
	assert.Equal(t, want, dump(t, r))
}

func TestDump_LabelsInDeclaredOrder(t *testing.T) {
	r := NewRegistry()
	c, err := r.NewCounter("http_requests", "help", "node", "user")
	require.NoError(t, err)
	require.NoError(t, r.CounterAdd(c, 1000.4, L("user", "bob"), L("node", "nyc1")))

	assert.Equal(t,
		"# HELP http_requests help\n# TYPE http_requests counter\nhttp_requests{node=\"nyc1\",user=\"bob\"} 1000.400000",
		dump(t, r))
}

func TestDump_HistogramWithoutLabels(t *testing.T) {
	r := NewRegistry()
	h, err := r.NewHistogram("d", "help", []float64{1})
	require.NoError(t, err)
	require.NoError(t, r.HistogramObserve(h, 0.5))

	want := "# HELP d help\n# TYPE d histogram\n" +
		"d_bucket{le=\"1.000000\"} 1\n" +
		"d_bucket{le=\"+Inf\"} 0\n" +
		"d_sum{} 0.500000\n" +
		"d_count{} 1"
	assert.Equal(t, want, dump(t, r))
}

func TestDump_HistogramWithoutBuckets(t *testing.T) {
	r := NewRegistry()
	h, err := r.Register("d", "help", KindHistogram, "k")
	require.NoError(t, err)
	require.NoError(t, r.HistogramObserve(h, 2, L("k", "v")))

	want := "# HELP d help\n# TYPE d histogram\n" +
		"d_bucket{k=\"v\",le=\"+Inf\"} 1\n" +
		"d_sum{k=\"v\"} 2.000000\n" +
		"d_count{k=\"v\"} 1"
	assert.Equal(t, want, dump(t, r))
}

func TestDump_HistogramCountIsTotalObservations(t *testing.T) {
	r := NewRegistry()
	h, err := r.NewHistogram("d", "help", []float64{1})
	require.NoError(t, err)
	for _, v := range []float64{0.1, 0.2, 3} {
		require.NoError(t, r.HistogramObserve(h, v))
	}

	out := dump(t, r)
	assert.Contains(t, out, "d_bucket{le=\"+Inf\"} 1\n")
	assert.True(t, strings.HasSuffix(out, "d_count{} 3"), out)
}

func TestDump_StoresSeparatedByNewline(t *testing.T) {
	r := NewRegistry()
	h, err := r.NewHistogram("d", "help", []float64{1}, "k")
	require.NoError(t, err)
	require.NoError(t, r.HistogramObserve(h, 0.5, L("k", "a")))
	require.NoError(t, r.HistogramObserve(h, 0.5, L("k", "b")))

	assert.Contains(t, dump(t, r), "d_count{k=\"a\"} 1\nd_bucket{k=\"b\",le=\"1.000000\"} 1")
}

func TestDump_EscapesHelpAndLabelValues(t *testing.T) {
	r := NewRegistry()
	g, err := r.NewGauge("g", "line one\nback\\slash", "path")
	require.NoError(t, err)
	require.NoError(t, r.GaugeSet(g, 1, L("path", `C:\"tmp"`)))

	assert.Equal(t,
		"# HELP g line one\\nback\\\\slash\n# TYPE g gauge\ng{path=\"C:\\\\\\\"tmp\\\"\"} 1.000000",
		dump(t, r))
}

func TestDump_ExactBufferSize(t *testing.T) {
	r := newMixedRegistry(t)
	size := r.DumpSize()
	require.Equal(t, len(mixedDump), size)

	buf := make([]byte, size)
	n, err := r.Dump(buf)
	require.NoError(t, err)
	assert.Equal(t, size, n)
	assert.Equal(t, mixedDump, string(buf))
}

func TestDump_OverflowNeverTruncates(t *testing.T) {
	r := newMixedRegistry(t)
	size := r.DumpSize()

	for capacity := 0; capacity < size; capacity++ {
		n, err := r.Dump(make([]byte, capacity))
		require.ErrorIs(t, err, ErrRenderOverflow, "capacity %d", capacity)
		require.Equal(t, 0, n, "capacity %d", capacity)
	}
}

func TestDump_OneByteShort(t *testing.T) {
	r := NewRegistry()
	c, err := r.NewCounter("requests", "Total requests")
	require.NoError(t, err)
	require.NoError(t, r.CounterAdd(c, 3))

	n, err := r.Dump(make([]byte, r.DumpSize()-1))
	assert.ErrorIs(t, err, ErrRenderOverflow)
	assert.Zero(t, n)
}

func TestDump_ParsesAsExpositionFormat(t *testing.T) {
	r := newMixedRegistry(t)

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(bytes.NewReader(append(r.Expose(), '\n')))
	require.NoError(t, err)
	require.Len(t, families, 3)

	assert.Equal(t, 3.0, families["requests"].GetMetric()[0].GetCounter().GetValue())
	assert.Len(t, families["conns"].GetMetric(), 2)

	hist := families["latency"].GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(3), hist.GetSampleCount())
	assert.InDelta(t, 2.35, hist.GetSampleSum(), 1e-9)
}

func TestWriteTo(t *testing.T) {
	r := newMixedRegistry(t)
	var out bytes.Buffer
	n, err := r.WriteTo(&out)
	require.NoError(t, err)
	assert.Equal(t, int64(len(mixedDump)), n)
	assert.Equal(t, mixedDump, out.String())
}

func TestDump_RecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	r := NewRegistry(WithTracerProvider(tp))
	c, err := r.NewCounter("requests", "Total requests")
	require.NoError(t, err)
	require.NoError(t, r.CounterAdd(c, 3))

	n, err := r.DumpContext(context.Background(), make([]byte, 256))
	require.NoError(t, err)
	_, err = r.Dump(make([]byte, 4))
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	done := spans[0]
	assert.Equal(t, "pmstore.Dump", done.Name())
	assert.Equal(t, codes.Unset, done.Status().Code)
	assert.Contains(t, done.Attributes(), attribute.Int("pmstore.bytes", n))
	assert.Contains(t, done.Attributes(), attribute.Int("pmstore.capacity", 256))
	assert.Contains(t, done.Attributes(), attribute.Int("pmstore.metrics", 1))
	assert.Contains(t, done.Attributes(), attribute.String("pmstore.registry", r.ID()))

	failed := spans[1]
	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.Equal(t, ErrRenderOverflow.Error(), failed.Status().Description)
}
