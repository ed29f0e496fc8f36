package metrics

import (
	"context"
	"io"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)

// Dump renders the registry into buf and returns the number of bytes written.
// If the output does not fit, Dump returns 0 and ErrRenderOverflow; buf may
// hold a partial rendering in that case.
func (r *Registry) Dump(buf []byte) (int, error) {
	return r.DumpContext(context.Background(), buf)
}

// DumpContext is Dump with a parent context for the dump span.
func (r *Registry) DumpContext(ctx context.Context, buf []byte) (int, error) {
	_, span := r.tracer.Start(ctx, "pmstore.Dump",
		trace.WithAttributes(
			attribute.String("pmstore.registry", r.id),
			attribute.Int("pmstore.capacity", len(buf)),
		))
	defer span.End()

	r.mu.RLock()
	w := renderer{dst: buf[:0], limit: len(buf)}
	r.render(&w)
	count := len(r.metrics)
	r.mu.RUnlock()

	span.SetAttributes(attribute.Int("pmstore.metrics", count))
	if w.err != nil {
		span.RecordError(w.err)
		span.SetStatus(codes.Error, w.err.Error())
		return 0, w.err
	}
	span.SetAttributes(attribute.Int("pmstore.bytes", len(w.dst)))
	return len(w.dst), nil
}

// DumpSize returns the buffer length Dump needs for the current state.
func (r *Registry) DumpSize() int {
	return len(r.Expose())
}

// Expose renders the registry into a newly allocated slice.
func (r *Registry) Expose() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w := renderer{limit: -1}
	r.render(&w)
	return w.dst
}

// WriteTo writes the rendered registry to out.
func (r *Registry) WriteTo(out io.Writer) (int64, error) {
	n, err := out.Write(r.Expose())
	return int64(n), err
}

// renderer appends to dst and fails once an append would exceed limit. A
// negative limit never fails.
type renderer struct {
	dst     []byte
	limit   int
	err     error
	scratch [64]byte
}

func (w *renderer) write(s string) {
	if w.err != nil {
		return
	}
	if w.limit >= 0 && len(w.dst)+len(s) > w.limit {
		w.err = ErrRenderOverflow
		return
	}
	w.dst = append(w.dst, s...)
}

func (w *renderer) writeBytes(b []byte) {
	if w.err != nil {
		return
	}
	if w.limit >= 0 && len(w.dst)+len(b) > w.limit {
		w.err = ErrRenderOverflow
		return
	}
	w.dst = append(w.dst, b...)
}

func (w *renderer) float(v float64) {
	w.writeBytes(strconv.AppendFloat(w.scratch[:0], v, 'f', 6, 64))
}

func (w *renderer) uint(v uint64) {
	w.writeBytes(strconv.AppendUint(w.scratch[:0], v, 10))
}

func (r *Registry) render(w *renderer) {
	for i, m := range r.metrics {
		if w.err != nil {
			return
		}
		if i > 0 {
			w.write("\n\n")
		}
		w.write("# HELP ")
		w.write(m.name)
		w.write(" ")
		w.write(helpEscaper.Replace(m.help))
		w.write("\n# TYPE ")
		w.write(m.name)
		w.write(" ")
		w.write(m.kind.String())
		w.write("\n")

		first := true
		for j := range m.stores {
			s := &m.stores[j]
			if !s.used {
				continue
			}
			if !first {
				w.write("\n")
			}
			first = false
			if m.kind == KindHistogram {
				renderHistogram(w, m, s)
			} else {
				renderScalar(w, m, s)
			}
		}
	}
}

// renderScalar writes `name{labels} value`.
func renderScalar(w *renderer, m *Metric, s *store) {
	w.write(m.name)
	w.write("{")
	renderLabels(w, m, s)
	w.write("} ")
	w.float(s.value)
}

// renderHistogram writes the bucket, +Inf, _sum and _count lines of a store.
// The _count line carries no trailing newline.
func renderHistogram(w *renderer, m *Metric, s *store) {
	for i, b := range m.buckets {
		bucketPrefix(w, m, s)
		w.float(b)
		w.write(`"} `)
		w.uint(s.buckets[i])
		w.write("\n")
	}
	bucketPrefix(w, m, s)
	w.write(`+Inf"} `)
	w.uint(s.overflow)
	w.write("\n")

	w.write(m.name)
	w.write("_sum{")
	renderLabels(w, m, s)
	w.write("} ")
	w.float(s.sum)
	w.write("\n")

	w.write(m.name)
	w.write("_count{")
	renderLabels(w, m, s)
	w.write("} ")
	w.uint(s.count)
}

func bucketPrefix(w *renderer, m *Metric, s *store) {
	w.write(m.name)
	w.write("_bucket{")
	renderLabels(w, m, s)
	if len(m.labels) > 0 {
		w.write(",")
	}
	w.write(`le="`)
}

func renderLabels(w *renderer, m *Metric, s *store) {
	for i, l := range m.labels {
		if i > 0 {
			w.write(",")
		}
		w.write(l)
		w.write("=")
		w.write(s.quoted[i])
	}
}
