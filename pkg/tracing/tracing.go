// Package tracing sets up the OpenTelemetry tracer provider used for registry
// dump spans.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Exporter selects where spans are sent.
type Exporter string

const (
	ExporterNone   Exporter = "none"
	ExporterStdout Exporter = "stdout"
	ExporterOTLP   Exporter = "otlp"
)

// Config configures tracing.
type Config struct {
	Exporter       Exporter   `json:"exporter" yaml:"exporter" mapstructure:"exporter"`
	ServiceName    string     `json:"service_name" yaml:"service_name" mapstructure:"service_name"`
	ServiceVersion string     `json:"service_version" yaml:"service_version" mapstructure:"service_version"`
	Environment    string     `json:"environment" yaml:"environment" mapstructure:"environment"`
	SamplingRatio  float64    `json:"sampling_ratio" yaml:"sampling_ratio" mapstructure:"sampling_ratio"`
	OTLP           OTLPConfig `json:"otlp" yaml:"otlp" mapstructure:"otlp"`
}

// OTLPConfig configures the OTLP/HTTP exporter.
type OTLPConfig struct {
	Endpoint    string            `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" mapstructure:"headers"`
	Compression string            `json:"compression,omitempty" yaml:"compression,omitempty" mapstructure:"compression"`
	Timeout     time.Duration     `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	Insecure    bool              `json:"insecure" yaml:"insecure" mapstructure:"insecure"`
}

// DefaultConfig returns default tracing configuration
func DefaultConfig() Config {
	return Config{
		Exporter:       ExporterNone,
		ServiceName:    "pmstore",
		ServiceVersion: "dev",
		Environment:    "development",
		SamplingRatio:  1.0,
		OTLP: OTLPConfig{
			Endpoint:    "localhost:4318",
			Compression: "gzip",
			Timeout:     10 * time.Second,
			Insecure:    true,
		},
	}
}

// Validate validates the configuration
func (c Config) Validate() error {
	switch c.Exporter {
	case ExporterNone, "":
		return nil
	case ExporterStdout, ExporterOTLP:
	default:
		return fmt.Errorf("unsupported exporter type: %s", c.Exporter)
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if c.SamplingRatio < 0 || c.SamplingRatio > 1 {
		return fmt.Errorf("sampling ratio must be between 0 and 1, got %v", c.SamplingRatio)
	}
	if c.Exporter == ExporterOTLP {
		if c.OTLP.Endpoint == "" {
			return fmt.Errorf("otlp endpoint cannot be empty")
		}
		switch c.OTLP.Compression {
		case "", "gzip", "none":
		default:
			return fmt.Errorf("unsupported otlp compression: %s", c.OTLP.Compression)
		}
	}
	return nil
}

// Option configures New.
type Option func(*options)

type options struct {
	writer io.Writer
}

// WithWriter sets the destination of the stdout exporter. Defaults to
// os.Stdout.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

// Provider owns a tracer provider and its exporter.
type Provider struct {
	sdk  *sdktrace.TracerProvider
	noop trace.TracerProvider
}

// New builds a Provider. With the none exporter the provider records nothing.
func New(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracing configuration: %w", err)
	}
	o := options{writer: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.Exporter == ExporterNone || cfg.Exporter == "" {
		log.Debug().Msg("Tracing disabled")
		return &Provider{noop: noop.NewTracerProvider()}, nil
	}

	var processor sdktrace.SpanProcessor
	switch cfg.Exporter {
	case ExporterStdout:
		exp, err := stdouttrace.New(
			stdouttrace.WithWriter(o.writer),
			stdouttrace.WithPrettyPrint(),
			stdouttrace.WithoutTimestamps(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		// spans are written as they end
		processor = sdktrace.NewSimpleSpanProcessor(exp)
	case ExporterOTLP:
		exp, err := newOTLPExporter(ctx, cfg.OTLP)
		if err != nil {
			return nil, err
		}
		processor = sdktrace.NewBatchSpanProcessor(exp)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(newResource(cfg)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRatio))),
		sdktrace.WithSpanProcessor(processor),
	)

	log.Info().
		Str("service_name", cfg.ServiceName).
		Str("exporter", string(cfg.Exporter)).
		Float64("sampling_ratio", cfg.SamplingRatio).
		Msg("Tracing initialized")

	return &Provider{sdk: tp}, nil
}

// TracerProvider returns the provider to hand to instrumented code.
func (p *Provider) TracerProvider() trace.TracerProvider {
	if p.sdk != nil {
		return p.sdk
	}
	return p.noop
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool {
	return p.sdk != nil
}

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	if err := p.sdk.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}
	return nil
}

func newOTLPExporter(ctx context.Context, cfg OTLPConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithTimeout(cfg.Timeout),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	switch cfg.Compression {
	case "gzip":
		opts = append(opts, otlptracehttp.WithCompression(otlptracehttp.GzipCompression))
	case "none":
		opts = append(opts, otlptracehttp.WithCompression(otlptracehttp.NoCompression))
	}

	exp, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	return exp, nil
}

func newResource(cfg Config) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
		attribute.String("process.runtime.name", "go"),
		attribute.String("process.runtime.version", runtime.Version()),
	)
}
