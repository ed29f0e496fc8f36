package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ExporterNone, cfg.Exporter)
	assert.Equal(t, "pmstore", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SamplingRatio)
	assert.Equal(t, "localhost:4318", cfg.OTLP.Endpoint)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"none", func(c *Config) {}, false},
		{"stdout", func(c *Config) { c.Exporter = ExporterStdout }, false},
		{"otlp", func(c *Config) { c.Exporter = ExporterOTLP }, false},
		{"unknown exporter", func(c *Config) { c.Exporter = "jaeger" }, true},
		{"empty service", func(c *Config) { c.Exporter = ExporterStdout; c.ServiceName = "" }, true},
		{"ratio too high", func(c *Config) { c.Exporter = ExporterStdout; c.SamplingRatio = 1.5 }, true},
		{"otlp without endpoint", func(c *Config) { c.Exporter = ExporterOTLP; c.OTLP.Endpoint = "" }, true},
		{"otlp bad compression", func(c *Config) { c.Exporter = ExporterOTLP; c.OTLP.Compression = "zstd" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_None(t *testing.T) {
	p, err := New(context.Background(), DefaultConfig())
	require.NoError(t, err)
	assert.False(t, p.Enabled())

	_, span := p.TracerProvider().Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_Stdout(t *testing.T) {
	var out bytes.Buffer
	cfg := DefaultConfig()
	cfg.Exporter = ExporterStdout

	p, err := New(context.Background(), cfg, WithWriter(&out))
	require.NoError(t, err)
	assert.True(t, p.Enabled())

	_, span := p.TracerProvider().Tracer("test").Start(context.Background(), "pmstore.Dump")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Contains(t, out.String(), `"Name": "pmstore.Dump"`)
	assert.Contains(t, out.String(), "pmstore")
}

func TestNew_OTLP(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exporter = ExporterOTLP
	cfg.OTLP.Endpoint = "127.0.0.1:1"

	p, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, p.Enabled())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = p.Shutdown(ctx)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exporter = "carrier-pigeon"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
