package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/sandboxrunner/pmstore/pkg/crypt"
	"github.com/sandboxrunner/pmstore/pkg/logging"
	"github.com/sandboxrunner/pmstore/pkg/metrics"
	"github.com/sandboxrunner/pmstore/pkg/tracing"
)

// EnvPrefix is the prefix of environment variable overrides, e.g.
// PMSTORE_REGISTRY_LIMITS_MAX_STORES.
const EnvPrefix = "PMSTORE"

// DefaultBufferSize is the dump buffer size used by the CLI.
const DefaultBufferSize = 4000

// Config represents the pmstore configuration
type Config struct {
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Logging  logging.Config `yaml:"logging" mapstructure:"logging"`
	Tracing  tracing.Config `yaml:"tracing" mapstructure:"tracing"`
	Crypt    CryptConfig    `yaml:"crypt" mapstructure:"crypt"`
}

// RegistryConfig holds registry-related configuration
type RegistryConfig struct {
	Limits      metrics.Limits `yaml:"limits" mapstructure:"limits"`
	BufferSize  int            `yaml:"buffer_size" mapstructure:"buffer_size"`
	Definitions string         `yaml:"definitions" mapstructure:"definitions"`
}

// CryptConfig holds password hashing configuration
type CryptConfig struct {
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
	Cost   int    `yaml:"cost" mapstructure:"cost"`
}

// Default configuration values
func DefaultConfig() *Config {
	return &Config{
		Registry: RegistryConfig{
			Limits:     metrics.DefaultLimits(),
			BufferSize: DefaultBufferSize,
		},
		Logging: logging.DefaultConfig(),
		Tracing: tracing.DefaultConfig(),
		Crypt: CryptConfig{
			Prefix: crypt.PrefixA,
			Cost:   crypt.DefaultCost,
		},
	}
}

// LoadConfig loads configuration from files and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pmstore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.config/pmstore")
		v.AddConfigPath("/etc/pmstore")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, config)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that
// are absent from the config file.
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("registry.limits.max_metrics", c.Registry.Limits.MaxMetrics)
	v.SetDefault("registry.limits.max_labels", c.Registry.Limits.MaxLabels)
	v.SetDefault("registry.limits.max_stores", c.Registry.Limits.MaxStores)
	v.SetDefault("registry.limits.max_buckets", c.Registry.Limits.MaxBuckets)
	v.SetDefault("registry.limits.field_len", c.Registry.Limits.FieldLen)
	v.SetDefault("registry.buffer_size", c.Registry.BufferSize)
	v.SetDefault("registry.definitions", c.Registry.Definitions)

	v.SetDefault("logging.level", string(c.Logging.Level))
	v.SetDefault("logging.format", string(c.Logging.Format))
	v.SetDefault("logging.time_format", c.Logging.TimeFormat)

	v.SetDefault("tracing.exporter", string(c.Tracing.Exporter))
	v.SetDefault("tracing.service_name", c.Tracing.ServiceName)
	v.SetDefault("tracing.service_version", c.Tracing.ServiceVersion)
	v.SetDefault("tracing.environment", c.Tracing.Environment)
	v.SetDefault("tracing.sampling_ratio", c.Tracing.SamplingRatio)
	v.SetDefault("tracing.otlp.endpoint", c.Tracing.OTLP.Endpoint)
	v.SetDefault("tracing.otlp.compression", c.Tracing.OTLP.Compression)
	v.SetDefault("tracing.otlp.timeout", c.Tracing.OTLP.Timeout)
	v.SetDefault("tracing.otlp.insecure", c.Tracing.OTLP.Insecure)

	v.SetDefault("crypt.prefix", c.Crypt.Prefix)
	v.SetDefault("crypt.cost", c.Crypt.Cost)
}

// SaveConfig saves the configuration to a file
func (c *Config) SaveConfig(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Registry.Limits.Validate(); err != nil {
		return fmt.Errorf("invalid registry limits: %w", err)
	}

	if c.Registry.BufferSize < 1 {
		return fmt.Errorf("buffer size must be at least 1")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[logging.LogFormat]bool{
		logging.LogFormatLine: true, logging.LogFormatJSON: true,
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be line or json)", c.Logging.Format)
	}

	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("invalid tracing config: %w", err)
	}

	if _, err := crypt.NewHasher(c.Crypt.Prefix, c.Crypt.Cost); err != nil {
		return fmt.Errorf("invalid crypt config: %w", err)
	}

	return nil
}

// NewHasher returns the password hasher described by the crypt section.
func (c *Config) NewHasher() (*crypt.Hasher, error) {
	return crypt.NewHasher(c.Crypt.Prefix, c.Crypt.Cost)
}

// RegistryOptions returns the registry options described by the
// configuration.
func (c *Config) RegistryOptions() []metrics.Option {
	return []metrics.Option{metrics.WithLimits(c.Registry.Limits)}
}
