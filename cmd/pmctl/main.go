package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"gopkg.in/yaml.v3"

	"github.com/sandboxrunner/pmstore/pkg/config"
	"github.com/sandboxrunner/pmstore/pkg/crypt"
	"github.com/sandboxrunner/pmstore/pkg/definitions"
	"github.com/sandboxrunner/pmstore/pkg/logging"
	"github.com/sandboxrunner/pmstore/pkg/metrics"
	"github.com/sandboxrunner/pmstore/pkg/promexport"
	"github.com/sandboxrunner/pmstore/pkg/tracing"
)

var (
	// Global flags
	configFile string
	logLevel   string
	logFormat  string

	// Build info (set by build system)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	formatText   = "text"
	formatClient = "client"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pmctl",
		Short: "Fixed-capacity Prometheus metrics store tool",
		Long: `pmctl builds pmstore registries from metric definition files and renders
them in the Prometheus text exposition format. It also lints exposition text
and hashes passwords with bcrypt.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&logFormat, "log-format", "f", "", "log format (line, json)")

	rootCmd.AddCommand(newDumpCmd())
	rootCmd.AddCommand(newDemoCmd())
	rootCmd.AddCommand(newLintCmd())
	rootCmd.AddCommand(newHashCmd())
	rootCmd.AddCommand(newVerifyCmd())
	rootCmd.AddCommand(newSaltCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// loadConfig loads the configuration and applies command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logging.LogLevel(logLevel)
	}
	if logFormat != "" {
		cfg.Logging.Format = logging.LogFormat(logFormat)
	}

	return cfg, nil
}

// setupLogging configures the global logger. Log lines go to out so they never
// mix with rendered output.
func setupLogging(cfg logging.Config, out io.Writer) (zerolog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	logger, err := logging.New(cfg, logging.SinkFunc(func(line string) {
		io.WriteString(out, line)
	}))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("failed to create logger: %w", err)
	}

	log.Logger = logger
	return logger, nil
}

// runtimeEnv holds what every registry-building command needs.
type runtimeEnv struct {
	cfg      *config.Config
	logger   zerolog.Logger
	tracer   *tracing.Provider
	registry *metrics.Registry
}

func newRuntimeEnv(ctx context.Context, cmd *cobra.Command) (*runtimeEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := setupLogging(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}

	tp, err := tracing.New(ctx, cfg.Tracing, tracing.WithWriter(cmd.ErrOrStderr()))
	if err != nil {
		return nil, fmt.Errorf("failed to setup tracing: %w", err)
	}
	otel.SetTracerProvider(tp.TracerProvider())

	opts := append(cfg.RegistryOptions(),
		metrics.WithLogger(logger),
		metrics.WithTracerProvider(tp.TracerProvider()),
	)
	r := metrics.NewRegistry(opts...)

	logger.Debug().
		Str("registry", r.ID()).
		Int("max_metrics", cfg.Registry.Limits.MaxMetrics).
		Int("max_stores", cfg.Registry.Limits.MaxStores).
		Bool("tracing", tp.Enabled()).
		Msg("Registry created")

	return &runtimeEnv{cfg: cfg, logger: logger, tracer: tp, registry: r}, nil
}

func (e *runtimeEnv) close(ctx context.Context) {
	if err := e.tracer.Shutdown(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("Tracer shutdown failed")
	}
}

// render writes the registry to out either through the bounded serializer or
// through a client_golang registry.
func (e *runtimeEnv) render(ctx context.Context, out io.Writer, format string, bufferSize int) error {
	switch format {
	case formatText, "":
		buf := make([]byte, bufferSize)
		n, err := e.registry.DumpContext(ctx, buf)
		if err != nil {
			return fmt.Errorf("dump failed: %w (buffer %d bytes, need %d)", err, bufferSize, e.registry.DumpSize())
		}
		e.logger.Debug().Int("bytes", n).Int("capacity", bufferSize).Msg("Registry dumped")
		_, err = fmt.Fprintf(out, "%s\n", buf[:n])
		return err
	case formatClient:
		reg := prometheus.NewRegistry()
		if err := reg.Register(promexport.NewCollector(e.registry)); err != nil {
			return fmt.Errorf("failed to register collector: %w", err)
		}
		families, err := reg.Gather()
		if err != nil {
			return fmt.Errorf("failed to gather metrics: %w", err)
		}
		enc := expfmt.NewEncoder(out, expfmt.NewFormat(expfmt.TypeTextPlain))
		for _, mf := range families {
			if err := enc.Encode(mf); err != nil {
				return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s (must be %s or %s)", format, formatText, formatClient)
	}
}

func newDumpCmd() *cobra.Command {
	var (
		definitionsPath string
		bufferSize      int
		format          string
	)

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Register the metrics of a definitions file and dump the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := newRuntimeEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer env.close(ctx)

			if definitionsPath == "" {
				definitionsPath = env.cfg.Registry.Definitions
			}
			if bufferSize <= 0 {
				bufferSize = env.cfg.Registry.BufferSize
			}

			if definitionsPath != "" {
				defs, err := definitions.Load(definitionsPath)
				if err != nil {
					return fmt.Errorf("failed to load definitions: %w", err)
				}
				registered, err := definitions.Apply(env.registry, defs)
				if err != nil {
					return fmt.Errorf("failed to apply definitions: %w", err)
				}
				env.logger.Info().
					Str("definitions", definitionsPath).
					Int("count", len(registered)).
					Msg("Definitions applied")
			}

			return env.render(ctx, cmd.OutOrStdout(), format, bufferSize)
		},
	}
	cmd.Flags().StringVarP(&definitionsPath, "definitions", "d", "", "metric definitions file")
	cmd.Flags().IntVarP(&bufferSize, "buffer-size", "b", 0, "dump buffer size in bytes (default from config)")
	cmd.Flags().StringVar(&format, "format", formatText, "output format (text, client)")

	return cmd
}

func newDemoCmd() *cobra.Command {
	var (
		bufferSize int
		format     string
		export     bool
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Populate a registry with sample controller metrics and dump it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := newRuntimeEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer env.close(ctx)

			if err := populateDemo(env.registry); err != nil {
				return fmt.Errorf("failed to populate demo registry: %w", err)
			}

			if export {
				data, err := definitions.FromSnapshot(env.registry.Snapshot()).Marshal()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			if bufferSize <= 0 {
				bufferSize = env.cfg.Registry.BufferSize
			}
			return env.render(ctx, cmd.OutOrStdout(), format, bufferSize)
		},
	}
	cmd.Flags().IntVarP(&bufferSize, "buffer-size", "b", 0, "dump buffer size in bytes (default from config)")
	cmd.Flags().StringVar(&format, "format", formatText, "output format (text, client)")
	cmd.Flags().BoolVar(&export, "export-definitions", false, "print the demo metric definitions instead of the dump")

	return cmd
}

func newLintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint <file|->",
		Short: "Parse Prometheus exposition text and list its metric families",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}

			families, err := lintExposition(data)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, f := range families {
				fmt.Fprintf(out, "%s %s %d\n", f.name, f.kind, f.series)
			}
			return nil
		},
	}
}

type familySummary struct {
	name   string
	kind   string
	series int
}

// lintExposition parses exposition text and summarizes its families in name
// order.
func lintExposition(data []byte) ([]familySummary, error) {
	// The parser requires the final line to be terminated.
	if len(data) > 0 && !bytes.HasSuffix(data, []byte("\n")) {
		data = append(data, '\n')
	}

	var parser expfmt.TextParser
	parsed, err := parser.TextToMetricFamilies(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid exposition text: %w", err)
	}

	out := make([]familySummary, 0, len(parsed))
	for name, mf := range parsed {
		out = append(out, familySummary{
			name:   name,
			kind:   strings.ToLower(mf.GetType().String()),
			series: len(mf.GetMetric()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

func newHashCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash <password>",
		Short: "Hash a password with bcrypt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hasher, err := hasherFromConfig(cost)
			if err != nil {
				return err
			}
			hash, err := hasher.Hash(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (default from config)")

	return cmd
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <hash> <password>",
		Short: "Check a password against a bcrypt hash",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := crypt.Verify(args[0], args[1])
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("password does not match")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
}

func newSaltCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "salt",
		Short: "Generate a bcrypt salt string",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cost == 0 {
				cost = cfg.Crypt.Cost
			}
			salt, err := crypt.GenSalt(cfg.Crypt.Prefix, cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), salt)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (default from config)")

	return cmd
}

func hasherFromConfig(cost int) (*crypt.Hasher, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cost != 0 {
		cfg.Crypt.Cost = cost
	}
	return cfg.NewHasher()
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}

	// Print effective config
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	// Generate default config
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputPath := "pmstore.yaml"
			if len(args) == 1 {
				outputPath = args[0]
			}

			if err := config.DefaultConfig().SaveConfig(outputPath); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Generated default configuration: %s\n", outputPath)
			return nil
		},
	}

	cmd.AddCommand(showCmd)
	cmd.AddCommand(initCmd)

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pmctl\n")
			fmt.Fprintf(out, "Version: %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Built: %s\n", date)
		},
	}
}
