// Package logging builds zerolog loggers that emit one human-readable line per
// event, either into a caller supplied Sink or onto the standard streams.
//
// Lines look like
//
//	[2006-01-02 15:04:05] warn> store slots exhausted metric=requests
//
// When no Sink is configured, debug and info lines go to stdout and warn and
// error lines go to stderr.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents log levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat represents log formats
type LogFormat string

const (
	// LogFormatLine renders "[time] level> message key=value" lines.
	LogFormatLine LogFormat = "line"
	// LogFormatJSON passes zerolog's JSON events through untouched.
	LogFormatJSON LogFormat = "json"
)

// DefaultTimeFormat is the timestamp layout used by line formatted output.
const DefaultTimeFormat = "2006-01-02 15:04:05"

// Sink receives fully formatted log lines, one call per line. Implementations
// must not retain the string past the call if they mutate shared state.
type Sink interface {
	WriteLine(line string)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(line string)

// WriteLine calls f(line).
func (f SinkFunc) WriteLine(line string) { f(line) }

// Config configures a logger.
type Config struct {
	Level      LogLevel  `json:"level" yaml:"level" mapstructure:"level"`
	Format     LogFormat `json:"format" yaml:"format" mapstructure:"format"`
	TimeFormat string    `json:"time_format" yaml:"time_format" mapstructure:"time_format"`
}

// DefaultConfig returns default logging configuration
func DefaultConfig() Config {
	return Config{
		Level:      LogLevelInfo,
		Format:     LogFormatLine,
		TimeFormat: DefaultTimeFormat,
	}
}

// ParseLevel converts a LogLevel into the matching zerolog level.
func ParseLevel(level LogLevel) (zerolog.Level, error) {
	switch level {
	case LogLevelDebug:
		return zerolog.DebugLevel, nil
	case LogLevelInfo, "":
		return zerolog.InfoLevel, nil
	case LogLevelWarn:
		return zerolog.WarnLevel, nil
	case LogLevelError:
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}

// New creates a logger writing to sink. A nil sink selects the standard
// streams.
func New(cfg Config, sink Sink) (zerolog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	var out io.Writer
	switch cfg.Format {
	case LogFormatLine, "":
		if sink != nil {
			out = lineWriter(sinkWriter{sink: sink}, cfg.TimeFormat)
		} else {
			out = splitWriter{
				low:  lineWriter(os.Stdout, cfg.TimeFormat),
				high: lineWriter(os.Stderr, cfg.TimeFormat),
			}
		}
	case LogFormatJSON:
		if sink != nil {
			out = sinkWriter{sink: sink}
		} else {
			out = splitWriter{low: os.Stdout, high: os.Stderr}
		}
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format: %s", cfg.Format)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// lineWriter renders zerolog events in the bracketed line format.
func lineWriter(out io.Writer, timeFormat string) zerolog.ConsoleWriter {
	if timeFormat == "" {
		timeFormat = DefaultTimeFormat
	}
	return zerolog.ConsoleWriter{
		Out:     out,
		NoColor: true,
		PartsOrder: []string{
			zerolog.TimestampFieldName,
			zerolog.LevelFieldName,
			zerolog.MessageFieldName,
		},
		FormatTimestamp: func(i interface{}) string {
			s, ok := i.(string)
			if !ok {
				return "[]"
			}
			ts, err := time.Parse(zerolog.TimeFieldFormat, s)
			if err != nil {
				return "[" + s + "]"
			}
			return "[" + ts.Local().Format(timeFormat) + "]"
		},
		FormatLevel: func(i interface{}) string {
			s, _ := i.(string)
			return s + ">"
		},
	}
}

// sinkWriter forwards every write as a single line to the sink.
type sinkWriter struct {
	sink Sink
}

func (w sinkWriter) Write(p []byte) (int, error) {
	w.sink.WriteLine(string(p))
	return len(p), nil
}

// splitWriter routes warn and above to high, everything else to low.
type splitWriter struct {
	low  io.Writer
	high io.Writer
}

func (w splitWriter) Write(p []byte) (int, error) {
	return w.low.Write(p)
}

func (w splitWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level >= zerolog.WarnLevel && level < zerolog.NoLevel {
		return w.high.Write(p)
	}
	return w.low.Write(p)
}

// Nop returns a disabled logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
