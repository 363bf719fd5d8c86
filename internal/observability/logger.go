package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LoggingConfig contains logger configuration options.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fatal, panic).
	Level string

	// Format is the output format (json, console, pretty).
	Format string

	// Output is the output destination (stdout, stderr, or a file path).
	Output string

	// AddSource adds source file and line number to log entries.
	AddSource bool

	// TimeFormat is the time format for timestamps.
	TimeFormat string
}

// DefaultLoggingConfig returns a LoggingConfig with sensible defaults.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		AddSource:  false,
		TimeFormat: time.RFC3339,
	}
}

// NewLogger creates a new zerolog logger based on configuration.
// An output that is neither stdout nor stderr is treated as a file path and
// opened in append mode; if it cannot be opened the logger falls back to stdout.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	output := resolveOutput(cfg.Output)

	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	format := strings.ToLower(cfg.Format)
	if format == "console" || format == "pretty" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: zerolog.TimeFieldFormat,
		}
	}

	logCtx := zerolog.New(output).With().Timestamp()
	if cfg.AddSource {
		logCtx = logCtx.Caller()
	}
	log := logCtx.Logger()

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)
	return log.Level(level)
}

func resolveOutput(output string) io.Writer {
	switch strings.ToLower(output) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}
	f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return os.Stdout
	}
	return f
}

// parseLevel converts a string log level to zerolog.Level.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithBatchContext adds batch fields to a logger.
func WithBatchContext(logger zerolog.Logger, batchID, clientID string) zerolog.Logger {
	return logger.With().
		Str("batch_id", batchID).
		Str("client_id", clientID).
		Logger()
}

// WithJobContext adds job fields to a logger.
func WithJobContext(logger zerolog.Logger, jobID, keyword string) zerolog.Logger {
	return logger.With().
		Str("job_id", jobID).
		Str("keyword", keyword).
		Logger()
}

// WithRecordContext adds the remote tracking record ID to a logger.
func WithRecordContext(logger zerolog.Logger, recordID string) zerolog.Logger {
	return logger.With().
		Str("tracking_record_id", recordID).
		Logger()
}
