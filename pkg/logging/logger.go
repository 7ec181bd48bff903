// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// File is an optional path to a JSON log file. When set, every event
	// is written both to Output and to the file (append mode). Long scans
	// run for hours; the file keeps the full history while the console
	// shows live progress.
	File string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
// Returns an error only when the log file cannot be opened.
func Setup(cfg Config) (zerolog.Logger, error) {
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure console output
	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	// Optional file sink alongside the console
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("open log file: %w", err)
		}
		output = zerolog.MultiLevelWriter(output, f)
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger, nil
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Individual lookup attempts (identifier, attempt number)
//   - Pacing decisions (interval applied before a request)
//   - Queue pops and per-worker state
//
// Info: Normal operation events
//   - Scan start/end with range and worker count
//   - Periodic progress (processed, remaining, successes, failures)
//   - Snapshot persistence (artifact paths, record counts)
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts with backoff
//   - Interval slow-down after repeated timeouts
//   - Error-storm cooldown engaged
//   - Persist failures (run continues)
//
// Error: Error conditions requiring attention
//   - Identifier failed after all attempts
//   - Postgres mirror unavailable
//   - Configuration errors
//
// Context Fields:
//   - id: cinema identifier being processed
//   - attempt: retry attempt number (1-based)
//   - interval: current pacing interval
//   - error_class: error classification (client, server, network, decode)
//   - records / failures: accumulated outcome counts
//   - remaining: identifiers still queued
