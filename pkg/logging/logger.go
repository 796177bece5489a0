// Package logging configures zerolog for the scanner: JSON to stderr
// by default, human-readable console output for interactive runs.
package logging

import (
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

	// Pretty enables human-readable console output instead of JSON.
	Pretty bool

	// Caller annotates every event with file:line. Meant for verbose
	// runs; too noisy for normal operation.
	Caller bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it. Log output
// goes to cfg.Output so it never interleaves with report output on
// stdout.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	builder := zerolog.New(output).With().Timestamp()
	if cfg.Caller {
		builder = builder.Caller()
	}
	logger := builder.Logger()

	log.Logger = logger
	return logger
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
//   - Request flow (endpoint, method, attempt number)
//   - Backoff calculations and circuit state checks
//   - Fork comparison internals
//
// Info: Normal operation events
//   - Successful requests after retry
//   - Scan progress (forks discovered, compared)
//   - Rate limit state updates
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts and backoff waits
//   - Skipped forks (private, empty, inaccessible)
//   - Rate limit waits in progress
//
// Error: Error conditions requiring attention
//   - Failed requests (after retries)
//   - Circuit breaker opening
//   - Authentication failures
//
// Context Fields:
//   - endpoint: GitHub API endpoint path
//   - status_code: HTTP status code
//   - error_kind: Error classification (see pkg/github)
//   - operation: Logical operation name (retry/breaker/progress key)
//   - repository: owner/name of the repository involved
//   - remaining: Requests remaining in the rate limit window
