// Package logging configures the zerolog loggers used across oda-reader.
//
// Library packages never write to the global logger directly; they take a
// *zerolog.Logger from their Config and fall back to NewLogger(component)
// through OrDefault.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

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

	// LevelDisabled silences all output.
	LevelDisabled LogLevel = "disabled"
)

// Component names used for the "component" field.
const (
	ComponentClient      = "client"
	ComponentRateLimit   = "ratelimit"
	ComponentHTTPCache   = "httpcache"
	ComponentFrameCache  = "framecache"
	ComponentBulkCache   = "bulkcache"
	ComponentMaintenance = "maintenance"
	ComponentReader      = "oda"
	ComponentPrefetch    = "prefetch"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

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

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a LogLevel to a zerolog.Level. Unknown values map to info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// OrDefault returns *l when set, otherwise a component logger derived from the
// global logger.
func OrDefault(l *zerolog.Logger, component string) zerolog.Logger {
	if l != nil {
		return *l
	}
	return NewLogger(component)
}

// WithContext stores l in ctx so request-scoped fields travel with it.
func WithContext(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// FromContext returns the logger stored in ctx, or fallback when there is none.
func FromContext(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return fallback
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache operations (hit/miss, key, tier)
//   - Request flow (conditional requests, ETags, version step-downs)
//   - Lock acquisition and manifest writes
//
// Info: Normal operation events
//   - Completed downloads and bulk refreshes
//   - Cache clears and eviction summaries
//   - Rate limit changes
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts and stale responses served
//   - Cache read/write failures (fall through to network)
//   - Corrupt cache entries removed
//
// Error: Error conditions requiring attention
//   - Retries exhausted, no data for any dataflow version
//   - Upstream errors surfaced to the caller
//   - Lock timeouts
//
// Context Fields:
//   - url: Request URL
//   - status_code: HTTP status code
//   - duration: Request duration
//   - error_class: Error classification (client, server, network)
//   - version: Dataflow version tried
//   - key: Cache key (bulk entry key or DataFrame hash)
//   - from_cache: Boolean indicating HTTP cache hit
