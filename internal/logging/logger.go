// Package logging provides structured logging for chathistory using zerolog.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. Components derive scoped loggers from it.
var Logger zerolog.Logger

type ctxKey struct{}

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string
	// Format is json or console.
	Format string
	// Output defaults to stderr.
	Output io.Writer
	// NoColor disables ANSI colors in console output, e.g. for log files.
	NoColor      bool
	EnableCaller bool
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "console", Output: os.Stderr}
}

// Init replaces the global logger.
func Init(cfg Config) {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05", NoColor: cfg.NoColor}
	}

	builder := zerolog.New(out).With().Timestamp()
	if cfg.EnableCaller {
		builder = builder.Caller()
	}
	Logger = builder.Logger()
}

// parseLevel accepts zerolog level names plus "warning"; anything else is info.
func parseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return parsed
}

// WithContext attaches logger to ctx.
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger attached to ctx, or the global logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return logger
	}
	return Logger
}

// Component scopes a logger to a named component.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithChat scopes a logger to a chat.
func WithChat(chat string) zerolog.Logger {
	return Logger.With().Str("chat", chat).Logger()
}

// WithView scopes a logger to one history view of a chat.
func WithView(chat, viewID string) zerolog.Logger {
	return Logger.With().Str("chat", chat).Str("view", viewID).Logger()
}

func init() {
	Init(DefaultConfig())
}
