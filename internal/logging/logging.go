// Package logging provides structured logging using slog.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// Config holds logging configuration.
type Config struct {
	Format string // "json" | "text"
	Level  string // "debug" | "info" | "warn" | "error"
}

// SetupWriter installs a logger writing to w as the slog default. The CLI
// passes stderr so command output on stdout stays machine-readable.
func SetupWriter(w io.Writer, cfg Config) {
	slog.SetDefault(New(w, cfg))
}

// New builds a logger without installing it as the default.
func New(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Component returns a logger with a component name.
func Component(name string) *slog.Logger {
	return slog.With("component", name)
}

// ReceiverLogger adds receiver context to a component logger.
func ReceiverLogger(l *slog.Logger, receiver, queue string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With("receiver", receiver, "queue", queue)
}
