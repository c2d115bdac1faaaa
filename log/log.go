// Package log provides structured logging for soltrace. It wraps Go's
// log/slog with per-module child loggers so that each subsystem (decoder,
// rpc, collector, ...) can be told apart in the output.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Logger wraps slog.Logger with soltrace-specific context.
type Logger struct {
	inner *slog.Logger
}

// defaultLogger is the process-wide logger used by the package-level
// convenience functions.
var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(New(slog.LevelInfo))
}

// New creates a Logger that writes JSON to stderr at the given level.
func New(level slog.Level) *Logger {
	return NewWithFormat(os.Stderr, level, "json")
}

// NewWithFormat creates a Logger writing to w. The format is either "json"
// or "text"; anything else falls back to JSON.
func NewWithFormat(w io.Writer, level slog.Level, format string) *Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return &Logger{inner: slog.New(h)}
}

// NewWithHandler creates a Logger backed by the supplied slog.Handler. This
// is useful for testing or for writing to a custom destination.
func NewWithHandler(h slog.Handler) *Logger {
	return &Logger{inner: slog.New(h)}
}

// Discard returns a Logger that drops every record.
func Discard() *Logger {
	return NewWithHandler(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// SetDefault replaces the package-level default logger.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger.Store(l)
	}
}

// Default returns the current package-level default logger.
func Default() *Logger {
	return defaultLogger.Load()
}

// LevelFromVerbosity maps the CLI verbosity scale (0=silent .. 5=trace) to
// an slog level. Values outside the scale are clamped.
func LevelFromVerbosity(v int) slog.Level {
	switch {
	case v <= 0:
		return slog.LevelError + 4
	case v == 1:
		return slog.LevelError
	case v == 2:
		return slog.LevelWarn
	case v == 3:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// Module returns a child logger with an additional "module" attribute. This
// is the primary way subsystems (stacktrace, rpc, trace, ...) obtain their
// own contextual logger.
func (l *Logger) Module(name string) *Logger {
	return &Logger{inner: l.inner.With("module", name)}
}

// With returns a child logger with additional key-value context.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{inner: l.inner.With(args...)}
}

// Enabled reports whether records at the given level would be emitted.
func (l *Logger) Enabled(level slog.Level) bool {
	return l.inner.Enabled(context.Background(), level)
}

// Debug logs at LevelDebug.
func (l *Logger) Debug(msg string, args ...any) { l.inner.Debug(msg, args...) }

// Info logs at LevelInfo.
func (l *Logger) Info(msg string, args ...any) { l.inner.Info(msg, args...) }

// Warn logs at LevelWarn.
func (l *Logger) Warn(msg string, args ...any) { l.inner.Warn(msg, args...) }

// Error logs at LevelError.
func (l *Logger) Error(msg string, args ...any) { l.inner.Error(msg, args...) }

// ---------------------------------------------------------------------------
// Package-level convenience functions -- delegate to the default logger.
// ---------------------------------------------------------------------------

// Debug logs at LevelDebug using the default logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }

// Info logs at LevelInfo using the default logger.
func Info(msg string, args ...any) { Default().Info(msg, args...) }

// Warn logs at LevelWarn using the default logger.
func Warn(msg string, args ...any) { Default().Warn(msg, args...) }

// Error logs at LevelError using the default logger.
func Error(msg string, args ...any) { Default().Error(msg, args...) }
