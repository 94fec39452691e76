// Package telemetry wraps log/slog behind a small interface, following
// samcharles93-mantle's internal/logger package: callers depend on the
// interface, not on slog directly, so a Handler swap never touches call
// sites.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger is the structured logging surface every beagle package logs
// through.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	WithGroup(name string) Logger
}

type slogLogger struct {
	l *slog.Logger
}

// New wraps an existing slog.Handler.
func New(h slog.Handler) Logger {
	return slogLogger{l: slog.New(h)}
}

// Default returns a Logger writing human-readable text to stderr at
// Info level, the package's zero-configuration entry point.
func Default() Logger {
	return New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// JSON returns a Logger writing structured JSON lines at the given
// level, the shape a supervised phylkbench run redirects to a log file.
func JSON(w io.Writer, level slog.Level) Logger {
	return New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard returns a Logger that drops every record, useful in tests that
// exercise code paths without wanting their output.
func Discard() Logger {
	return New(slog.NewTextHandler(io.Discard, nil))
}

func (s slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

func (s slogLogger) With(args ...any) Logger {
	return slogLogger{l: s.l.With(args...)}
}

func (s slogLogger) WithGroup(name string) Logger {
	return slogLogger{l: s.l.WithGroup(name)}
}

type ctxKey struct{}

// WithContext attaches log to ctx.
func WithContext(ctx context.Context, log Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext retrieves the Logger attached by WithContext, or Default
// if none was attached.
func FromContext(ctx context.Context) Logger {
	if log, ok := ctx.Value(ctxKey{}).(Logger); ok {
		return log
	}
	return Default()
}
