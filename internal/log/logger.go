// Package log wraps slog with the conventions used across opsdesk:
// leveled structured entries, service attribution, and first-class
// handling of coded errors.
package log

import (
	"context"
	"log/slog"

	"github.com/opsdesk/opsdesk/internal/errors"
)

// Logger emits structured log entries through slog.
type Logger struct {
	slog   *slog.Logger
	config Config
}

// New builds a Logger from the given configuration. When a service
// name is configured it is attached to every entry.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{
		Level:     config.Level.ToSlogLevel(),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == FormatText {
		handler = slog.NewTextHandler(config.Output.Writer(), opts)
	} else {
		handler = slog.NewJSONHandler(config.Output.Writer(), opts)
	}

	sl := slog.New(handler)
	if config.ServiceName != "" {
		attrs := []any{"service", config.ServiceName}
		if config.ServiceVersion != "" {
			attrs = append(attrs, "service_version", config.ServiceVersion)
		}
		sl = sl.With(attrs...)
	}

	return &Logger{slog: sl, config: config}
}

// Default creates a logger with DefaultConfig.
func Default() *Logger {
	return New(DefaultConfig())
}

// Development creates a logger with DevelopmentConfig.
func Development() *Logger {
	return New(DevelopmentConfig())
}

// With returns a child logger carrying the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), config: l.config}
}

// WithGroup returns a child logger that nests attributes under name.
func (l *Logger) WithGroup(name string) *Logger {
	return &Logger{slog: l.slog.WithGroup(name), config: l.config}
}

// WithError returns a child logger carrying the error's details.
// Coded errors contribute their code, suggestions, and cause.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	if opsErr, ok := err.(*errors.OpsError); ok {
		args := append([]any{"error", opsErr.Message}, codedErrorAttrs(opsErr)...)
		return l.With(args...)
	}
	return l.With("error", err.Error())
}

func (l *Logger) Debug(msg string, args ...any) {
	l.slog.Debug(msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.slog.Info(msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.slog.Warn(msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.slog.Error(msg, args...)
}

func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.slog.DebugContext(ctx, msg, args...)
}

func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.slog.InfoContext(ctx, msg, args...)
}

func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.slog.WarnContext(ctx, msg, args...)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.slog.ErrorContext(ctx, msg, args...)
}

// LogError logs an error at ERROR level with its full coded detail.
func (l *Logger) LogError(err error) {
	if err == nil {
		return
	}
	if opsErr, ok := err.(*errors.OpsError); ok {
		args := append([]any{"error_message", opsErr.Message}, codedErrorAttrs(opsErr)...)
		if opsErr.DocsURL != "" {
			args = append(args, "docs_url", opsErr.DocsURL)
		}
		l.Error("operation failed", args...)
		return
	}
	l.Error("operation failed", "error", err.Error())
}

func codedErrorAttrs(opsErr *errors.OpsError) []any {
	args := []any{"error_code", string(opsErr.Code)}
	if len(opsErr.Suggestions) > 0 {
		args = append(args, "suggestions", opsErr.Suggestions)
	}
	if opsErr.Cause != nil {
		args = append(args, "cause", opsErr.Cause.Error())
	}
	return args
}
