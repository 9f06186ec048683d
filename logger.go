package lfalloc

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with allocator-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithClass adds a size class field to the logger.
func (l *Logger) WithClass(class int) *Logger {
	return &Logger{
		Logger: l.Logger.With("class", class),
	}
}

// LogRefill logs an attempt to obtain a chunk from the large-block allocator.
func (l *Logger) LogRefill(ctx context.Context, bytes uintptr, err error) {
	if err != nil {
		l.WarnContext(ctx, "chunk refill failed",
			"bytes", bytes,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "chunk refilled",
			"bytes", bytes,
		)
	}
}

// LogOversize logs a request delegated to the large-block allocator.
func (l *Logger) LogOversize(ctx context.Context, size uintptr, err error) {
	if err != nil {
		l.WarnContext(ctx, "oversize allocation failed",
			"size", size,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "oversize allocation delegated",
			"size", size,
		)
	}
}

// LogOutOfMemory logs an allocation that could not be served.
func (l *Logger) LogOutOfMemory(ctx context.Context, size uintptr, err error) {
	l.WarnContext(ctx, "out of memory",
		"size", size,
		"error", err,
	)
}

// LogMisuse logs a rejected deallocation or reallocation.
func (l *Logger) LogMisuse(ctx context.Context, op string, ptr uintptr, err error) {
	l.WarnContext(ctx, "allocator misuse",
		"op", op,
		"ptr", ptr,
		"error", err,
	)
}

// LogClose logs allocator teardown.
func (l *Logger) LogClose(ctx context.Context, chunks int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "close failed",
			"chunks", chunks,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "allocator closed",
			"chunks", chunks,
		)
	}
}
