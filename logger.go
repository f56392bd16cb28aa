package bucketstore

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with bucketstore-specific context.
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

// WithPath adds a backing file path field to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// LogCreate logs the creation of a storage backing file.
func (l *Logger) LogCreate(path string, capacity, cellSize uint64, err error) {
	if err != nil {
		l.Error("create storage failed",
			"path", path,
			"capacity", capacity,
			"cell_size", cellSize,
			"error", err,
		)
	} else {
		l.Debug("storage created",
			"path", path,
			"capacity", capacity,
			"cell_size", cellSize,
			"bytes", capacity*cellSize,
		)
	}
}

// LogResize logs a migration from a smaller storage into a larger one.
func (l *Logger) LogResize(ctx context.Context, oldCapacity, newCapacity, migrated uint64, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "resize failed",
			"old_capacity", oldCapacity,
			"new_capacity", newCapacity,
			"migrated", migrated,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "resize completed",
			"old_capacity", oldCapacity,
			"new_capacity", newCapacity,
			"migrated", migrated,
			"elapsed", elapsed,
		)
	}
}

// LogClose logs the teardown of a storage. A non-nil removeErr is the
// swallowed failure to delete the backing file.
func (l *Logger) LogClose(path string, removeErr error) {
	if removeErr != nil {
		l.Debug("remove backing file failed",
			"path", path,
			"error", removeErr,
		)
		return
	}
	l.Debug("storage closed",
		"path", path,
	)
}
