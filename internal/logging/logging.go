// Package logging provides the structured logger shared by the cache, the
// credential vault and the coordinator.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// LogLevel represents different logging levels
type LogLevel int

// LogLevelDebug represents debug logging level
const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// slogLevel maps a LogLevel onto the slog equivalent.
func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// String returns the lower-case name of the level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "debug"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseLogLevel parses a string log level into a LogLevel.
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return LogLevelDebug, nil
	case "info", "":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return LogLevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// HandlerConfig controls how NewHandler formats records.
type HandlerConfig struct {
	// Level sets the minimum log level.
	Level LogLevel
	// Pretty selects colourised, human-readable output for terminals.
	// When false records are written as JSON.
	Pretty bool
	// EnableCallerInfo includes file and line number in logs.
	EnableCallerInfo bool
}

// NewHandler builds a slog.Handler writing to w.
func NewHandler(w io.Writer, cfg HandlerConfig) slog.Handler {
	if cfg.Pretty {
		return tint.NewHandler(w, &tint.Options{
			Level:      cfg.Level.slogLevel(),
			AddSource:  cfg.EnableCallerInfo,
			TimeFormat: time.TimeOnly,
		})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     cfg.Level.slogLevel(),
		AddSource: cfg.EnableCallerInfo,
	})
}

// Logger provides structured logging with a nil-safe no-op default.
// The zero value discards everything.
type Logger struct {
	logger *slog.Logger
}

// New wraps an slog.Logger. A nil logger yields a no-op Logger.
func New(l *slog.Logger) *Logger {
	if l == nil {
		return NewNopLogger()
	}
	return &Logger{logger: l}
}

// NewNopLogger creates a no-op logger that discards all log messages.
func NewNopLogger() *Logger {
	return &Logger{}
}

// Debug logs debug-level messages
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	if l != nil && l.logger != nil {
		l.logger.DebugContext(ctx, msg, args...)
	}
}

// Info logs info-level messages
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	if l != nil && l.logger != nil {
		l.logger.InfoContext(ctx, msg, args...)
	}
}

// Warn logs warning-level messages
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	if l != nil && l.logger != nil {
		l.logger.WarnContext(ctx, msg, args...)
	}
}

// Error logs error-level messages
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	if l != nil && l.logger != nil {
		l.logger.ErrorContext(ctx, msg, args...)
	}
}

// With returns a logger with additional context fields
func (l *Logger) With(args ...any) *Logger {
	if l == nil || l.logger == nil {
		return l
	}
	return &Logger{logger: l.logger.With(args...)}
}

// WithComponent returns a logger tagged with the owning component.
func (l *Logger) WithComponent(component string) *Logger {
	return l.With("component", component)
}

// WithOperation returns a logger with operation context
func (l *Logger) WithOperation(operation Operation) *Logger {
	return l.With("operation", string(operation))
}

// WithRepository returns a logger with repository context
func (l *Logger) WithRepository(repositoryID string) *Logger {
	return l.With("repository", repositoryID)
}

// Operation represents different types of operations for logging.
type Operation string

// Operation constants for cache, vault and coordinator operations
const (
	OpGetFile      Operation = "get_file"
	OpSetFile      Operation = "set_file"
	OpGetTree      Operation = "get_tree"
	OpSetTree      Operation = "set_tree"
	OpClear        Operation = "clear"
	OpEvictEntry   Operation = "evict_entry"
	OpLoadIndex    Operation = "load_index"
	OpSaveIndex    Operation = "save_index"
	OpSaveToken    Operation = "save_credential"
	OpGetToken     Operation = "get_credential"
	OpDeleteToken  Operation = "delete_credential"
	OpLoadStore    Operation = "load_credential_store"
	OpRefreshTree  Operation = "refresh_tree"
	OpFetchFile    Operation = "fetch_file"
	OpPurgeExpired Operation = "purge_expired"
)

// LogCacheOperation logs a cache operation with performance metrics.
func LogCacheOperation(
	ctx context.Context,
	logger *Logger,
	operation Operation,
	duration time.Duration,
	success bool,
	size int64,
	err error,
) {
	if logger == nil {
		return
	}

	fields := []any{
		"operation", string(operation),
		"duration_ms", duration.Milliseconds(),
		"success", success,
	}

	if size > 0 {
		fields = append(fields, "size", size)
	}

	if err != nil {
		fields = append(fields, "error", err.Error())
	}

	if success {
		logger.Debug(ctx, "cache operation completed", fields...)
	} else {
		logger.Warn(ctx, "cache operation failed", fields...)
	}
}

// LogCacheHit logs a cache hit event.
func LogCacheHit(ctx context.Context, logger *Logger, operation Operation, key string, size int64) {
	if logger == nil {
		return
	}

	logger.Debug(ctx, "cache hit",
		"operation", string(operation),
		"key", key,
		"size", size,
		"result", "hit")
}

// LogCacheMiss logs a cache miss event.
func LogCacheMiss(ctx context.Context, logger *Logger, operation Operation, key, reason string) {
	if logger == nil {
		return
	}

	logger.Debug(ctx, "cache miss",
		"operation", string(operation),
		"key", key,
		"reason", reason,
		"result", "miss")
}

// LogEviction logs an eviction event.
func LogEviction(ctx context.Context, logger *Logger, key string, size int64, reason string) {
	if logger == nil {
		return
	}

	logger.Info(ctx, "cache entry evicted",
		"key", key,
		"size", size,
		"reason", reason)
}
