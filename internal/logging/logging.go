// Package logging provides structured logging using Go's slog package.
package logging

import (
	"log/slog"
	"os"
	"time"
)

var (
	// defaultLogger is the global logger instance.
	defaultLogger *slog.Logger
)

func init() {
	// Initialize with a default logger (text format, Info level)
	InitLogger(LevelInfo, FormatText)
}

// Level represents a log level.
type Level int

const (
	// LevelDebug is for debug messages.
	LevelDebug Level = iota
	// LevelInfo is for informational messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
)

// Format represents a log output format.
type Format int

const (
	// FormatJSON outputs logs in JSON format.
	FormatJSON Format = iota
	// FormatText outputs logs in human-readable text format.
	FormatText
)

// InitLogger initializes the global logger with the specified level and format.
func InitLogger(level Level, format Format) {
	var slogLevel slog.Level
	switch level {
	case LevelDebug:
		slogLevel = slog.LevelDebug
	case LevelInfo:
		slogLevel = slog.LevelInfo
	case LevelWarn:
		slogLevel = slog.LevelWarn
	case LevelError:
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Customize timestamp format
			if a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if format == FormatJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// GetLogger returns the global logger instance.
func GetLogger() *slog.Logger {
	return defaultLogger
}

// Helper functions for common logging patterns

// Debug logs a debug message with optional key-value pairs.
func Debug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}

// Info logs an info message with optional key-value pairs.
func Info(msg string, args ...any) {
	defaultLogger.Info(msg, args...)
}

// Warn logs a warning message with optional key-value pairs.
func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

// Error logs an error message with optional key-value pairs.
func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}

// PageSkipped logs a page that was not recognized as an index b-tree page.
func PageSkipped(pageNo uint32, typeByte byte, args ...any) {
	allArgs := []any{
		"page", pageNo,
		"type_byte", typeByte,
	}
	allArgs = append(allArgs, args...)
	defaultLogger.Debug("page_skipped", allArgs...)
}

// CellSkipped logs a cell whose payload could not be reconstructed.
func CellSkipped(pageNo uint32, cell int, reason string, args ...any) {
	allArgs := []any{
		"page", pageNo,
		"cell", cell,
		"reason", reason,
	}
	allArgs = append(allArgs, args...)
	defaultLogger.Warn("cell_skipped", allArgs...)
}

// CheckpointRetry logs a checkpoint attempt deferred by destination contention.
func CheckpointRetry(mode string, attempt int, args ...any) {
	allArgs := []any{
		"mode", mode,
		"attempt", attempt,
	}
	allArgs = append(allArgs, args...)
	defaultLogger.Warn("checkpoint_busy", allArgs...)
}

// TransactionCommitted logs a completed restore batch.
func TransactionCommitted(pages int, cells uint64, args ...any) {
	allArgs := []any{
		"batch_pages", pages,
		"cells", cells,
	}
	allArgs = append(allArgs, args...)
	defaultLogger.Info("transaction_committed", allArgs...)
}
