// Package errors provides standardized error types and helpers for the sos codebase.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	// ErrBusy indicates the destination engine reported transient lock contention
	ErrBusy = errors.New("destination busy")
	// ErrCorrupt indicates on-disk structure that cannot be interpreted
	ErrCorrupt = errors.New("corrupt page structure")
	// ErrInvalidInput indicates invalid input or validation failure
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnsupported indicates an unsupported operation or format
	ErrUnsupported = errors.New("unsupported")
	// ErrChecksum indicates a page checksum mismatch
	ErrChecksum = errors.New("checksum mismatch")
)

// IOError represents an I/O operation error with context
type IOError struct {
	Operation string // Operation being performed (e.g., "stat", "open", "mmap")
	Path      string // File path involved
	Err       error  // Underlying error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to %s %s: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("failed to %s: %v", e.Operation, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// CorruptionError describes a page or cell whose declared structure is
// inconsistent with the bytes actually present in the file.
type CorruptionError struct {
	Page   uint32 // 1-based page number
	Cell   int    // Cell index on the page, -1 if the whole page is affected
	Reason string // Human-readable description
}

func (e *CorruptionError) Error() string {
	if e.Cell >= 0 {
		return fmt.Sprintf("page %d cell %d: %s", e.Page, e.Cell, e.Reason)
	}
	return fmt.Sprintf("page %d: %s", e.Page, e.Reason)
}

func (e *CorruptionError) Unwrap() error {
	return ErrCorrupt
}

// ValidationError represents an input validation error with context
type ValidationError struct {
	Field   string // Field name that failed validation
	Message string // Human-readable error message
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// SinkError represents a failure reported by the destination storage engine.
type SinkError struct {
	Operation string // Sink operation (e.g., "begin", "insert", "commit", "checkpoint")
	Err       error  // Underlying driver error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink failure, operation: %s: %v", e.Operation, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// IsBusy reports whether err represents transient lock contention.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}

// Is, As and Unwrap are re-exported so callers don't need to import both
// this package and the standard library errors package.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func Unwrap(err error) error { return errors.Unwrap(err) }

// New creates a new error with the given message.
func New(message string) error { return errors.New(message) }
