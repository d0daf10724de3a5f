// Package errors defines sentinel errors shared across tabarch packages.
//
// This package provides:
// - Sentinel errors for all cross-package error conditions
// - Error category checking functions
// - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Data-shape errors
	ErrUnsupportedElementType = errors.New("unsupported element type")

	// Header errors
	ErrHeaderOverflow = errors.New("compatibility header exceeds reserved space")

	// Container errors
	ErrContainerClosed = errors.New("container is closed")
	ErrDatasetExists   = errors.New("dataset already exists")
	ErrGroupExists     = errors.New("group already exists")
	ErrBadMagic        = errors.New("not a table container file")
	ErrCorruptRecord   = errors.New("corrupt container record")
	ErrElementMismatch = errors.New("value does not match dataset element type")

	// Writer errors
	ErrWriterClosed = errors.New("table writer is closed")
)

// ============================================================================
// Category checks
// ============================================================================

// IsDataShape reports whether err is caused by the shape or type of incoming
// data rather than by storage state. Data-shape errors abort a single update
// but never the process.
func IsDataShape(err error) bool {
	return errors.Is(err, ErrUnsupportedElementType) ||
		errors.Is(err, ErrElementMismatch)
}

// IsFatal reports whether err must terminate the process. Only startup-time
// configuration problems and the header-size assertion qualify.
func IsFatal(err error) bool {
	return errors.Is(err, ErrHeaderOverflow)
}

// ============================================================================
// Wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
// Returns nil if err is nil.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
