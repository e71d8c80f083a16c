// Package errors provides error handling for Slate.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//   - Sentinel marks for retry classification
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Add hints for users
//	return errors.WithHint(err, "try increasing the timeout")
//
//	// Check errors
//	if errors.Is(err, sql.ErrNoRows) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	"context"
	"net"

	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSafeDetails    = crdb.WithSafeDetails
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapOnce     = crdb.UnwrapOnce
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Assertions and panics
var (
	AssertionFailedf                 = crdb.AssertionFailedf
	NewAssertionErrorWithWrappedErrf = crdb.NewAssertionErrorWithWrappedErrf
)

// Common sentinel errors for use across Slate.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrConflict indicates a resource conflict (calendar collision,
	// duplicate id, mutation of a terminal job)
	ErrConflict = New("resource conflict")

	// ErrServiceUnavailable indicates a required service is not available
	ErrServiceUnavailable = New("service unavailable")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")

	// ErrShuttingDown indicates the scheduler is draining and rejects new work
	ErrShuttingDown = New("shutting down")
)

// Retry-classification marks. Capabilities attach these to tell the executor
// whether a failure is worth retrying; unmarked errors fall back to the
// default classification in IsTransientError.
var (
	// ErrTransient marks failures that should be retried (network hiccups,
	// rate limits, upstream 5xx)
	ErrTransient = New("transient failure")

	// ErrTerminal marks failures that must not be retried (bad credentials,
	// policy rejection, corrupt input)
	ErrTerminal = New("terminal failure")
)

// MarkTransient marks err as retryable without changing its message.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return Mark(err, ErrTransient)
}

// MarkTerminal marks err as non-retryable without changing its message.
func MarkTerminal(err error) error {
	if err == nil {
		return nil
	}
	return Mark(err, ErrTerminal)
}

// IsTransientError reports whether err should count as transient for retry
// purposes. Explicit marks win; otherwise timeouts and network errors are
// transient and everything else is terminal.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrTerminal) {
		return false
	}
	if Is(err, ErrTransient) {
		return true
	}
	if Is(err, ErrTimeout) || Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return As(err, &netErr)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound.
// Also provides backward compatibility with string-based "not found" errors.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	// Check if error is or wraps our sentinel error
	if Is(err, ErrNotFound) {
		return true
	}
	// Backward compatibility: check error message
	// This supports existing code that returns custom error strings
	errMsg := err.Error()
	return len(errMsg) >= 9 && (errMsg == "not found" ||
		errMsg[len(errMsg)-9:] == "not found" ||
		len(errMsg) > 10 && errMsg[:10] == "not found:")
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsConflictError checks if an error is or wraps ErrConflict
func IsConflictError(err error) bool {
	return err != nil && Is(err, ErrConflict)
}

// IsServiceUnavailableError checks if an error is or wraps ErrServiceUnavailable
func IsServiceUnavailableError(err error) bool {
	return err != nil && Is(err, ErrServiceUnavailable)
}

// WrapNotFound wraps an error as a not-found error with context
func WrapNotFound(err error, context string) error {
	return Wrap(Wrap(ErrNotFound, err.Error()), context)
}

// WrapInvalidRequest wraps an error as an invalid-request error with context
func WrapInvalidRequest(err error, context string) error {
	return Wrap(Wrap(ErrInvalidRequest, err.Error()), context)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}

// NewConflictError creates a conflict error with a formatted message
func NewConflictError(format string, args ...interface{}) error {
	return Wrap(ErrConflict, Newf(format, args...).Error())
}

// NewValidationError creates an invalid-request error tagged with the field
// that failed validation. The field travels as an error detail and is
// surfaced in API responses.
func NewValidationError(field string, format string, args ...interface{}) error {
	return WithDetail(Wrap(ErrInvalidRequest, Newf(format, args...).Error()), field)
}

// ValidationField extracts the field name attached by NewValidationError,
// or "" when the error carries none.
func ValidationField(err error) string {
	details := GetAllDetails(err)
	if len(details) == 0 {
		return ""
	}
	return details[0]
}
