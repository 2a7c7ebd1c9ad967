// Package errs defines the error taxonomy shared by the store, sync and
// server layers. Errors carry a machine-readable code so callers can decide
// between retrying, surfacing and ignoring without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Code classifies an error for propagation decisions.
type Code string

const (
	// CodeNotFound indicates the requested entity does not exist.
	CodeNotFound Code = "NOT_FOUND"
	// CodeConflict indicates an optimistic version check failed.
	CodeConflict Code = "CONFLICT"
	// CodeUnavailable indicates a transient network/backend failure; safe to retry.
	CodeUnavailable Code = "UNAVAILABLE"
	// CodeUnauthorized indicates the operation requires premium or admin status.
	CodeUnauthorized Code = "UNAUTHORIZED"
	// CodeValidationFailed indicates the input violates a domain rule.
	CodeValidationFailed Code = "VALIDATION_FAILED"
	// CodeInternal indicates an unexpected failure with no better classification.
	CodeInternal Code = "INTERNAL"
)

// Error is a structured error with a taxonomy code and optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NotFound creates a NOT_FOUND error.
func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a CONFLICT error.
func Conflict(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Unavailable creates an UNAVAILABLE error wrapping the transient cause.
func Unavailable(cause error, format string, args ...any) *Error {
	return &Error{Code: CodeUnavailable, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Unauthorized creates an UNAUTHORIZED error.
func Unauthorized(format string, args ...any) *Error {
	return &Error{Code: CodeUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// ValidationFailed creates a VALIDATION_FAILED error.
func ValidationFailed(format string, args ...any) *Error {
	return &Error{Code: CodeValidationFailed, Message: fmt.Sprintf(format, args...)}
}

// Internal creates an INTERNAL error wrapping the cause.
func Internal(cause error, format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Wrap attaches a code and message to an existing error.
func Wrap(cause error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the code from an error chain, or CodeInternal if none is set.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool { return IsCode(err, CodeNotFound) }

// IsConflict reports whether err is a CONFLICT error.
func IsConflict(err error) bool { return IsCode(err, CodeConflict) }

// IsUnavailable reports whether err is a transient UNAVAILABLE error.
func IsUnavailable(err error) bool { return IsCode(err, CodeUnavailable) }

// IsUnauthorized reports whether err is an UNAUTHORIZED error.
func IsUnauthorized(err error) bool { return IsCode(err, CodeUnauthorized) }

// IsValidationFailed reports whether err is a VALIDATION_FAILED error.
func IsValidationFailed(err error) bool { return IsCode(err, CodeValidationFailed) }

// IsTransient reports whether the operation that produced err may be retried.
// Only UNAVAILABLE errors are retryable; everything else is deterministic.
func IsTransient(err error) bool { return IsUnavailable(err) }
