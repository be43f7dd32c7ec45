// Package errs defines the domain error taxonomy. Every error crossing the
// engine boundary carries a stable code; internal state never leaks into the
// message.
package errs

import (
	"errors"
	"fmt"
)

// Code identifies an error class to callers.
type Code string

const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeInvalidState      Code = "INVALID_STATE"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeConflict          Code = "CONCURRENCY_CONFLICT"
)

// Error is a coded domain error.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// NotFound reports an absent case, carrier or bid.
func NotFound(format string, args ...any) error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidState reports an operation attempted against a case or bid whose
// current state forbids it.
func InvalidState(format string, args ...any) error {
	return &Error{Code: CodeInvalidState, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransition reports an illegal status change, naming both states.
func InvalidTransition(from, to string) error {
	return &Error{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("cannot transition case from %s to %s", from, to),
	}
}

// Validation reports malformed input.
func Validation(format string, args ...any) error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports a lost race. Callers may retry.
func Conflict(format string, args ...any) error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the domain code from err, or "" for non-domain errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool { return CodeOf(err) == code }

// IsNotFound is a convenience check for CodeNotFound.
func IsNotFound(err error) bool { return Is(err, CodeNotFound) }
