// Package apperr defines the closed error taxonomy shared by every
// agentpack surface. Errors carry a stable machine-readable code, a human
// message, and an optional details object that is serialized into the
// result envelope. Callers match with errors.As; the codes themselves are
// the contract, never the message text.
package apperr

import (
	"errors"
	"fmt"
)

// Error is a user-facing error with a stable code.
type Error struct {
	// Code is one of the E_* constants below.
	Code string

	// Message is a short human-readable description.
	Message string

	// Details holds structured context for machine dispatch. Optional.
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates an Error with the given code and message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches a details object and returns the error for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithDetail sets a single details key, allocating the map if needed.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// FromError extracts an *Error from err's chain. Unclassified errors map to
// E_UNEXPECTED so the envelope never leaks raw error chains as codes.
func FromError(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Code: CodeUnexpected, Message: err.Error()}
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code string) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}
