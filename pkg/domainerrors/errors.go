// Package domainerrors defines the coded error type that services return to
// callers. Stores stay on sentinel errors (pkg/platform/sentinel); services
// translate those facts into one of the codes below so transports and callers
// can branch without string matching.
package domainerrors

import (
	"errors"
	"fmt"
)

type Code string

const (
	// CodeConflict marks operations that would violate a uniqueness or
	// at-most-one invariant (e.g. a second active subscription).
	CodeConflict Code = "conflict"
	// CodeInvalidState marks transitions that are illegal from the entity's
	// current state (e.g. renewing a canceled subscription).
	CodeInvalidState Code = "invalid_state"
	CodeNotFound     Code = "not_found"
	// CodeStructural marks schema migrations that cannot be applied without
	// data loss. Fatal at startup.
	CodeStructural Code = "structural"
	// CodeUnavailable marks transient store failures. Never retried
	// internally; the caller owns the retry decision.
	CodeUnavailable        Code = "unavailable"
	CodeIntegrityViolation Code = "integrity_violation"
	CodeInvalidInput       Code = "invalid_input"
	CodeInvariantViolation Code = "invariant_violation"
	CodeInternal           Code = "internal"
)

// Error carries a code, a human-readable message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. The cause stays
// reachable through errors.Is/As for sentinel checks.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		de = nil
	}
	return false
}

// CodeOf returns the outermost code in the chain, or CodeInternal when the
// error carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
