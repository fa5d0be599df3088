// Package rerr defines the closed set of error kinds used across
// reconsync, per the taxonomy in SPEC_FULL.md §7. Components wrap
// underlying errors (driver errors, os errors) with one of these kinds
// so callers can branch on Kind() instead of string-matching messages.
package rerr

import (
	"errors"
	"fmt"
)

// Kind is a closed taxonomy of error categories surfaced to callers.
type Kind string

const (
	KindTransientControlStore Kind = "transient_control_store"
	KindLockAcquisition       Kind = "lock_acquisition"
	KindTimeout               Kind = "timeout"
	KindSchemaMismatch        Kind = "schema_mismatch"
	KindTransaction           Kind = "transaction"
	KindReplication           Kind = "replication"
	KindPublish               Kind = "publish"
	KindConfiguration         Kind = "configuration"
)

// Error wraps an underlying cause with a taxonomy Kind and a
// human-readable message. It never silently swallows the cause:
// Unwrap always returns it.
type Error struct {
	kind    Kind
	message string
	cause   error
}

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around an existing cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...), cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error's taxonomy category.
func (e *Error) Kind() Kind { return e.kind }

// Is reports whether err carries the given Kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var re *Error
	if !errors.As(err, &re) {
		return false
	}
	return re.kind == kind
}
