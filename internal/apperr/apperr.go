// Package apperr provides structured error types for the workflow service.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so boundaries can map it to a status code.
type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindValidation  Kind = "validation"
	KindConfig      Kind = "config"
	KindEngine      Kind = "engine"
	KindPersistence Kind = "persistence"
	KindAuth        Kind = "auth"
)

// Error is the single error type crossing package boundaries. It carries a
// human-readable message; there are no structured error codes beyond Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and message. Returns nil if err is nil.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// NotFound reports an unresolved entity lookup, naming the identifier.
func NotFound(entity, id string) *Error {
	return New(KindNotFound, "%s not found: %s", entity, id)
}

// Validation reports rejected input.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
