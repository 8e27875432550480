// Package apperr defines the error kinds shared by the pipeline and the job control plane.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to react to it (HTTP status, retry policy).
type Kind string

const (
	KindInvalidInput Kind = "invalid_input"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindUnavailable  Kind = "unavailable"
	KindInternal     Kind = "internal"
)

// Error is a categorized error. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, so errors.Is(err, apperr.ErrNotFound) works
// regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == ""
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidInput = &Error{Kind: KindInvalidInput}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrUnavailable  = &Error{Kind: KindUnavailable}
	ErrInternal     = &Error{Kind: KindInternal}
)

func newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func InvalidInput(op, format string, args ...any) error {
	return newf(KindInvalidInput, op, format, args...)
}

func NotFound(op, format string, args ...any) error {
	return newf(KindNotFound, op, format, args...)
}

func Conflict(op, format string, args ...any) error {
	return newf(KindConflict, op, format, args...)
}

func Unavailable(op, format string, args ...any) error {
	return newf(KindUnavailable, op, format, args...)
}

// Internal wraps an unexpected failure.
func Internal(op string, err error) error {
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
