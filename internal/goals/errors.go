package goals

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can tell "try again later" apart
// from "this input is invalid".
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindForbidden  Kind = "forbidden"
	KindUpstream   Kind = "upstream"
	KindFatal      Kind = "fatal"
)

// Sentinels for errors.Is matching on kind.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrForbidden  = &Error{Kind: KindForbidden}
	ErrUpstream   = &Error{Kind: KindUpstream}
	ErrFatal      = &Error{Kind: KindFatal}
)

// Error is a classified core failure.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrConflict) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

func newError(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Validationf(op, format string, args ...any) error {
	return newError(KindValidation, op, format, args...)
}

func Conflictf(op, format string, args ...any) error {
	return newError(KindConflict, op, format, args...)
}

func NotFoundf(op, format string, args ...any) error {
	return newError(KindNotFound, op, format, args...)
}

func Forbiddenf(op, format string, args ...any) error {
	return newError(KindForbidden, op, format, args...)
}

func Fatalf(op, format string, args ...any) error {
	return newError(KindFatal, op, format, args...)
}

// Upstream wraps a collaborator failure.
func Upstream(op string, err error) error {
	return &Error{Kind: KindUpstream, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
