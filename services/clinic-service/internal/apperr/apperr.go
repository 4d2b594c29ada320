// Package apperr carries the error taxonomy shared by the domain services.
// Handlers map kinds to HTTP status codes at the edge; everything below the
// handlers works with kinds, not status codes.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Internal Kind = iota
	Validation
	NotFound
	Conflict
	StateConflict
	InvalidTarget
	Unauthorized
)

type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) *Error {
	return newf(Validation, format, args...)
}

func NotFoundf(format string, args ...any) *Error {
	return newf(NotFound, format, args...)
}

func Conflictf(format string, args ...any) *Error {
	return newf(Conflict, format, args...)
}

func StateConflictf(format string, args ...any) *Error {
	return newf(StateConflict, format, args...)
}

func InvalidTargetf(format string, args ...any) *Error {
	return newf(InvalidTarget, format, args...)
}

func Unauthorizedf(format string, args ...any) *Error {
	return newf(Unauthorized, format, args...)
}

// KindOf returns the kind of err, or Internal for anything outside the
// taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
