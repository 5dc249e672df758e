// Package apperr defines the error kinds shared by the session coordination
// services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrSessionEnded  = errors.New("session ended")
	ErrAuthorization = errors.New("not authorized")
	ErrConflict      = errors.New("conflict")
	ErrBusy          = errors.New("session busy")
)

// Error is a kind plus a human readable message.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return e.Msg
}

// Unwrap returns the kind so errors.Is matches the sentinel.
func (e *Error) Unwrap() error { return e.Kind }

func newf(kind error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Validation reports bad input (empty title, name or text).
func Validation(format string, args ...interface{}) error {
	return newf(ErrValidation, format, args...)
}

// NotFound reports an unknown session or viewer id.
func NotFound(format string, args ...interface{}) error {
	return newf(ErrNotFound, format, args...)
}

// Ended reports a mutation attempted on a terminal session.
func Ended(sessionID string) error {
	return newf(ErrSessionEnded, "session %s has ended", sessionID)
}

// Unauthorized reports a non-host attempting a host-only action.
func Unauthorized(format string, args ...interface{}) error {
	return newf(ErrAuthorization, format, args...)
}

// Conflict reports a duplicate id at creation.
func Conflict(format string, args ...interface{}) error {
	return newf(ErrConflict, format, args...)
}

// Busy reports that the per-session lock could not be acquired in time.
func Busy(sessionID string) error {
	return newf(ErrBusy, "session %s is busy, retry", sessionID)
}

// IsUnavailable is true for errors a viewer should treat as "session unavailable".
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrSessionEnded)
}
