// Package apperr defines the error taxonomy shared by the hub, the router and
// both transports. Every error carries a kind that callers test with
// errors.Is and a message that is safe to show to the acting client.
package apperr

import (
	"errors"
	"fmt"
)

// Error kinds.
var (
	ErrProtocol      = errors.New("protocol error")
	ErrValidation    = errors.New("validation error")
	ErrPermission    = errors.New("permission denied")
	ErrPersistence   = errors.New("persistence error")
	ErrDuplicateVote = errors.New("duplicate vote")
	ErrNotFound      = errors.New("not found")
)

// Error is a classified error. Msg is user-facing; Err is the optional cause
// and is only logged.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Protocol reports a malformed handshake or frame.
func Protocol(format string, args ...any) error {
	return &Error{Kind: ErrProtocol, Msg: fmt.Sprintf(format, args...)}
}

// Validation reports a bad event payload.
func Validation(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

// Permission reports an unauthorized action.
func Permission(format string, args ...any) error {
	return &Error{Kind: ErrPermission, Msg: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing record.
func NotFound(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Msg: fmt.Sprintf(format, args...)}
}

// DuplicateVote reports a second vote where the poll forbids it.
func DuplicateVote(format string, args ...any) error {
	return &Error{Kind: ErrDuplicateVote, Msg: fmt.Sprintf(format, args...)}
}

// Persistence wraps a store failure. The cause stays out of Public.
func Persistence(op string, err error) error {
	return &Error{Kind: ErrPersistence, Msg: "failed to " + op, Err: err}
}

// Public returns the message that may be sent back to a client. Unclassified
// errors collapse to a generic message.
func Public(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}

// Is reports whether err has the given kind. It is a shorthand for errors.Is.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
