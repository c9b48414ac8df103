package sight

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes session errors surfaced to the UI.
type ErrorKind string

const (
	KindPermission ErrorKind = "permission_error"
	KindTransport  ErrorKind = "transport_error"
	KindDecode     ErrorKind = "decode_error"
	KindRemote     ErrorKind = "remote_error"
	KindCapability ErrorKind = "capability_error"
	KindConfig     ErrorKind = "config_error"
)

// Error is the typed error carried across component boundaries.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal reports whether an error of this kind ends the session attempt.
func (e *Error) Fatal() bool {
	switch e.Kind {
	case KindDecode, KindCapability:
		return false
	default:
		return true
	}
}

func NewPermissionError(message string, err error) *Error {
	return &Error{Kind: KindPermission, Message: message, Err: err}
}

func NewTransportError(message string, err error) *Error {
	return &Error{Kind: KindTransport, Message: message, Err: err}
}

func NewRemoteError(message string, err error) *Error {
	return &Error{Kind: KindRemote, Message: message, Err: err}
}

func NewConfigError(message string) *Error {
	return &Error{Kind: KindConfig, Message: message}
}

// KindOf returns the kind of err, or KindTransport for untyped errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) && se != nil {
		return se.Kind
	}
	return KindTransport
}
