package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a fault.
type Kind string

const (
	KindInitialization Kind = "initialization"
	KindExecution      Kind = "execution"
	KindTimeout        Kind = "timeout"
	KindProtocol       Kind = "protocol"
)

var (
	ErrUnavailable = errors.New("sandbox unavailable")
	ErrBusy        = errors.New("sandbox busy")
	ErrClosed      = errors.New("sandbox closed")
)

// Error is a classified fault.
type Error struct {
	Kind    Kind
	Message string // Human-readable description
	Err     error  // Optional underlying cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s fault: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s fault: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Initialization reports that the isolated runtime failed to start.
func Initialization(message string, err error) *Error {
	return &Error{Kind: KindInitialization, Message: message, Err: err}
}

// Execution reports that submitted code failed inside the sandbox.
func Execution(message string, err error) *Error {
	return &Error{Kind: KindExecution, Message: message, Err: err}
}

// Timeout reports that a caller-side deadline expired.
func Timeout(message string) *Error {
	return &Error{Kind: KindTimeout, Message: message}
}

// Protocol reports an unrecognized or malformed message.
func Protocol(message string, err error) *Error {
	return &Error{Kind: KindProtocol, Message: message, Err: err}
}

// Is reports whether err is a fault of the given kind.
func Is(err error, kind Kind) bool {
	var f *Error
	if errors.As(err, &f) {
		return f.Kind == kind
	}
	return false
}
