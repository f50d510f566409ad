package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an agent error.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindDeserialization ErrorKind = "deserialization"
	KindDevice          ErrorKind = "device"
	KindChannel         ErrorKind = "channel"
	KindInternal        ErrorKind = "internal"
)

// ErrDisconnected is returned (wrapped) by a control channel whose transport is down.
// The scheduler clears the registry when a publish fails with it.
var ErrDisconnected = errors.New("control channel disconnected")

// Error is an agent error tagged with its kind and the operation that failed.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and an operation name.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether any *Error in err's chain has the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// IsDisconnected reports whether err signals a lost control channel.
func IsDisconnected(err error) bool {
	return errors.Is(err, ErrDisconnected)
}
