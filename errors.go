package rxserial

import (
	"errors"
	"fmt"
)

// Kind classifies every failure that crosses the library boundary.
// Kind implements error so that errors.Is(err, PortNotOpen) works.
type Kind string

const (
	BrowserNotSupported  Kind = "BROWSER_NOT_SUPPORTED" // serial capability missing on this platform
	PortNotAvailable     Kind = "PORT_NOT_AVAILABLE"
	PortOpenFailed       Kind = "PORT_OPEN_FAILED"
	PortAlreadyOpen      Kind = "PORT_ALREADY_OPEN"
	PortNotOpen          Kind = "PORT_NOT_OPEN"
	ReadFailed           Kind = "READ_FAILED"
	WriteFailed          Kind = "WRITE_FAILED"
	ConnectionLost       Kind = "CONNECTION_LOST"
	InvalidFilterOptions Kind = "INVALID_FILTER_OPTIONS"
	OperationCancelled   Kind = "OPERATION_CANCELLED"
	Unknown              Kind = "UNKNOWN"
)

func (k Kind) Error() string {
	return string(k)
}

// Error is the single error type returned by the client and the bridges.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// NewError builds an Error. When message is empty it is derived from the
// cause, or "Unknown error" when there is no cause.
func NewError(kind Kind, message string, cause error) *Error {
	if message == "" {
		if cause != nil {
			message = cause.Error()
		} else {
			message = "Unknown error"
		}
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Wrap normalizes err into an *Error of the given kind. An err that already
// is an *Error is returned as is.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(kind, message, err)
}

// FromPanic converts a recovered value into an *Error of the given kind.
// Values that are not errors carry no cause and an "Unknown error" message.
func FromPanic(kind Kind, message string, v any) *Error {
	if err, ok := v.(error); ok {
		return NewError(kind, message, err)
	}
	return NewError(kind, "Unknown error", nil)
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the error belongs to kind.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return t != nil && e.Kind == t.Kind && (t.Message == "" || t.Message == e.Message)
	}
	return false
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// Sentinels returned by configuration options and expected from Platform
// implementations.
var (
	ErrInvalidConfig = errors.New("invalid serial configuration")

	// ErrNoPortSelected is returned by Platform.RequestPort when the user
	// dismissed the selection or no port matched the filters.
	ErrNoPortSelected = errors.New("no port selected by the user")
)
