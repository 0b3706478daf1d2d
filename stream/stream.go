// Package stream provides pull-based byte streams with exclusive locks.
//
// A ReadableStream hands out at most one Reader at a time and a
// WritableStream at most one Writer. A lock is held until ReleaseLock is
// called; releasing twice is a no-op. The underlying Source is never pulled
// concurrently and the underlying Sink never sees overlapping calls, no
// matter how many readers or writers come and go.
package stream

import (
	"errors"
	"fmt"
)

var (
	ErrLocked   = errors.New("stream is locked")
	ErrReleased = errors.New("lock has been released")
	ErrClosed   = errors.New("stream is closed")
	ErrPending  = errors.New("a read is already pending on this reader")
)

// PanicError carries a value recovered from a panicking Source.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("source panicked: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
