package rxserial

import (
	"errors"
	"sync"

	"github.com/allbin/go-rxserial/rx"
	"github.com/allbin/go-rxserial/stream"
)

// ReadableToObservable presents rs as a cold observable of chunks.
//
// Each subscription takes the reader lock, pulls one chunk at a time and
// emits it, completes when the stream is done and fails with READ_FAILED
// when a pull fails. The lock is released exactly once, on unsubscribe or
// before the terminal event is delivered. Subscribing again after the
// stream drained yields an empty, completed sequence.
func ReadableToObservable(rs *stream.ReadableStream) rx.Observable[[]byte] {
	return rx.Create(func(s *rx.Subscriber[[]byte]) func() {
		reader, err := rs.GetReader()
		if err != nil {
			s.Error(NewError(ReadFailed, "failed to acquire reader", err))
			return nil
		}
		release := sync.OnceFunc(reader.ReleaseLock)

		go func() {
			ctx := s.Context()
			for {
				chunk, done, err := reader.Read(ctx)
				if s.Closed() {
					return
				}
				switch {
				case err != nil:
					release()
					s.Error(readError(err))
					return
				case done:
					release()
					s.Complete()
					return
				}
				if !s.Next(chunk) {
					return
				}
			}
		}()

		return release
	})
}

func readError(err error) *Error {
	var pe *stream.PanicError
	if errors.As(err, &pe) {
		return FromPanic(ReadFailed, "", pe.Value)
	}
	return NewError(ReadFailed, "", err)
}
