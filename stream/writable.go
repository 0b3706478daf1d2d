package stream

import (
	"context"
	"io"
	"sync"
)

// Sink consumes chunks written to a WritableStream. Calls are never
// concurrent except Abort, which may run while a Write is in flight.
type Sink interface {
	Write(ctx context.Context, chunk []byte) error
	Close(ctx context.Context) error
	Abort(ctx context.Context, reason error) error
}

// Starter is implemented by sinks that need a Controller when the stream
// is created.
type Starter interface {
	Start(c *Controller) error
}

// SinkFuncs adapts functions to Sink. Nil functions are no-ops.
type SinkFuncs struct {
	WriteFunc func(ctx context.Context, chunk []byte) error
	CloseFunc func(ctx context.Context) error
	AbortFunc func(ctx context.Context, reason error) error
}

func (f SinkFuncs) Write(ctx context.Context, chunk []byte) error {
	if f.WriteFunc == nil {
		return nil
	}
	return f.WriteFunc(ctx, chunk)
}

func (f SinkFuncs) Close(ctx context.Context) error {
	if f.CloseFunc == nil {
		return nil
	}
	return f.CloseFunc(ctx)
}

func (f SinkFuncs) Abort(ctx context.Context, reason error) error {
	if f.AbortFunc == nil {
		return nil
	}
	return f.AbortFunc(ctx, reason)
}

type writableState int

const (
	stateWritable writableState = iota
	stateClosed
	stateErrored
)

// WritableStream is a pull-based byte sink.
type WritableStream struct {
	mu     sync.Mutex
	sem    chan struct{}
	sink   Sink
	writer *Writer
	state  writableState
	err    error
	done   chan struct{}
}

// NewWritable creates a stream writing into sink. If sink implements
// Starter, Start runs before NewWritable returns; a start error leaves the
// stream errored.
func NewWritable(sink Sink) *WritableStream {
	s := &WritableStream{
		sink: sink,
		sem:  make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	if st, ok := sink.(Starter); ok {
		if err := st.Start(&Controller{s: s}); err != nil {
			s.fail(err)
		}
	}
	return s
}

// FromWriter creates a stream writing every chunk fully into w. Closing the
// stream does not close w.
func FromWriter(w io.Writer) *WritableStream {
	return NewWritable(SinkFuncs{
		WriteFunc: func(ctx context.Context, chunk []byte) error {
			for len(chunk) > 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
				n, err := w.Write(chunk)
				if err != nil {
					return err
				}
				if n == 0 {
					return io.ErrShortWrite
				}
				chunk = chunk[n:]
			}
			return nil
		},
	})
}

// Locked reports whether a writer currently holds the lock.
func (s *WritableStream) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer != nil
}

// GetWriter acquires the exclusive writer lock.
func (s *WritableStream) GetWriter() (*Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer != nil {
		return nil, ErrLocked
	}
	w := &Writer{s: s}
	s.writer = w
	return w, nil
}

// Done is closed once the stream is closed or errored.
func (s *WritableStream) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that errored the stream, or nil.
func (s *WritableStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Closed reports whether the stream was closed without error.
func (s *WritableStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateClosed
}

// Close closes an unlocked stream.
func (s *WritableStream) Close(ctx context.Context) error {
	if s.Locked() {
		return ErrLocked
	}
	return s.close(ctx)
}

// Abort errors an unlocked stream with reason.
func (s *WritableStream) Abort(ctx context.Context, reason error) error {
	if s.Locked() {
		return ErrLocked
	}
	return s.abort(ctx, reason)
}

// Shutdown aborts the stream with reason even while a writer holds the
// lock. The writer keeps the lock; its later writes fail with reason.
func (s *WritableStream) Shutdown(ctx context.Context, reason error) error {
	return s.abort(ctx, reason)
}

func (s *WritableStream) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *WritableStream) releaseSem() {
	<-s.sem
}

func (s *WritableStream) checkWritable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateClosed:
		return ErrClosed
	case stateErrored:
		return s.err
	}
	return nil
}

func (s *WritableStream) write(ctx context.Context, chunk []byte) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.releaseSem()
	if err := s.checkWritable(); err != nil {
		return err
	}
	if err := s.sink.Write(ctx, chunk); err != nil {
		s.fail(err)
		return err
	}
	return nil
}

func (s *WritableStream) close(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.releaseSem()
	if err := s.checkWritable(); err != nil {
		return err
	}
	if err := s.sink.Close(ctx); err != nil {
		s.fail(err)
		return err
	}
	s.mu.Lock()
	if s.state == stateWritable {
		s.state = stateClosed
		close(s.done)
	}
	s.mu.Unlock()
	return nil
}

// abort does not wait for an in-flight write.
func (s *WritableStream) abort(ctx context.Context, reason error) error {
	if reason == nil {
		reason = ErrClosed
	}
	s.mu.Lock()
	if s.state != stateWritable {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	s.fail(reason)
	return s.sink.Abort(ctx, reason)
}

// fail moves a writable stream to errored. It reports whether it did.
func (s *WritableStream) fail(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateWritable {
		return false
	}
	s.state = stateErrored
	s.err = err
	close(s.done)
	return true
}

// Controller lets a Starter sink drive its own stream.
type Controller struct {
	s *WritableStream
}

// Error errors the stream without calling the sink.
func (c *Controller) Error(err error) {
	c.s.fail(err)
}

// Close closes the stream through the sink regardless of the writer lock.
func (c *Controller) Close(ctx context.Context) error {
	return c.s.close(ctx)
}

// Writer is the exclusive handle on a WritableStream.
type Writer struct {
	s        *WritableStream
	mu       sync.Mutex
	released bool
}

func (w *Writer) check() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return ErrReleased
	}
	return nil
}

// Write writes one chunk. Writes are applied to the sink one at a time.
func (w *Writer) Write(ctx context.Context, chunk []byte) error {
	if err := w.check(); err != nil {
		return err
	}
	return w.s.write(ctx, chunk)
}

// Close closes the stream.
func (w *Writer) Close(ctx context.Context) error {
	if err := w.check(); err != nil {
		return err
	}
	return w.s.close(ctx)
}

// Abort errors the stream with reason and tells the sink.
func (w *Writer) Abort(ctx context.Context, reason error) error {
	if err := w.check(); err != nil {
		return err
	}
	return w.s.abort(ctx, reason)
}

// Done mirrors WritableStream.Done.
func (w *Writer) Done() <-chan struct{} {
	return w.s.done
}

// ReleaseLock frees the stream for another writer. Safe to call repeatedly.
// A write already in flight still completes on the sink.
func (w *Writer) ReleaseLock() {
	w.mu.Lock()
	if w.released {
		w.mu.Unlock()
		return
	}
	w.released = true
	w.mu.Unlock()

	w.s.mu.Lock()
	if w.s.writer == w {
		w.s.writer = nil
	}
	w.s.mu.Unlock()
}
