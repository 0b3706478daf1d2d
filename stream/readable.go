package stream

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Source produces chunks for a ReadableStream. Pull returns io.EOF when the
// source is exhausted. ctx is cancelled when the stream is cancelled.
type Source interface {
	Pull(ctx context.Context) ([]byte, error)
}

// Canceler is implemented by sources that need to be told the stream was
// cancelled.
type Canceler interface {
	Cancel(reason error) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]byte, error)

func (f SourceFunc) Pull(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

type pullResult struct {
	chunk []byte
	err   error
}

// ReadableStream is a pull-based byte source.
type ReadableStream struct {
	mu       sync.Mutex
	src      Source
	ctx      context.Context
	cancel   context.CancelFunc
	reader   *Reader
	inflight chan pullResult
	done     bool
	err      error
}

// NewReadable creates a stream pulling from src.
func NewReadable(src Source) *ReadableStream {
	ctx, cancel := context.WithCancel(context.Background())
	return &ReadableStream{src: src, ctx: ctx, cancel: cancel}
}

// FromReader creates a stream reading up to bufSize bytes per pull from r.
// Reads returning no data and no error are retried until the stream is
// cancelled, which suits ports configured with a read timeout.
func FromReader(r io.Reader, bufSize int) *ReadableStream {
	if bufSize <= 0 {
		bufSize = 255
	}
	buf := make([]byte, bufSize)
	return NewReadable(SourceFunc(func(ctx context.Context) ([]byte, error) {
		for {
			if err := ctx.Err(); err != nil {
				return nil, io.EOF
			}
			n, err := r.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				return chunk, nil
			}
			if err != nil {
				return nil, err
			}
		}
	}))
}

// FromChunks creates a stream yielding chunks in order, then done.
func FromChunks(chunks ...[]byte) *ReadableStream {
	var mu sync.Mutex
	i := 0
	return NewReadable(SourceFunc(func(ctx context.Context) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(chunks) {
			return nil, io.EOF
		}
		c := chunks[i]
		i++
		return c, nil
	}))
}

// Locked reports whether a reader currently holds the lock.
func (s *ReadableStream) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader != nil
}

// GetReader acquires the exclusive reader lock.
func (s *ReadableStream) GetReader() (*Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader != nil {
		return nil, ErrLocked
	}
	r := &Reader{s: s, released: make(chan struct{})}
	s.reader = r
	return r, nil
}

// Cancel ends the stream. Pending and future reads report done. The source
// is told through Canceler when it implements it.
func (s *ReadableStream) Cancel(reason error) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	s.done = true
	s.mu.Unlock()

	s.cancel()
	if c, ok := s.src.(Canceler); ok {
		return c.Cancel(reason)
	}
	return nil
}

func (s *ReadableStream) pull(ch chan<- pullResult) {
	var res pullResult
	defer func() {
		if v := recover(); v != nil {
			res = pullResult{err: &PanicError{Value: v}}
		}
		ch <- res
	}()
	res.chunk, res.err = s.src.Pull(s.ctx)
}

// Reader is the exclusive handle on a ReadableStream.
type Reader struct {
	s        *ReadableStream
	reading  bool
	released chan struct{}
	once     sync.Once
}

// Read pulls the next chunk. done is true once the source is exhausted or
// the stream was cancelled. If ctx ends or the lock is released while the
// pull is outstanding, the pull is parked and its result goes to the next
// read on the stream.
func (r *Reader) Read(ctx context.Context) (chunk []byte, done bool, err error) {
	s := r.s
	s.mu.Lock()
	switch {
	case r.isReleased():
		s.mu.Unlock()
		return nil, false, ErrReleased
	case r.reading:
		s.mu.Unlock()
		return nil, false, ErrPending
	case s.err != nil:
		err := s.err
		s.mu.Unlock()
		return nil, false, err
	case s.done && s.inflight == nil:
		s.mu.Unlock()
		return nil, true, nil
	}
	ch := s.inflight
	if ch == nil {
		c := make(chan pullResult, 1)
		s.inflight = c
		ch = c
		go s.pull(c)
	}
	r.reading = true
	s.mu.Unlock()

	select {
	case res := <-ch:
		s.mu.Lock()
		defer s.mu.Unlock()
		r.reading = false
		if r.isReleased() {
			// Hand the result to whoever reads next, possibly a reader
			// already waiting on ch.
			ch <- res
			return nil, false, ErrReleased
		}
		s.inflight = nil
		switch {
		case errors.Is(res.err, io.EOF):
			s.done = true
			return nil, true, nil
		case res.err != nil:
			s.err = res.err
			return nil, false, res.err
		case s.done:
			return nil, true, nil
		}
		return res.chunk, false, nil
	case <-ctx.Done():
		s.mu.Lock()
		r.reading = false
		s.mu.Unlock()
		return nil, false, ctx.Err()
	case <-r.released:
		s.mu.Lock()
		r.reading = false
		s.mu.Unlock()
		return nil, false, ErrReleased
	case <-s.ctx.Done():
		s.mu.Lock()
		r.reading = false
		s.mu.Unlock()
		return nil, true, nil
	}
}

// ReleaseLock frees the stream for another reader. Safe to call repeatedly.
func (r *Reader) ReleaseLock() {
	r.once.Do(func() {
		s := r.s
		s.mu.Lock()
		if s.reader == r {
			s.reader = nil
		}
		close(r.released)
		s.mu.Unlock()
	})
}

func (r *Reader) isReleased() bool {
	select {
	case <-r.released:
		return true
	default:
		return false
	}
}

// Cancel cancels the underlying stream through the reader.
func (r *Reader) Cancel(reason error) error {
	if r.isReleased() {
		return ErrReleased
	}
	return r.s.Cancel(reason)
}
