package rxserial

import (
	"context"
	"sync"

	"github.com/allbin/go-rxserial/rx"
	"github.com/allbin/go-rxserial/stream"
)

// sourceLink owns the subscription to a source observable. The source is
// subscribed from a goroutine so that synchronous sources cannot block the
// caller; stop may therefore run before the inner subscription exists.
type sourceLink struct {
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	inner   *rx.Subscription
	stopped bool
}

func newSourceLink() *sourceLink {
	ctx, cancel := context.WithCancel(context.Background())
	return &sourceLink{ctx: ctx, cancel: cancel}
}

func (l *sourceLink) start(src rx.Observable[[]byte], obs rx.Observer[[]byte]) {
	go func() {
		in := src.Subscribe(obs)
		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			in.Unsubscribe()
			return
		}
		l.inner = in
		l.mu.Unlock()
	}()
}

func (l *sourceLink) stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	in := l.inner
	l.mu.Unlock()

	l.cancel()
	if in != nil {
		in.Unsubscribe()
	}
}

func (l *sourceLink) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

// DriveWritable takes the writer lock of dst immediately and writes every
// chunk emitted by src into it, one write at a time.
//
// done is called once: with nil after src completed and dst was closed,
// with the source error after dst was aborted with it, or with a
// WRITE_FAILED error after a write failed. Close and abort failures are
// swallowed. The returned subscription stops the source and releases the
// lock; it is idempotent and done is not called after it.
func DriveWritable(dst *stream.WritableStream, src rx.Observable[[]byte], done func(error)) (*rx.Subscription, error) {
	w, err := dst.GetWriter()
	if err != nil {
		return nil, NewError(WriteFailed, "failed to acquire writer", err)
	}
	if done == nil {
		done = func(error) {}
	}

	link := newSourceLink()
	release := sync.OnceFunc(w.ReleaseLock)
	sub := rx.NewSubscription(func() {
		link.stop()
		release()
	})

	// Source errors and write failures both end up here.
	handleError := func(err error) {
		if sub.Closed() {
			return
		}
		_ = w.Abort(context.Background(), err)
		sub.Unsubscribe()
		done(err)
	}

	link.start(src, rx.Funcs[[]byte]{
		Next: func(chunk []byte) {
			if link.isStopped() {
				return
			}
			if err := w.Write(link.ctx, chunk); err != nil {
				if link.isStopped() {
					return
				}
				handleError(NewError(WriteFailed, "", err))
			}
		},
		Error: handleError,
		Complete: func() {
			if sub.Closed() {
				return
			}
			_ = w.Close(context.Background())
			sub.Unsubscribe()
			done(nil)
		},
	})

	return sub, nil
}

// ObservableToWritable returns a new writable stream that, as soon as it is
// created, subscribes to src and forwards every emission into dst through
// an exclusively held writer. Chunks written to the returned stream go to
// dst through the same writer.
//
// Completion of src closes the returned stream and dst. Aborting the
// returned stream stops src and aborts dst with the reason. A failed write
// stops src, releases the lock and errors the returned stream with a
// WRITE_FAILED error.
func ObservableToWritable(src rx.Observable[[]byte], dst *stream.WritableStream) *stream.WritableStream {
	return stream.NewWritable(&forwardSink{src: src, dst: dst, link: newSourceLink()})
}

type forwardSink struct {
	src     rx.Observable[[]byte]
	dst     *stream.WritableStream
	link    *sourceLink
	w       *stream.Writer
	release func()
}

func (f *forwardSink) Start(c *stream.Controller) error {
	w, err := f.dst.GetWriter()
	if err != nil {
		return NewError(WriteFailed, "failed to acquire writer", err)
	}
	f.w = w
	f.release = sync.OnceFunc(w.ReleaseLock)

	f.link.start(f.src, rx.Funcs[[]byte]{
		Next: func(chunk []byte) {
			if f.link.isStopped() {
				return
			}
			if err := f.w.Write(f.link.ctx, chunk); err != nil {
				if f.link.isStopped() {
					return
				}
				f.teardown()
				c.Error(NewError(WriteFailed, "", err))
			}
		},
		Error: func(err error) {
			if f.link.isStopped() {
				return
			}
			_ = f.w.Abort(context.Background(), err)
			f.teardown()
			c.Error(err)
		},
		Complete: func() {
			if f.link.isStopped() {
				return
			}
			if err := c.Close(context.Background()); err != nil {
				f.teardown()
			}
		},
	})
	return nil
}

func (f *forwardSink) teardown() {
	f.link.stop()
	f.release()
}

func (f *forwardSink) Write(ctx context.Context, chunk []byte) error {
	if err := f.w.Write(ctx, chunk); err != nil {
		f.teardown()
		return NewError(WriteFailed, "", err)
	}
	return nil
}

func (f *forwardSink) Close(ctx context.Context) error {
	f.link.stop()
	defer f.release()
	return f.w.Close(ctx)
}

// Abort failures of the destination are swallowed.
func (f *forwardSink) Abort(ctx context.Context, reason error) error {
	f.link.stop()
	defer f.release()
	_ = f.w.Abort(ctx, reason)
	return nil
}
