package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

func readAll(t *testing.T, r *Reader) [][]byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var out [][]byte
	for {
		chunk, done, err := r.Read(ctx)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if done {
			return out
		}
		out = append(out, chunk)
	}
}

func TestReaderLock(t *testing.T) {
	s := FromChunks([]byte("a"))

	r, err := s.GetReader()
	if err != nil {
		t.Fatal(err)
	}
	if !s.Locked() {
		t.Error("stream should be locked")
	}
	if _, err := s.GetReader(); !errors.Is(err, ErrLocked) {
		t.Errorf("second GetReader = %v, want ErrLocked", err)
	}

	r.ReleaseLock()
	r.ReleaseLock()
	if s.Locked() {
		t.Error("stream should be unlocked")
	}
	if _, _, err := r.Read(context.Background()); !errors.Is(err, ErrReleased) {
		t.Errorf("Read after release = %v, want ErrReleased", err)
	}
	if err := r.Cancel(nil); !errors.Is(err, ErrReleased) {
		t.Errorf("Cancel after release = %v, want ErrReleased", err)
	}

	r2, err := s.GetReader()
	if err != nil {
		t.Fatalf("GetReader after release: %v", err)
	}
	r.ReleaseLock()
	if !s.Locked() {
		t.Error("a stale ReleaseLock must not free another reader's lock")
	}
	r2.ReleaseLock()
}

func TestFromChunks(t *testing.T) {
	s := FromChunks([]byte("one"), []byte("two"), []byte("three"))
	r, _ := s.GetReader()
	defer r.ReleaseLock()

	got := readAll(t, r)
	if want := "one|two|three"; string(bytes.Join(got, []byte("|"))) != want {
		t.Errorf("got %q, want %q", got, want)
	}

	_, done, err := r.Read(context.Background())
	if err != nil || !done {
		t.Errorf("Read after done = (%v, %v), want done", done, err)
	}
}

type sliceReader struct {
	reads [][]byte
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if len(r.reads) == 0 {
		return 0, io.EOF
	}
	next := r.reads[0]
	r.reads = r.reads[1:]
	return copy(p, next), nil
}

func TestFromReader(t *testing.T) {
	t.Run("chunks by buffer size", func(t *testing.T) {
		s := FromReader(bytes.NewReader([]byte("abcde")), 2)
		r, _ := s.GetReader()
		defer r.ReleaseLock()

		got := readAll(t, r)
		if len(got) != 3 || string(got[0]) != "ab" || string(got[2]) != "e" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("empty reads are retried", func(t *testing.T) {
		src := &sliceReader{reads: [][]byte{{}, {}, []byte("x"), {}, []byte("y")}}
		s := FromReader(src, 8)
		r, _ := s.GetReader()
		defer r.ReleaseLock()

		if got := readAll(t, r); string(bytes.Join(got, nil)) != "xy" || len(got) != 2 {
			t.Errorf("got %q, want [x y]", got)
		}
	})

	t.Run("chunks do not alias the buffer", func(t *testing.T) {
		s := FromReader(&sliceReader{reads: [][]byte{[]byte("first"), []byte("other")}}, 8)
		r, _ := s.GetReader()
		defer r.ReleaseLock()

		got := readAll(t, r)
		if string(got[0]) != "first" {
			t.Errorf("first chunk overwritten: %q", got[0])
		}
	})
}

func TestSourceErrorIsSticky(t *testing.T) {
	boom := errors.New("boom")
	s := NewReadable(SourceFunc(func(ctx context.Context) ([]byte, error) {
		return nil, boom
	}))
	r, _ := s.GetReader()

	for i := 0; i < 2; i++ {
		if _, _, err := r.Read(context.Background()); !errors.Is(err, boom) {
			t.Fatalf("read %d = %v, want boom", i, err)
		}
	}
	r.ReleaseLock()

	r2, _ := s.GetReader()
	defer r2.ReleaseLock()
	if _, _, err := r2.Read(context.Background()); !errors.Is(err, boom) {
		t.Errorf("new reader = %v, want boom", err)
	}
}

func TestSourcePanic(t *testing.T) {
	s := NewReadable(SourceFunc(func(ctx context.Context) ([]byte, error) {
		panic("bad")
	}))
	r, _ := s.GetReader()
	defer r.ReleaseLock()

	_, _, err := r.Read(context.Background())
	var pe *PanicError
	if !errors.As(err, &pe) || pe.Value != "bad" {
		t.Fatalf("expected PanicError, got %v", err)
	}
}

type cancelSource struct {
	mu     sync.Mutex
	reason error
	called bool
	feed   chan []byte
}

func (c *cancelSource) Pull(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.feed:
		return b, nil
	case <-ctx.Done():
		return nil, io.EOF
	}
}

func (c *cancelSource) Cancel(reason error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.called = true
	c.reason = reason
	return nil
}

func TestCancel(t *testing.T) {
	src := &cancelSource{feed: make(chan []byte)}
	s := NewReadable(src)
	r, _ := s.GetReader()
	defer r.ReleaseLock()

	result := make(chan bool, 1)
	go func() {
		_, done, _ := r.Read(context.Background())
		result <- done
	}()

	reason := errors.New("shutting down")
	time.Sleep(10 * time.Millisecond)
	if err := r.Cancel(reason); err != nil {
		t.Fatal(err)
	}

	select {
	case done := <-result:
		if !done {
			t.Error("pending read should report done after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending read not woken by cancel")
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	if !src.called || !errors.Is(src.reason, reason) {
		t.Errorf("source Cancel called=%v reason=%v", src.called, src.reason)
	}
	if err := s.Cancel(nil); err != nil {
		t.Errorf("second Cancel = %v", err)
	}
}

func TestAbandonedPullIsNotLost(t *testing.T) {
	feed := make(chan []byte)
	s := NewReadable(SourceFunc(func(ctx context.Context) ([]byte, error) {
		select {
		case b := <-feed:
			return b, nil
		case <-ctx.Done():
			return nil, io.EOF
		}
	}))

	r, _ := s.GetReader()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, _, err := r.Read(ctx)
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled read = %v", err)
	}

	if _, _, err := r.Read(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("read on a done context = %v", err)
	}
	r.ReleaseLock()

	r2, _ := s.GetReader()
	defer r2.ReleaseLock()
	go func() { feed <- []byte("late") }()

	rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer rcancel()
	chunk, done, err := r2.Read(rctx)
	if err != nil || done || string(chunk) != "late" {
		t.Errorf("Read = (%q, %v, %v), want late", chunk, done, err)
	}
}

func TestConcurrentReadOnOneReader(t *testing.T) {
	feed := make(chan []byte)
	s := NewReadable(SourceFunc(func(ctx context.Context) ([]byte, error) {
		select {
		case b := <-feed:
			return b, nil
		case <-ctx.Done():
			return nil, io.EOF
		}
	}))
	r, _ := s.GetReader()
	defer s.Cancel(nil)
	defer r.ReleaseLock()

	go r.Read(context.Background())
	time.Sleep(10 * time.Millisecond)
	if _, _, err := r.Read(context.Background()); !errors.Is(err, ErrPending) {
		t.Errorf("overlapping Read = %v, want ErrPending", err)
	}
}
