// Package serialtest provides an in-memory rxserial.Platform and
// rxserial.Port for tests and for running the CLI without hardware.
package serialtest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	rxserial "github.com/allbin/go-rxserial"
	"github.com/allbin/go-rxserial/stream"
)

// ErrPortBusy is returned when opening a Port that is already open.
var ErrPortBusy = errors.New("serialtest: port is already open")

type inbound struct {
	chunk []byte
	err   error
	eof   bool
}

// Port is a fake serial port. Chunks handed to Feed come out of the
// readable stream in order; chunks written to the writable stream are
// recorded and, in echo mode, fed back.
type Port struct {
	mu       sync.Mutex
	info     rxserial.PortInfo
	echo     bool
	open     bool
	cfg      rxserial.Config
	opens    int
	closes   int
	readable *stream.ReadableStream
	writable *stream.WritableStream

	queue  []inbound
	signal chan struct{}

	written    [][]byte
	writeCond  chan struct{}
	sinkClosed bool
	abortedBy  error

	openErr   error
	closeErr  error
	closeHook func(ctx context.Context)
	writeHook func(ctx context.Context, chunk []byte) error
}

var _ rxserial.Port = (*Port)(nil)

// NewPort returns a closed port described by info.
func NewPort(info rxserial.PortInfo) *Port {
	return &Port{
		info:      info,
		signal:    make(chan struct{}, 1),
		writeCond: make(chan struct{}),
	}
}

// NewLoopback returns a closed port that echoes every written chunk back
// to its readable side.
func NewLoopback(name string) *Port {
	p := NewPort(rxserial.PortInfo{Name: name, Path: "loopback://" + name, Description: "Loopback"})
	p.echo = true
	return p
}

// SetOpenError makes the next opens fail with err. nil clears it.
func (p *Port) SetOpenError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openErr = err
}

// SetCloseError makes closes fail with err after the port was closed.
func (p *Port) SetCloseError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeErr = err
}

// SetCloseHook runs fn at the start of every Close, before the port is
// torn down. It lets tests hold a close in flight.
func (p *Port) SetCloseHook(fn func(ctx context.Context)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeHook = fn
}

// SetWriteHook runs fn before every chunk is recorded. A non-nil error
// fails the write.
func (p *Port) SetWriteHook(fn func(ctx context.Context, chunk []byte) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeHook = fn
}

// Open opens the port with cfg.
func (p *Port) Open(ctx context.Context, cfg rxserial.Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open {
		return ErrPortBusy
	}
	if p.openErr != nil {
		return p.openErr
	}

	p.open = true
	p.cfg = cfg
	p.opens++
	p.sinkClosed = false
	p.abortedBy = nil
	p.readable = stream.NewReadable(stream.SourceFunc(p.pull))
	p.writable = stream.NewWritable(stream.SinkFuncs{
		WriteFunc: p.write,
		CloseFunc: p.closeSink,
		AbortFunc: p.abortSink,
	})
	return nil
}

// Close closes the port. Queued input that was not read is dropped.
func (p *Port) Close(ctx context.Context) error {
	p.mu.Lock()
	hook := p.closeHook
	p.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}

	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return rxserial.NewError(rxserial.PortNotOpen, "port is not open", nil)
	}
	readable := p.readable
	p.open = false
	p.closes++
	p.readable = nil
	p.writable = nil
	p.queue = nil
	err := p.closeErr
	p.mu.Unlock()

	readable.Cancel(nil)
	return err
}

func (p *Port) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *Port) Readable() *stream.ReadableStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readable
}

func (p *Port) Writable() *stream.WritableStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writable
}

func (p *Port) Info() rxserial.PortInfo {
	return p.info
}

// Config returns the configuration of the last successful open.
func (p *Port) Config() rxserial.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Opens and Closes count successful opens and closes.
func (p *Port) Opens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

func (p *Port) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// Feed queues chunks for the readable side.
func (p *Port) Feed(chunks ...[]byte) {
	p.mu.Lock()
	for _, c := range chunks {
		p.queue = append(p.queue, inbound{chunk: bytes.Clone(c)})
	}
	p.mu.Unlock()
	p.notify()
}

// FailRead makes the read after the queued chunks fail with err.
func (p *Port) FailRead(err error) {
	p.mu.Lock()
	p.queue = append(p.queue, inbound{err: err})
	p.mu.Unlock()
	p.notify()
}

// EndInput makes the readable side report done after the queued chunks.
func (p *Port) EndInput() {
	p.mu.Lock()
	p.queue = append(p.queue, inbound{eof: true})
	p.mu.Unlock()
	p.notify()
}

func (p *Port) notify() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *Port) pull(ctx context.Context) ([]byte, error) {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			in := p.queue[0]
			p.queue = p.queue[1:]
			more := len(p.queue) > 0
			p.mu.Unlock()
			if more {
				p.notify()
			}
			switch {
			case in.eof:
				return nil, io.EOF
			case in.err != nil:
				return nil, in.err
			}
			return in.chunk, nil
		}
		p.mu.Unlock()

		select {
		case <-p.signal:
		case <-ctx.Done():
			return nil, io.EOF
		}
	}
}

func (p *Port) write(ctx context.Context, chunk []byte) error {
	p.mu.Lock()
	hook := p.writeHook
	p.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, chunk); err != nil {
			return err
		}
	}

	c := bytes.Clone(chunk)
	p.mu.Lock()
	p.written = append(p.written, c)
	close(p.writeCond)
	p.writeCond = make(chan struct{})
	echo := p.echo
	p.mu.Unlock()

	if echo {
		p.Feed(c)
	}
	return nil
}

func (p *Port) closeSink(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinkClosed = true
	return nil
}

func (p *Port) abortSink(ctx context.Context, reason error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.abortedBy = reason
	return nil
}

// Writes returns the recorded chunks in order.
func (p *Port) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.written))
	copy(out, p.written)
	return out
}

// Written returns every recorded byte.
func (p *Port) Written() []byte {
	return bytes.Join(p.Writes(), nil)
}

// WaitWrites blocks until at least n chunks were recorded or ctx ends.
func (p *Port) WaitWrites(ctx context.Context, n int) error {
	for {
		p.mu.Lock()
		if len(p.written) >= n {
			p.mu.Unlock()
			return nil
		}
		cond := p.writeCond
		p.mu.Unlock()

		select {
		case <-cond:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SinkClosed reports whether the writable side was closed since the last
// open.
func (p *Port) SinkClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sinkClosed
}

// AbortReason returns the reason the writable side was aborted with since
// the last open, or nil.
func (p *Port) AbortReason() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.abortedBy
}

// Platform is a fake rxserial.Platform over a fixed set of ports.
type Platform struct {
	mu       sync.Mutex
	ports    []*Port
	requests []*rxserial.RequestOptions

	// RequestPortFunc, when set, replaces the default selection, which
	// picks the first port matching the request filters.
	RequestPortFunc func(ctx context.Context, opts *rxserial.RequestOptions) (rxserial.Port, error)

	// GetPortsErr, when set, fails GetPorts.
	GetPortsErr error
}

var _ rxserial.Platform = (*Platform)(nil)

// NewPlatform returns a platform offering ports.
func NewPlatform(ports ...*Port) *Platform {
	return &Platform{ports: ports}
}

// RequestPort records opts and selects a port.
func (f *Platform) RequestPort(ctx context.Context, opts *rxserial.RequestOptions) (rxserial.Port, error) {
	f.mu.Lock()
	f.requests = append(f.requests, opts)
	fn := f.RequestPortFunc
	ports := f.ports
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, opts)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, p := range ports {
		if opts.Matches(p.Info()) {
			return p, nil
		}
	}
	return nil, rxserial.ErrNoPortSelected
}

// GetPorts returns every port of the platform.
func (f *Platform) GetPorts(ctx context.Context) ([]rxserial.Port, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetPortsErr != nil {
		return nil, f.GetPortsErr
	}
	out := make([]rxserial.Port, len(f.ports))
	for i, p := range f.ports {
		out[i] = p
	}
	return out, nil
}

// Requests returns the options of every RequestPort call.
func (f *Platform) Requests() []*rxserial.RequestOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*rxserial.RequestOptions, len(f.requests))
	copy(out, f.requests)
	return out
}
