package rxserial

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/allbin/go-rxserial/rx"
)

// State is the connection state of a Client
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "idle"
	}
}

// activeStream is a running read or write subscription owned by the client.
type activeStream struct {
	end func(err error) // terminates the consumer; nil completes it
}

// Client owns at most one open port and at most one read and one write
// subscription on it.
type Client struct {
	mu       sync.Mutex
	platform Platform
	cfg      Config
	logger   *zap.Logger
	port     Port
	open     bool
	state    State
	session  string

	read  *activeStream
	write *activeStream

	// subMu serializes replacement of the active streams.
	subMu sync.Mutex
}

// NewClient creates a client on platform. A nil platform means the host
// has no serial capability. A nil logger disables logging.
func NewClient(platform Platform, logger *zap.Logger, opts ...Option) (*Client, error) {
	if platform == nil {
		return nil, NewError(BrowserNotSupported, "serial ports are not supported on this platform", nil)
	}
	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		platform: platform,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "rxserial")),
	}, nil
}

// Config returns a copy of the client configuration.
func (c *Client) Config() Config {
	return c.cfg.clone()
}

// Connected reports whether a port is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// CurrentPort returns the port held by the client, or nil.
func (c *Client) CurrentPort() Port {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the id of the current connection, empty when idle.
func (c *Client) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func isCancellation(err error) bool {
	return errors.Is(err, ErrNoPortSelected) ||
		errors.Is(err, context.Canceled) ||
		IsKind(err, OperationCancelled)
}

// RequestPort asks the platform to let the user pick a port matching the
// configured filters.
func (c *Client) RequestPort(ctx context.Context) (Port, error) {
	opts, err := BuildRequestOptions(c.cfg)
	if err != nil {
		return nil, err
	}

	port, err := c.platform.RequestPort(ctx, opts)
	switch {
	case err != nil && isCancellation(err):
		c.logger.Info("Port selection cancelled")
		return nil, NewError(OperationCancelled, "port selection was cancelled", err)
	case err != nil:
		c.logger.Error("Port request failed", zap.Error(err))
		return nil, Wrap(PortNotAvailable, "failed to request port", err)
	case port == nil:
		return nil, NewError(PortNotAvailable, "platform returned no port", nil)
	}

	c.logger.Debug("Port selected", zap.Stringer("port", port.Info()))
	return port, nil
}

// GetPorts lists the ports the platform already granted.
func (c *Client) GetPorts(ctx context.Context) ([]Port, error) {
	ports, err := c.platform.GetPorts(ctx)
	if err != nil {
		c.logger.Error("Listing ports failed", zap.Error(err))
		return nil, Wrap(PortNotAvailable, "failed to get ports", err)
	}
	return ports, nil
}

// Connect opens port with the client configuration. A nil port is chosen
// through RequestPort. Connecting while open fails with PORT_ALREADY_OPEN
// and leaves the open port untouched.
func (c *Client) Connect(ctx context.Context, port Port) error {
	c.mu.Lock()
	switch {
	case c.open:
		c.mu.Unlock()
		return NewError(PortAlreadyOpen, "port is already open", nil)
	case c.state != StateIdle:
		state := c.state
		c.mu.Unlock()
		return NewError(PortAlreadyOpen, "connection is "+state.String(), nil)
	}
	c.state = StateConnecting
	cfg := c.cfg.clone()
	c.mu.Unlock()

	if port == nil {
		var err error
		port, err = c.RequestPort(ctx)
		if err != nil {
			c.reset()
			return err
		}
	}

	c.mu.Lock()
	c.port = port
	c.mu.Unlock()

	if err := port.Open(ctx, cfg); err != nil {
		c.reset()
		c.logger.Error("Failed to open serial port",
			zap.Stringer("port", port.Info()),
			zap.Error(err),
		)
		return Wrap(PortOpenFailed, "failed to open port", err)
	}

	session := uuid.NewString()
	c.mu.Lock()
	c.open = true
	c.state = StateOpen
	c.session = session
	c.mu.Unlock()

	c.logger.Info("Serial port opened",
		zap.String("session", session),
		zap.Stringer("port", port.Info()),
		zap.Stringer("config", cfg),
	)
	return nil
}

func (c *Client) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clear()
}

// release returns the client to idle if port is still the one it holds.
func (c *Client) release(port Port) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == port {
		c.clear()
	}
}

func (c *Client) clear() {
	c.port = nil
	c.open = false
	c.state = StateIdle
	c.session = ""
}

// Disconnect ends the active streams and closes the port. It is a no-op
// when nothing is open or another Disconnect is already closing. The client is idle afterwards even when closing
// fails, in which case CONNECTION_LOST is returned.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if !c.open || c.port == nil || c.state != StateOpen {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosing
	port := c.port
	session := c.session
	c.mu.Unlock()

	c.subMu.Lock()
	c.mu.Lock()
	read, write := c.read, c.write
	c.read, c.write = nil, nil
	c.mu.Unlock()
	c.subMu.Unlock()
	if read != nil {
		read.end(nil)
	}
	if write != nil {
		write.end(NewError(OperationCancelled, "port disconnected", nil))
	}

	err := port.Close(ctx)
	c.release(port)

	if err != nil {
		c.logger.Error("Failed to close serial port", zap.String("session", session), zap.Error(err))
		return NewError(ConnectionLost, "failed to close port", err)
	}
	c.logger.Info("Serial port closed", zap.String("session", session))
	return nil
}

func (c *Client) openPort() (Port, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open || c.port == nil {
		return nil, NewError(PortNotOpen, "port is not open", nil)
	}
	return c.port, nil
}

// ReadStream returns a cold observable of the chunks read from the open
// port. Subscribing terminates the read subscription that was active
// before, which fails with OPERATION_CANCELLED. Disconnect completes it.
func (c *Client) ReadStream() (rx.Observable[[]byte], error) {
	port, err := c.openPort()
	if err != nil {
		return rx.Observable[[]byte]{}, err
	}
	rs := port.Readable()
	if rs == nil {
		return rx.Observable[[]byte]{}, NewError(PortNotOpen, "port has no readable side", nil)
	}
	src := ReadableToObservable(rs)

	return rx.Create(func(s *rx.Subscriber[[]byte]) func() {
		c.supersede(c.swapRead, "superseded by a new read stream")
		defer c.subMu.Unlock()

		self := &activeStream{}
		self.end = func(err error) {
			if err != nil {
				s.Error(err)
			} else {
				s.Complete()
			}
		}
		inner := src.Subscribe(rx.Funcs[[]byte]{
			Next: func(chunk []byte) {
				c.logger.Debug("Read chunk", zap.Int("bytes", len(chunk)))
				s.Next(chunk)
			},
			Error: func(err error) {
				c.logger.Error("Read stream failed", zap.Error(err))
				s.Error(err)
			},
			Complete: s.Complete,
		})
		c.swapRead(self)

		return func() {
			inner.Unsubscribe()
			c.clearRead(self)
		}
	}), nil
}

// supersede ends the streams held by the slot behind swap and returns with
// subMu held and the slot empty. Ending happens outside subMu so that an
// observer may subscribe again from its terminal callback.
func (c *Client) supersede(swap func(*activeStream) *activeStream, reason string) {
	for {
		c.subMu.Lock()
		prev := swap(nil)
		if prev == nil {
			return
		}
		c.subMu.Unlock()
		prev.end(NewError(OperationCancelled, reason, nil))
	}
}

func (c *Client) swapRead(a *activeStream) *activeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.read
	c.read = a
	return prev
}

func (c *Client) clearRead(a *activeStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.read == a {
		c.read = nil
	}
}

// WriteStream returns an observable that, once subscribed, writes every
// chunk of src to the open port. It completes when src completes and fails
// when src or a write fails. Subscribing terminates the write subscription
// that was active before, which fails with OPERATION_CANCELLED.
func (c *Client) WriteStream(src rx.Observable[[]byte]) (rx.Observable[struct{}], error) {
	port, err := c.openPort()
	if err != nil {
		return rx.Observable[struct{}]{}, err
	}
	ws := port.Writable()
	if ws == nil {
		return rx.Observable[struct{}]{}, NewError(PortNotOpen, "port has no writable side", nil)
	}

	return rx.Create(func(s *rx.Subscriber[struct{}]) func() {
		c.supersede(c.swapWrite, "superseded by a new write stream")
		unlock := sync.OnceFunc(c.subMu.Unlock)
		defer unlock()

		sub, err := DriveWritable(ws, src, func(err error) {
			if err != nil {
				c.logger.Error("Write stream failed", zap.Error(err))
				s.Error(err)
				return
			}
			s.Complete()
		})
		if err != nil {
			unlock()
			s.Error(err)
			return nil
		}

		self := &activeStream{}
		self.end = func(err error) {
			if err != nil {
				s.Error(err)
			} else {
				s.Complete()
			}
		}
		c.swapWrite(self)

		return func() {
			sub.Unsubscribe()
			c.clearWrite(self)
		}
	}), nil
}

func (c *Client) swapWrite(a *activeStream) *activeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.write
	c.write = a
	return prev
}

func (c *Client) clearWrite(a *activeStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.write == a {
		c.write = nil
	}
}

// Write writes a single chunk, holding the writer lock only for its
// duration.
func (c *Client) Write(ctx context.Context, chunk []byte) error {
	port, err := c.openPort()
	if err != nil {
		return err
	}
	ws := port.Writable()
	if ws == nil {
		return NewError(PortNotOpen, "port has no writable side", nil)
	}

	w, err := ws.GetWriter()
	if err != nil {
		return NewError(WriteFailed, "failed to acquire writer", err)
	}
	defer w.ReleaseLock()

	if err := w.Write(ctx, chunk); err != nil {
		c.logger.Error("Serial write failed", zap.Error(err))
		return NewError(WriteFailed, "", err)
	}
	c.logger.Debug("Serial write completed", zap.Int("bytes", len(chunk)))
	return nil
}
