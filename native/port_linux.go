//go:build linux

package native

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	rxserial "github.com/allbin/go-rxserial"
	"github.com/allbin/go-rxserial/stream"
)

const supported = true

// readTimeoutTenths bounds a single read(2) so that a cancelled stream is
// noticed promptly.
const readTimeoutTenths = 1

var errPortClosed = rxserial.NewError(rxserial.PortNotOpen, "port was closed", nil)

// port is the termios implementation of rxserial.Port
type port struct {
	mu       sync.RWMutex
	info     rxserial.PortInfo
	logger   *zap.Logger
	fd       int
	open     bool
	cfg      rxserial.Config
	readable *stream.ReadableStream
	writable *stream.WritableStream
}

var _ rxserial.Port = (*port)(nil)

func newPort(info rxserial.PortInfo, logger *zap.Logger) *port {
	return &port{
		info:   info,
		logger: logger.With(zap.String("port", info.Path)),
		fd:     -1,
	}
}

// getBaudRate converts an integer baud rate to the unix constant
func getBaudRate(rate int) (uint32, error) {
	switch rate {
	case 50:
		return unix.B50, nil
	case 75:
		return unix.B75, nil
	case 110:
		return unix.B110, nil
	case 134:
		return unix.B134, nil
	case 150:
		return unix.B150, nil
	case 200:
		return unix.B200, nil
	case 300:
		return unix.B300, nil
	case 600:
		return unix.B600, nil
	case 1200:
		return unix.B1200, nil
	case 1800:
		return unix.B1800, nil
	case 2400:
		return unix.B2400, nil
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	case 460800:
		return unix.B460800, nil
	case 500000:
		return unix.B500000, nil
	case 576000:
		return unix.B576000, nil
	case 921600:
		return unix.B921600, nil
	case 1000000:
		return unix.B1000000, nil
	case 1152000:
		return unix.B1152000, nil
	case 1500000:
		return unix.B1500000, nil
	case 2000000:
		return unix.B2000000, nil
	case 2500000:
		return unix.B2500000, nil
	case 3000000:
		return unix.B3000000, nil
	case 3500000:
		return unix.B3500000, nil
	case 4000000:
		return unix.B4000000, nil
	default:
		return 0, fmt.Errorf("unsupported baud rate %d", rate)
	}
}

// applyConfig sets t up for raw I/O with the line settings of cfg.
func applyConfig(t *unix.Termios, cfg rxserial.Config) error {
	baud, err := getBaudRate(cfg.BaudRate)
	if err != nil {
		return err
	}

	t.Cflag = unix.CREAD | unix.CLOCAL
	t.Iflag = 0
	t.Oflag = 0
	t.Lflag = 0

	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = readTimeoutTenths

	t.Cflag = (t.Cflag &^ unix.CBAUD) | baud
	t.Ispeed = baud
	t.Ospeed = baud

	switch cfg.DataBits {
	case 7:
		t.Cflag |= unix.CS7
	default:
		t.Cflag |= unix.CS8
	}

	if cfg.StopBits == 2 {
		t.Cflag |= unix.CSTOPB
	}

	switch cfg.Parity {
	case rxserial.ParityOdd:
		t.Cflag |= unix.PARENB | unix.PARODD
	case rxserial.ParityEven:
		t.Cflag |= unix.PARENB
	}

	if cfg.FlowControl == rxserial.FlowControlHardware {
		t.Cflag |= unix.CRTSCTS
	}
	return nil
}

func configure(fd int, cfg rxserial.Config) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("failed to get termios: %w", err)
	}
	if err := applyConfig(t, cfg); err != nil {
		return err
	}
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return fmt.Errorf("failed to set termios: %w", err)
	}

	// Some adapters do not support manual RTS control; not fatal.
	if cfg.FlowControl == rxserial.FlowControlHardware {
		_ = unix.IoctlSetInt(fd, unix.TIOCMBIS, unix.TIOCM_RTS)
	}
	return nil
}

// Open opens and configures the device.
func (p *port) Open(ctx context.Context, cfg rxserial.Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open {
		return rxserial.NewError(rxserial.PortAlreadyOpen, "port is already open", nil)
	}

	fd, err := unix.Open(p.info.Path, unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", p.info.Path, err)
	}
	if err := configure(fd, cfg); err != nil {
		unix.Close(fd)
		return err
	}

	p.fd = fd
	p.cfg = cfg
	p.open = true
	p.readable = stream.FromReader(fdReader{p}, cfg.BufferSize)
	p.writable = stream.NewWritable(fdSink{p})

	p.logger.Debug("Port configured", zap.Stringer("config", cfg))
	return nil
}

// Close cancels the readable side, drains and closes the writable side and
// closes the device. A side that is still locked is torn down all the same:
// its reader sees the end of the stream and its writer's next write fails.
func (p *port) Close(ctx context.Context) error {
	p.mu.RLock()
	if !p.open {
		p.mu.RUnlock()
		return rxserial.NewError(rxserial.PortNotOpen, "port is not open", nil)
	}
	readable, writable := p.readable, p.writable
	p.mu.RUnlock()

	var errs []error
	if err := readable.Cancel(nil); err != nil {
		errs = append(errs, err)
	}
	if writable.Err() == nil && !writable.Closed() {
		err := writable.Close(ctx)
		if errors.Is(err, stream.ErrLocked) {
			p.logger.Debug("Closing port with a writer attached")
			err = writable.Shutdown(ctx, errPortClosed)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	// Waits for an in-flight read(2), which returns within the VTIME bound.
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := unix.Close(p.fd); err != nil {
		errs = append(errs, err)
	}
	p.fd = -1
	p.open = false
	p.readable = nil
	p.writable = nil
	return errors.Join(errs...)
}

func (p *port) IsOpen() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.open
}

func (p *port) Readable() *stream.ReadableStream {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.readable
}

func (p *port) Writable() *stream.WritableStream {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.writable
}

func (p *port) Info() rxserial.PortInfo {
	return p.info
}

// fdReader reads from the port descriptor. A read that times out returns
// no data and no error.
type fdReader struct {
	p *port
}

func (r fdReader) Read(buf []byte) (int, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()
	if !r.p.open {
		return 0, io.EOF
	}
	n, err := unix.Read(r.p.fd, buf)
	switch {
	case errors.Is(err, unix.EINTR), errors.Is(err, unix.EAGAIN):
		return 0, nil
	case err != nil:
		return 0, err
	case n < 0:
		return 0, nil
	}
	return n, nil
}

// fdSink writes into the port descriptor. Close waits for the output to be
// transmitted, Abort discards it.
type fdSink struct {
	p *port
}

func (s fdSink) Write(ctx context.Context, chunk []byte) error {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	if !s.p.open {
		return rxserial.NewError(rxserial.PortNotOpen, "port is not open", nil)
	}
	for len(chunk) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := unix.Write(s.p.fd, chunk)
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
			continue
		}
		if err != nil {
			return err
		}
		chunk = chunk[n:]
	}
	return nil
}

func (s fdSink) Close(ctx context.Context) error {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	if !s.p.open {
		return nil
	}
	return unix.IoctlSetInt(s.p.fd, unix.TCSBRK, 1)
}

func (s fdSink) Abort(ctx context.Context, reason error) error {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	if !s.p.open {
		return nil
	}
	s.p.logger.Debug("Discarding pending output", zap.Error(reason))
	return unix.IoctlSetInt(s.p.fd, unix.TCFLSH, unix.TCOFLUSH)
}
