// Package native is the operating system serial backend.
//
// On Linux ports are driven through termios with golang.org/x/sys/unix and
// enumerated with go.bug.st/serial/enumerator. On other systems New still
// returns a Platform, but every call fails with BROWSER_NOT_SUPPORTED; use
// Available to check first.
package native

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	rxserial "github.com/allbin/go-rxserial"
)

// ErrNotSupported is returned on systems without a native backend.
var ErrNotSupported = errors.New("native serial backend is not supported on this system")

// Selector lets the user pick one of the candidate ports. It returns
// rxserial.ErrNoPortSelected when the user dismissed the choice.
type Selector interface {
	Select(ctx context.Context, candidates []rxserial.PortInfo) (rxserial.PortInfo, error)
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(ctx context.Context, candidates []rxserial.PortInfo) (rxserial.PortInfo, error)

func (f SelectorFunc) Select(ctx context.Context, candidates []rxserial.PortInfo) (rxserial.PortInfo, error) {
	return f(ctx, candidates)
}

// FirstMatch selects the first candidate without asking anyone.
var FirstMatch Selector = SelectorFunc(func(ctx context.Context, candidates []rxserial.PortInfo) (rxserial.PortInfo, error) {
	if len(candidates) == 0 {
		return rxserial.PortInfo{}, rxserial.ErrNoPortSelected
	}
	return candidates[0], nil
})

// Option configures a Platform.
type Option func(*Platform)

// WithSelector sets the selector used by RequestPort. The default is
// FirstMatch.
func WithSelector(s Selector) Option {
	return func(p *Platform) {
		p.selector = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Platform) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithEnumerator replaces the port enumeration.
func WithEnumerator(fn func() ([]*enumerator.PortDetails, error)) Option {
	return func(p *Platform) {
		p.enumerate = fn
	}
}

// Platform is the native rxserial.Platform.
type Platform struct {
	selector  Selector
	logger    *zap.Logger
	enumerate func() ([]*enumerator.PortDetails, error)

	mu      sync.Mutex
	granted map[string]*port
}

var _ rxserial.Platform = (*Platform)(nil)

// New creates the native platform.
func New(opts ...Option) *Platform {
	p := &Platform{
		selector:  FirstMatch,
		logger:    zap.NewNop(),
		enumerate: enumerator.GetDetailedPortsList,
		granted:   make(map[string]*port),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("component", "native"))
	return p
}

// Available reports whether this system has a native serial backend.
func Available() bool {
	return supported
}

// List enumerates the serial ports present on the system, sorted by path.
func (p *Platform) List(ctx context.Context) ([]rxserial.PortInfo, error) {
	if !supported {
		return nil, unsupported()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	details, err := p.enumerate()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	infos := make([]rxserial.PortInfo, 0, len(details))
	for _, d := range details {
		if d == nil {
			continue
		}
		infos = append(infos, portInfo(d))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

// RequestPort lists the ports matching opts and lets the selector pick one.
// The chosen port is remembered and returned again by GetPorts.
func (p *Platform) RequestPort(ctx context.Context, opts *rxserial.RequestOptions) (rxserial.Port, error) {
	infos, err := p.List(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []rxserial.PortInfo
	for _, info := range infos {
		if opts.Matches(info) {
			candidates = append(candidates, info)
		}
	}
	p.logger.Debug("Requesting port", zap.Int("candidates", len(candidates)))
	if len(candidates) == 0 {
		return nil, rxserial.NewError(rxserial.PortNotAvailable, "no serial port matches the request", nil)
	}

	chosen, err := p.selector.Select(ctx, candidates)
	if err != nil {
		return nil, err
	}
	return p.grant(chosen), nil
}

// GetPorts returns the ports previously granted through RequestPort.
func (p *Platform) GetPorts(ctx context.Context) ([]rxserial.Port, error) {
	if !supported {
		return nil, unsupported()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	paths := make([]string, 0, len(p.granted))
	for path := range p.granted {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	ports := make([]rxserial.Port, 0, len(paths))
	for _, path := range paths {
		ports = append(ports, p.granted[path])
	}
	return ports, nil
}

// Port returns a handle on the device at path without enumeration, and
// grants it.
func (p *Platform) Port(path string) rxserial.Port {
	name := filepath.Base(path)
	return p.grant(rxserial.PortInfo{
		Name:        name,
		Path:        path,
		Description: portDescription(name),
	})
}

func (p *Platform) grant(info rxserial.PortInfo) *port {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.granted[info.Path]; ok {
		return existing
	}
	pt := newPort(info, p.logger)
	p.granted[info.Path] = pt
	return pt
}

func unsupported() error {
	return rxserial.NewError(rxserial.BrowserNotSupported, "", ErrNotSupported)
}

func portInfo(d *enumerator.PortDetails) rxserial.PortInfo {
	name := filepath.Base(d.Name)
	info := rxserial.PortInfo{
		Name:         name,
		Path:         d.Name,
		Description:  portDescription(name),
		SerialNumber: d.SerialNumber,
	}
	if d.Product != "" {
		info.Description = d.Product
	}
	if d.IsUSB {
		info.USBVendorID = parseUSBID(d.VID)
		info.USBProductID = parseUSBID(d.PID)
	}
	return info
}

// parseUSBID returns nil for empty or malformed ids.
func parseUSBID(s string) *int {
	id, err := rxserial.ParseUSBID(s)
	if err != nil {
		return nil
	}
	return &id
}

// portDescription provides a human-readable description for a device name
func portDescription(name string) string {
	switch {
	case strings.HasPrefix(name, "ttyUSB"):
		return "USB Serial Port"
	case strings.HasPrefix(name, "ttyACM"):
		return "USB CDC/ACM Device"
	case strings.HasPrefix(name, "ttyAMA"):
		return "ARM Serial Port"
	case strings.HasPrefix(name, "ttymxc"):
		return "i.MX Serial Port"
	case strings.HasPrefix(name, "ttySAC"):
		return "Samsung Serial Port"
	case strings.HasPrefix(name, "ttyTHS"):
		return "Tegra Serial Port"
	case strings.HasPrefix(name, "ttyO"):
		return "OMAP Serial Port"
	case strings.HasPrefix(name, "ttyS"):
		return "Standard Serial Port"
	default:
		return "Serial Port"
	}
}
