package rxserial

import (
	"fmt"
	"slices"
	"strings"
)

// Parity represents the parity mode
type Parity int

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

func (p Parity) String() string {
	switch p {
	case ParityEven:
		return "even"
	case ParityOdd:
		return "odd"
	default:
		return "none"
	}
}

// ParseParity accepts "none", "even" or "odd".
func ParseParity(s string) (Parity, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return ParityNone, nil
	case "even":
		return ParityEven, nil
	case "odd":
		return ParityOdd, nil
	}
	return ParityNone, fmt.Errorf("invalid parity %q", s)
}

// FlowControl represents the flow control mode
type FlowControl int

const (
	FlowControlNone FlowControl = iota
	FlowControlHardware
)

func (f FlowControl) String() string {
	if f == FlowControlHardware {
		return "hardware"
	}
	return "none"
}

// ParseFlowControl accepts "none" or "hardware" ("rtscts" is an alias).
func ParseFlowControl(s string) (FlowControl, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return FlowControlNone, nil
	case "hardware", "rtscts":
		return FlowControlHardware, nil
	}
	return FlowControlNone, fmt.Errorf("invalid flow control %q", s)
}

// Filter selects USB devices by vendor and/or product id. A nil field is
// absent; zero is a valid id.
type Filter struct {
	USBVendorID  *int `mapstructure:"usb_vendor_id" json:"usbVendorId,omitempty"`
	USBProductID *int `mapstructure:"usb_product_id" json:"usbProductId,omitempty"`
}

// VendorFilter matches every device of a vendor.
func VendorFilter(vendorID int) Filter {
	return Filter{USBVendorID: &vendorID}
}

// DeviceFilter matches a single vendor/product pair.
func DeviceFilter(vendorID, productID int) Filter {
	return Filter{USBVendorID: &vendorID, USBProductID: &productID}
}

func (f Filter) String() string {
	var parts []string
	if f.USBVendorID != nil {
		parts = append(parts, fmt.Sprintf("vid=%04x", *f.USBVendorID))
	}
	if f.USBProductID != nil {
		parts = append(parts, fmt.Sprintf("pid=%04x", *f.USBProductID))
	}
	if len(parts) == 0 {
		return "{}"
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// Config holds the configuration for a serial connection. It is copied when
// a connection attempt starts.
type Config struct {
	BaudRate    int
	DataBits    int
	StopBits    int
	Parity      Parity
	BufferSize  int
	FlowControl FlowControl
	Filters     []Filter
}

// Option is a functional option for configuring a connection
type Option func(*Config) error

// DefaultConfig returns 9600 8N1, no flow control, 255 byte buffer.
func DefaultConfig() Config {
	return Config{
		BaudRate:    9600,
		DataBits:    8,
		StopBits:    1,
		Parity:      ParityNone,
		BufferSize:  255,
		FlowControl: FlowControlNone,
	}
}

// NewConfig applies opts on top of DefaultConfig.
func NewConfig(opts ...Option) (Config, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

func (c Config) clone() Config {
	c.Filters = slices.Clone(c.Filters)
	return c
}

func (c Config) String() string {
	return fmt.Sprintf("%d %d%c%d flow=%s buf=%d", c.BaudRate, c.DataBits,
		strings.ToUpper(c.Parity.String())[0], c.StopBits, c.FlowControl, c.BufferSize)
}

// WithBaudRate sets the baud rate. Upper bounds are left to the platform.
func WithBaudRate(rate int) Option {
	return func(c *Config) error {
		if rate <= 0 {
			return fmt.Errorf("%w: baud rate must be positive, got %d", ErrInvalidConfig, rate)
		}
		c.BaudRate = rate
		return nil
	}
}

// WithDataBits sets the number of data bits (7 or 8)
func WithDataBits(bits int) Option {
	return func(c *Config) error {
		if bits != 7 && bits != 8 {
			return fmt.Errorf("%w: data bits must be 7 or 8, got %d", ErrInvalidConfig, bits)
		}
		c.DataBits = bits
		return nil
	}
}

// WithStopBits sets the number of stop bits (1 or 2)
func WithStopBits(bits int) Option {
	return func(c *Config) error {
		if bits != 1 && bits != 2 {
			return fmt.Errorf("%w: stop bits must be 1 or 2, got %d", ErrInvalidConfig, bits)
		}
		c.StopBits = bits
		return nil
	}
}

// WithParity sets the parity mode
func WithParity(parity Parity) Option {
	return func(c *Config) error {
		if parity < ParityNone || parity > ParityOdd {
			return fmt.Errorf("%w: unknown parity %d", ErrInvalidConfig, parity)
		}
		c.Parity = parity
		return nil
	}
}

// WithBufferSize sets the read buffer size
func WithBufferSize(size int) Option {
	return func(c *Config) error {
		if size <= 0 {
			return fmt.Errorf("%w: buffer size must be positive, got %d", ErrInvalidConfig, size)
		}
		c.BufferSize = size
		return nil
	}
}

// WithFlowControl sets the flow control mode
func WithFlowControl(fc FlowControl) Option {
	return func(c *Config) error {
		if fc != FlowControlNone && fc != FlowControlHardware {
			return fmt.Errorf("%w: unknown flow control %d", ErrInvalidConfig, fc)
		}
		c.FlowControl = fc
		return nil
	}
}

// WithFilters sets the device filters used by RequestPort. They are
// validated when the request is built, not here.
func WithFilters(filters ...Filter) Option {
	return func(c *Config) error {
		c.Filters = slices.Clone(filters)
		return nil
	}
}
