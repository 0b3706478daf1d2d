package rxserial

import (
	"context"
	"fmt"

	"github.com/allbin/go-rxserial/stream"
)

// PortInfo describes a port as reported by the platform. USB ids are nil
// for ports that are not USB devices.
type PortInfo struct {
	Name         string
	Path         string
	Description  string
	USBVendorID  *int
	USBProductID *int
	SerialNumber string
}

func (i PortInfo) String() string {
	if i.USBVendorID != nil && i.USBProductID != nil {
		return fmt.Sprintf("%s (%04x:%04x)", i.Path, *i.USBVendorID, *i.USBProductID)
	}
	return i.Path
}

// Port is one exclusive serial connection handle. Readable and Writable
// return nil while the port is closed; closing invalidates both.
type Port interface {
	Open(ctx context.Context, cfg Config) error
	Close(ctx context.Context) error
	IsOpen() bool
	Readable() *stream.ReadableStream
	Writable() *stream.WritableStream
	Info() PortInfo
}

// Platform is the host serial capability. RequestPort performs the
// user-mediated selection and returns ErrNoPortSelected (possibly wrapped)
// when the user dismissed it.
type Platform interface {
	RequestPort(ctx context.Context, opts *RequestOptions) (Port, error)
	GetPorts(ctx context.Context) ([]Port, error)
}
