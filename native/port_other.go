//go:build !linux

package native

import (
	"context"

	"go.uber.org/zap"

	rxserial "github.com/allbin/go-rxserial"
	"github.com/allbin/go-rxserial/stream"
)

const supported = false

type port struct {
	info rxserial.PortInfo
}

var _ rxserial.Port = (*port)(nil)

func newPort(info rxserial.PortInfo, _ *zap.Logger) *port {
	return &port{info: info}
}

func (p *port) Open(ctx context.Context, cfg rxserial.Config) error {
	return unsupported()
}

func (p *port) Close(ctx context.Context) error {
	return rxserial.NewError(rxserial.PortNotOpen, "port is not open", nil)
}

func (p *port) IsOpen() bool { return false }
func (p *port) Readable() *stream.ReadableStream { return nil }
func (p *port) Writable() *stream.WritableStream { return nil }
func (p *port) Info() rxserial.PortInfo { return p.info }
