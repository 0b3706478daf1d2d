package rxserial_test

import (
	"context"
	"errors"
	"testing"
	"time"

	rxserial "github.com/allbin/go-rxserial"
	"github.com/allbin/go-rxserial/rx"
	"github.com/allbin/go-rxserial/serialtest"
)

const timeout = 2 * time.Second

func intPtr(v int) *int { return &v }

// observer collects the notifications of one subscription.
type observer struct {
	next chan []byte
	term chan error
}

func newObserver() *observer {
	return &observer{next: make(chan []byte, 16), term: make(chan error, 1)}
}

func (o *observer) funcs() rx.Funcs[[]byte] {
	return rx.Funcs[[]byte]{
		Next:     func(c []byte) { o.next <- c },
		Error:    func(err error) { o.term <- err },
		Complete: func() { o.term <- nil },
	}
}

func (o *observer) doneFuncs() rx.Funcs[struct{}] {
	return rx.Funcs[struct{}]{
		Error:    func(err error) { o.term <- err },
		Complete: func() { o.term <- nil },
	}
}

func (o *observer) chunk(t *testing.T) []byte {
	t.Helper()
	select {
	case c := <-o.next:
		return c
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a chunk")
		return nil
	}
}

func (o *observer) terminal(t *testing.T) error {
	t.Helper()
	select {
	case err := <-o.term:
		return err
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a terminal event")
		return nil
	}
}

func newClient(t *testing.T, platform rxserial.Platform, opts ...rxserial.Option) *rxserial.Client {
	t.Helper()
	c, err := rxserial.NewClient(platform, nil, opts...)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func connected(t *testing.T, opts ...rxserial.Option) (*rxserial.Client, *serialtest.Port) {
	t.Helper()
	port := serialtest.NewPort(rxserial.PortInfo{Name: "ttyUSB0", Path: "/dev/ttyUSB0"})
	c := newClient(t, serialtest.NewPlatform(port), opts...)
	if err := c.Connect(context.Background(), port); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { c.Disconnect(context.Background()) })
	return c, port
}

func TestNewClientWithoutPlatform(t *testing.T) {
	_, err := rxserial.NewClient(nil, nil)
	if !errors.Is(err, rxserial.BrowserNotSupported) {
		t.Fatalf("expected BROWSER_NOT_SUPPORTED, got %v", err)
	}
}

func TestNewClientInvalidOption(t *testing.T) {
	_, err := rxserial.NewClient(serialtest.NewPlatform(), nil, rxserial.WithDataBits(5))
	if !errors.Is(err, rxserial.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestConnect(t *testing.T) {
	c, port := connected(t, rxserial.WithBaudRate(115200))

	if !c.Connected() || c.State() != rxserial.StateOpen {
		t.Fatalf("Connected=%v State=%s, want open", c.Connected(), c.State())
	}
	if c.CurrentPort() != port {
		t.Error("CurrentPort should be the connected port")
	}
	if c.Session() == "" {
		t.Error("an open connection should have a session id")
	}
	if got := port.Config().BaudRate; got != 115200 {
		t.Errorf("port opened at %d baud, want 115200", got)
	}
}

func TestConnectWhileOpen(t *testing.T) {
	c, port := connected(t)
	other := serialtest.NewPort(rxserial.PortInfo{Path: "/dev/ttyUSB1"})
	session := c.Session()

	err := c.Connect(context.Background(), other)
	if !errors.Is(err, rxserial.PortAlreadyOpen) {
		t.Fatalf("expected PORT_ALREADY_OPEN, got %v", err)
	}
	if c.CurrentPort() != port || !c.Connected() || c.Session() != session {
		t.Error("the open connection must be left untouched")
	}
	if port.Opens() != 1 || other.Opens() != 0 {
		t.Errorf("opens = %d/%d, want 1/0", port.Opens(), other.Opens())
	}
}

func TestConnectRequestsPort(t *testing.T) {
	plain := serialtest.NewPort(rxserial.PortInfo{Path: "/dev/ttyS0"})
	arduino := serialtest.NewPort(rxserial.PortInfo{
		Path:         "/dev/ttyACM0",
		USBVendorID:  intPtr(0x2341),
		USBProductID: intPtr(0x43),
	})
	platform := serialtest.NewPlatform(plain, arduino)
	c := newClient(t, platform, rxserial.WithFilters(rxserial.VendorFilter(0x2341)))

	if err := c.Connect(context.Background(), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect(context.Background())

	if c.CurrentPort() != arduino {
		t.Errorf("connected to %v, want the filtered port", c.CurrentPort().Info())
	}
	reqs := platform.Requests()
	if len(reqs) != 1 || reqs[0] == nil || len(reqs[0].Filters) != 1 {
		t.Errorf("platform saw requests %+v", reqs)
	}
}

func TestRequestPortErrors(t *testing.T) {
	tests := []struct {
		name     string
		platErr  error
		wantKind rxserial.Kind
	}{
		{"user dismissed the picker", rxserial.ErrNoPortSelected, rxserial.OperationCancelled},
		{"wrapped dismissal", errors.Join(errors.New("picker"), rxserial.ErrNoPortSelected), rxserial.OperationCancelled},
		{"context cancelled", context.Canceled, rxserial.OperationCancelled},
		{"platform failure", errors.New("permission denied"), rxserial.PortNotAvailable},
		{"typed platform failure", rxserial.NewError(rxserial.BrowserNotSupported, "", nil), rxserial.BrowserNotSupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			platform := serialtest.NewPlatform()
			platform.RequestPortFunc = func(ctx context.Context, opts *rxserial.RequestOptions) (rxserial.Port, error) {
				return nil, tt.platErr
			}
			c := newClient(t, platform)

			_, err := c.RequestPort(context.Background())
			if !rxserial.IsKind(err, tt.wantKind) {
				t.Fatalf("RequestPort error = %v, want %s", err, tt.wantKind)
			}

			err = c.Connect(context.Background(), nil)
			if !rxserial.IsKind(err, tt.wantKind) {
				t.Fatalf("Connect error = %v, want %s", err, tt.wantKind)
			}
			if c.Connected() || c.CurrentPort() != nil || c.State() != rxserial.StateIdle {
				t.Error("client must stay idle after a failed request")
			}
		})
	}
}

func TestRequestPortInvalidFilters(t *testing.T) {
	platform := serialtest.NewPlatform(serialtest.NewPort(rxserial.PortInfo{Path: "/dev/ttyUSB0"}))
	c := newClient(t, platform, rxserial.WithFilters(rxserial.Filter{}))

	err := c.Connect(context.Background(), nil)
	if !rxserial.IsKind(err, rxserial.InvalidFilterOptions) {
		t.Fatalf("expected INVALID_FILTER_OPTIONS, got %v", err)
	}
	if len(platform.Requests()) != 0 {
		t.Error("the platform must not be asked with invalid filters")
	}
}

func TestConnectOpenFailure(t *testing.T) {
	tests := []struct {
		name     string
		openErr  error
		wantKind rxserial.Kind
	}{
		{"plain error", errors.New("EBUSY"), rxserial.PortOpenFailed},
		{"typed error passes through", rxserial.NewError(rxserial.PortNotAvailable, "gone", nil), rxserial.PortNotAvailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := serialtest.NewPort(rxserial.PortInfo{Path: "/dev/ttyUSB0"})
			port.SetOpenError(tt.openErr)
			c := newClient(t, serialtest.NewPlatform(port))

			err := c.Connect(context.Background(), port)
			if !rxserial.IsKind(err, tt.wantKind) {
				t.Fatalf("Connect error = %v, want %s", err, tt.wantKind)
			}
			if c.Connected() || c.CurrentPort() != nil || c.State() != rxserial.StateIdle {
				t.Error("client must drop the handle after a failed open")
			}

			port.SetOpenError(nil)
			if err := c.Connect(context.Background(), port); err != nil {
				t.Fatalf("retry after failure: %v", err)
			}
			c.Disconnect(context.Background())
		})
	}
}

func TestGetPorts(t *testing.T) {
	a := serialtest.NewPort(rxserial.PortInfo{Path: "/dev/ttyUSB0"})
	b := serialtest.NewPort(rxserial.PortInfo{Path: "/dev/ttyUSB1"})
	platform := serialtest.NewPlatform(a, b)
	c := newClient(t, platform)

	ports, err := c.GetPorts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(ports) != 2 || ports[0] != a || ports[1] != b {
		t.Errorf("GetPorts = %v", ports)
	}

	platform.GetPortsErr = errors.New("no access")
	if _, err := c.GetPorts(context.Background()); !rxserial.IsKind(err, rxserial.PortNotAvailable) {
		t.Errorf("expected PORT_NOT_AVAILABLE, got %v", err)
	}
}

func TestOperationsRequireOpenPort(t *testing.T) {
	port := serialtest.NewPort(rxserial.PortInfo{Path: "/dev/ttyUSB0"})
	c := newClient(t, serialtest.NewPlatform(port))

	if err := c.Write(context.Background(), []byte("hi")); !errors.Is(err, rxserial.PortNotOpen) {
		t.Errorf("Write error = %v, want PORT_NOT_OPEN", err)
	}
	if _, err := c.ReadStream(); !errors.Is(err, rxserial.PortNotOpen) {
		t.Errorf("ReadStream error = %v, want PORT_NOT_OPEN", err)
	}
	if _, err := c.WriteStream(rx.Of([]byte("hi"))); !errors.Is(err, rxserial.PortNotOpen) {
		t.Errorf("WriteStream error = %v, want PORT_NOT_OPEN", err)
	}
	if port.Writable() != nil || len(port.Writes()) != 0 {
		t.Error("no writer may be acquired on a port that was never opened")
	}
	if err := c.Disconnect(context.Background()); err != nil {
		t.Errorf("Disconnect when idle = %v, want nil", err)
	}
}

func TestWrite(t *testing.T) {
	c, port := connected(t)

	for _, chunk := range []string{"AT", "\r\n"} {
		if err := c.Write(context.Background(), []byte(chunk)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if got := string(port.Written()); got != "AT\r\n" {
		t.Errorf("written %q", got)
	}
	if port.Writable().Locked() {
		t.Error("Write must release the writer lock")
	}

	port.SetWriteHook(func(ctx context.Context, chunk []byte) error { return errors.New("EIO") })
	err := c.Write(context.Background(), []byte("x"))
	if !errors.Is(err, rxserial.WriteFailed) {
		t.Fatalf("expected WRITE_FAILED, got %v", err)
	}
	if port.Writable().Locked() {
		t.Error("a failed Write must release the writer lock")
	}
}

func TestReadStream(t *testing.T) {
	c, port := connected(t)
	reads, err := c.ReadStream()
	if err != nil {
		t.Fatal(err)
	}

	o := newObserver()
	sub := reads.Subscribe(o.funcs())
	port.Feed([]byte{1, 2, 3}, []byte{4, 5, 6})

	if got := o.chunk(t); string(got) != "\x01\x02\x03" {
		t.Errorf("first chunk = %v", got)
	}
	if got := o.chunk(t); string(got) != "\x04\x05\x06" {
		t.Errorf("second chunk = %v", got)
	}

	sub.Unsubscribe()
	sub.Unsubscribe()
	if port.Readable().Locked() {
		t.Error("unsubscribing must release the reader lock")
	}
}

func TestReadStreamError(t *testing.T) {
	c, port := connected(t)
	reads, err := c.ReadStream()
	if err != nil {
		t.Fatal(err)
	}

	o := newObserver()
	reads.Subscribe(o.funcs())
	port.FailRead(errors.New("framing error"))

	if err := o.terminal(t); !errors.Is(err, rxserial.ReadFailed) {
		t.Fatalf("expected READ_FAILED, got %v", err)
	}
}

func TestReadStreamReplacement(t *testing.T) {
	c, port := connected(t)
	reads, err := c.ReadStream()
	if err != nil {
		t.Fatal(err)
	}

	first := newObserver()
	reads.Subscribe(first.funcs())

	second := newObserver()
	sub := reads.Subscribe(second.funcs())
	defer sub.Unsubscribe()

	if err := first.terminal(t); !errors.Is(err, rxserial.OperationCancelled) {
		t.Fatalf("replaced read stream ended with %v, want OPERATION_CANCELLED", err)
	}

	port.Feed([]byte("after"))
	if got := second.chunk(t); string(got) != "after" {
		t.Errorf("second subscription got %q", got)
	}
	select {
	case c := <-first.next:
		t.Errorf("replaced subscription still received %q", c)
	default:
	}
}

func TestWriteStream(t *testing.T) {
	c, port := connected(t)
	done, err := c.WriteStream(rx.Of([]byte("one"), []byte("two")))
	if err != nil {
		t.Fatal(err)
	}

	o := newObserver()
	done.Subscribe(o.doneFuncs())
	if err := o.terminal(t); err != nil {
		t.Fatalf("write stream failed: %v", err)
	}
	if got := string(port.Written()); got != "onetwo" {
		t.Errorf("written %q", got)
	}
	if port.Writable().Locked() {
		t.Error("completed write stream must release the writer lock")
	}
}

func TestWriteStreamReplacement(t *testing.T) {
	c, port := connected(t)

	firstSrc := rx.NewSubject[[]byte]()
	torn := make(chan struct{})
	src := rx.Create(func(s *rx.Subscriber[[]byte]) func() {
		inner := firstSrc.Observable().Subscribe(rx.Funcs[[]byte]{Next: func(c []byte) { s.Next(c) }})
		return func() {
			inner.Unsubscribe()
			close(torn)
		}
	})

	first, err := c.WriteStream(src)
	if err != nil {
		t.Fatal(err)
	}
	o1 := newObserver()
	first.Subscribe(o1.doneFuncs())
	waitFor(t, func() bool { return firstSrc.Observed() == 1 })

	second, err := c.WriteStream(rx.Of([]byte("second")))
	if err != nil {
		t.Fatal(err)
	}
	o2 := newObserver()
	second.Subscribe(o2.doneFuncs())

	if err := o1.terminal(t); !errors.Is(err, rxserial.OperationCancelled) {
		t.Fatalf("replaced write stream ended with %v, want OPERATION_CANCELLED", err)
	}
	select {
	case <-torn:
	case <-time.After(timeout):
		t.Fatal("the replaced source was not torn down")
	}
	if err := o2.terminal(t); err != nil {
		t.Fatalf("second write stream failed: %v", err)
	}

	firstSrc.Next([]byte("stale"))
	if got := string(port.Written()); got != "second" {
		t.Errorf("written %q, want only the second stream", got)
	}
}

func TestWriteWhileWriteStreamActive(t *testing.T) {
	c, _ := connected(t)
	src := rx.NewSubject[[]byte]()
	writes, err := c.WriteStream(src.Observable())
	if err != nil {
		t.Fatal(err)
	}
	sub := writes.Subscribe(rx.Funcs[struct{}]{})
	defer sub.Unsubscribe()

	if err := c.Write(context.Background(), []byte("x")); !errors.Is(err, rxserial.WriteFailed) {
		t.Errorf("expected WRITE_FAILED while the writer is held, got %v", err)
	}
}

func TestDisconnect(t *testing.T) {
	port := serialtest.NewPort(rxserial.PortInfo{Path: "/dev/ttyUSB0"})
	c := newClient(t, serialtest.NewPlatform(port))
	if err := c.Connect(context.Background(), port); err != nil {
		t.Fatal(err)
	}

	reads, _ := c.ReadStream()
	readObs := newObserver()
	reads.Subscribe(readObs.funcs())

	writes, _ := c.WriteStream(rx.NewSubject[[]byte]().Observable())
	writeObs := newObserver()
	writes.Subscribe(writeObs.doneFuncs())

	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if err := readObs.terminal(t); err != nil {
		t.Errorf("read stream ended with %v, want completion", err)
	}
	if err := writeObs.terminal(t); !errors.Is(err, rxserial.OperationCancelled) {
		t.Errorf("write stream ended with %v, want OPERATION_CANCELLED", err)
	}
	if c.Connected() || c.CurrentPort() != nil || c.State() != rxserial.StateIdle || c.Session() != "" {
		t.Error("client should be idle after Disconnect")
	}
	if port.IsOpen() || port.Closes() != 1 {
		t.Errorf("port open=%v closes=%d", port.IsOpen(), port.Closes())
	}
	if err := c.Disconnect(context.Background()); err != nil {
		t.Errorf("second Disconnect = %v, want nil", err)
	}

	if err := c.Connect(context.Background(), port); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	c.Disconnect(context.Background())
}

func TestDisconnectCloseFailure(t *testing.T) {
	c, port := connected(t)
	port.SetCloseError(errors.New("device vanished"))

	err := c.Disconnect(context.Background())
	if !errors.Is(err, rxserial.ConnectionLost) {
		t.Fatalf("expected CONNECTION_LOST, got %v", err)
	}
	if c.Connected() || c.CurrentPort() != nil || c.State() != rxserial.StateIdle {
		t.Error("client should be idle even when closing failed")
	}
}

func TestDisconnectWhileClosing(t *testing.T) {
	p1 := serialtest.NewPort(rxserial.PortInfo{Name: "ttyUSB0", Path: "/dev/ttyUSB0"})
	p2 := serialtest.NewPort(rxserial.PortInfo{Name: "ttyUSB1", Path: "/dev/ttyUSB1"})
	c := newClient(t, serialtest.NewPlatform(p1, p2))
	ctx := context.Background()
	if err := c.Connect(ctx, p1); err != nil {
		t.Fatal(err)
	}

	closing := make(chan struct{})
	gate := make(chan struct{})
	p1.SetCloseHook(func(context.Context) {
		close(closing)
		<-gate
	})

	first := make(chan error, 1)
	go func() { first <- c.Disconnect(ctx) }()
	<-closing

	if err := c.Disconnect(ctx); err != nil {
		t.Errorf("Disconnect while closing = %v, want nil", err)
	}
	if got := c.State(); got != rxserial.StateClosing {
		t.Errorf("state = %v, want closing", got)
	}
	if err := c.Connect(ctx, p2); !errors.Is(err, rxserial.PortAlreadyOpen) {
		t.Errorf("Connect while closing = %v, want PORT_ALREADY_OPEN", err)
	}

	close(gate)
	select {
	case err := <-first:
		if err != nil {
			t.Fatalf("first Disconnect = %v", err)
		}
	case <-time.After(timeout):
		t.Fatal("first Disconnect did not return")
	}
	if p1.Closes() != 1 {
		t.Errorf("port closed %d times, want 1", p1.Closes())
	}

	if err := c.Connect(ctx, p2); err != nil {
		t.Fatalf("Connect after close = %v", err)
	}
	defer c.Disconnect(ctx)
	if !c.Connected() || c.CurrentPort() != rxserial.Port(p2) || !p2.IsOpen() {
		t.Errorf("connected=%v current=%v open=%v, want the new port to stay current",
			c.Connected(), c.CurrentPort(), p2.IsOpen())
	}
}

func TestResubscribeFromCancelledReadStream(t *testing.T) {
	c, port := connected(t)
	reads, err := c.ReadStream()
	if err != nil {
		t.Fatal(err)
	}

	again := newObserver()
	reads.Subscribe(rx.Funcs[[]byte]{
		Error: func(err error) {
			if errors.Is(err, rxserial.OperationCancelled) {
				reads.Subscribe(again.funcs())
			}
		},
	})

	latest := newObserver()
	subscribed := make(chan struct{})
	go func() {
		reads.Subscribe(latest.funcs())
		close(subscribed)
	}()
	select {
	case <-subscribed:
	case <-time.After(timeout):
		t.Fatal("subscribing from a cancelled observer deadlocked")
	}

	if err := again.terminal(t); !errors.Is(err, rxserial.OperationCancelled) {
		t.Errorf("nested subscription ended with %v, want OPERATION_CANCELLED", err)
	}
	port.Feed([]byte("x"))
	if got := latest.chunk(t); string(got) != "x" {
		t.Errorf("latest subscription got %q", got)
	}
}

func TestResubscribeFromCancelledWriteStream(t *testing.T) {
	c, port := connected(t)
	held, err := c.WriteStream(rx.NewSubject[[]byte]().Observable())
	if err != nil {
		t.Fatal(err)
	}

	again := newObserver()
	held.Subscribe(rx.Funcs[struct{}]{
		Error: func(err error) {
			if errors.Is(err, rxserial.OperationCancelled) {
				held.Subscribe(again.doneFuncs())
			}
		},
	})

	last, err := c.WriteStream(rx.Of([]byte("last")))
	if err != nil {
		t.Fatal(err)
	}
	latest := newObserver()
	subscribed := make(chan struct{})
	go func() {
		last.Subscribe(latest.doneFuncs())
		close(subscribed)
	}()
	select {
	case <-subscribed:
	case <-time.After(timeout):
		t.Fatal("subscribing from a cancelled observer deadlocked")
	}

	if err := again.terminal(t); !errors.Is(err, rxserial.OperationCancelled) {
		t.Errorf("nested subscription ended with %v, want OPERATION_CANCELLED", err)
	}
	if err := latest.terminal(t); err != nil {
		t.Fatalf("latest write stream failed: %v", err)
	}
	if got := string(port.Written()); got != "last" {
		t.Errorf("written %q", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
