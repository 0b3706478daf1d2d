package native

import (
	"context"
	"errors"
	"testing"

	"go.bug.st/serial/enumerator"

	rxserial "github.com/allbin/go-rxserial"
)

func intPtr(v int) *int { return &v }

func fakeEnumerator(details ...*enumerator.PortDetails) func() ([]*enumerator.PortDetails, error) {
	return func() ([]*enumerator.PortDetails, error) {
		return details, nil
	}
}

func TestParseUSBID(t *testing.T) {
	tests := []struct {
		in   string
		want *int
	}{
		{"2341", intPtr(0x2341)},
		{"0x2341", intPtr(0x2341)},
		{"FFFF", intPtr(0xffff)},
		{"0000", intPtr(0)},
		{"", nil},
		{"zz", nil},
		{"10000", nil},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := parseUSBID(tt.in)
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("parseUSBID(%q) = %d, want nil", tt.in, *got)
			case tt.want != nil && got == nil:
				t.Errorf("parseUSBID(%q) = nil, want %d", tt.in, *tt.want)
			case tt.want != nil && *got != *tt.want:
				t.Errorf("parseUSBID(%q) = %d, want %d", tt.in, *got, *tt.want)
			}
		})
	}
}

func TestPortDescription(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"ttyUSB0", "USB Serial Port"},
		{"ttyACM1", "USB CDC/ACM Device"},
		{"ttyS0", "Standard Serial Port"},
		{"ttyAMA0", "ARM Serial Port"},
		{"ttyO2", "OMAP Serial Port"},
		{"cu.usbserial", "Serial Port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := portDescription(tt.name); got != tt.want {
				t.Errorf("portDescription(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestPortInfoFromDetails(t *testing.T) {
	info := portInfo(&enumerator.PortDetails{
		Name:         "/dev/ttyACM0",
		IsUSB:        true,
		VID:          "2341",
		PID:          "0043",
		SerialNumber: "A1B2",
		Product:      "Arduino Uno",
	})

	if info.Name != "ttyACM0" || info.Path != "/dev/ttyACM0" {
		t.Errorf("name/path = %q/%q", info.Name, info.Path)
	}
	if info.Description != "Arduino Uno" {
		t.Errorf("Description = %q, want product name", info.Description)
	}
	if info.USBVendorID == nil || *info.USBVendorID != 0x2341 {
		t.Errorf("USBVendorID = %v, want 0x2341", info.USBVendorID)
	}
	if info.USBProductID == nil || *info.USBProductID != 0x0043 {
		t.Errorf("USBProductID = %v, want 0x0043", info.USBProductID)
	}

	plain := portInfo(&enumerator.PortDetails{Name: "/dev/ttyS0", VID: "1234"})
	if plain.USBVendorID != nil {
		t.Error("non-USB port should not carry a vendor id")
	}
	if plain.Description != "Standard Serial Port" {
		t.Errorf("Description = %q", plain.Description)
	}
}

func TestRequestPort(t *testing.T) {
	if !Available() {
		t.Skip("no native backend on this system")
	}

	enum := fakeEnumerator(
		&enumerator.PortDetails{Name: "/dev/ttyUSB1", IsUSB: true, VID: "0403", PID: "6001"},
		&enumerator.PortDetails{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043"},
		&enumerator.PortDetails{Name: "/dev/ttyS0"},
	)

	t.Run("first match without filters", func(t *testing.T) {
		p := New(WithEnumerator(enum))
		port, err := p.RequestPort(context.Background(), nil)
		if err != nil {
			t.Fatalf("RequestPort failed: %v", err)
		}
		if got := port.Info().Path; got != "/dev/ttyACM0" {
			t.Errorf("Path = %q, want /dev/ttyACM0", got)
		}
	})

	t.Run("filters narrow the candidates", func(t *testing.T) {
		var seen []rxserial.PortInfo
		sel := SelectorFunc(func(ctx context.Context, c []rxserial.PortInfo) (rxserial.PortInfo, error) {
			seen = c
			return c[0], nil
		})
		p := New(WithEnumerator(enum), WithSelector(sel))
		opts := &rxserial.RequestOptions{Filters: []rxserial.Filter{rxserial.VendorFilter(0x0403)}}

		port, err := p.RequestPort(context.Background(), opts)
		if err != nil {
			t.Fatalf("RequestPort failed: %v", err)
		}
		if len(seen) != 1 {
			t.Fatalf("selector saw %d candidates, want 1", len(seen))
		}
		if got := port.Info().Path; got != "/dev/ttyUSB1" {
			t.Errorf("Path = %q, want /dev/ttyUSB1", got)
		}
	})

	t.Run("no candidates", func(t *testing.T) {
		p := New(WithEnumerator(enum))
		opts := &rxserial.RequestOptions{Filters: []rxserial.Filter{rxserial.VendorFilter(0x1111)}}
		_, err := p.RequestPort(context.Background(), opts)
		if !rxserial.IsKind(err, rxserial.PortNotAvailable) {
			t.Errorf("expected PORT_NOT_AVAILABLE, got %v", err)
		}
	})

	t.Run("selection dismissed", func(t *testing.T) {
		sel := SelectorFunc(func(ctx context.Context, c []rxserial.PortInfo) (rxserial.PortInfo, error) {
			return rxserial.PortInfo{}, rxserial.ErrNoPortSelected
		})
		p := New(WithEnumerator(enum), WithSelector(sel))
		_, err := p.RequestPort(context.Background(), nil)
		if !errors.Is(err, rxserial.ErrNoPortSelected) {
			t.Errorf("expected ErrNoPortSelected, got %v", err)
		}
	})

	t.Run("enumeration failure", func(t *testing.T) {
		boom := errors.New("boom")
		p := New(WithEnumerator(func() ([]*enumerator.PortDetails, error) { return nil, boom }))
		_, err := p.RequestPort(context.Background(), nil)
		if !errors.Is(err, boom) {
			t.Errorf("expected wrapped enumeration error, got %v", err)
		}
	})
}

func TestGetPortsReturnsGranted(t *testing.T) {
	if !Available() {
		t.Skip("no native backend on this system")
	}

	p := New(WithEnumerator(fakeEnumerator(
		&enumerator.PortDetails{Name: "/dev/ttyUSB0"},
	)))

	ports, err := p.GetPorts(context.Background())
	if err != nil {
		t.Fatalf("GetPorts failed: %v", err)
	}
	if len(ports) != 0 {
		t.Fatalf("expected no granted ports, got %d", len(ports))
	}

	first, err := p.RequestPort(context.Background(), nil)
	if err != nil {
		t.Fatalf("RequestPort failed: %v", err)
	}
	second, _ := p.RequestPort(context.Background(), nil)
	if first != second {
		t.Error("requesting the same device twice should return the same handle")
	}

	ports, err = p.GetPorts(context.Background())
	if err != nil {
		t.Fatalf("GetPorts failed: %v", err)
	}
	if len(ports) != 1 || ports[0] != first {
		t.Errorf("GetPorts = %v, want the granted port", ports)
	}
	if first.IsOpen() {
		t.Error("granted port should not be open")
	}
}

func TestUnsupportedSystem(t *testing.T) {
	if Available() {
		t.Skip("native backend available")
	}
	_, err := New().GetPorts(context.Background())
	if !rxserial.IsKind(err, rxserial.BrowserNotSupported) {
		t.Errorf("expected BROWSER_NOT_SUPPORTED, got %v", err)
	}
}
