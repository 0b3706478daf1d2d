package models

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/allbin/go-rxserial"
	"github.com/allbin/go-rxserial/internal/tui/components"
	"github.com/allbin/go-rxserial/serialtest"
)

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEscape}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// run executes cmd on a goroutine so that a broken model fails the test
// instead of hanging it.
func run(t *testing.T, cmd tea.Cmd) tea.Msg {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	out := make(chan tea.Msg, 1)
	go func() { out <- cmd() }()
	select {
	case msg := <-out:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("command did not return")
		return nil
	}
}

func TestPicker(t *testing.T) {
	vid, pid := 0x2341, 0x43
	candidates := []rxserial.PortInfo{
		{Path: "/dev/ttyACM0", Description: "Arduino Uno", USBVendorID: &vid, USBProductID: &pid},
		{Path: "/dev/ttyUSB0", Description: "USB Serial"},
	}

	t.Run("select", func(t *testing.T) {
		p := NewPicker(candidates)
		if !strings.Contains(p.View(), "/dev/ttyACM0") || !strings.Contains(p.View(), "2341:0043") {
			t.Errorf("view does not list the candidates:\n%s", p.View())
		}

		p.Update(keyMsg("down"))
		_, cmd := p.Update(keyMsg("enter"))
		if cmd == nil {
			t.Fatal("selecting should quit the picker")
		}
		got, ok := p.Choice()
		if !ok || got.Path != "/dev/ttyUSB0" {
			t.Errorf("Choice = %v, %v", got, ok)
		}
	})

	t.Run("cancel", func(t *testing.T) {
		p := NewPicker(candidates)
		if _, cmd := p.Update(keyMsg("esc")); cmd == nil {
			t.Fatal("cancelling should quit the picker")
		}
		if _, ok := p.Choice(); ok {
			t.Error("a dismissed picker should have no choice")
		}
	})
}

func newListen(t *testing.T, opts ListenOptions) (*Listen, *serialtest.Port) {
	t.Helper()
	port := serialtest.NewPort(rxserial.PortInfo{Name: "ttyFAKE0", Path: "/dev/ttyFAKE0"})
	client, err := rxserial.NewClient(serialtest.NewPlatform(port), nil)
	if err != nil {
		t.Fatal(err)
	}
	opts.Port = port
	opts.Display = components.DisplayMode{ShowASCII: true}
	m := NewListen(client, opts)
	t.Cleanup(m.Close)
	return m, port
}

func TestListenReadsIntoTerminal(t *testing.T) {
	m, port := newListen(t, ListenOptions{ReadOnly: true})
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})

	msg := run(t, m.Init())
	if cm, ok := msg.(ConnectedMsg); !ok || cm.Err != nil {
		t.Fatalf("Init produced %#v", msg)
	}
	_, wait := m.Update(msg)
	if m.statusBar.Err() != nil || m.client.State() != rxserial.StateOpen {
		t.Fatalf("state = %v, err = %v", m.client.State(), m.statusBar.Err())
	}

	port.Feed([]byte("hello"), []byte("world"))
	for i := 0; i < 2; i++ {
		msg = run(t, wait)
		if _, ok := msg.(components.ChunkMsg); !ok {
			t.Fatalf("expected a chunk, got %#v", msg)
		}
		_, wait = m.Update(msg)
	}

	port.EndInput()
	msg = run(t, wait)
	if end, ok := msg.(ReadEndedMsg); !ok || end.Err != nil {
		t.Fatalf("expected clean end of input, got %#v", msg)
	}
	m.Update(msg)

	chunks := m.terminal.Chunks()
	if len(chunks) != 2 || string(chunks[0].Data) != "hello" || string(chunks[1].Data) != "world" {
		t.Errorf("terminal chunks = %v", chunks)
	}
	if !strings.Contains(m.View(), "hello") {
		t.Errorf("view does not show data:\n%s", m.View())
	}
}

func TestListenWritesInput(t *testing.T) {
	m, port := newListen(t, ListenOptions{Newline: true})
	m.Update(run(t, m.Init()))

	m.Update(keyMsg("i"))
	if !m.input.Focused() {
		t.Fatal("i should enter insert mode")
	}
	m.Update(keyMsg("ping"))
	_, cmd := m.Update(keyMsg("enter"))

	msg := run(t, cmd)
	written, ok := msg.(WrittenMsg)
	if !ok || written.Chunk.Err != nil {
		t.Fatalf("expected a successful write, got %#v", msg)
	}
	m.Update(msg)

	if got := string(port.Written()); got != "ping\n" {
		t.Errorf("port received %q", got)
	}
	if m.input.Value() != "" {
		t.Error("input should be reset after sending")
	}

	m.Update(keyMsg("tab"))
	m.Update(keyMsg("zz"))
	if _, cmd := m.Update(keyMsg("enter")); cmd != nil {
		t.Error("invalid hex should not be written")
	}
	if m.statusBar.Err() == nil {
		t.Error("invalid hex should be reported")
	}

	m.Update(keyMsg("esc"))
	if m.input.Focused() {
		t.Error("esc should leave insert mode")
	}
}

func TestListenConnectFailure(t *testing.T) {
	m, port := newListen(t, ListenOptions{})
	port.SetOpenError(errors.New("permission denied"))

	msg := run(t, m.Init())
	m.Update(msg)
	if !rxserial.IsKind(m.statusBar.Err(), rxserial.PortOpenFailed) {
		t.Errorf("status error = %v, want PORT_OPEN_FAILED", m.statusBar.Err())
	}
}

func TestListenQuitDisconnects(t *testing.T) {
	m, port := newListen(t, ListenOptions{})
	m.Update(run(t, m.Init()))

	if _, cmd := m.Update(keyMsg("q")); cmd == nil {
		t.Fatal("q should quit")
	}
	if port.IsOpen() || m.client.Connected() {
		t.Error("quitting should close the port")
	}
}
