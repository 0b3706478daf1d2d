package models

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/go-rxserial"
	"github.com/allbin/go-rxserial/internal/tui/components"
	"github.com/allbin/go-rxserial/internal/tui/keys"
	"github.com/allbin/go-rxserial/internal/tui/styles"
	"github.com/allbin/go-rxserial/rx"
)

const (
	chunkBuffer  = 256
	closeTimeout = 2 * time.Second
	writeTimeout = 5 * time.Second
)

// ConnectedMsg reports the outcome of the initial Connect.
type ConnectedMsg struct {
	Err error
}

// ReadEndedMsg is sent when the read stream terminates. Rest holds chunks
// that were still queued at that point.
type ReadEndedMsg struct {
	Err  error
	Rest []components.ChunkMsg
}

// WrittenMsg reports a finished write from the input line.
type WrittenMsg struct {
	Chunk components.ChunkMsg
}

// ListenOptions configure a Listen model.
type ListenOptions struct {
	// Port to connect to; nil asks the platform through RequestPort.
	Port     rxserial.Port
	Display  components.DisplayMode
	Newline  bool
	ReadOnly bool
}

// Listen connects a client, streams everything read from the port into a
// terminal view and writes lines typed in insert mode.
type Listen struct {
	client *rxserial.Client
	opts   ListenOptions

	ctx    context.Context
	cancel context.CancelFunc

	terminal  *components.Terminal
	statusBar *components.StatusBar
	input     *components.Input
	help      help.Model
	keys      keys.TerminalKeys

	chunks  chan components.ChunkMsg
	ended   chan error
	readSub *rx.Subscription
	ready   bool
}

func NewListen(client *rxserial.Client, opts ListenOptions) *Listen {
	ctx, cancel := context.WithCancel(context.Background())
	return &Listen{
		client:    client,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		terminal:  components.NewTerminal(80, 20, opts.Display),
		statusBar: components.NewStatusBar(client.Config()),
		input:     components.NewInput(),
		help:      help.New(),
		keys:      keys.NewTerminalKeys(),
		chunks:    make(chan components.ChunkMsg, chunkBuffer),
		ended:     make(chan error, 1),
	}
}

func (m *Listen) Init() tea.Cmd {
	m.statusBar.SetState(rxserial.StateConnecting, "", nil)
	return m.connect
}

func (m *Listen) connect() tea.Msg {
	return ConnectedMsg{Err: m.client.Connect(m.ctx, m.opts.Port)}
}

// startReading subscribes to the read stream. Chunks are queued for the
// UI; a full queue holds back the reader.
func (m *Listen) startReading() error {
	chunks, err := m.client.ReadStream()
	if err != nil {
		return err
	}
	m.readSub = chunks.Subscribe(rx.Funcs[[]byte]{
		Next: func(data []byte) {
			select {
			case m.chunks <- components.ChunkMsg{Timestamp: time.Now(), Data: data}:
			case <-m.ctx.Done():
			}
		},
		Error:    func(err error) { m.ended <- err },
		Complete: func() { m.ended <- nil },
	})
	return nil
}

func (m *Listen) waitForChunk() tea.Msg {
	select {
	case c := <-m.chunks:
		return c
	case err := <-m.ended:
		var rest []components.ChunkMsg
		for {
			select {
			case c := <-m.chunks:
				rest = append(rest, c)
			default:
				return ReadEndedMsg{Err: err, Rest: rest}
			}
		}
	case <-m.ctx.Done():
		return nil
	}
}

func (m *Listen) write(data []byte) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, writeTimeout)
		defer cancel()
		err := m.client.Write(ctx, data)
		return WrittenMsg{Chunk: components.ChunkMsg{Timestamp: time.Now(), Data: data, TX: true, Err: err}}
	}
}

func (m *Listen) refreshState(err error) {
	m.statusBar.SetState(m.client.State(), m.client.Session(), err)
}

func (m *Listen) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, m.terminal.Update(msg)

	case tea.MouseMsg:
		return m, m.terminal.Update(msg)

	case ConnectedMsg:
		if msg.Err != nil {
			m.refreshState(msg.Err)
			return m, nil
		}
		if port := m.client.CurrentPort(); port != nil {
			m.statusBar.SetPort(port.Info().Path)
		}
		err := m.startReading()
		m.refreshState(err)
		if err != nil {
			return m, nil
		}
		return m, m.waitForChunk

	case components.ChunkMsg:
		m.terminal.Add(msg)
		return m, m.waitForChunk

	case ReadEndedMsg:
		for _, c := range msg.Rest {
			m.terminal.Add(c)
		}
		m.refreshState(msg.Err)
		return m, nil

	case WrittenMsg:
		m.terminal.Add(msg.Chunk)
		if msg.Chunk.Err != nil {
			m.refreshState(msg.Chunk.Err)
		}
		return m, nil

	case tea.KeyMsg:
		if m.input.Focused() {
			return m, m.updateInsert(msg)
		}
		return m, m.updateNormal(msg)
	}
	return m, nil
}

func (m *Listen) updateNormal(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.Close()
		return tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.InsertMode):
		if !m.opts.ReadOnly {
			return m.input.Focus()
		}
	case key.Matches(msg, m.keys.Clear):
		m.terminal.Clear()
	case key.Matches(msg, m.keys.ToggleHex):
		m.terminal.ToggleHex()
	case key.Matches(msg, m.keys.ToggleASCII):
		m.terminal.ToggleASCII()
	case key.Matches(msg, m.keys.ToggleTimestamps):
		m.terminal.ToggleTimestamps()
	}
	return nil
}

func (m *Listen) updateInsert(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Escape):
		m.input.Blur()
	case key.Matches(msg, m.keys.ToggleSendMode):
		m.input.ToggleMode()
	case key.Matches(msg, m.keys.HistoryUp):
		m.input.HistoryUp()
	case key.Matches(msg, m.keys.HistoryDown):
		m.input.HistoryDown()
	case key.Matches(msg, m.keys.Send):
		data, err := m.input.Bytes(m.opts.Newline)
		if err != nil {
			m.refreshState(err)
			return nil
		}
		m.input.AddToHistory(m.input.Value())
		m.input.Reset()
		if len(data) == 0 {
			return nil
		}
		return m.write(data)
	default:
		return m.input.Update(msg)
	}
	return nil
}

func (m *Listen) resize(width, height int) {
	m.ready = true
	m.statusBar.SetWidth(width)
	m.input.SetWidth(width)
	reserved := 2 // status bar and content border
	if !m.opts.ReadOnly {
		reserved += lipgloss.Height(m.input.View())
	}
	m.terminal.SetSize(width, max(height-reserved, 1))
}

// Close stops reading and disconnects the client.
func (m *Listen) Close() {
	if m.readSub != nil {
		m.readSub.Unsubscribe()
	}
	m.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	_ = m.client.Disconnect(ctx)
}

func (m *Listen) View() string {
	content := "Connecting..."
	if m.ready {
		content = m.terminal.View()
	}

	mode := "NORMAL"
	if m.input.Focused() {
		mode = "INSERT"
	} else if m.opts.ReadOnly {
		mode = "LISTEN"
	}

	sections := []string{styles.ContentBorderStyle.Render(content)}
	if !m.opts.ReadOnly {
		sections = append(sections, m.input.View())
	}
	if m.help.ShowAll {
		sections = append(sections, styles.HelpStyle.Render(m.help.View(m.keys)))
	}
	sections = append(sections, m.statusBar.View(mode, m.input.Focused()))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
