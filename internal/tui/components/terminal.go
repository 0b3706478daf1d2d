package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// maxLines bounds the scrollback of a Terminal.
const maxLines = 5000

// Terminal is a scrolling view of formatted chunks.
type Terminal struct {
	viewport  viewport.Model
	formatter *DataFormatter
	chunks    []ChunkMsg
}

func NewTerminal(width, height int, mode DisplayMode) *Terminal {
	return &Terminal{
		viewport:  viewport.New(width, height),
		formatter: NewDataFormatter(mode),
	}
}

func (t *Terminal) SetSize(width, height int) {
	t.viewport.Width = width
	t.viewport.Height = height
}

func (t *Terminal) Width() int {
	return t.viewport.Width
}

func (t *Terminal) Add(msg ChunkMsg) {
	t.chunks = append(t.chunks, msg)
	if len(t.chunks) > maxLines {
		t.chunks = t.chunks[len(t.chunks)-maxLines:]
	}
	t.refresh()
}

// Chunks returns the chunks currently in the scrollback.
func (t *Terminal) Chunks() []ChunkMsg {
	return t.chunks
}

func (t *Terminal) Clear() {
	t.chunks = nil
	t.viewport.SetContent("")
}

func (t *Terminal) ToggleHex() {
	t.formatter.ToggleHex()
	t.refresh()
}

func (t *Terminal) ToggleASCII() {
	t.formatter.ToggleASCII()
	t.refresh()
}

func (t *Terminal) ToggleTimestamps() {
	t.formatter.ToggleTimestamps()
	t.refresh()
}

func (t *Terminal) Mode() DisplayMode {
	return t.formatter.Mode()
}

func (t *Terminal) refresh() {
	t.viewport.SetContent(strings.Join(t.formatter.FormatMessages(t.chunks), "\n"))
	t.viewport.GotoBottom()
}

// Update forwards only scrolling input to the viewport so that key
// bindings stay with the owning model.
func (t *Terminal) Update(msg tea.Msg) tea.Cmd {
	switch msg.(type) {
	case tea.WindowSizeMsg, tea.MouseMsg:
		var cmd tea.Cmd
		t.viewport, cmd = t.viewport.Update(msg)
		return cmd
	}
	return nil
}

func (t *Terminal) View() string {
	return t.viewport.View()
}
