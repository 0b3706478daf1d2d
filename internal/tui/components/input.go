package components

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/go-rxserial/internal/tui/colors"
	"github.com/allbin/go-rxserial/internal/tui/styles"
)

const historySize = 100

type SendingMode int

const (
	SendingModeASCII SendingMode = iota
	SendingModeHex
)

func (s SendingMode) String() string {
	if s == SendingModeHex {
		return "HEX"
	}
	return "ASCII"
}

// Input is the single-line editor used to write to the port.
type Input struct {
	textInput    textinput.Model
	mode         SendingMode
	history      []string
	historyIndex int
	pending      string // input saved while browsing history
	width        int
}

func NewInput() *Input {
	ti := textinput.New()
	ti.CharLimit = 512
	ti.Prompt = ""
	i := &Input{textInput: ti, historyIndex: -1}
	i.setPlaceholder()
	return i
}

func (i *Input) setPlaceholder() {
	if i.mode == SendingModeHex {
		i.textInput.Placeholder = "hex bytes, e.g. 48 65 6C 6C 6F"
	} else {
		i.textInput.Placeholder = "text to send"
	}
}

func (i *Input) SetWidth(width int) {
	i.width = width
	i.textInput.Width = max(width-8, 20)
}

func (i *Input) Focus() tea.Cmd {
	return i.textInput.Focus()
}

func (i *Input) Blur() {
	i.textInput.Blur()
}

func (i *Input) Focused() bool {
	return i.textInput.Focused()
}

func (i *Input) Value() string {
	return i.textInput.Value()
}

func (i *Input) Reset() {
	i.textInput.Reset()
}

func (i *Input) Mode() SendingMode {
	return i.mode
}

func (i *Input) ToggleMode() {
	if i.mode == SendingModeASCII {
		i.mode = SendingModeHex
	} else {
		i.mode = SendingModeASCII
	}
	i.setPlaceholder()
}

// Bytes encodes the current value according to the sending mode. ASCII
// input is sent with a trailing newline when newline is set.
func (i *Input) Bytes(newline bool) ([]byte, error) {
	if i.mode == SendingModeHex {
		return ParseHex(i.Value())
	}
	data := []byte(i.Value())
	if newline {
		data = append(data, '\n')
	}
	return data, nil
}

func (i *Input) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	i.textInput, cmd = i.textInput.Update(msg)
	return cmd
}

func (i *Input) View() string {
	prompt := lipgloss.NewStyle().Bold(true).Foreground(colors.Success).Render(">")
	if i.mode == SendingModeHex {
		prompt = lipgloss.NewStyle().Bold(true).Foreground(colors.Pending).Render("#")
	}

	content := i.textInput.View()
	style := styles.InputStyle.Width(max(i.width-4, 10))
	if i.Focused() {
		style = style.BorderForeground(colors.Success)
	} else {
		content = styles.MutedStyle.Render("press 'i' to write to the port")
	}
	return style.Render(lipgloss.JoinHorizontal(lipgloss.Left, prompt, " ", content))
}

// AddToHistory records command unless it is blank or repeats the last one.
func (i *Input) AddToHistory(command string) {
	command = strings.TrimSpace(command)
	if command == "" {
		return
	}
	if n := len(i.history); n == 0 || i.history[n-1] != command {
		i.history = append(i.history, command)
		if len(i.history) > historySize {
			i.history = i.history[1:]
		}
	}
	i.historyIndex = -1
	i.pending = ""
}

func (i *Input) HistoryUp() {
	if len(i.history) == 0 {
		return
	}
	switch {
	case i.historyIndex == -1:
		i.pending = i.Value()
		i.historyIndex = len(i.history) - 1
	case i.historyIndex > 0:
		i.historyIndex--
	}
	i.textInput.SetValue(i.history[i.historyIndex])
}

func (i *Input) HistoryDown() {
	if i.historyIndex == -1 {
		return
	}
	if i.historyIndex < len(i.history)-1 {
		i.historyIndex++
		i.textInput.SetValue(i.history[i.historyIndex])
		return
	}
	i.historyIndex = -1
	i.textInput.SetValue(i.pending)
	i.pending = ""
}

// ParseHex decodes hex bytes, ignoring whitespace and 0x prefixes.
func ParseHex(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	s = strings.NewReplacer("0x", "", "0X", "").Replace(s)
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("hex string must have even length")
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return data, nil
}
