package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/go-rxserial/internal/tui/colors"
)

// ChunkMsg is one chunk read from or written to the port.
type ChunkMsg struct {
	Timestamp time.Time
	Data      []byte
	TX        bool
	Err       error // set on TX chunks that failed to write
}

type DisplayMode struct {
	ShowHex        bool
	ShowASCII      bool
	ShowTimestamps bool
}

type DataFormatter struct {
	mode DisplayMode
}

func NewDataFormatter(mode DisplayMode) *DataFormatter {
	return &DataFormatter{mode: mode}
}

func (df *DataFormatter) Mode() DisplayMode {
	return df.mode
}

func (df *DataFormatter) ToggleHex() {
	df.mode.ShowHex = !df.mode.ShowHex
}

func (df *DataFormatter) ToggleASCII() {
	df.mode.ShowASCII = !df.mode.ShowASCII
}

func (df *DataFormatter) ToggleTimestamps() {
	df.mode.ShowTimestamps = !df.mode.ShowTimestamps
}

// FormatMessage renders msg as one terminal line.
func (df *DataFormatter) FormatMessage(msg ChunkMsg) string {
	var parts []string
	if df.mode.ShowTimestamps {
		parts = append(parts, lipgloss.NewStyle().
			Foreground(colors.Subtext0).
			Render("["+msg.Timestamp.Format("15:04:05.000")+"]"))
	}
	parts = append(parts, indicator(msg))

	var data []string
	if df.mode.ShowHex {
		data = append(data, fmt.Sprintf("HEX: % X", msg.Data))
	}
	if df.mode.ShowASCII {
		data = append(data, "ASCII: "+Printable(msg.Data))
	}
	if len(data) == 0 {
		data = append(data, fmt.Sprintf("BYTES: %d", len(msg.Data)))
	}
	if msg.Err != nil {
		data = append(data, lipgloss.NewStyle().Foreground(colors.Failure).Render(msg.Err.Error()))
	}

	return strings.Join(parts, " ") + " " + strings.Join(data, "  ")
}

func (df *DataFormatter) FormatMessages(msgs []ChunkMsg) []string {
	out := make([]string, len(msgs))
	for i, msg := range msgs {
		out[i] = df.FormatMessage(msg)
	}
	return out
}

func indicator(msg ChunkMsg) string {
	style := lipgloss.NewStyle().Bold(true)
	switch {
	case !msg.TX:
		return style.Foreground(colors.RX).Render("↙ RX")
	case msg.Err != nil:
		return style.Foreground(colors.Failure).Render("↗ TX ✗")
	default:
		return style.Foreground(colors.TX).Render("↗ TX")
	}
}

// Printable replaces every byte outside printable ASCII with a dot.
func Printable(data []byte) string {
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		if c >= 32 && c <= 126 {
			b.WriteByte(c)
		} else {
			b.WriteByte('.')
		}
	}
	return b.String()
}
