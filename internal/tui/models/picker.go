package models

import (
	"context"
	"os"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/go-rxserial"
	"github.com/allbin/go-rxserial/internal/tui/components"
	"github.com/allbin/go-rxserial/internal/tui/keys"
	"github.com/allbin/go-rxserial/internal/tui/styles"
	"github.com/allbin/go-rxserial/native"
)

// Picker lets the user choose one of the candidate ports.
type Picker struct {
	table  *components.PortTable
	keys   keys.PickerKeys
	help   help.Model
	chosen *rxserial.PortInfo
	done   bool
}

func NewPicker(candidates []rxserial.PortInfo) *Picker {
	return &Picker{
		table: components.NewPortTable(candidates, 80, len(candidates)+3),
		keys:  keys.NewPickerKeys(),
		help:  help.New(),
	}
}

func (p *Picker) Init() tea.Cmd {
	return nil
}

func (p *Picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.table.SetSize(msg.Width, min(msg.Height-4, 20))

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, p.keys.Up):
			p.table.MoveUp()
		case key.Matches(msg, p.keys.Down):
			p.table.MoveDown()
		case key.Matches(msg, p.keys.Select):
			if info, ok := p.table.Selected(); ok {
				p.chosen = &info
			}
			p.done = true
			return p, tea.Quit
		case key.Matches(msg, p.keys.Cancel):
			p.done = true
			return p, tea.Quit
		}
	}
	return p, nil
}

func (p *Picker) View() string {
	if p.done {
		return ""
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		styles.TitleStyle.Render("Select a serial port"),
		p.table.View(),
		p.help.View(p.keys),
	)
}

// Choice returns the selected port, false when the picker was dismissed.
func (p *Picker) Choice() (rxserial.PortInfo, bool) {
	if p.chosen == nil {
		return rxserial.PortInfo{}, false
	}
	return *p.chosen, true
}

// SelectPort runs the picker on the terminal. Dismissing it returns
// rxserial.ErrNoPortSelected.
func SelectPort(ctx context.Context, candidates []rxserial.PortInfo) (rxserial.PortInfo, error) {
	picker := NewPicker(candidates)
	final, err := tea.NewProgram(picker, tea.WithContext(ctx), tea.WithOutput(os.Stderr)).Run()
	if ctx.Err() != nil {
		return rxserial.PortInfo{}, ctx.Err()
	}
	if err != nil {
		return rxserial.PortInfo{}, err
	}
	if info, ok := final.(*Picker).Choice(); ok {
		return info, nil
	}
	return rxserial.PortInfo{}, rxserial.ErrNoPortSelected
}

// PortSelector plugs the picker into the native platform.
var PortSelector native.Selector = native.SelectorFunc(SelectPort)
