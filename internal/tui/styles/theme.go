package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/go-rxserial"
	"github.com/allbin/go-rxserial/internal/tui/colors"
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Accent).
			Background(colors.Surface0).
			Padding(0, 1)

	ContentBorderStyle = lipgloss.NewStyle().
				BorderTop(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderForeground(colors.Surface1)

	InputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colors.Surface2).
			Padding(0, 1)

	HelpStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colors.Surface2).
			Padding(1, 2).
			Margin(1, 0)

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Failure)

	SuccessStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Success)

	InfoStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Accent)

	MutedStyle = lipgloss.NewStyle().
			Foreground(colors.Muted)
)

// StateStyle colours a connection state.
func StateStyle(state rxserial.State) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch state {
	case rxserial.StateOpen:
		return base.Foreground(colors.Success)
	case rxserial.StateConnecting, rxserial.StateClosing:
		return base.Foreground(colors.Pending)
	default:
		return base.Foreground(colors.Failure)
	}
}

// StateIndicator is the one-character marker shown next to the port name.
func StateIndicator(state rxserial.State, err error) string {
	switch {
	case err != nil:
		return ErrorStyle.Render("✗")
	case state == rxserial.StateOpen:
		return StateStyle(state).Render("●")
	default:
		return StateStyle(state).Render("○")
	}
}
