package components

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/go-rxserial"
	"github.com/allbin/go-rxserial/internal/tui/colors"
	"github.com/allbin/go-rxserial/internal/tui/styles"
)

// StatusBar is the single bottom line of the listen view.
type StatusBar struct {
	port    string
	config  string
	session string
	state   rxserial.State
	err     error
	width   int
}

func NewStatusBar(cfg rxserial.Config) *StatusBar {
	return &StatusBar{port: "no port", config: cfg.String()}
}

func (sb *StatusBar) SetWidth(width int) {
	sb.width = width
}

func (sb *StatusBar) SetPort(port string) {
	sb.port = port
}

// SetState records the connection state and session. A nil err clears a
// previous error.
func (sb *StatusBar) SetState(state rxserial.State, session string, err error) {
	sb.state = state
	sb.session = session
	sb.err = err
}

func (sb *StatusBar) Err() error {
	return sb.err
}

func (sb *StatusBar) View(mode string, insert bool) string {
	width := sb.width
	if width <= 0 {
		width = 80
	}

	modeBg := colors.Blue
	if insert {
		modeBg = colors.Success
	}
	modeView := lipgloss.NewStyle().
		Foreground(colors.Base).
		Background(modeBg).
		Bold(true).
		Padding(0, 1).
		Render(mode)

	port := lipgloss.NewStyle().Foreground(colors.Accent).Bold(true).Padding(0, 1).Render(sb.port)
	divider := lipgloss.NewStyle().Foreground(colors.Surface2).Padding(0, 1).Render("│")

	status := sb.state.String()
	if sb.err != nil {
		status = sb.err.Error()
	}
	left := lipgloss.JoinHorizontal(lipgloss.Left,
		modeView, port, styles.StateIndicator(sb.state, sb.err), " ",
		styles.StateStyle(sb.state).Render(status), divider)

	details := lipgloss.NewStyle().Foreground(colors.Subtext0).Padding(0, 1).Render("⚡ " + sb.config)
	right := details
	if sb.session != "" {
		session := sb.session
		if len(session) > 8 {
			session = session[:8]
		}
		right = lipgloss.JoinHorizontal(lipgloss.Left, details, divider,
			lipgloss.NewStyle().Foreground(colors.Subtext1).Padding(0, 1).Render(session))
	}

	spacer := lipgloss.NewStyle().
		Width(max(width-lipgloss.Width(left)-lipgloss.Width(right), 1)).
		Render("")

	return lipgloss.NewStyle().
		Foreground(colors.Text).
		Background(colors.Surface0).
		Width(width).
		Render(lipgloss.JoinHorizontal(lipgloss.Left, left, spacer, right))
}
