package components

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/go-rxserial"
	"github.com/allbin/go-rxserial/internal/tui/colors"
)

// PortTable is a selectable table of port candidates.
type PortTable struct {
	table table.Model
	ports []rxserial.PortInfo
}

func NewPortTable(ports []rxserial.PortInfo, width, height int) *PortTable {
	rows := make([]table.Row, len(ports))
	for i, p := range ports {
		rows[i] = table.Row{p.Path, p.Description, USBID(p), p.SerialNumber}
	}

	t := table.New(
		table.WithColumns(portColumns(width)),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(max(height, 3)),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colors.Subtext0).
		BorderBottom(true).
		Bold(true).
		Foreground(colors.Text)
	s.Selected = s.Selected.
		Foreground(colors.Base).
		Background(colors.Accent).
		Bold(true)
	t.SetStyles(s)

	return &PortTable{table: t, ports: ports}
}

func portColumns(width int) []table.Column {
	width = max(width, 60)
	pathWidth, idWidth, serialWidth := 18, 10, 14
	descWidth := max(width-pathWidth-idWidth-serialWidth-8, 12)
	return []table.Column{
		{Title: "Port", Width: pathWidth},
		{Title: "Description", Width: descWidth},
		{Title: "USB ID", Width: idWidth},
		{Title: "Serial", Width: serialWidth},
	}
}

func (pt *PortTable) SetSize(width, height int) {
	pt.table.SetColumns(portColumns(width))
	pt.table.SetHeight(max(height, 3))
}

func (pt *PortTable) MoveUp() {
	pt.table.MoveUp(1)
}

func (pt *PortTable) MoveDown() {
	pt.table.MoveDown(1)
}

// Selected returns the highlighted port.
func (pt *PortTable) Selected() (rxserial.PortInfo, bool) {
	i := pt.table.Cursor()
	if i < 0 || i >= len(pt.ports) {
		return rxserial.PortInfo{}, false
	}
	return pt.ports[i], true
}

func (pt *PortTable) View() string {
	return pt.table.View()
}

// USBID renders vid:pid, or "-" for ports without USB ids.
func USBID(p rxserial.PortInfo) string {
	if p.USBVendorID == nil || p.USBProductID == nil {
		return "-"
	}
	return fmt.Sprintf("%04x:%04x", *p.USBVendorID, *p.USBProductID)
}
