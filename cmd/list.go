/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/evertras/bubble-table/table"
	"github.com/spf13/cobra"

	"github.com/allbin/go-rxserial"
	"github.com/allbin/go-rxserial/internal/tui/components"
	"github.com/allbin/go-rxserial/internal/tui/styles"
	"github.com/allbin/go-rxserial/native"
)

const (
	columnPort   = "port"
	columnType   = "type"
	columnUSB    = "usb"
	columnSerial = "serial"
	columnDesc   = "description"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available serial ports",
	Long: `List the serial ports present on the system.

USB adapters are shown with their vendor and product ids, which can be used
as port filters in the serial.filters section of the configuration.

Example usage:
  rxserial list
  rxserial list --table
  rxserial list --filter usb
  rxserial list --vendor 2341`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filterType, _ := cmd.Flags().GetString("filter")
		tableFormat, _ := cmd.Flags().GetBool("table")
		vendor, _ := cmd.Flags().GetString("vendor")

		ports, err := listPorts(cmd.Context())
		if err != nil {
			return err
		}

		var vendorID *int
		if vendor != "" {
			id, err := rxserial.ParseUSBID(vendor)
			if err != nil {
				return err
			}
			vendorID = &id
		}
		ports = filterPorts(ports, filterType, vendorID)

		out := cmd.OutOrStdout()
		if len(ports) == 0 {
			if filterType != "" || vendorID != nil {
				fmt.Fprintln(out, "No serial ports found matching the filter")
			} else {
				fmt.Fprintln(out, "No serial ports found")
			}
			return nil
		}

		if tableFormat {
			renderTable(out, ports)
		} else {
			renderSimple(out, ports)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringP("filter", "f", "", "Filter by port type: usb, standard, arm, all")
	listCmd.Flags().String("vendor", "", "Only show USB ports with this vendor id (hex)")
	listCmd.Flags().BoolP("table", "t", false, "Display output in a styled table format")
}

// listPorts enumerates the system ports, or the granted ports of the
// loopback platform.
func listPorts(ctx context.Context) ([]rxserial.PortInfo, error) {
	platform := newPlatform(native.FirstMatch)
	if np, ok := platform.(*native.Platform); ok {
		return np.List(ctx)
	}

	client, err := newClient(platform)
	if err != nil {
		return nil, err
	}
	granted, err := client.GetPorts(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]rxserial.PortInfo, len(granted))
	for i, p := range granted {
		infos[i] = p.Info()
	}
	return infos, nil
}

// filterPorts keeps the ports of the given type and vendor.
func filterPorts(ports []rxserial.PortInfo, filterType string, vendorID *int) []rxserial.PortInfo {
	filterType = strings.ToLower(filterType)

	var filtered []rxserial.PortInfo
	for _, p := range ports {
		if vendorID != nil && (p.USBVendorID == nil || *p.USBVendorID != *vendorID) {
			continue
		}
		name := strings.ToLower(p.Name)
		switch filterType {
		case "", "all":
		case "usb":
			if p.USBVendorID == nil && !strings.HasPrefix(name, "ttyusb") && !strings.HasPrefix(name, "ttyacm") {
				continue
			}
		case "standard":
			if !strings.HasPrefix(name, "ttys") {
				continue
			}
		case "arm":
			if !strings.HasPrefix(name, "ttyama") {
				continue
			}
		default:
			continue
		}
		filtered = append(filtered, p)
	}
	return filtered
}

// renderTable renders the port list as a static bubble-table.
func renderTable(out io.Writer, ports []rxserial.PortInfo) {
	fmt.Fprintln(out, styles.InfoStyle.Render(fmt.Sprintf("Found %d serial port(s):", len(ports))))

	columns := []table.Column{
		table.NewColumn(columnPort, "Port", 16),
		table.NewColumn(columnType, "Type", 16),
		table.NewColumn(columnUSB, "USB ID", 11),
		table.NewColumn(columnSerial, "Serial", 14),
		table.NewFlexColumn(columnDesc, "Description", 1),
	}

	rows := make([]table.Row, len(ports))
	for i, p := range ports {
		rows[i] = table.NewRow(table.RowData{
			columnPort:   p.Name,
			columnType:   getPortType(p.Name),
			columnUSB:    components.USBID(p),
			columnSerial: p.SerialNumber,
			columnDesc:   p.Description,
		})
	}

	t := table.New(columns).
		WithRows(rows).
		WithTargetWidth(100).
		BorderRounded().
		WithBaseStyle(styles.MutedStyle.UnsetBold()).
		HeaderStyle(styles.InfoStyle)
	fmt.Fprintln(out, t.View())
}

// renderSimple prints one path per line.
func renderSimple(out io.Writer, ports []rxserial.PortInfo) {
	for _, p := range ports {
		fmt.Fprintln(out, p.Path)
	}
}

// getPortType returns a more specific type classification for the port
func getPortType(name string) string {
	name = strings.ToLower(name)
	switch {
	case strings.HasPrefix(name, "ttyusb"):
		return "USB Serial"
	case strings.HasPrefix(name, "ttyacm"):
		return "USB CDC/ACM"
	case strings.HasPrefix(name, "ttyama"):
		return "ARM Serial"
	case strings.HasPrefix(name, "ttymxc"):
		return "i.MX Serial"
	case strings.HasPrefix(name, "ttys"):
		return "Standard Serial"
	case strings.HasPrefix(name, "loop"):
		return "Loopback"
	default:
		return "Serial Port"
	}
}
