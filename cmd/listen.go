/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/allbin/go-rxserial/internal/tui/components"
	"github.com/allbin/go-rxserial/internal/tui/models"
)

// listenCmd represents the listen command
var listenCmd = &cobra.Command{
	Use:   "listen [port]",
	Short: "Watch and write a serial port in a terminal UI",
	Long: `Open a serial port and display everything read from it in real time.

Without a port argument a picker lists the ports matching the configured
filters. Press i to type a line to send, tab to switch between ASCII and hex
input, and ? for all key bindings.

Example usage:
  rxserial listen /dev/ttyUSB0
  rxserial listen /dev/ttyUSB0 --baud 115200 --hex
  rxserial listen --read-only
  rxserial listen --loopback`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		noTimestamps, _ := cmd.Flags().GetBool("no-timestamps")
		hexMode, _ := cmd.Flags().GetBool("hex")
		rawMode, _ := cmd.Flags().GetBool("raw")
		newline, _ := cmd.Flags().GetBool("newline")
		readOnly, _ := cmd.Flags().GetBool("read-only")

		var path string
		if len(args) == 1 {
			path = args[0]
		}

		platform := newPlatform(models.PortSelector)
		client, err := newClient(platform)
		if err != nil {
			return err
		}

		display := components.DisplayMode{
			ShowHex:        hexMode,
			ShowASCII:      true,
			ShowTimestamps: !noTimestamps,
		}
		if rawMode {
			display = components.DisplayMode{ShowASCII: true}
		}

		m := models.NewListen(client, models.ListenOptions{
			Port:     resolvePort(platform, path),
			Display:  display,
			Newline:  newline,
			ReadOnly: readOnly,
		})
		defer m.Close()

		p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(cmd.Context()))
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("error running listen UI: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listenCmd)

	listenCmd.Flags().Bool("no-timestamps", false, "Hide timestamps from output")
	listenCmd.Flags().Bool("hex", false, "Show received data as hex as well as ASCII")
	listenCmd.Flags().Bool("raw", false, "Raw output mode: ASCII only, no timestamps")
	listenCmd.Flags().BoolP("newline", "n", true, "Append a newline to every line sent")
	listenCmd.Flags().Bool("read-only", false, "Only display data, disable the input line")
}
