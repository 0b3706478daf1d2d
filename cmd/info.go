/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/allbin/go-rxserial"
	"github.com/allbin/go-rxserial/native"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info <port>",
	Short: "Display detailed information about a serial port",
	Long: `Display detailed information about a serial port including USB metadata,
together with the connection settings rxserial would open it with and
whether the configured filters select it.

Examples:
  rxserial info /dev/ttyUSB0
  rxserial info /dev/ttyACM0 --baud 115200`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := listPorts(cmd.Context())
		if err != nil {
			return err
		}

		for _, p := range ports {
			if p.Path == args[0] || p.Name == args[0] {
				client, err := newClient(newPlatform(native.FirstMatch))
				if err != nil {
					return err
				}
				return printInfo(cmd.OutOrStdout(), p, client.Config())
			}
		}
		return rxserial.NewError(rxserial.PortNotAvailable, fmt.Sprintf("no serial port %s", args[0]), nil)
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func printInfo(out io.Writer, info rxserial.PortInfo, cfg rxserial.Config) error {
	fmt.Fprintf(out, "Port Information: %s\n\n", info.Path)
	fmt.Fprintf(out, "  Name:        %s\n", info.Name)
	fmt.Fprintf(out, "  Description: %s\n", info.Description)
	fmt.Fprintf(out, "  Type:        %s\n", getPortType(info.Name))

	if info.USBVendorID != nil || info.USBProductID != nil {
		fmt.Fprintln(out, "\nUSB Device Information:")
		if info.USBVendorID != nil {
			fmt.Fprintf(out, "  Vendor ID:   %04x\n", *info.USBVendorID)
		}
		if info.USBProductID != nil {
			fmt.Fprintf(out, "  Product ID:  %04x\n", *info.USBProductID)
		}
		if info.SerialNumber != "" {
			fmt.Fprintf(out, "  Serial:      %s\n", info.SerialNumber)
		}
	}

	opts, err := rxserial.BuildRequestOptions(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nConnection:")
	fmt.Fprintf(out, "  Settings:    %s\n", cfg)
	fmt.Fprintf(out, "  Selectable:  %t\n", opts.Matches(info))
	return nil
}
