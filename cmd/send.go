/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/allbin/go-rxserial"
	"github.com/allbin/go-rxserial/internal/tui/components"
	"github.com/allbin/go-rxserial/internal/tui/styles"
	"github.com/allbin/go-rxserial/native"
	"github.com/allbin/go-rxserial/rx"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send [data] [port]",
	Short: "Send data to a serial port",
	Long: `Send data to a serial port.

Data given as an argument is written in a single write. Without a data
argument every line read from stdin is streamed to the port as it arrives,
until stdin is closed. Without a port the first port matching the
configured filters is used.

Example usage:
  rxserial send "Hello World" /dev/ttyUSB0
  rxserial send "AT+GMR" /dev/ttyUSB0 --newline
  rxserial send --hex "02 06 ff" /dev/ttyUSB0
  tail -f commands.txt | rxserial send --stdin /dev/ttyUSB0`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addNewline, _ := cmd.Flags().GetBool("newline")
		hexMode, _ := cmd.Flags().GetBool("hex")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		fromStdin, _ := cmd.Flags().GetBool("stdin")

		var data, path string
		switch {
		case fromStdin && len(args) == 2:
			return fmt.Errorf("data argument cannot be combined with --stdin")
		case fromStdin && len(args) == 1:
			path = args[0]
		case len(args) == 2:
			data, path = args[0], args[1]
		case len(args) == 1:
			data = args[0]
		case !stdinIsPipe():
			return fmt.Errorf("no data given: pass it as an argument or pipe it to stdin")
		default:
			fromStdin = true
		}

		enc := encoder{hex: hexMode, newline: addNewline}

		platform := newPlatform(native.FirstMatch)
		client, err := newClient(platform)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		label := path
		if label == "" {
			label = "first matching port"
		}
		fmt.Fprintf(out, "%s Opening %s (%s)...\n", styles.InfoStyle.Render("⚡"), label, client.Config())

		openCtx, cancel := context.WithTimeout(cmd.Context(), timeout)
		err = client.Connect(openCtx, resolvePort(platform, path))
		cancel()
		if err != nil {
			return fmt.Errorf("%s %w", styles.ErrorStyle.Render("✗"), err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			_ = client.Disconnect(ctx)
		}()
		fmt.Fprintf(out, "%s Connected to %s\n", styles.SuccessStyle.Render("✓"), client.CurrentPort().Info())

		if fromStdin {
			n, err := streamLines(cmd.Context(), client, cmd.InOrStdin(), enc)
			if err != nil {
				return fmt.Errorf("%s %w", styles.ErrorStyle.Render("✗"), err)
			}
			fmt.Fprintf(out, "%s Streamed %d line(s)\n", styles.SuccessStyle.Render("✓"), n)
			return nil
		}

		chunk, err := enc.encode(data)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s Sending %d bytes...\n", styles.InfoStyle.Render("📤"), len(chunk))

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		if err := client.Write(ctx, chunk); err != nil {
			return fmt.Errorf("%s failed to send data: %w", styles.ErrorStyle.Render("✗"), err)
		}

		fmt.Fprintf(out, "%s Successfully sent %d bytes\n", styles.SuccessStyle.Render("✓"), len(chunk))
		fmt.Fprintf(out, "%s Data: %s\n", styles.InfoStyle.Render("📋"), preview(chunk))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().BoolP("newline", "n", false, "Add newline character to the end of data")
	sendCmd.Flags().BoolP("hex", "x", false, "Interpret data as hexadecimal (e.g., '48656c6c6f' for 'Hello')")
	sendCmd.Flags().DurationP("timeout", "t", 5*time.Second, "Timeout for opening the port and for each write")
	sendCmd.Flags().Bool("stdin", false, "Stream lines from stdin instead of sending a data argument")
}

// encoder turns user input into the bytes written to the port.
type encoder struct {
	hex     bool
	newline bool
}

func (e encoder) encode(s string) ([]byte, error) {
	if e.hex {
		b, err := components.ParseHex(s)
		if err != nil {
			return nil, fmt.Errorf("invalid hex data: %w", err)
		}
		return b, nil
	}
	if e.newline {
		s += "\n"
	}
	return []byte(s), nil
}

// streamLines writes every line of r through a single write stream. It
// returns once r is exhausted and every line has been written.
func streamLines(ctx context.Context, client *rxserial.Client, r io.Reader, enc encoder) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			chunk, err := enc.encode(scanner.Text())
			if err != nil {
				scanErr <- err
				return
			}
			if len(chunk) == 0 {
				continue
			}
			select {
			case lines <- chunk:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	count := 0
	counted := rx.Map(rx.FromChannel(lines), func(chunk []byte) []byte {
		count++
		return chunk
	})
	writes, err := client.WriteStream(counted)
	if err != nil {
		return 0, err
	}
	if _, err := rx.Collect(ctx, writes); err != nil {
		return count, err
	}
	if err := <-scanErr; err != nil {
		return count, err
	}
	return count, nil
}

// preview shows the first 50 bytes with non-printable characters replaced.
func preview(data []byte) string {
	s := string(data)
	suffix := ""
	if len(s) > 50 {
		s, suffix = s[:50], "..."
	}
	return strings.Map(func(r rune) rune {
		if r < 32 || r > 126 {
			return '·'
		}
		return r
	}, s) + suffix
}

// stdinIsPipe reports whether stdin carries piped data.
func stdinIsPipe() bool {
	stat, err := os.Stdin.Stat()
	return err == nil && stat.Mode()&os.ModeCharDevice == 0
}
