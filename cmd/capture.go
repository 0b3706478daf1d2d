/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/allbin/go-rxserial"
	"github.com/allbin/go-rxserial/native"
	"github.com/allbin/go-rxserial/rx"
)

// captureCmd represents the capture command
var captureCmd = &cobra.Command{
	Use:   "capture <output-file> [port]",
	Short: "Capture serial data to a file",
	Long: `Capture incoming serial data to a file for later parsing.

Subscribes to the read stream of the port and appends every chunk to the
output file. Runs until interrupted (Ctrl+C) or until the port stops
producing data.

Example usage:
  rxserial capture data.log /dev/ttyUSB0
  rxserial capture output.txt /dev/ttyUSB0 --baud 9600
  rxserial capture capture.log /dev/ttyUSB0 --console`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		showConsole, _ := cmd.Flags().GetBool("console")

		var path string
		if len(args) == 2 {
			path = args[1]
		}

		file, err := os.OpenFile(args[0], os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open output file: %w", err)
		}
		defer file.Close()

		platform := newPlatform(native.FirstMatch)
		client, err := newClient(platform)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := client.Connect(ctx, resolvePort(platform, path)); err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = client.Disconnect(ctx)
		}()

		var console io.Writer
		if showConsole {
			console = cmd.OutOrStdout()
		}

		errOut := cmd.ErrOrStderr()
		fmt.Fprintf(errOut, "Capturing data from %s to %s\n", client.CurrentPort().Info(), args[0])
		fmt.Fprintf(errOut, "Press Ctrl+C to stop\n\n")

		start := time.Now()
		n, err := capture(ctx, client, file, console)
		fmt.Fprintf(errOut, "\nCapture complete: %d bytes written in %v\n", n, time.Since(start).Round(time.Millisecond))
		return err
	},
}

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().BoolP("console", "c", false, "Display incoming data on console while capturing")
}

// capture copies the read stream of client into w, and into console when
// set, until ctx is done or the stream ends. Cancellation is a clean stop.
func capture(ctx context.Context, client *rxserial.Client, w io.Writer, console io.Writer) (int64, error) {
	chunks, err := client.ReadStream()
	if err != nil {
		return 0, err
	}

	var written atomic.Int64
	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}

	sub := chunks.Subscribe(rx.Funcs[[]byte]{
		Next: func(chunk []byte) {
			n, err := w.Write(chunk)
			written.Add(int64(n))
			if err != nil {
				finish(fmt.Errorf("write error: %w", err))
				return
			}
			if console != nil {
				_, _ = console.Write(chunk)
			}
		},
		Error:    finish,
		Complete: func() { finish(nil) },
	})
	defer sub.Unsubscribe()

	select {
	case err = <-done:
	case <-ctx.Done():
	}
	return written.Load(), err
}
