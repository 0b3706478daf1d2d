/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/allbin/go-rxserial/internal/wsbridge"
	"github.com/allbin/go-rxserial/native"
)

const shutdownTimeout = 5 * time.Second

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve [port]",
	Short: "Bridge a serial port to a websocket",
	Long: `Serve a serial port over HTTP.

GET /ports lists the ports, GET /status reports the connection, POST /connect
and POST /disconnect open and close the port and GET /ws attaches a
websocket: data read from the port is sent as binary frames and every frame
received is written to the port. A new websocket peer takes over the port
from the previous one.

With a port argument the port is opened at start-up.

Example usage:
  rxserial serve /dev/ttyUSB0
  rxserial serve --host 0.0.0.0 --port 9000
  rxserial serve --loopback`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		platform := newPlatform(native.FirstMatch)
		client, err := newClient(platform)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = client.Disconnect(ctx)
		}()

		if len(args) == 1 {
			if err := client.Connect(ctx, resolvePort(platform, args[0])); err != nil {
				return err
			}
		}

		if logger.Core().Enabled(zap.DebugLevel) {
			gin.SetMode(gin.DebugMode)
		} else {
			gin.SetMode(gin.ReleaseMode)
		}

		bridge := wsbridge.New(client, logger, cfg.Server.AllowedOrigins)
		srv := &http.Server{
			Addr:         cfg.Server.Addr(),
			Handler:      bridge.Handler(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}

		serveErr := make(chan error, 1)
		go func() {
			logger.Info("Starting server", zap.String("address", srv.Addr))
			serveErr <- srv.ListenAndServe()
		}()
		fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s\n", srv.Addr)

		select {
		case err := <-serveErr:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Hijacked websocket connections are not tracked by Shutdown; closing
		// the port ends their streams.
		_ = client.Disconnect(shutdownCtx)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		logger.Info("Server exited")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Address to listen on (default: 127.0.0.1)")
	serveCmd.Flags().String("port", "", "Port to listen on (default: 8085)")
	serveCmd.Flags().StringSlice("allowed-origins", nil, "Origins allowed to connect (default: any)")

	_ = v.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = v.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = v.BindPFlag("server.allowed_origins", serveCmd.Flags().Lookup("allowed-origins"))
}
