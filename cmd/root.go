/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/allbin/go-rxserial"
	"github.com/allbin/go-rxserial/internal/config"
	"github.com/allbin/go-rxserial/internal/logging"
	"github.com/allbin/go-rxserial/native"
	"github.com/allbin/go-rxserial/serialtest"
)

var (
	cfgFile  string
	loopback bool

	v      = config.New()
	cfg    *config.Config
	logger = zap.NewNop()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rxserial",
	Short: "Stream serial ports as observables",
	Long: `rxserial opens serial ports and exposes their byte streams.

Ports can be listed, watched in a terminal UI, written to from the command
line or bridged to a websocket. Settings are read from rxserial.yaml in
$HOME/.config/rxserial or the working directory, from RXSERIAL_ environment
variables and from flags, in increasing order of precedence.

Example usage:
  rxserial list --table
  rxserial listen /dev/ttyUSB0 --baud 115200
  rxserial send "AT" /dev/ttyACM0 --newline
  rxserial serve --port 8085`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded

		l, err := logging.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to set up logging: %w", err)
		}
		logger = l
		logger.Debug("Configuration loaded",
			zap.String("file", v.ConfigFileUsed()),
			zap.Bool("loopback", loopback),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/rxserial/rxserial.yaml)")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("log-format", "", "Log format: console, json")
	flags.String("log-output", "", "Log output: stderr, stdout or a file path")
	flags.BoolVar(&loopback, "loopback", false, "Use an in-memory loopback port instead of the system ports")

	flags.IntP("baud", "b", 0, "Baud rate (default: 9600)")
	flags.Int("data-bits", 0, "Data bits: 7 or 8")
	flags.Int("stop-bits", 0, "Stop bits: 1 or 2")
	flags.String("parity", "", "Parity: none, even, odd")
	flags.String("flow-control", "", "Flow control: none, hardware")
	flags.Int("buffer-size", 0, "Read buffer size in bytes")

	_ = v.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("logging.format", flags.Lookup("log-format"))
	_ = v.BindPFlag("logging.output", flags.Lookup("log-output"))
	_ = v.BindPFlag("serial.baud_rate", flags.Lookup("baud"))
	_ = v.BindPFlag("serial.data_bits", flags.Lookup("data-bits"))
	_ = v.BindPFlag("serial.stop_bits", flags.Lookup("stop-bits"))
	_ = v.BindPFlag("serial.parity", flags.Lookup("parity"))
	_ = v.BindPFlag("serial.flow_control", flags.Lookup("flow-control"))
	_ = v.BindPFlag("serial.buffer_size", flags.Lookup("buffer-size"))
}

// newPlatform returns the serial backend. Selection through RequestPort
// goes to sel. A nil platform is returned when the system has no backend;
// rxserial.NewClient reports that as BROWSER_NOT_SUPPORTED.
func newPlatform(sel native.Selector) rxserial.Platform {
	if loopback {
		return serialtest.NewPlatform(serialtest.NewLoopback("loop0"))
	}
	if !native.Available() {
		return nil
	}
	return native.New(native.WithSelector(sel), native.WithLogger(logger))
}

// newClient builds a client from the loaded configuration.
func newClient(platform rxserial.Platform) (*rxserial.Client, error) {
	opts, err := cfg.Serial.Options()
	if err != nil {
		return nil, err
	}
	return rxserial.NewClient(platform, logger, opts...)
}

// resolvePort maps a path argument to a port handle. Without a path the
// client asks the platform, which may prompt the user.
func resolvePort(platform rxserial.Platform, path string) rxserial.Port {
	if path == "" {
		return nil
	}
	if np, ok := platform.(*native.Platform); ok {
		return np.Port(path)
	}
	return nil
}
