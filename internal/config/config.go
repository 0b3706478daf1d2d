// Package config loads the rxserial command line configuration from a yaml
// file, RXSERIAL_ environment variables and command flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/allbin/go-rxserial"
	"github.com/allbin/go-rxserial/internal/logging"
)

// EnvPrefix prefixes environment overrides, e.g. RXSERIAL_SERIAL_BAUD_RATE.
const EnvPrefix = "RXSERIAL"

// Config is the complete command line configuration.
type Config struct {
	Serial  SerialConfig   `mapstructure:"serial"`
	Logging logging.Config `mapstructure:"logging"`
	Server  ServerConfig   `mapstructure:"server"`
}

// SerialConfig mirrors rxserial.Config in configuration-file form.
type SerialConfig struct {
	BaudRate    int            `mapstructure:"baud_rate"`
	DataBits    int            `mapstructure:"data_bits"`
	StopBits    int            `mapstructure:"stop_bits"`
	Parity      string         `mapstructure:"parity"`
	BufferSize  int            `mapstructure:"buffer_size"`
	FlowControl string         `mapstructure:"flow_control"`
	Filters     []FilterConfig `mapstructure:"filters"`
}

// FilterConfig is one port filter.
type FilterConfig struct {
	USBVendorID  *int `mapstructure:"usb_vendor_id"`
	USBProductID *int `mapstructure:"usb_product_id"`
}

// ServerConfig configures the websocket bridge served by "rxserial serve".
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

// Addr is the listen address of the server.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// New returns a viper instance with defaults and environment lookup set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	def := rxserial.DefaultConfig()
	v.SetDefault("serial.baud_rate", def.BaudRate)
	v.SetDefault("serial.data_bits", def.DataBits)
	v.SetDefault("serial.stop_bits", def.StopBits)
	v.SetDefault("serial.parity", def.Parity.String())
	v.SetDefault("serial.buffer_size", def.BufferSize)
	v.SetDefault("serial.flow_control", def.FlowControl.String())

	logs := logging.DefaultConfig()
	v.SetDefault("logging.level", logs.Level)
	v.SetDefault("logging.format", logs.Format)
	v.SetDefault("logging.output", logs.Output)
	v.SetDefault("logging.max_size", logs.MaxSize)
	v.SetDefault("logging.max_backups", logs.MaxBackups)
	v.SetDefault("logging.max_age", logs.MaxAge)
	v.SetDefault("logging.compress", logs.Compress)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8085")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
}

// Load reads file, or rxserial.yaml from $HOME/.config/rxserial and the
// working directory when file is empty. A missing default file is not an
// error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("rxserial")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "rxserial"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if _, err := cfg.Serial.Options(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Options converts the serial section to client options.
func (s SerialConfig) Options() ([]rxserial.Option, error) {
	parity, err := rxserial.ParseParity(s.Parity)
	if err != nil {
		return nil, err
	}
	flow, err := rxserial.ParseFlowControl(s.FlowControl)
	if err != nil {
		return nil, err
	}

	filters := make([]rxserial.Filter, 0, len(s.Filters))
	for _, f := range s.Filters {
		filters = append(filters, rxserial.Filter{
			USBVendorID:  f.USBVendorID,
			USBProductID: f.USBProductID,
		})
	}

	opts := []rxserial.Option{
		rxserial.WithBaudRate(s.BaudRate),
		rxserial.WithDataBits(s.DataBits),
		rxserial.WithStopBits(s.StopBits),
		rxserial.WithParity(parity),
		rxserial.WithBufferSize(s.BufferSize),
		rxserial.WithFlowControl(flow),
		rxserial.WithFilters(filters...),
	}
	if _, err := rxserial.NewConfig(opts...); err != nil {
		return nil, err
	}
	return opts, nil
}
