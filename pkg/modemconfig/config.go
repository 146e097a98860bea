// Package modemconfig holds the simulator's validated configuration:
// the required SerialConfig built from CLI arguments, and an optional
// YAML-loaded MonitorConfig for the observational REST/WS surface.
package modemconfig

import (
	"fmt"
	"os"
	"strconv"

	"github.com/comx-labs/modemsim/pkg/modemerr"
	"github.com/comx-labs/modemsim/pkg/serialport"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// supportedBaudRates is the driver-enumerated baud table referenced by
// spec §1/§6; validated here in the external-collaborator layer, not in
// pkg/serialport itself.
var supportedBaudRates = map[int]bool{
	1200: true, 2400: true, 4800: true, 9600: true, 19200: true,
	38400: true, 57600: true, 115200: true, 230400: true,
}

// DefaultBaud and DefaultFraming are the CLI's defaults per spec §6.
const (
	DefaultBaud    = 9600
	DefaultFraming = "8N1"
)

// BuildSerialConfig validates the CLI-facing arguments (port path,
// baud, and a three-character framing string of the form digit-letter-
// digit/decimal) and produces the immutable serialport.Config the core
// uses.
func BuildSerialConfig(portPath string, baud int, framing string) (serialport.Config, error) {
	if portPath == "" {
		return serialport.Config{}, modemerr.Config("serial port path required", nil)
	}
	if !supportedBaudRates[baud] {
		return serialport.Config{}, modemerr.Config(fmt.Sprintf("unsupported baud rate %d", baud), nil)
	}

	dataBits, parity, stopBits, err := parseFraming(framing)
	if err != nil {
		return serialport.Config{}, err
	}

	return serialport.NewConfig(portPath, baud, dataBits, parity, stopBits)
}

// parseFraming parses a 3-character framing string like "8N1" into its
// components.
func parseFraming(framing string) (int, rune, float64, error) {
	if len(framing) != 3 {
		return 0, 0, 0, modemerr.Config(fmt.Sprintf("framing must be 3 characters, got %q", framing), nil)
	}
	dataBits, err := strconv.Atoi(string(framing[0]))
	if err != nil {
		return 0, 0, 0, modemerr.Config(fmt.Sprintf("invalid data bits in framing %q", framing), err)
	}
	parity := []rune(framing)[1]
	stopBits, err := strconv.ParseFloat(string(framing[2]), 64)
	if err != nil {
		return 0, 0, 0, modemerr.Config(fmt.Sprintf("invalid stop bits in framing %q", framing), err)
	}
	return dataBits, parity, stopBits, nil
}

// MonitorConfig toggles and configures the optional observational
// REST/WS surface (pkg/monitor). It is entirely optional: when no
// --config file is given, Enabled stays false (the zero value) and the
// monitor never starts.
type MonitorConfig struct {
	Enabled  bool   `yaml:"enabled" validate:"-"`
	Addr     string `yaml:"addr" validate:"required_if=Enabled true,omitempty,hostname_port"`
	AuthJWT  bool   `yaml:"auth_jwt" validate:"-"`
	JWTKey   string `yaml:"jwt_key" validate:"required_if=AuthJWT true"`
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// LoadMonitorConfig loads and validates a MonitorConfig from a YAML
// file. An empty path yields a disabled, zero-value config.
func LoadMonitorConfig(path string) (MonitorConfig, error) {
	if path == "" {
		return MonitorConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return MonitorConfig{}, modemerr.Config("reading monitor config file", err)
	}

	var cfg MonitorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return MonitorConfig{}, modemerr.Config("parsing monitor config file", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return MonitorConfig{}, modemerr.Config("validating monitor config", err)
	}

	return cfg, nil
}
