package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"slices"

	"github.com/knadh/koanf/parsers/hjson"
	"github.com/knadh/koanf/providers/cliflagv2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v2"
)

const (
	configDir  = "gprsctl"
	configFile = "gprsctl.conf"
)

// supportedBaudRates are the fixed rates of the SIM900 UART.
var supportedBaudRates = []uint32{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200}

// Config describes the configuration for the app.
type Config struct {
	path string

	Values Values
}

// Values describes the possible configuration values that a user can
// modify and supply to the application.
type Values struct {
	Port         string `koanf:"port"`
	Baud         uint32 `koanf:"baud"`
	LogLevel     string `koanf:"log-level"`
	APN          string `koanf:"apn"`
	User         string `koanf:"user"`
	Password     string `koanf:"password"`
	DNSPrimary   string `koanf:"dns-primary"`
	DNSSecondary string `koanf:"dns-secondary"`
	Mux          bool   `koanf:"mux"`
	ControlLines bool   `koanf:"control-lines"`
	NoProgress   bool   `koanf:"no-progress"`

	Level slog.Level `koanf:"-"`
}

// NewConfig returns a new configuration.
func NewConfig() *Config {
	return &Config{
		Values: Values{
			Port:     "/dev/ttyUSB0",
			Baud:     9600,
			LogLevel: "warn",
		},
	}
}

// DefaultPath returns the configuration file location under the user's
// configuration directory.
func DefaultPath() (string, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		homedir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(homedir, ".config")
	}

	return filepath.Join(dir, configDir, configFile), nil
}

// Load loads the configuration from the configuration file and the
// command-line flags. A missing configuration file is not an error.
func (c *Config) Load(k *koanf.Koanf, cliCtx *cli.Context) error {
	c.path = cliCtx.String("config")
	if c.path == "" {
		path, err := DefaultPath()
		if err != nil {
			return err
		}
		c.path = path
	}

	if _, err := os.Stat(c.path); err == nil {
		if err := k.Load(file.Provider(c.path), hjson.Parser()); err != nil {
			return fmt.Errorf("%s: %w", c.path, err)
		}
	}

	// required for koanf to merge all global flags under the root namespace.
	cliCtx.Command.Name = "global"
	if err := k.Load(cliflagv2.Provider(cliCtx, "."), nil); err != nil {
		return err
	}

	return k.UnmarshalWithConf("", &c.Values, koanf.UnmarshalConf{Tag: "koanf"})
}

// Path returns the configuration file in use.
func (c *Config) Path() string {
	return c.path
}

// Save writes the loaded configuration to the configuration file.
func (c *Config) Save(k *koanf.Koanf) error {
	all := k.All()
	delete(all, "config")

	data, err := hjson.Parser().Marshal(all)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("the configuration directory could not be created: %w", err)
	}

	return os.WriteFile(c.path, data, 0o600)
}

// ValidateValues validates the configuration values.
func (c *Config) ValidateValues() error {
	return c.Values.validateValues()
}

// validateValues validates all configuration values.
func (v *Values) validateValues() error {
	for _, validate := range []func() error{
		v.validatePort,
		v.validateBaud,
		v.validateLogLevel,
		v.validateDNS,
	} {
		if err := validate(); err != nil {
			return err
		}
	}

	return nil
}

func (v *Values) validatePort() error {
	if v.Port == "" {
		return errors.New("no serial port was specified")
	}

	return nil
}

func (v *Values) validateBaud() error {
	if !slices.Contains(supportedBaudRates, v.Baud) {
		return fmt.Errorf("%d: unsupported baud rate, use one of %v", v.Baud, supportedBaudRates)
	}

	return nil
}

func (v *Values) validateLogLevel() error {
	if err := v.Level.UnmarshalText([]byte(v.LogLevel)); err != nil {
		return fmt.Errorf("%s: invalid log level", v.LogLevel)
	}

	return nil
}

// validateDNS checks the DNS servers are IPv4 literals. A secondary server
// needs a primary one.
func (v *Values) validateDNS() error {
	if v.DNSPrimary == "" {
		if v.DNSSecondary != "" {
			return errors.New("a secondary DNS server was given without a primary one")
		}

		return nil
	}

	for _, server := range []string{v.DNSPrimary, v.DNSSecondary} {
		if server == "" {
			continue
		}

		addr, err := netip.ParseAddr(server)
		if err != nil || !addr.Is4() {
			return fmt.Errorf("%s: DNS server must be an IPv4 address", server)
		}
	}

	return nil
}

// validateAPN checks the values needed to attach to the network.
func (v *Values) validateAPN() error {
	if v.APN == "" {
		return errors.New("no APN was specified")
	}

	return nil
}
