package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/knadh/koanf/v2"
	"github.com/m-s-sh/sim900"
	"github.com/m-s-sh/sim900/serialport"
	"github.com/urfave/cli/v2"
)

// These values are set at compile-time.
var (
	Version  = ""
	Revision = ""
)

// app holds the state shared by all commands of one invocation.
type app struct {
	k      *koanf.Koanf
	cfg    *Config
	logger *slog.Logger
}

// modem is an open serial port with the driver layered on it.
type modem struct {
	port    *serialport.Port
	channel *sim900.CommandChannel
	session *sim900.NetworkSession
}

// newApp returns a new commandline application.
func newApp() *cli.App {
	a := &app{}

	cli.VersionPrinter = func(cCtx *cli.Context) {
		fmt.Fprintf(cCtx.App.Writer, "%s (%s)\n", Version, Revision)
	}

	return &cli.App{
		Name:                   "gprsctl",
		Usage:                  "SIM900 GPRS control.",
		Version:                Version + " (" + Revision + ")",
		Description:            "Bring up and inspect the GPRS session of a SIM900 modem on a serial port.",
		Compiled:               time.Now(),
		EnableBashCompletion:   true,
		UseShortOptionHandling: true,
		Suggest:                true,
		Flags:                  appFlags(),
		Before:                 a.setup,
		Commands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "Attach to the APN, bring up the bearer and print the local address.",
				Action: a.up,
			},
			{
				Name:      "resolve",
				Usage:     "Resolve a host name through the modem.",
				ArgsUsage: "<host>",
				Action:    a.resolve,
			},
			{
				Name:            "open",
				Usage:           "Open a connection. Use -1 or default as index when multiplexing is off.",
				ArgsUsage:       "<index> <tcp|udp> <host> <port>",
				SkipFlagParsing: true,
				Action:          a.open,
			},
			{
				Name:            "close",
				Usage:           "Close a connection. Use -1 or default as index when multiplexing is off.",
				ArgsUsage:       "<index>",
				SkipFlagParsing: true,
				Action:          a.close,
			},
			{
				Name:   "status",
				Usage:  "Print the IP connection state.",
				Action: a.status,
			},
			{
				Name:   "shutdown",
				Usage:  "Deactivate the GPRS context.",
				Action: a.shutdown,
			},
			{
				Name:  "config",
				Usage: "Write the effective configuration to the configuration file.",
				Action: func(*cli.Context) error {
					if err := a.cfg.Save(a.k); err != nil {
						return err
					}
					printResult("saved", a.cfg.Path())

					return nil
				},
			},
		},
		ExitErrHandler: func(_ *cli.Context, err error) {
			if err == nil {
				return
			}

			printError(err)
		},
	}
}

func appFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			EnvVars: []string{"GPRSCTL_CONFIG"},
			Usage:   "Specify the configuration file.",
		},
		&cli.StringFlag{
			Name:    "port",
			Aliases: []string{"p"},
			EnvVars: []string{"GPRSCTL_PORT"},
			Usage:   "Specify the serial port of the modem. (For example, /dev/ttyUSB0)",
		},
		&cli.UintFlag{
			Name:    "baud",
			Aliases: []string{"b"},
			EnvVars: []string{"GPRSCTL_BAUD"},
			Usage:   "Specify the baud rate of the serial port.",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Aliases: []string{"l"},
			EnvVars: []string{"GPRSCTL_LOG_LEVEL"},
			Usage:   "Specify the log level. (debug, info, warn or error)",
		},
		&cli.StringFlag{
			Name:    "apn",
			Aliases: []string{"a"},
			EnvVars: []string{"GPRSCTL_APN"},
			Usage:   "Specify the APN to attach to.",
		},
		&cli.StringFlag{
			Name:    "user",
			Aliases: []string{"u"},
			EnvVars: []string{"GPRSCTL_USER"},
			Usage:   "Specify the APN user name.",
		},
		&cli.StringFlag{
			Name:    "password",
			EnvVars: []string{"GPRSCTL_PASSWORD"},
			Usage:   "Specify the APN password.",
		},
		&cli.StringFlag{
			Name:    "dns-primary",
			EnvVars: []string{"GPRSCTL_DNS_PRIMARY"},
			Usage:   "Specify the primary DNS server set after bring-up.",
		},
		&cli.StringFlag{
			Name:    "dns-secondary",
			EnvVars: []string{"GPRSCTL_DNS_SECONDARY"},
			Usage:   "Specify the secondary DNS server set after bring-up.",
		},
		&cli.BoolFlag{
			Name:    "mux",
			Aliases: []string{"m"},
			EnvVars: []string{"GPRSCTL_MUX"},
			Usage:   "Enable multi-connection mode during bring-up.",
		},
		&cli.BoolFlag{
			Name:    "control-lines",
			EnvVars: []string{"GPRSCTL_CONTROL_LINES"},
			Usage:   "Drive the power key from DTR and reset from RTS.",
		},
		&cli.BoolFlag{
			Name:    "no-progress",
			EnvVars: []string{"GPRSCTL_NO_PROGRESS"},
			Usage:   "Do not display a spinner during slow steps.",
		},
	}
}

// setup loads and validates the configuration and creates the logger.
func (a *app) setup(cliCtx *cli.Context) error {
	a.k, a.cfg = koanf.New("."), NewConfig()
	if err := a.cfg.Load(a.k, cliCtx); err != nil {
		return err
	}
	if err := a.cfg.ValidateValues(); err != nil {
		return err
	}

	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: a.cfg.Values.Level,
	})).With(slog.String("run", uuid.NewString()))

	return nil
}

// connect opens the serial port and starts the modem. A fresh start also
// tears down any previous IP session; otherwise the modem is only probed so
// that a session brought up by an earlier run stays usable.
func (a *app) connect(cliCtx *cli.Context, fresh bool) (*modem, error) {
	v := a.cfg.Values

	mode := serialport.DefaultMode()
	mode.BaudRate = int(v.Baud)
	port, err := serialport.Dialer{PortName: v.Port, Mode: &mode, Logger: a.logger}.Dial(cliCtx.Context)
	if err != nil {
		return nil, err
	}

	var power, reset sim900.Pin
	if v.ControlLines {
		power, reset = port.PowerPin(), port.ResetPin()
	}

	m := &modem{port: port}
	m.channel = sim900.New(port, power, reset, sim900.WithLogger(a.logger))
	m.session = sim900.NewSession(m.channel, a.logger)

	err = a.step("starting modem", func() error {
		if fresh {
			return m.session.Begin(v.Baud)
		}
		if err := m.channel.Begin(v.Baud); err != nil {
			return err
		}
		m.channel.SetEcho(false)

		return nil
	})
	if err != nil {
		port.Close()
		return nil, err
	}

	return m, nil
}

// step runs a slow operation behind a spinner unless disabled.
func (a *app) step(description string, fn func() error) error {
	var w io.Writer = os.Stderr
	if a.cfg.Values.NoProgress {
		w = nil
	}

	return withSpinner(w, description, fn)
}

func (a *app) up(cliCtx *cli.Context) error {
	v := a.cfg.Values
	if err := v.validateAPN(); err != nil {
		return err
	}

	m, err := a.connect(cliCtx, true)
	if err != nil {
		return err
	}
	defer m.port.Close()

	s := m.session
	if err := s.UseMultiplexer(v.Mux); err != nil {
		return err
	}
	if err := s.Attach(v.APN, v.User, v.Password); err != nil {
		return err
	}
	if err := a.step("bringing up bearer", s.BringUp); err != nil {
		return err
	}

	ip, err := s.ObtainIP()
	if err != nil {
		return err
	}
	if v.DNSPrimary != "" {
		if err := s.ConfigureDNS(v.DNSPrimary, v.DNSSecondary); err != nil {
			return err
		}
	}

	printResult("ip", ip.String())

	return nil
}

func (a *app) resolve(cliCtx *cli.Context) error {
	if cliCtx.NArg() != 1 {
		return fmt.Errorf("resolve: expected <host>, got %d arguments", cliCtx.NArg())
	}
	host := cliCtx.Args().First()

	m, err := a.connect(cliCtx, false)
	if err != nil {
		return err
	}
	defer m.port.Close()

	var ip sim900.IPAddress
	err = a.step("resolving "+host, func() error {
		ip, err = m.session.Resolve(host)
		return err
	})
	if err != nil {
		return err
	}

	printResult(host, ip.String())

	return nil
}

func (a *app) open(cliCtx *cli.Context) error {
	if cliCtx.NArg() != 4 {
		return fmt.Errorf("open: expected <index> <tcp|udp> <host> <port>, got %d arguments", cliCtx.NArg())
	}
	args := cliCtx.Args()

	index, err := parseIndex(args.Get(0))
	if err != nil {
		return err
	}
	mode, err := sim900.ParseConnectionType(args.Get(1))
	if err != nil {
		return err
	}
	port, err := strconv.ParseUint(args.Get(3), 10, 16)
	if err != nil {
		return fmt.Errorf("%s: invalid port", args.Get(3))
	}

	m, err := a.connect(cliCtx, false)
	if err != nil {
		return err
	}
	defer m.port.Close()

	if err := a.syncMultiplexer(m, index); err != nil {
		return err
	}
	if err := m.session.Open(index, mode, args.Get(2), uint16(port)); err != nil {
		return err
	}

	printResult("connection", fmt.Sprintf("%d %s", index, m.session.ConnectionState(index)))

	return nil
}

func (a *app) close(cliCtx *cli.Context) error {
	if cliCtx.NArg() != 1 {
		return fmt.Errorf("close: expected <index>, got %d arguments", cliCtx.NArg())
	}

	index, err := parseIndex(cliCtx.Args().First())
	if err != nil {
		return err
	}

	m, err := a.connect(cliCtx, false)
	if err != nil {
		return err
	}
	defer m.port.Close()

	if err := a.syncMultiplexer(m, index); err != nil {
		return err
	}
	if err := m.session.Close(index); err != nil {
		return err
	}

	printResult("connection", fmt.Sprintf("%d %s", index, m.session.ConnectionState(index)))

	return nil
}

func (a *app) status(cliCtx *cli.Context) error {
	m, err := a.connect(cliCtx, false)
	if err != nil {
		return err
	}
	defer m.port.Close()

	state, err := m.session.Status()
	if err != nil {
		return err
	}

	printResult("state", state)

	return nil
}

func (a *app) shutdown(cliCtx *cli.Context) error {
	m, err := a.connect(cliCtx, false)
	if err != nil {
		return err
	}
	defer m.port.Close()

	if err := m.session.Shutdown(); err != nil {
		return err
	}

	printResult("state", m.session.State().String())

	return nil
}

// syncMultiplexer reads the modem's multi-connection mode when a slot
// index is used, so the session accepts it.
func (a *app) syncMultiplexer(m *modem, index int) error {
	if index == sim900.DefaultConnection {
		return nil
	}

	mux, err := m.session.QueryMultiplexer()
	if err != nil {
		return err
	}
	if !mux {
		printWarn("multi-connection mode is off, use default as the connection index")
	}

	return nil
}

// parseIndex reads a connection index. "default" names the single
// connection used without multiplexing.
func parseIndex(s string) (int, error) {
	if s == "default" {
		return sim900.DefaultConnection, nil
	}

	index, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid connection index", s)
	}

	return index, nil
}
