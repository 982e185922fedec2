package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/magi8101/ariadbg/internal/config"
	"github.com/magi8101/ariadbg/internal/debug"
	"github.com/magi8101/ariadbg/internal/debug/dap"
	"github.com/magi8101/ariadbg/internal/logging"
)

// CLI is the command-line interface. Flags override the configuration file
// and the environment.
type CLI struct {
	Version    kong.VersionFlag `help:"Show version information"`
	ConfigFile string           `name:"config" short:"c" help:"Path to a TOML or YAML configuration file" type:"path" env:"ARIADBG_CONFIG"`
	Transport  string           `help:"Transport to the debug server (websocket or tcp)"`
	URL        string           `name:"url" help:"WebSocket endpoint of the debug server"`
	Address    string           `help:"host:port of a tcp debug adapter"`
	Timeout    time.Duration    `help:"Default request timeout (0 keeps the configured value)"`
	ThreadID   int              `name:"thread" help:"Thread targeted by step and continue commands"`
	LogLevel   string           `help:"Log level (debug, info, warn, error)"`
	LogFile    string           `help:"Write logs to this file instead of stderr" type:"path"`

	Repl   ReplCmd   `cmd:"" default:"1" help:"Start the interactive debugging console (default)"`
	Config ConfigCmd `cmd:"config" help:"Print the effective configuration"`
	Env    EnvCmd    `cmd:"env" help:"List the environment variables that override configuration"`
}

// loader returns the configuration loader for the selected file. An
// explicit --config must exist; the per-user default may not.
func (c *CLI) loader() config.Loader {
	if c.ConfigFile != "" {
		return config.Loader{Path: c.ConfigFile, Required: true}
	}
	return config.Loader{Path: config.DefaultPath()}
}

// load resolves the configuration: defaults, file, environment, flags.
func (c *CLI) load() (*config.Config, error) {
	cfg, err := c.loader().Load()
	if err != nil {
		return nil, err
	}
	c.applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func (c *CLI) applyFlags(cfg *config.Config) {
	if c.Transport != "" {
		cfg.Server.Transport = c.Transport
	}
	if c.URL != "" {
		cfg.Server.URL = c.URL
	}
	if c.Address != "" {
		cfg.Server.Address = c.Address
	}
	if c.Timeout > 0 {
		cfg.Requests.Timeout = config.Duration(c.Timeout)
	}
	if c.ThreadID > 0 {
		cfg.Session.ThreadID = c.ThreadID
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	if c.LogFile != "" {
		cfg.Logging.File = c.LogFile
	}
}

func newDialer(cfg *config.Config) dap.Dialer {
	if cfg.Server.Transport == config.TransportTCP {
		return &dap.StreamDialer{Address: cfg.Server.Address}
	}
	return &dap.WebSocketDialer{URL: cfg.Server.URL}
}

// ReplCmd runs the interactive console.
type ReplCmd struct{}

// Run connects to the debug server and reads commands from stdin until
// quit, end of input or a signal.
func (r *ReplCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return err
	}
	defer logger.Close()

	client := dap.NewClient(newDialer(cfg), dap.ClientOptions{
		ReconnectDelay: cfg.Reconnect.Delay.Std(),
		RequestTimeout: cfg.Requests.Timeout.Std(),
		Logger:         logger.Logger,
	})
	session := debug.NewSession(client,
		debug.WithLogger(logger.Logger),
		debug.WithThreadID(cfg.Session.ThreadID),
		debug.WithConsoleLimit(cfg.Session.ConsoleLimit),
	)
	defer session.Close()
	ctl := debug.NewController(session)

	out := newPrinter(os.Stdout)
	defer session.Subscribe(out.follow(session))()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out.printf("%s\nsession %s, type \"help\" for commands\n", versionInfo(), session.ID())
	if err := client.Connect(ctx); err != nil {
		logger.Warn("initial connection failed, retrying", "error", err, "delay", cfg.Reconnect.Delay)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return newREPL(ctl, client, out).run(gctx, os.Stdin)
	})

	if path := cli.loader().Path; path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			w, err := config.NewWatcher(cli.loader(), func(next *config.Config, err error) {
				if err != nil {
					out.printf("config reload failed: %v\n", err)
					return
				}
				cli.applyFlags(next)
				logger.SetLevel(next.Logging.Level)
				client.Dispatcher().SetDefaultTimeout(next.Requests.Timeout.Std())
			}, config.WithWatcherLogger(logger.Logger))
			if err != nil {
				return err
			}
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	err = g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), debug.DefaultStopTimeout+time.Second)
	defer cancel()
	if serr := ctl.Stop(stopCtx); serr != nil {
		logger.Debug("stop on exit", "error", serr)
	}

	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}

// ConfigCmd prints the resolved configuration.
type ConfigCmd struct {
	Format string `help:"Output format (toml or yaml)" default:"toml" enum:"toml,yaml"`
}

// Run prints the configuration to stdout.
func (c *ConfigCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	return writeConfig(os.Stdout, cfg, c.Format)
}

func writeConfig(w io.Writer, cfg *config.Config, format string) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case "yaml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = toml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// EnvCmd lists environment overrides.
type EnvCmd struct{}

// Run prints one variable name per line.
func (e *EnvCmd) Run() error {
	fmt.Println("ARIADBG_CONFIG")
	for _, name := range config.EnvNames() {
		fmt.Println(name)
	}
	return nil
}
