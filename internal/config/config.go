// Package config loads ariadbg settings from defaults, an optional TOML or
// YAML file and ARIADBG_* environment variables, in that order of
// precedence, and reloads them when the file changes.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/magi8101/ariadbg/internal/logging"
)

// Transports understood by the client.
const (
	TransportWebSocket = "websocket"
	TransportTCP       = "tcp"
)

// Config is the complete client configuration.
type Config struct {
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Reconnect ReconnectConfig `toml:"reconnect" yaml:"reconnect"`
	Requests  RequestsConfig  `toml:"requests" yaml:"requests"`
	Session   SessionConfig   `toml:"session" yaml:"session"`
	Logging   LoggingConfig   `toml:"logging" yaml:"logging"`
}

// ServerConfig says where the debug server is.
type ServerConfig struct {
	// Transport is "websocket" or "tcp".
	Transport string `toml:"transport" yaml:"transport"`

	// URL is the WebSocket endpoint.
	URL string `toml:"url" yaml:"url"`

	// Address is host:port for the tcp transport.
	Address string `toml:"address" yaml:"address"`
}

// ReconnectConfig controls automatic reconnection.
type ReconnectConfig struct {
	Delay Duration `toml:"delay" yaml:"delay"`
}

// RequestsConfig controls request deadlines.
type RequestsConfig struct {
	// Timeout is the default per-request deadline; 0 disables it.
	Timeout Duration `toml:"timeout" yaml:"timeout"`
}

// SessionConfig controls the session model.
type SessionConfig struct {
	// ThreadID is the thread thread-scoped commands target.
	ThreadID int `toml:"thread_id" yaml:"thread_id"`

	// ConsoleLimit caps the console log; 0 keeps everything.
	ConsoleLimit int `toml:"console_limit" yaml:"console_limit"`
}

// LoggingConfig controls diagnostic logging.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
	// File receives logs instead of stderr when set.
	File string `toml:"file" yaml:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: TransportWebSocket,
			URL:       "ws://127.0.0.1:8080/ws",
			Address:   "127.0.0.1:4711",
		},
		Reconnect: ReconnectConfig{Delay: Duration(3000 * time.Millisecond)},
		Requests:  RequestsConfig{Timeout: Duration(10 * time.Second)},
		Session:   SessionConfig{ThreadID: 1, ConsoleLimit: 1000},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
}

// Validate checks every setting and returns all problems found.
func (c *Config) Validate() error {
	var errs []error
	add := func(path string, value any, format string, args ...any) {
		errs = append(errs, &ValidationError{Path: path, Value: value, Message: fmt.Sprintf(format, args...)})
	}

	switch c.Server.Transport {
	case TransportWebSocket:
		u, err := url.Parse(c.Server.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			add("server.url", c.Server.URL, "must be a ws:// or wss:// URL")
		}
	case TransportTCP:
		if _, _, err := net.SplitHostPort(c.Server.Address); err != nil {
			add("server.address", c.Server.Address, "must be host:port")
		}
	default:
		add("server.transport", c.Server.Transport, "must be %q or %q", TransportWebSocket, TransportTCP)
	}

	if c.Reconnect.Delay.Std() <= 0 {
		add("reconnect.delay", c.Reconnect.Delay, "must be positive")
	}
	if c.Requests.Timeout.Std() < 0 {
		add("requests.timeout", c.Requests.Timeout, "must not be negative")
	}
	if c.Session.ThreadID <= 0 {
		add("session.thread_id", c.Session.ThreadID, "must be positive")
	}
	if c.Session.ConsoleLimit < 0 {
		add("session.console_limit", c.Session.ConsoleLimit, "must not be negative")
	}

	if _, ok := logging.ParseLevel(c.Logging.Level); !ok {
		add("logging.level", c.Logging.Level, "must be debug, info, warn or error")
	}
	switch c.Logging.Format {
	case logging.FormatText, logging.FormatJSON:
	default:
		add("logging.format", c.Logging.Format, "must be text or json")
	}

	return errors.Join(errs...)
}

// Duration is a time.Duration written as a Go duration string ("3s").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String returns the duration in Go syntax.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}
