package config

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ARIADBG_"

type envSetter func(cfg *Config, value string) error

// envSettings maps environment variables to the settings they override.
var envSettings = map[string]envSetter{
	EnvPrefix + "TRANSPORT": func(c *Config, v string) error {
		c.Server.Transport = strings.ToLower(v)
		return nil
	},
	EnvPrefix + "URL": func(c *Config, v string) error {
		c.Server.URL = v
		return nil
	},
	EnvPrefix + "ADDRESS": func(c *Config, v string) error {
		c.Server.Address = v
		return nil
	},
	EnvPrefix + "RECONNECT_DELAY": func(c *Config, v string) error {
		return c.Reconnect.Delay.UnmarshalText([]byte(v))
	},
	EnvPrefix + "REQUEST_TIMEOUT": func(c *Config, v string) error {
		return c.Requests.Timeout.UnmarshalText([]byte(v))
	},
	EnvPrefix + "THREAD_ID": func(c *Config, v string) error {
		return parseInt(v, &c.Session.ThreadID)
	},
	EnvPrefix + "CONSOLE_LIMIT": func(c *Config, v string) error {
		return parseInt(v, &c.Session.ConsoleLimit)
	},
	EnvPrefix + "LOG_LEVEL": func(c *Config, v string) error {
		c.Logging.Level = strings.ToLower(v)
		return nil
	},
	EnvPrefix + "LOG_FORMAT": func(c *Config, v string) error {
		c.Logging.Format = strings.ToLower(v)
		return nil
	},
	EnvPrefix + "LOG_FILE": func(c *Config, v string) error {
		c.Logging.File = v
		return nil
	},
}

// EnvNames returns the recognised environment variables, sorted.
func EnvNames() []string {
	names := make([]string, 0, len(envSettings))
	for name := range envSettings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyEnv overrides cfg with the variables lookup finds. Empty values are
// treated as set.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	for _, name := range EnvNames() {
		value, ok := lookup(name)
		if !ok {
			continue
		}
		if err := envSettings[name](cfg, strings.TrimSpace(value)); err != nil {
			errs = append(errs, &ValidationError{Path: name, Value: value, Message: err.Error()})
		}
	}
	return errors.Join(errs...)
}

func parseInt(s string, dst *int) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return errors.New("not an integer")
	}
	*dst = n
	return nil
}
