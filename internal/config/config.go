// Package config loads stockroom settings from STOCKROOM_* environment
// variables. Command-line flags override them in cmd/app.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/maloquacious/stockroom/internal/store"
)

// Config holds everything needed to build a dbmanager.Manager.
type Config struct {
	PreferredURI string `env:"PREFERRED_URI" envDefault:"sqlite:~/stockroom;AUTO_SERVER=TRUE"`
	NetworkedURI string `env:"NETWORKED_URI" envDefault:"mysql://127.0.0.1:3306/stockroom"`
	LocalURI     string `env:"LOCAL_URI" envDefault:"sqlite:./data/stockroom"`
	UsePreferred bool   `env:"USE_PREFERRED" envDefault:"true"`

	Username string `env:"USERNAME" envDefault:"sa"`
	Password string `env:"PASSWORD"`

	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	BaseDelay   time.Duration `env:"BASE_DELAY" envDefault:"500ms"`
	BusyTimeout time.Duration `env:"BUSY_TIMEOUT" envDefault:"5s"`
	DialTimeout time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`

	TCPEnabled     bool   `env:"TCP_ENABLED" envDefault:"false"`
	TCPAddr        string `env:"TCP_ADDR" envDefault:":9092"`
	ConsoleEnabled bool   `env:"CONSOLE_ENABLED" envDefault:"false"`
	ConsoleAddr    string `env:"CONSOLE_ADDR" envDefault:":8082"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Prefix is prepended to every variable name.
const Prefix = "STOCKROOM_"

// ParseEnv loads configuration from environment variables.
func ParseEnv() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate reports settings that would make every connection attempt fail.
func (c Config) Validate() error {
	var errs []error
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts))
	}
	if c.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("base delay must not be negative, got %s", c.BaseDelay))
	}
	if !strings.HasPrefix(c.LocalURI, store.SchemeSQLite) {
		errs = append(errs, fmt.Errorf("local uri must start with %q, got %q", store.SchemeSQLite, c.LocalURI))
	}
	if c.PreferredURI != "" && !strings.HasPrefix(c.PreferredURI, store.SchemeSQLite) {
		errs = append(errs, fmt.Errorf("preferred uri must start with %q, got %q", store.SchemeSQLite, c.PreferredURI))
	}
	if c.NetworkedURI != "" && !strings.HasPrefix(c.NetworkedURI, store.SchemeMySQL) && !strings.HasPrefix(c.NetworkedURI, store.SchemeSQLite) {
		errs = append(errs, fmt.Errorf("networked uri must start with %q, got %q", store.SchemeMySQL, c.NetworkedURI))
	}
	return errors.Join(errs...)
}

// Targets builds the three connection targets.
func (c Config) Targets() (preferred, networked, local store.Target) {
	target := func(kind store.Kind, uri string) store.Target {
		if uri == "" {
			return store.Target{Kind: kind}
		}
		return store.Target{Kind: kind, URI: uri, Username: c.Username, Password: c.Password}
	}
	return target(store.PreferredExternal, c.PreferredURI),
		target(store.Networked, c.NetworkedURI),
		target(store.LocalEmbedded, c.LocalURI)
}
