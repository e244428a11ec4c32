// Package config loads relay settings from a YAML file layered over
// defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opd-ai/sealrelay/event"
	"github.com/opd-ai/sealrelay/limits"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Auth modes.
const (
	AuthOpen      = "open"
	AuthAllowList = "allowlist"
)

// Config holds runtime settings for the relay server.
type Config struct {
	Listen         string         `yaml:"listen"`
	AllowedOrigins []string       `yaml:"allowed_origins"`
	Store          StoreConfig    `yaml:"store"`
	Auth           AuthConfig     `yaml:"auth"`
	Limits         LimitsConfig   `yaml:"limits"`
	Timeouts       TimeoutsConfig `yaml:"timeouts"`
	OutboxSize     int            `yaml:"outbox_size"`
	Log            LogConfig      `yaml:"log"`
	Metrics        MetricsConfig  `yaml:"metrics"`
}

// StoreConfig selects the event store.
type StoreConfig struct {
	Driver     string `yaml:"driver"` // "memory" | "postgres"
	DSN        string `yaml:"dsn,omitempty"`
	QueryLimit int    `yaml:"query_limit"`
}

// AuthConfig selects who may publish.
type AuthConfig struct {
	Mode      string        `yaml:"mode"` // "open" | "allowlist"
	Pubkeys   []string      `yaml:"pubkeys,omitempty"`
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// LimitsConfig bounds what one connection may do.
type LimitsConfig struct {
	MaxMessageBytes  int `yaml:"max_message_bytes"`
	MaxSubscriptions int `yaml:"max_subscriptions"`
	MaxFilters       int `yaml:"max_filters"`
}

// TimeoutsConfig bounds blocking calls.
type TimeoutsConfig struct {
	Store time.Duration `yaml:"store"`
	Auth  time.Duration `yaml:"auth"`
	Write time.Duration `yaml:"write"`
	Pong  time.Duration `yaml:"pong"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" | "json"
}

// MetricsConfig enables the Prometheus listener. An empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

// Default returns development defaults: an open relay on localhost with an
// in-memory store.
func Default() *Config {
	return &Config{
		Listen: "127.0.0.1:7447",
		Store: StoreConfig{
			Driver:     DriverMemory,
			QueryLimit: limits.MaxQueryResults,
		},
		Auth: AuthConfig{
			Mode:      AuthOpen,
			CacheSize: 4096,
			CacheTTL:  5 * time.Minute,
		},
		Limits: LimitsConfig{
			MaxMessageBytes:  limits.MaxMessageBytes,
			MaxSubscriptions: limits.MaxSubscriptionsPerConnection,
			MaxFilters:       limits.MaxFiltersPerRequest,
		},
		Timeouts: TimeoutsConfig{
			Store: 5 * time.Second,
			Auth:  2 * time.Second,
			Write: 10 * time.Second,
			Pong:  60 * time.Second,
		},
		OutboxSize: 256,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load applies the YAML file at path over Default. An empty path returns
// the defaults. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Auth.Mode = strings.ToLower(strings.TrimSpace(c.Auth.Mode))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	for i, pk := range c.Auth.Pubkeys {
		c.Auth.Pubkeys[i] = strings.ToLower(strings.TrimSpace(pk))
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("%w: listen address is required", ErrInvalidConfig)
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("%w: store.dsn is required for the postgres driver", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store.driver %q", ErrInvalidConfig, c.Store.Driver)
	}
	if c.Store.QueryLimit < 1 {
		return fmt.Errorf("%w: store.query_limit must be positive", ErrInvalidConfig)
	}

	switch c.Auth.Mode {
	case AuthOpen:
	case AuthAllowList:
		if len(c.Auth.Pubkeys) == 0 {
			return fmt.Errorf("%w: auth.pubkeys is empty in allowlist mode", ErrInvalidConfig)
		}
		for _, pk := range c.Auth.Pubkeys {
			if !event.IsLowerHex(pk, event.PubKeyHexLen) {
				return fmt.Errorf("%w: auth.pubkeys entry %q is not a hex public key", ErrInvalidConfig, pk)
			}
		}
	default:
		return fmt.Errorf("%w: unknown auth.mode %q", ErrInvalidConfig, c.Auth.Mode)
	}
	if c.Auth.CacheSize < 0 || c.Auth.CacheTTL < 0 {
		return fmt.Errorf("%w: auth cache settings must not be negative", ErrInvalidConfig)
	}

	if c.Limits.MaxMessageBytes < 1 || c.Limits.MaxSubscriptions < 1 || c.Limits.MaxFilters < 1 {
		return fmt.Errorf("%w: limits must be positive", ErrInvalidConfig)
	}
	t := c.Timeouts
	if t.Store <= 0 || t.Auth <= 0 || t.Write <= 0 || t.Pong <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if c.OutboxSize < 1 {
		return fmt.Errorf("%w: outbox_size must be positive", ErrInvalidConfig)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log.format %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}
