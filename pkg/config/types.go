package config

import (
	"fmt"
	"strconv"
	"time"
)

// Config represents the persistent wsrelay configuration stored as config.toml
// in the .wsrelay/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Server      ServerConfig      `toml:"server"`
	Relay       RelayConfig       `toml:"relay"`
	Upstream    UpstreamConfig    `toml:"upstream"`
	EventStream EventStreamConfig `toml:"eventstream"`
	Metrics     MetricsConfig     `toml:"metrics"`
	Client      ClientConfig      `toml:"client"`
}

// ServerConfig holds the websocket listener settings.
type ServerConfig struct {
	Listen string `toml:"listen,omitempty"`
	Path   string `toml:"path,omitempty"`
}

// RelayConfig holds per-session timing and request shaping. Durations are
// stored in Go duration syntax ("8s", "250ms").
type RelayConfig struct {
	StallGrace      string `toml:"stall_grace,omitempty"`
	PollInterval    string `toml:"poll_interval,omitempty"`
	MaxTokens       uint   `toml:"max_tokens,omitempty"`
	DeliveryTimeout string `toml:"delivery_timeout,omitempty"`
	UpstreamTimeout string `toml:"upstream_timeout,omitempty"`
}

// UpstreamConfig holds the defaults applied to requests that omit them.
type UpstreamConfig struct {
	Flavor  string `toml:"flavor,omitempty"`
	BaseURL string `toml:"base_url,omitempty"`
}

// EventStreamConfig selects where session completion events are published.
type EventStreamConfig struct {
	Provider string `toml:"provider,omitempty"`
	Brokers  string `toml:"brokers,omitempty"`
	Topic    string `toml:"topic,omitempty"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Disabled bool   `toml:"disabled,omitempty"`
	Path     string `toml:"path,omitempty"`
}

// ClientConfig holds settings for CLI commands that connect to a running
// relay (e.g. wsrelay chat). Target is a full websocket URL.
type ClientConfig struct {
	Target string `toml:"target,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func durationKey(name string, field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			if d <= 0 {
				return fmt.Errorf("invalid value for %s: must be positive", name)
			}
			*field(c) = v
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"server.listen": {
		get: func(c *Config) string { return c.Server.Listen },
		set: func(c *Config, v string) error { c.Server.Listen = v; return nil },
	},
	"server.path": {
		get: func(c *Config) string { return c.Server.Path },
		set: func(c *Config, v string) error { c.Server.Path = v; return nil },
	},
	"relay.stall_grace": durationKey("relay.stall_grace", func(c *Config) *string {
		return &c.Relay.StallGrace
	}),
	"relay.poll_interval": durationKey("relay.poll_interval", func(c *Config) *string {
		return &c.Relay.PollInterval
	}),
	"relay.max_tokens": {
		get: func(c *Config) string {
			if c.Relay.MaxTokens == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Relay.MaxTokens), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for relay.max_tokens: %w", err)
			}
			c.Relay.MaxTokens = uint(n)
			return nil
		},
	},
	"relay.delivery_timeout": durationKey("relay.delivery_timeout", func(c *Config) *string {
		return &c.Relay.DeliveryTimeout
	}),
	"relay.upstream_timeout": durationKey("relay.upstream_timeout", func(c *Config) *string {
		return &c.Relay.UpstreamTimeout
	}),
	"upstream.flavor": {
		get: func(c *Config) string { return c.Upstream.Flavor },
		set: func(c *Config, v string) error {
			switch v {
			case "openai", "apikey":
				c.Upstream.Flavor = v
				return nil
			default:
				return fmt.Errorf("invalid value for upstream.flavor: %q (available: openai, apikey)", v)
			}
		},
	},
	"upstream.base_url": {
		get: func(c *Config) string { return c.Upstream.BaseURL },
		set: func(c *Config, v string) error { c.Upstream.BaseURL = v; return nil },
	},
	"eventstream.provider": {
		get: func(c *Config) string { return c.EventStream.Provider },
		set: func(c *Config, v string) error {
			switch v {
			case "nop", "kafka":
				c.EventStream.Provider = v
				return nil
			default:
				return fmt.Errorf("invalid value for eventstream.provider: %q (available: nop, kafka)", v)
			}
		},
	},
	"eventstream.brokers": {
		get: func(c *Config) string { return c.EventStream.Brokers },
		set: func(c *Config, v string) error { c.EventStream.Brokers = v; return nil },
	},
	"eventstream.topic": {
		get: func(c *Config) string { return c.EventStream.Topic },
		set: func(c *Config, v string) error { c.EventStream.Topic = v; return nil },
	},
	"metrics.disabled": {
		get: func(c *Config) string { return strconv.FormatBool(c.Metrics.Disabled) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for metrics.disabled: %w", err)
			}
			c.Metrics.Disabled = b
			return nil
		},
	},
	"metrics.path": {
		get: func(c *Config) string { return c.Metrics.Path },
		set: func(c *Config, v string) error { c.Metrics.Path = v; return nil },
	},
	"client.target": {
		get: func(c *Config) string { return c.Client.Target },
		set: func(c *Config, v string) error { c.Client.Target = v; return nil },
	},
}
