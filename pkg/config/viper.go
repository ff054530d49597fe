package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/papercomputeco/wsrelay/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the WSRELAY_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (WSRELAY_SERVER_LISTEN, WSRELAY_RELAY_STALL_GRACE, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: WSRELAY_SERVER_LISTEN, WSRELAY_EVENTSTREAM_TOPIC, etc.
	v.SetEnvPrefix("WSRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Server
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.path", d.Server.Path)

	// Relay
	v.SetDefault("relay.stall_grace", d.Relay.StallGrace)
	v.SetDefault("relay.poll_interval", d.Relay.PollInterval)
	v.SetDefault("relay.max_tokens", d.Relay.MaxTokens)
	v.SetDefault("relay.delivery_timeout", d.Relay.DeliveryTimeout)
	v.SetDefault("relay.upstream_timeout", d.Relay.UpstreamTimeout)

	// Upstream
	v.SetDefault("upstream.flavor", d.Upstream.Flavor)
	v.SetDefault("upstream.base_url", d.Upstream.BaseURL)

	// Event stream
	v.SetDefault("eventstream.provider", d.EventStream.Provider)
	v.SetDefault("eventstream.brokers", d.EventStream.Brokers)
	v.SetDefault("eventstream.topic", d.EventStream.Topic)

	// Metrics
	v.SetDefault("metrics.disabled", d.Metrics.Disabled)
	v.SetDefault("metrics.path", d.Metrics.Path)

	// Client
	v.SetDefault("client.target", d.Client.Target)
}
