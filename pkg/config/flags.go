package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline. This prevents flag drift
// when the same logical flag appears on multiple commands (e.g., --base-url
// on both "wsrelay serve" and "wsrelay chat").
type Flag struct {
	// Name is the long flag name (e.g. "base-url").
	Name string

	// Shorthand is the one-letter short flag (e.g. "u"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "upstream.base_url").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddUintFlag,
// and BindRegisteredFlags to avoid typos or drift from one command to another.
const (
	FlagListen          = "listen"
	FlagPath            = "path"
	FlagStallGrace      = "stall-grace"
	FlagPollInterval    = "poll-interval"
	FlagMaxTokens       = "max-tokens"
	FlagDeliveryTimeout = "delivery-timeout"
	FlagUpstreamTimeout = "upstream-timeout"
	FlagFlavor          = "flavor"
	FlagBaseURL         = "base-url"
	FlagEventProvider   = "eventstream-provider"
	FlagKafkaBrokers    = "kafka-brokers"
	FlagTopic           = "topic"
	FlagMetricsPath     = "metrics-path"
	FlagTarget          = "target"
)

// ServeFlags is the registry of flags accepted by "wsrelay serve".
var ServeFlags = FlagSet{
	FlagListen:          {Name: "listen", Shorthand: "l", ViperKey: "server.listen", Description: "Address for the relay to listen on"},
	FlagPath:            {Name: "path", ViperKey: "server.path", Description: "Websocket upgrade path"},
	FlagStallGrace:      {Name: "stall-grace", ViperKey: "relay.stall_grace", Description: "Inactivity window before a session times out"},
	FlagPollInterval:    {Name: "poll-interval", ViperKey: "relay.poll_interval", Description: "How often the stall watchdog checks for activity"},
	FlagMaxTokens:       {Name: "max-tokens", ViperKey: "relay.max_tokens", Description: "Token cap sent upstream (0 leaves it to the provider)"},
	FlagDeliveryTimeout: {Name: "delivery-timeout", ViperKey: "relay.delivery_timeout", Description: "Bound on a single client delivery"},
	FlagUpstreamTimeout: {Name: "upstream-timeout", ViperKey: "relay.upstream_timeout", Description: "How long to wait for upstream response headers"},
	FlagFlavor:          {Name: "flavor", ViperKey: "upstream.flavor", Description: "Default upstream flavor (openai, apikey)"},
	FlagBaseURL:         {Name: "base-url", Shorthand: "u", ViperKey: "upstream.base_url", Description: "Default upstream base URL"},
	FlagEventProvider:   {Name: "eventstream-provider", ViperKey: "eventstream.provider", Description: "Session event publisher (nop, kafka)"},
	FlagKafkaBrokers:    {Name: "kafka-brokers", ViperKey: "eventstream.brokers", Description: "Comma separated Kafka broker addresses"},
	FlagTopic:           {Name: "topic", ViperKey: "eventstream.topic", Description: "Kafka topic for session events"},
	FlagMetricsPath:     {Name: "metrics-path", ViperKey: "metrics.path", Description: "Prometheus scrape path"},
}

// ClientFlags is the registry of flags accepted by client commands.
var ClientFlags = FlagSet{
	FlagTarget: {Name: "target", Shorthand: "t", ViperKey: "client.target", Description: "Relay websocket URL"},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddUintFlag registers a uint flag on cmd from the given FlagSet.
func AddUintFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *uint) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultUint(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().UintVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().UintVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}

// defaultUint returns the default uint value for a viper key from NewDefaultConfig.
func defaultUint(viperKey string) uint {
	v := viper.New()
	setViperDefaults(v)
	return v.GetUint(viperKey)
}
