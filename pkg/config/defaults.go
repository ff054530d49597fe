package config

const (
	defaultListen = ":8080"
	defaultPath   = "/ws"

	defaultStallGrace      = "8s"
	defaultPollInterval    = "1s"
	defaultMaxTokens       = 800
	defaultDeliveryTimeout = "10s"
	defaultUpstreamTimeout = "5m"

	defaultFlavor = "openai"

	defaultEventStreamProvider = "nop"
	defaultEventStreamTopic    = "wsrelay-sessions"

	defaultMetricsPath = "/metrics"

	defaultClientTarget = "ws://localhost:8080/ws"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Server: ServerConfig{
			Listen: defaultListen,
			Path:   defaultPath,
		},
		Relay: RelayConfig{
			StallGrace:      defaultStallGrace,
			PollInterval:    defaultPollInterval,
			MaxTokens:       defaultMaxTokens,
			DeliveryTimeout: defaultDeliveryTimeout,
			UpstreamTimeout: defaultUpstreamTimeout,
		},
		Upstream: UpstreamConfig{
			Flavor: defaultFlavor,
		},
		EventStream: EventStreamConfig{
			Provider: defaultEventStreamProvider,
			Topic:    defaultEventStreamTopic,
		},
		Metrics: MetricsConfig{
			Path: defaultMetricsPath,
		},
		Client: ClientConfig{
			Target: defaultClientTarget,
		},
	}
}
