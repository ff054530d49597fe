package relay

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/papercomputeco/wsrelay/pkg/eventstream"
	"github.com/papercomputeco/wsrelay/pkg/llm"
	"github.com/papercomputeco/wsrelay/pkg/metrics"
)

// Upstream opens a streaming completion for a relay request. The returned
// body yields raw fragments and must be closed by the caller.
type Upstream interface {
	Open(ctx context.Context, req *llm.RelayRequest, maxTokens int) (io.ReadCloser, error)
}

// Sink delivers one envelope to the client connection. It fails when the
// connection is gone.
type Sink func(ctx context.Context, env llm.Envelope) error

// Settings are the per-session tunables. They may be swapped at runtime;
// a session uses the settings current when it started.
type Settings struct {
	// StallGrace is how long the upstream may stay silent before the session
	// times out (defaults to 8s).
	StallGrace time.Duration

	// PollInterval is how often the stall watchdog checks (defaults to 1s).
	PollInterval time.Duration

	// MaxTokens caps the upstream output length. Zero leaves it uncapped.
	MaxTokens int

	// DeliveryTimeout bounds a single send to the client (defaults to 10s).
	DeliveryTimeout time.Duration

	// DefaultFlavor applies when a request does not name a flavor.
	DefaultFlavor llm.Flavor

	// DefaultBaseURL applies when a request does not name a base URL.
	DefaultBaseURL string
}

// Config is the relay configuration.
type Config struct {
	// Upstream issues the outbound completion request. Required.
	Upstream Upstream

	// Settings are the initial session tunables.
	Settings Settings

	// Publisher receives one event per finished session. Optional.
	Publisher eventstream.Publisher

	// Metrics records session metrics. Optional.
	Metrics *metrics.Collector

	// Logger is the provided slog logger.
	Logger *slog.Logger
}

const (
	defaultStallGrace      = 8 * time.Second
	defaultPollInterval    = time.Second
	defaultDeliveryTimeout = 10 * time.Second
)

func (s Settings) withDefaults() Settings {
	if s.StallGrace <= 0 {
		s.StallGrace = defaultStallGrace
	}
	if s.PollInterval <= 0 {
		s.PollInterval = defaultPollInterval
	}
	if s.DeliveryTimeout <= 0 {
		s.DeliveryTimeout = defaultDeliveryTimeout
	}
	if s.DefaultFlavor == "" {
		s.DefaultFlavor = llm.FlavorOpenAI
	}
	if s.MaxTokens < 0 {
		s.MaxTokens = 0
	}
	return s
}
