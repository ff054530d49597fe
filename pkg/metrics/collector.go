// Package metrics exposes Prometheus metrics for the relay.
//
// Metrics:
//   - wsrelay_relay_sessions_total: finished sessions by flavor and outcome
//   - wsrelay_relay_session_duration_seconds: session duration histogram
//   - wsrelay_relay_sessions_active: sessions currently streaming
//   - wsrelay_relay_fragments_total: upstream fragments read
//   - wsrelay_relay_objects_total: complete objects extracted from fragments
//   - wsrelay_relay_discarded_candidates_total: balanced spans that failed to decode
//   - wsrelay_relay_envelopes_total: envelopes by result (delivered, dropped)
//   - wsrelay_relay_connections: open client connections
//
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config is the metrics configuration.
type Config struct {
	Enabled         bool
	Namespace       string
	Subsystem       string
	DurationBuckets []float64
}

// SessionStats summarizes a finished session for recording.
type SessionStats struct {
	Flavor    string
	Outcome   string
	Duration  time.Duration
	Fragments int
	Objects   int
	Discarded int
	Delivered int
	Dropped   int
}

// Collector owns the relay's Prometheus metrics.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	sessionsTotal   *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
	sessionsActive  prometheus.Gauge
	fragmentsTotal  prometheus.Counter
	objectsTotal    prometheus.Counter
	discardedTotal  prometheus.Counter
	envelopesTotal  *prometheus.CounterVec
	connections     prometheus.Gauge
}

// NewCollector creates and registers the relay metrics. If registry is nil a
// fresh registry is created.
func NewCollector(cfg *Config, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = "wsrelay"
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = "relay"
	}
	if len(cfg.DurationBuckets) == 0 {
		// Streamed completions run from sub-second to minutes.
		cfg.DurationBuckets = []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}
	}

	c := &Collector{
		config:   cfg,
		registry: registry,

		sessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "sessions_total",
				Help:      "Total number of relay sessions by terminal outcome",
			},
			[]string{"flavor", "outcome"},
		),

		sessionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "session_duration_seconds",
				Help:      "Duration of relay sessions in seconds",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"flavor"},
		),

		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "sessions_active",
			Help:      "Number of relay sessions currently streaming",
		}),

		fragmentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "fragments_total",
			Help:      "Total number of upstream fragments read",
		}),

		objectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "objects_total",
			Help:      "Total number of complete objects extracted from upstream fragments",
		}),

		discardedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "discarded_candidates_total",
			Help:      "Total number of balanced candidates that failed to decode",
		}),

		envelopesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "envelopes_total",
				Help:      "Total number of envelopes by delivery result",
			},
			[]string{"result"},
		),

		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "connections",
			Help:      "Number of open client connections",
		}),
	}

	registry.MustRegister(
		c.sessionsTotal,
		c.sessionDuration,
		c.sessionsActive,
		c.fragmentsTotal,
		c.objectsTotal,
		c.discardedTotal,
		c.envelopesTotal,
		c.connections,
	)

	return c
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

// SessionStarted marks a session as active.
func (c *Collector) SessionStarted() {
	if !c.enabled() {
		return
	}
	c.sessionsActive.Inc()
}

// RecordSession records a finished session and releases its active slot.
func (c *Collector) RecordSession(s SessionStats) {
	if !c.enabled() {
		return
	}

	c.sessionsActive.Dec()
	c.sessionsTotal.WithLabelValues(s.Flavor, s.Outcome).Inc()
	c.sessionDuration.WithLabelValues(s.Flavor).Observe(s.Duration.Seconds())
	c.fragmentsTotal.Add(float64(s.Fragments))
	c.objectsTotal.Add(float64(s.Objects))
	c.discardedTotal.Add(float64(s.Discarded))
	c.envelopesTotal.WithLabelValues("delivered").Add(float64(s.Delivered))
	c.envelopesTotal.WithLabelValues("dropped").Add(float64(s.Dropped))
}

// SetConnections records the number of open client connections.
func (c *Collector) SetConnections(n int) {
	if !c.enabled() {
		return
	}
	c.connections.Set(float64(n))
}

// Registry returns the registry the metrics are registered with.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(
		c.registry,
		promhttp.HandlerOpts{
			ErrorHandling: promhttp.ContinueOnError,
		},
	)
}
