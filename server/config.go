// Package server is the client-facing front end of the relay: a websocket
// endpoint clients hold open, the connection directory that delivers
// envelopes to them, and a management API for posting to connections.
package server

import (
	"log/slog"

	"github.com/papercomputeco/wsrelay/pkg/metrics"
	"github.com/papercomputeco/wsrelay/relay"
)

// Config is the server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// Path is the websocket route clients connect to (defaults to "/ws").
	Path string

	// MetricsPath serves Prometheus metrics when Metrics is set (defaults to "/metrics").
	MetricsPath string

	// Relay runs the sessions. Required.
	Relay *relay.Relay

	// Metrics is an optional collector exposed at MetricsPath.
	Metrics *metrics.Collector

	// Logger is the provided slog logger.
	Logger *slog.Logger
}
