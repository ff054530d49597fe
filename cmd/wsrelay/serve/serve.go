// Package servecmder provides the serve command for running the relay.
package servecmder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/wsrelay/pkg/config"
	"github.com/papercomputeco/wsrelay/pkg/eventstream"
	"github.com/papercomputeco/wsrelay/pkg/eventstream/kafka"
	"github.com/papercomputeco/wsrelay/pkg/eventstream/nop"
	"github.com/papercomputeco/wsrelay/pkg/llm"
	"github.com/papercomputeco/wsrelay/pkg/logger"
	"github.com/papercomputeco/wsrelay/pkg/metrics"
	"github.com/papercomputeco/wsrelay/pkg/utils"
	"github.com/papercomputeco/wsrelay/relay"
	"github.com/papercomputeco/wsrelay/relay/upstream"
	"github.com/papercomputeco/wsrelay/relay/worker"
	"github.com/papercomputeco/wsrelay/server"
)

type serveCommander struct {
	listen          string
	path            string
	stallGrace      string
	pollInterval    string
	maxTokens       uint
	deliveryTimeout string
	upstreamTimeout string
	flavor          string
	baseURL         string
	eventProvider   string
	kafkaBrokers    string
	topic           string
	metricsPath     string

	debug     bool
	logFile   string
	logFormat string

	viper  *viper.Viper
	logger *slog.Logger
}

const serveLongDesc string = `Run the relay server.

Clients connect to the websocket path, receive a hello frame carrying their
connection ID and then send relay requests as text frames. Each request is
streamed from the upstream provider and delivered back as ordered envelopes
ending in exactly one finish reason (stop, length, error or timeout).

Sessions can also be started over HTTP against an open connection:
  POST /relay/{connectionId}

Relay timing settings (stall grace, poll interval, token cap, delivery
timeout) are reloaded when config.toml changes. Listener and event stream
settings require a restart.`

const serveShortDesc string = "Run the wsrelay server"

var serveFlagKeys = []string{
	config.FlagListen,
	config.FlagPath,
	config.FlagStallGrace,
	config.FlagPollInterval,
	config.FlagMaxTokens,
	config.FlagDeliveryTimeout,
	config.FlagUpstreamTimeout,
	config.FlagFlavor,
	config.FlagBaseURL,
	config.FlagEventProvider,
	config.FlagKafkaBrokers,
	config.FlagTopic,
	config.FlagMetricsPath,
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, config.ServeFlags, serveFlagKeys)
			cmder.viper = v
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			return cmder.run()
		},
	}

	config.AddStringFlag(cmd, config.ServeFlags, config.FlagListen, &cmder.listen)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagPath, &cmder.path)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagStallGrace, &cmder.stallGrace)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagPollInterval, &cmder.pollInterval)
	config.AddUintFlag(cmd, config.ServeFlags, config.FlagMaxTokens, &cmder.maxTokens)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagDeliveryTimeout, &cmder.deliveryTimeout)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagUpstreamTimeout, &cmder.upstreamTimeout)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagFlavor, &cmder.flavor)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagBaseURL, &cmder.baseURL)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagEventProvider, &cmder.eventProvider)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagKafkaBrokers, &cmder.kafkaBrokers)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagTopic, &cmder.topic)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagMetricsPath, &cmder.metricsPath)
	cmd.Flags().StringVar(&cmder.logFile, "log-file", "", "Also write JSON logs to this file")
	cmd.Flags().StringVar(&cmder.logFormat, "log-format", "pretty", "Console log format: pretty, text or json")

	return cmd
}

func (c *serveCommander) run() error {
	closeLog, err := c.setupLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	settings, err := settingsFromViper(c.viper)
	if err != nil {
		return err
	}

	var collector *metrics.Collector
	if !c.viper.GetBool("metrics.disabled") {
		collector = metrics.NewCollector(&metrics.Config{Enabled: true}, nil)
	}

	backend, err := newPublisher(c.viper, c.logger)
	if err != nil {
		return err
	}

	pool, err := worker.NewPool(&worker.Config{
		Publisher: backend,
		Logger:    c.logger,
	})
	if err != nil {
		_ = backend.Close()
		return fmt.Errorf("creating event pool: %w", err)
	}
	defer func() {
		if err := pool.Close(); err != nil {
			c.logger.Warn("closing event publisher", "error", err)
		}
	}()

	r, err := relay.New(relay.Config{
		Upstream: upstream.New(upstream.Config{
			Timeout: c.viper.GetDuration("relay.upstream_timeout"),
			Logger:  c.logger,
		}),
		Settings:  settings,
		Publisher: pool,
		Metrics:   collector,
		Logger:    c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}

	srv, err := server.New(server.Config{
		ListenAddr:  c.viper.GetString("server.listen"),
		Path:        c.viper.GetString("server.path"),
		MetricsPath: c.viper.GetString("metrics.path"),
		Relay:       r,
		Metrics:     collector,
		Logger:      c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	c.watchConfig(r)

	c.logger.Info("starting relay server",
		"listen", c.viper.GetString("server.listen"),
		"path", c.viper.GetString("server.path"),
		"flavor", settings.DefaultFlavor,
		"base_url", settings.DefaultBaseURL,
		"eventstream", c.viper.GetString("eventstream.provider"),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// Returning closes the event pool, so the server and its sessions must
	// be stopped first on every path.
	return c.serveUntil(srv, sigChan)
}

// runCloser is the part of *server.Server that serveUntil drives.
type runCloser interface {
	Run() error
	Close() error
}

// serveUntil runs srv until it fails or a signal arrives, and closes it in
// both cases.
func (c *serveCommander) serveUntil(srv runCloser, sigChan <-chan os.Signal) error {
	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- fmt.Errorf("relay server error: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		if closeErr := srv.Close(); closeErr != nil && !errors.Is(closeErr, server.ErrClosed) {
			c.logger.Warn("closing relay server", "error", closeErr)
		}
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", "signal", sig.String())
		return srv.Close()
	}
}

// setupLogger builds console logging in --log-format, teed to a JSON log
// file when --log-file is set. File records carry the service and build
// version so they can be told apart once shipped off the host.
func (c *serveCommander) setupLogger() (func(), error) {
	format, err := logger.ParseFormat(c.logFormat)
	if err != nil {
		return nil, err
	}

	console := logger.New(logger.WithDebug(c.debug), logger.WithFormat(format))
	if c.logFile == "" {
		c.logger = console
		return func() {}, nil
	}

	f, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	c.logger = logger.Multi(
		console,
		logger.New(
			logger.WithDebug(c.debug),
			logger.WithFormat(logger.FormatJSON),
			logger.WithWriter(f),
			logger.WithAttrs("service", "wsrelay", "version", utils.Version),
		),
	)
	return func() { _ = f.Close() }, nil
}

// watchConfig reloads relay settings when config.toml changes. Settings that
// fail to parse are logged and the previous ones stay in effect.
func (c *serveCommander) watchConfig(r *relay.Relay) {
	if c.viper.ConfigFileUsed() == "" {
		return
	}

	c.viper.OnConfigChange(func(e fsnotify.Event) {
		settings, err := settingsFromViper(c.viper)
		if err != nil {
			c.logger.Warn("ignoring config change", "file", e.Name, "error", err)
			return
		}

		r.UpdateSettings(settings)
		c.logger.Info("relay settings reloaded",
			"file", e.Name,
			"stall_grace", settings.StallGrace,
			"poll_interval", settings.PollInterval,
			"max_tokens", settings.MaxTokens,
		)
	})
	c.viper.WatchConfig()
}

// settingsFromViper reads the hot-reloadable relay settings.
func settingsFromViper(v *viper.Viper) (relay.Settings, error) {
	flavor, err := llm.ParseFlavor(v.GetString("upstream.flavor"))
	if err != nil {
		return relay.Settings{}, fmt.Errorf("invalid upstream.flavor: %w", err)
	}

	for _, key := range []string{"relay.stall_grace", "relay.poll_interval", "relay.delivery_timeout"} {
		if v.GetDuration(key) <= 0 {
			return relay.Settings{}, fmt.Errorf("invalid %s: %q", key, v.GetString(key))
		}
	}

	maxTokens := v.GetInt("relay.max_tokens")
	if maxTokens < 0 {
		return relay.Settings{}, errors.New("invalid relay.max_tokens: must not be negative")
	}

	return relay.Settings{
		StallGrace:      v.GetDuration("relay.stall_grace"),
		PollInterval:    v.GetDuration("relay.poll_interval"),
		MaxTokens:       maxTokens,
		DeliveryTimeout: v.GetDuration("relay.delivery_timeout"),
		DefaultFlavor:   flavor,
		DefaultBaseURL:  v.GetString("upstream.base_url"),
	}, nil
}

// newPublisher builds the session event backend named by eventstream.provider.
func newPublisher(v *viper.Viper, log *slog.Logger) (eventstream.Publisher, error) {
	switch provider := v.GetString("eventstream.provider"); provider {
	case "", "nop":
		return nop.NewPublisher(), nil

	case "kafka":
		p, err := kafka.NewPublisher(kafka.Config{
			Brokers: splitList(v.GetString("eventstream.brokers")),
			Topic:   v.GetString("eventstream.topic"),
			Logger:  log,
		})
		if err != nil {
			return nil, fmt.Errorf("creating kafka publisher: %w", err)
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unknown eventstream provider: %q (available: nop, kafka)", provider)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
