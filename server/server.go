package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/wsrelay/pkg/llm"
	"github.com/papercomputeco/wsrelay/relay"
)

const (
	defaultPath        = "/ws"
	defaultMetricsPath = "/metrics"
)

// Server accepts client connections and runs relay sessions against them.
type Server struct {
	config Config
	app    *fiber.App
	dir    *Directory
	relay  *relay.Relay
	logger *slog.Logger

	// ctx parents every session; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	// mu orders sessions.Add against Close's Wait.
	mu       sync.Mutex
	closed   bool
	sessions sync.WaitGroup
}

// ErrClosed is returned by Close after the first call, and reported to
// clients that try to start a session during shutdown.
var ErrClosed = errors.New("server closed")

// New creates a new Server.
func New(config Config) (*Server, error) {
	if config.Relay == nil {
		return nil, errors.New("server requires a relay")
	}
	if config.Path == "" {
		config.Path = defaultPath
	}
	if config.MetricsPath == "" {
		config.MetricsPath = defaultMetricsPath
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
	})

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config: config,
		app:    app,
		dir:    NewDirectory(config.Metrics),
		relay:  config.Relay,
		logger: logger.With("component", "server"),
		ctx:    ctx,
		cancel: cancel,
	}

	app.Get("/ping", s.handlePing)

	if config.Metrics != nil {
		app.Get(config.MetricsPath, adaptor.HTTPHandler(config.Metrics.Handler()))
	}

	app.Use(config.Path, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get(config.Path, websocket.New(s.handleSocket))

	app.Post("/relay/:connectionId", s.handleRelay)

	app.Post("/@connections/:id", s.handlePostToConnection)
	app.Get("/@connections/:id", s.handleGetConnection)
	app.Delete("/@connections/:id", s.handleDeleteConnection)

	return s, nil
}

// Directory returns the connection directory.
func (s *Server) Directory() *Directory {
	return s.dir
}

// Run starts the server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting relay server",
		"listen", s.config.ListenAddr,
		"path", s.config.Path,
	)
	return s.app.Listen(s.config.ListenAddr)
}

// RunWithListener starts the server using the provided listener.
func (s *Server) RunWithListener(listener net.Listener) error {
	s.logger.Info("starting relay server",
		"listen", listener.Addr().String(),
		"path", s.config.Path,
	)
	return s.app.Listener(listener)
}

// Close cancels in-flight sessions, disconnects every client, stops the
// listener and waits for the sessions to finish.
// Once Close returns no session is running or can start.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.dir.CloseAll()
	err := s.app.Shutdown()
	s.sessions.Wait()
	return err
}

// startSession runs req against connection id on its own goroutine. It
// returns false once the server is closing.
func (s *Server) startSession(ctx context.Context, id string, req *llm.RelayRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	s.sessions.Add(1)
	go func() {
		defer s.sessions.Done()
		s.relay.Run(ctx, relay.Session{
			ConnectionID: id,
			Request:      req,
			Sink:         s.sink(id),
		})
	}()
	return true
}

// sink delivers envelopes to connection id.
func (s *Server) sink(id string) relay.Sink {
	return func(ctx context.Context, env llm.Envelope) error {
		payload, err := json.Marshal(env)
		if err != nil {
			return err
		}
		return s.dir.Post(ctx, id, payload)
	}
}
