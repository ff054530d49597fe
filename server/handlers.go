package server

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/wsrelay/pkg/llm"
)

// Hello is the first frame a client receives after connecting. The ID is
// what the HTTP trigger and management API address the connection by.
type Hello struct {
	ConnectionID string `json:"connectionId"`
}

// RelayAccepted is the response to an HTTP-triggered session.
type RelayAccepted struct {
	ConnectionID string `json:"connectionId"`
	RequestID    string `json:"requestId"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleSocket owns one client connection: it registers the connection,
// announces its ID and starts a session for every text message received.
// Sessions are cancelled when the client disconnects.
func (s *Server) handleSocket(conn *websocket.Conn) {
	id, release := s.dir.Accept(conn, conn.RemoteAddr().String())
	logger := s.logger.With("connection_id", id)
	logger.Debug("client connected")

	ctx, cancel := context.WithCancel(s.ctx)
	defer func() {
		cancel()
		// The websocket wrapper is recycled when this handler returns, so
		// writes must be finished and fenced off before then.
		release()
		logger.Debug("client disconnected")
	}()

	hello, _ := json.Marshal(Hello{ConnectionID: id})
	if err := s.dir.Post(ctx, id, hello); err != nil {
		logger.Warn("failed to greet client", "error", err)
		return
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req llm.RelayRequest
		if err := json.Unmarshal(data, &req); err != nil {
			logger.Warn("discarding malformed relay request", "error", err)
			payload, _ := json.Marshal(llm.NewFailureEnvelope("", llm.FinishError))
			_ = s.dir.Post(ctx, id, payload)
			continue
		}

		if !s.startSession(ctx, id, &req) {
			return
		}
	}
}

// handleRelay starts a session against an existing connection.
func (s *Server) handleRelay(c *fiber.Ctx) error {
	id := c.Params("connectionId")
	if _, ok := s.dir.Lookup(id); !ok {
		return c.Status(fiber.StatusGone).JSON(llm.ErrorResponse{Error: ErrGone.Error()})
	}

	var req llm.RelayRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid relay request"})
	}

	probe := req
	if probe.BaseURL == "" {
		probe.BaseURL = s.relay.Settings().DefaultBaseURL
	}
	if err := probe.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: err.Error()})
	}

	if !s.startSession(s.ctx, id, &req) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(llm.ErrorResponse{Error: ErrClosed.Error()})
	}

	return c.Status(fiber.StatusAccepted).JSON(RelayAccepted{
		ConnectionID: id,
		RequestID:    req.RequestID,
	})
}

// handlePostToConnection writes the raw request body to a connection.
func (s *Server) handlePostToConnection(c *fiber.Ctx) error {
	id := c.Params("id")

	// c.Body is only valid for the handler's lifetime.
	payload := append([]byte(nil), c.Body()...)
	if err := s.dir.Post(c.UserContext(), id, payload); err != nil {
		if errors.Is(err, ErrGone) {
			return c.Status(fiber.StatusGone).JSON(llm.ErrorResponse{Error: ErrGone.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to post to connection"})
	}

	return c.SendStatus(fiber.StatusOK)
}

// handleGetConnection returns connection info.
func (s *Server) handleGetConnection(c *fiber.Ctx) error {
	info, ok := s.dir.Lookup(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusGone).JSON(llm.ErrorResponse{Error: ErrGone.Error()})
	}
	return c.JSON(info)
}

// handleDeleteConnection disconnects a client.
func (s *Server) handleDeleteConnection(c *fiber.Ctx) error {
	if err := s.dir.Disconnect(c.Params("id")); err != nil {
		if errors.Is(err, ErrGone) {
			return c.Status(fiber.StatusGone).JSON(llm.ErrorResponse{Error: ErrGone.Error()})
		}
		s.logger.Warn("error closing connection", "connection_id", c.Params("id"), "error", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
