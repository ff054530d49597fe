// Package upstream issues streaming chat-completion requests to an LLM
// provider and hands back the raw response body.
//
// Two endpoint flavors are supported:
//
//	openai  POST {base}/v1/chat/completions   Authorization: Bearer {key}
//	apikey  POST {base}                       API-Key: {key}
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/wsrelay/pkg/llm"
	"github.com/papercomputeco/wsrelay/pkg/utils"
)

const (
	chatCompletionsPath = "/v1/chat/completions"

	// errorBodyLimit caps how much of a failed response is kept for diagnostics.
	errorBodyLimit = 4 << 10

	// errorMessageLimit caps the excerpt repeated in Error().
	errorMessageLimit = 256

	defaultTimeout = 5 * time.Minute
)

// StatusError is returned when the upstream answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, utils.Truncate(e.Body, errorMessageLimit))
}

// Config is the upstream client configuration.
type Config struct {
	// HTTPClient overrides the client used for upstream requests.
	HTTPClient *http.Client

	// Timeout bounds the wait for the upstream's response headers. The
	// streamed body is not bounded; the relay's stall watchdog covers it.
	// Defaults to 5 minutes; ignored when HTTPClient is set.
	Timeout time.Duration

	// Logger is the provided slog logger.
	Logger *slog.Logger
}

// Client opens upstream completion streams.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates an upstream client.
func New(c Config) *Client {
	httpClient := c.HTTPClient
	if httpClient == nil {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = timeout
		httpClient = &http.Client{Transport: transport}
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		httpClient: httpClient,
		logger:     logger.With("component", "upstream"),
	}
}

// Endpoint returns the URL a request of the given flavor is posted to.
func Endpoint(flavor llm.Flavor, baseURL string) string {
	if flavor == llm.FlavorAPIKey {
		return baseURL
	}
	return strings.TrimRight(baseURL, "/") + chatCompletionsPath
}

// Open posts a streaming completion request and returns the response body.
// The caller must close the body. Any transport failure or non-2xx status
// is returned as an error; a *StatusError carries the status and a body
// excerpt.
func (c *Client) Open(ctx context.Context, req *llm.RelayRequest, maxTokens int) (io.ReadCloser, error) {
	if req == nil {
		return nil, errors.New("nil relay request")
	}

	body, err := json.Marshal(llm.NewChatRequest(req, maxTokens))
	if err != nil {
		return nil, fmt.Errorf("encoding upstream request: %w", err)
	}

	url := Endpoint(req.Flavor, req.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating upstream request: %w", err)
	}
	setRequestHeaders(httpReq, req.Flavor, req.APIKey)

	c.logger.Debug("opening upstream stream",
		"url", url,
		"flavor", string(req.Flavor),
		"model", req.Model,
		"message_count", len(req.Messages),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(excerpt)),
		}
	}

	return resp.Body, nil
}
