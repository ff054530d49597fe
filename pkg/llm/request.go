package llm

import (
	"errors"
	"strings"
)

// Flavor selects how the upstream endpoint is addressed and authenticated.
type Flavor string

const (
	// FlavorOpenAI posts to {base}/v1/chat/completions with a Bearer token.
	FlavorOpenAI Flavor = "openai"

	// FlavorAPIKey posts to {base} as given with an "API-Key" header.
	FlavorAPIKey Flavor = "apikey"
)

// ParseFlavor normalizes a flavor name. An empty name is returned as-is so
// callers can apply their own default.
func ParseFlavor(s string) (Flavor, error) {
	switch f := Flavor(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FlavorOpenAI, FlavorAPIKey:
		return f, nil
	case "azure", "api-key", "api_key":
		return FlavorAPIKey, nil
	default:
		return "", errors.New("unknown upstream flavor: " + s)
	}
}

// RelayRequest is the inbound payload a client sends to start a relay session.
// Field names follow the client wire format.
type RelayRequest struct {
	APIKey      string    `json:"apiKey"`
	BaseURL     string    `json:"baseURL"`
	Flavor      Flavor    `json:"flavor,omitempty"`
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	RequestID   string    `json:"requestId"`
}

// Validate reports the first missing required field.
func (r *RelayRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.Model) == "":
		return errors.New("relay request missing model")
	case len(r.Messages) == 0:
		return errors.New("relay request missing messages")
	case strings.TrimSpace(r.BaseURL) == "":
		return errors.New("relay request missing baseURL")
	}
	return nil
}

// ChatRequest is the OpenAI-compatible body sent upstream.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

// NewChatRequest builds the streaming upstream body for r. A maxTokens of
// zero leaves the output length uncapped.
func NewChatRequest(r *RelayRequest, maxTokens int) *ChatRequest {
	req := &ChatRequest{
		Model:       r.Model,
		Messages:    r.Messages,
		Temperature: r.Temperature,
		TopP:        r.TopP,
		Stream:      true,
	}
	if maxTokens > 0 {
		req.MaxTokens = &maxTokens
	}
	return req
}
