package llm

import "encoding/json"

// Finish reasons carried in the finish_reason field. FinishStop and
// FinishLength come from the provider; FinishError and FinishTimeout are
// synthesized by the relay.
const (
	FinishStop    = "stop"
	FinishLength  = "length"
	FinishError   = "error"
	FinishTimeout = "timeout"
)

// StreamChunk is one decoded object from an OpenAI-compatible completion
// stream ("chat.completion.chunk").
type StreamChunk struct {
	ID      string   `json:"id,omitempty"`
	Object  string   `json:"object,omitempty"`
	Created int64    `json:"created,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice is a single increment of the completion: a text delta and/or a
// finish reason. A nil FinishReason means generation is still in progress.
type Choice struct {
	Index        int             `json:"index"`
	Delta        Delta           `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
	Logprobs     json.RawMessage `json:"logprobs,omitempty"`
}

// Delta is the incremental message payload of a Choice.
type Delta struct {
	Role      string          `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	Refusal   string          `json:"refusal,omitempty"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
}

// Usage contains token counts reported on the final chunk by some providers.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// Reason returns the finish reason or "" while in progress.
func (c *Choice) Reason() string {
	if c.FinishReason == nil {
		return ""
	}
	return *c.FinishReason
}
