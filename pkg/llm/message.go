package llm

import "encoding/json"

// Message is a single conversation message forwarded to the upstream.
// Content is kept as raw JSON so plain strings and multimodal part arrays
// pass through untouched.
type Message struct {
	Role    string          `json:"role"` // "system", "user", "assistant", "tool"
	Content json.RawMessage `json:"content"`
	Name    string          `json:"name,omitempty"`
}

// NewTextMessage creates a simple text message with the given role and content.
func NewTextMessage(role, text string) Message {
	content, _ := json.Marshal(text)
	return Message{
		Role:    role,
		Content: content,
	}
}

// GetText returns the message content when it is a plain JSON string.
func (m *Message) GetText() string {
	var text string
	if err := json.Unmarshal(m.Content, &text); err != nil {
		return ""
	}
	return text
}
