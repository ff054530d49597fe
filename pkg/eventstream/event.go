package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeSessionCompleted is emitted once a relay session reaches a
	// terminal outcome.
	EventTypeSessionCompleted = "wsrelay.session.completed"
)

// SessionCompletedEvent is a transport-neutral event payload for a finished
// relay session.
type SessionCompletedEvent struct {
	SchemaVersion int               `json:"schema_version"`
	EventType     string            `json:"event_type"`
	EventID       string            `json:"event_id"`
	EmittedAt     time.Time         `json:"emitted_at"`
	Source        EventSource       `json:"source"`
	Session       SessionMeta       `json:"session"`
	Stream        SessionStreamMeta `json:"stream"`
}

// EventSource identifies where the session originated.
type EventSource struct {
	ConnectionID string `json:"connection_id"`
	RequestID    string `json:"request_id"`
	Flavor       string `json:"flavor,omitempty"`
	Model        string `json:"model"`
}

// SessionMeta captures the session lifecycle.
type SessionMeta struct {
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	DurationMs   int64     `json:"duration_ms"`
	Outcome      string    `json:"outcome"`
	FinishReason string    `json:"finish_reason,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// SessionStreamMeta captures what flowed through the session.
type SessionStreamMeta struct {
	Fragments           int `json:"fragments"`
	Objects             int `json:"objects"`
	DiscardedCandidates int `json:"discarded_candidates"`
	EnvelopesDelivered  int `json:"envelopes_delivered"`
	EnvelopesDropped    int `json:"envelopes_dropped"`
}

// NewSessionCompletedEvent stamps a v1 session event with a fresh ID and
// emission time.
func NewSessionCompletedEvent(source EventSource, session SessionMeta, stream SessionStreamMeta) *SessionCompletedEvent {
	return &SessionCompletedEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeSessionCompleted,
		EventID:       "evt_" + uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		Source:        source,
		Session:       session,
		Stream:        stream,
	}
}
