package relay

import (
	"sync"
	"time"

	"github.com/papercomputeco/wsrelay/pkg/deframe"
)

// Status classifies how a session ended.
type Status string

const (
	// StatusCompleted means the provider finished the completion and its final
	// envelope was delivered.
	StatusCompleted Status = "completed"

	// StatusTimeout means the upstream went silent for longer than the grace
	// period.
	StatusTimeout Status = "timeout"

	// StatusError means the upstream request or stream failed.
	StatusError Status = "error"

	// StatusSinkFailed means the client connection could not be written to.
	StatusSinkFailed Status = "sink_failed"

	// StatusCancelled means the caller's context ended the session.
	StatusCancelled Status = "cancelled"
)

// Phase is the session lifecycle stage.
type Phase int32

const (
	PhaseRequesting Phase = iota
	PhaseStreaming
	PhaseTerminating
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseRequesting:
		return "requesting"
	case PhaseStreaming:
		return "streaming"
	case PhaseTerminating:
		return "terminating"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Outcome is the resolved result of a session. Run always returns one; a
// failed upstream is an Outcome, not an error.
type Outcome struct {
	Status Status

	// FinishReason is the terminal-reason marker the client last received,
	// synthetic ("error", "timeout") or from the provider.
	FinishReason string

	// Err is the underlying failure, if any.
	Err error

	// Phase is the lifecycle stage the session was in when it resolved.
	Phase Phase

	Delivered int
	Dropped   int
	Stats     deframe.Stats

	StartedAt time.Time
	Duration  time.Duration
}

// terminal is a single-assignment outcome cell. The first resolve wins; every
// later signal is ignored.
type terminal struct {
	once    sync.Once
	outcome Outcome
	done    chan struct{}
}

func newTerminal() *terminal {
	return &terminal{done: make(chan struct{})}
}

func (t *terminal) resolve(o Outcome) bool {
	won := false
	t.once.Do(func() {
		t.outcome = o
		won = true
		close(t.done)
	})
	return won
}

func (t *terminal) resolved() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// result blocks until the cell is resolved.
func (t *terminal) result() Outcome {
	<-t.done
	return t.outcome
}
