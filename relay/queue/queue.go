// Package queue provides an ordered, single-flight delivery queue.
//
// The sink behind a queue is a stateful, ordered channel (a client
// connection): two overlapping writes, or writes out of order, would corrupt
// the token stream the client reassembles. The queue therefore hands items to
// the sink strictly in enqueue order and never calls it concurrently.
//
// Rather than a long-lived worker, a drain goroutine is started on demand
// when an item arrives at an idle queue and exits when the queue empties:
//
//	         Enqueue                 pending empty
//	  ┌──────┐ ─────────▶ ┌──────────┐ ─────────▶ ┌──────┐
//	  │ Idle │            │ Draining │            │ Idle │
//	  └──────┘ ◀───────── └──────────┘            └──────┘
//	      │                     │
//	      │ Close/Seal/Abort    │ drained │ Abort │ sink error
//	      ▼                     ▼
//	  ┌────────────────────────────┐
//	  │           Closed           │
//	  └────────────────────────────┘
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Enqueue once the queue has been closed, sealed,
// or has failed.
var ErrClosed = errors.New("delivery queue closed")

// State is the lifecycle state of a Queue.
type State int

const (
	// Idle means nothing is pending and no drain goroutine is running.
	Idle State = iota

	// Draining means a drain goroutine owns the sink.
	Draining

	// Closed means no further items will be delivered.
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sink delivers one item. It is never called concurrently for a given queue.
type Sink[T any] func(ctx context.Context, item T) error

// Config is the configuration for a Queue.
type Config[T any] struct {
	// Sink receives every item in enqueue order. Required.
	Sink Sink[T]

	// Context is the parent of every Sink call. Defaults to context.Background().
	Context context.Context

	// SendTimeout bounds a single Sink call. Zero means no per-item bound.
	SendTimeout time.Duration

	// OnDelivered runs on the drain goroutine after each successful Sink call,
	// before the next item is taken.
	OnDelivered func(item T)

	// OnFailure runs on the drain goroutine when Sink fails. The queue is
	// closed and every pending item dropped before it runs. The queue does
	// not retry.
	OnFailure func(item T, err error)
}

// Queue is an ordered single-flight delivery queue. All methods are safe for
// concurrent use.
type Queue[T any] struct {
	config *Config[T]

	mu        sync.Mutex
	pending   []T
	state     State
	closing   bool
	sealed    bool
	delivered int
	dropped   int
	done      chan struct{}
}

// New creates an idle queue.
func New[T any](c *Config[T]) *Queue[T] {
	if c.Context == nil {
		c.Context = context.Background()
	}

	return &Queue[T]{
		config: c,
		state:  Idle,
		done:   make(chan struct{}),
	}
}

// Enqueue appends item and starts draining if the queue is idle.
func (q *Queue[T]) Enqueue(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closing || q.state == Closed {
		return ErrClosed
	}

	q.pending = append(q.pending, item)
	q.kick()
	return nil
}

// Close stops accepting items. Items already pending are still delivered and
// Done is closed once they have been.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closing || q.state == Closed {
		return
	}

	q.closing = true
	if q.state == Idle {
		q.finish()
	}
}

// Seal drops every pending item that has not started delivery, delivers final
// after any in-flight item, and closes the queue. It returns false, and does
// nothing, when the queue was already closed.
func (q *Queue[T]) Seal(final T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closing || q.state == Closed {
		return false
	}

	q.dropped += len(q.pending)
	q.pending = append(q.pending[:0], final)
	q.closing = true
	q.sealed = true
	q.kick()
	return true
}

// Abort drops every pending item and closes the queue once any in-flight
// item completes. It may be called after Close, but never discards the final
// item of a Seal.
func (q *Queue[T]) Abort() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sealed || q.state == Closed {
		return
	}

	q.dropped += len(q.pending)
	q.pending = nil
	q.closing = true
	if q.state == Idle {
		q.finish()
	}
}

// Done is closed when the queue reaches Closed.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

// State returns the current lifecycle state.
func (q *Queue[T]) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Delivered returns the number of items the sink accepted.
func (q *Queue[T]) Delivered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.delivered
}

// Dropped returns the number of items discarded by Seal or a sink failure.
func (q *Queue[T]) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// kick starts the drain goroutine when idle. Callers hold mu.
func (q *Queue[T]) kick() {
	if q.state != Idle {
		return
	}
	q.state = Draining
	go q.drain()
}

// finish moves the queue to Closed. Callers hold mu.
func (q *Queue[T]) finish() {
	if q.state == Closed {
		return
	}
	q.state = Closed
	close(q.done)
}

// drain is the single logical worker: it owns the sink until pending is
// empty.
func (q *Queue[T]) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			if q.closing {
				q.finish()
			} else {
				q.state = Idle
			}
			q.mu.Unlock()
			return
		}
		item := q.pending[0]
		var zero T
		q.pending[0] = zero
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if err := q.send(item); err != nil {
			q.mu.Lock()
			q.dropped += len(q.pending)
			q.pending = nil
			q.closing = true
			q.mu.Unlock()

			if q.config.OnFailure != nil {
				q.config.OnFailure(item, err)
			}

			q.mu.Lock()
			q.finish()
			q.mu.Unlock()
			return
		}

		q.mu.Lock()
		q.delivered++
		q.mu.Unlock()

		if q.config.OnDelivered != nil {
			q.config.OnDelivered(item)
		}
	}
}

func (q *Queue[T]) send(item T) error {
	ctx := q.config.Context
	if q.config.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.config.SendTimeout)
		defer cancel()
	}
	return q.config.Sink(ctx, item)
}
