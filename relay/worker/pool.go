// Package worker provides an asynchronous worker pool that publishes relay
// session events through the provided eventstream.Publisher.
//
// The pool decouples event publishing from the relay's streaming hot path so
// that a slow or unavailable event backend never delays delivery to clients.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/papercomputeco/wsrelay/pkg/eventstream"
)

var (
	defaultNumWorkers     uint = 2
	defaultJobQueueSize   uint = 256
	defaultPublishTimeout      = 10 * time.Second
)

// ErrQueueFull is returned by PublishSession when the job queue has no
// capacity; the event is dropped.
var ErrQueueFull = errors.New("event queue full, event dropped")

// Config is the configuration options for the worker pool.
type Config struct {
	// Publisher is the backend events are handed to. Required.
	Publisher eventstream.Publisher

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// PublishTimeout bounds a single backend publish (defaults to 10s).
	PublishTimeout time.Duration

	// Logger is the provided slog logger.
	Logger *slog.Logger
}

// Pool publishes session events asynchronously via a worker pool. It is
// itself an eventstream.Publisher, so it can wrap any backend transparently.
type Pool struct {
	config *Config
	queue  chan *eventstream.SessionCompletedEvent
	wg     sync.WaitGroup
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

var _ eventstream.Publisher = (*Pool)(nil)

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Publisher == nil {
		return nil, errors.New("worker pool requires a publisher")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.PublishTimeout <= 0 {
		c.PublishTimeout = defaultPublishTimeout
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	wp := &Pool{
		config: c,
		queue:  make(chan *eventstream.SessionCompletedEvent, c.QueueSize),
		logger: logger.With("component", "event_pool"),
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// PublishSession submits an event for asynchronous publishing. It never
// blocks: when the queue is full the event is dropped and ErrQueueFull
// returned.
func (p *Pool) PublishSession(_ context.Context, event *eventstream.SessionCompletedEvent) error {
	if event == nil {
		return eventstream.ErrNilSessionEvent
	}

	select {
	case p.queue <- event:
		p.logger.Debug("event queued",
			"event_id", event.EventID,
			"request_id", event.Source.RequestID,
		)
		return nil
	default:
		p.logger.Error("event not queued, queue full, event dropped",
			"event_id", event.EventID,
			"request_id", event.Source.RequestID,
		)
		return ErrQueueFull
	}
}

// Close signals workers to stop, waits for queued events to drain, then
// closes the backend publisher. Call this during graceful shutdown after the
// server has stopped accepting sessions.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		close(p.queue)
		p.wg.Wait()
		p.closeErr = p.config.Publisher.Close()
	})
	return p.closeErr
}

// worker is the inner worker thread that continuously pulls events off the queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker_id", id)

	for event := range p.queue {
		p.publish(event)
	}

	p.logger.Debug("worker stopped", "worker_id", id)
}

func (p *Pool) publish(event *eventstream.SessionCompletedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishTimeout)
	defer cancel()

	if err := p.config.Publisher.PublishSession(ctx, event); err != nil {
		p.logger.Warn("failed to publish session event",
			"event_id", event.EventID,
			"request_id", event.Source.RequestID,
			"error", err,
		)
		return
	}

	p.logger.Debug("session event published",
		"event_id", event.EventID,
		"outcome", event.Session.Outcome,
	)
}
