// Package relay streams a chat completion from an upstream provider to a
// client connection as the tokens arrive.
//
//	upstream body ──▶ deframe.Decoder ──▶ queue.Queue ──▶ Sink (client)
//	      │                                   ▲
//	      └──── watchdog.Touch ──▶ Watchdog ──┘ Seal(timeout)
//
// A session moves Requesting → Streaming → Terminating → Done. A delivered
// "stop", a stalled upstream, a failed request or stream, a dead client
// connection and caller cancellation all race to end it; the first one to
// resolve the session's outcome cell wins and the rest are ignored.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/papercomputeco/wsrelay/pkg/deframe"
	"github.com/papercomputeco/wsrelay/pkg/eventstream"
	"github.com/papercomputeco/wsrelay/pkg/llm"
	"github.com/papercomputeco/wsrelay/pkg/metrics"
	"github.com/papercomputeco/wsrelay/relay/queue"
	"github.com/papercomputeco/wsrelay/relay/watchdog"
)

const readBufferSize = 32 << 10

var (
	// ErrStalled is the Outcome error of a session whose upstream went silent.
	ErrStalled = errors.New("upstream stalled")

	// ErrEarlyEOF is the Outcome error of a stream that closed before any
	// terminal-reason marker was delivered.
	ErrEarlyEOF = errors.New("upstream closed before a finish reason")

	errNoSink = errors.New("session has no sink")
)

// Session is one relay invocation: a request and the connection it streams to.
type Session struct {
	ConnectionID string
	Request      *llm.RelayRequest
	Sink         Sink
}

// Relay runs sessions. It is safe for concurrent use; sessions share nothing.
type Relay struct {
	upstream  Upstream
	settings  atomic.Pointer[Settings]
	publisher eventstream.Publisher
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// New creates a Relay.
func New(c Config) (*Relay, error) {
	if c.Upstream == nil {
		return nil, errors.New("relay requires an upstream")
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := &Relay{
		upstream:  c.Upstream,
		publisher: c.Publisher,
		metrics:   c.Metrics,
		logger:    logger.With("component", "relay"),
	}
	r.UpdateSettings(c.Settings)

	return r, nil
}

// UpdateSettings replaces the tunables used by sessions started from now on.
func (r *Relay) UpdateSettings(s Settings) {
	s = s.withDefaults()
	r.settings.Store(&s)
}

// Settings returns the current tunables with defaults applied.
func (r *Relay) Settings() Settings {
	return *r.settings.Load()
}

// Run relays one session to completion and returns its outcome. It never
// fails: every failure becomes an Outcome and, while the client is
// reachable, exactly one terminal envelope.
func (r *Relay) Run(ctx context.Context, s Session) Outcome {
	sess := r.newSession(ctx, s)

	r.metrics.SessionStarted()
	sess.logger.Debug("relay session started",
		"model", sess.req.Model,
		"flavor", string(sess.req.Flavor),
		"message_count", len(sess.req.Messages),
	)

	out := sess.run()
	r.finish(sess, out)
	return out
}

type session struct {
	relay        *Relay
	ctx          context.Context
	settings     Settings
	connectionID string
	req          *llm.RelayRequest
	requestID    string
	sink         Sink
	logger       *slog.Logger
	startedAt    time.Time

	term     *terminal
	phase    atomic.Int32
	queue    *queue.Queue[llm.Envelope]
	watchdog *watchdog.Watchdog
	stream   *upstreamStream
	decoder  *deframe.Decoder

	// lastReason is the most recent non-empty finish reason delivered.
	lastReason atomic.Pointer[string]

	// stopSeen is set by the pump once a stop chunk has been queued. Nothing
	// read after it is decoded.
	stopSeen bool

	finalDelivered int
	finalDropped   int
}

func (r *Relay) newSession(ctx context.Context, s Session) *session {
	settings := r.Settings()

	req := &llm.RelayRequest{}
	if s.Request != nil {
		copied := *s.Request
		req = &copied
	}
	if req.Flavor == "" {
		req.Flavor = settings.DefaultFlavor
	}
	if req.BaseURL == "" {
		req.BaseURL = settings.DefaultBaseURL
	}

	sink := s.Sink
	if sink == nil {
		sink = func(context.Context, llm.Envelope) error { return errNoSink }
	}

	upCtx, cancel := context.WithCancel(ctx)

	sess := &session{
		relay:        r,
		ctx:          ctx,
		settings:     settings,
		connectionID: s.ConnectionID,
		req:          req,
		requestID:    req.RequestID,
		sink:         sink,
		startedAt:    time.Now(),
		term:         newTerminal(),
		watchdog:     watchdog.New(settings.StallGrace, settings.PollInterval),
		stream:       &upstreamStream{ctx: upCtx, cancel: cancel},
		decoder:      deframe.NewDecoder(),
		logger: r.logger.With(
			"connection_id", s.ConnectionID,
			"request_id", req.RequestID,
		),
	}

	sess.queue = queue.New(&queue.Config[llm.Envelope]{
		Sink:        queue.Sink[llm.Envelope](sink),
		Context:     ctx,
		SendTimeout: settings.DeliveryTimeout,
		OnDelivered: sess.onDelivered,
		OnFailure:   sess.onSinkFailure,
	})

	// Closing the body unblocks a pending Read on any termination path.
	context.AfterFunc(upCtx, sess.stream.stop)

	return sess
}

func (s *session) run() Outcome {
	// The watchdog also covers an upstream that never answers the request.
	s.watchdog.Start(s.onStall)

	if err := s.req.Validate(); err != nil {
		s.failRequest(err)
		return s.terminate()
	}

	body, err := s.relay.upstream.Open(s.stream.ctx, s.req, s.settings.MaxTokens)
	if err != nil {
		s.failRequest(err)
		return s.terminate()
	}

	if s.stream.attach(body) {
		s.phase.Store(int32(PhaseStreaming))
		s.pump(body)
	}

	return s.terminate()
}

// resolve records the outcome if nothing has yet and stops the upstream.
func (s *session) resolve(status Status, reason string, err error) bool {
	won := s.term.resolve(Outcome{
		Status:       status,
		FinishReason: reason,
		Err:          err,
		Phase:        Phase(s.phase.Load()),
	})
	if won {
		s.phase.Store(int32(PhaseTerminating))
		s.stream.stop()
	}
	return won
}

func (s *session) failRequest(err error) {
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		s.resolve(StatusCancelled, "", ctxErr)
		return
	}

	if s.resolve(StatusError, llm.FinishError, fmt.Errorf("opening upstream: %w", err)) {
		s.watchdog.Cancel()
		s.queue.Seal(llm.NewFailureEnvelope(s.requestID, llm.FinishError))
		s.logger.Warn("upstream request failed", "error", err)
	}
}

func (s *session) onStall() {
	if s.resolve(StatusTimeout, llm.FinishTimeout, ErrStalled) {
		s.queue.Seal(llm.NewFailureEnvelope(s.requestID, llm.FinishTimeout))
		s.logger.Warn("upstream stalled", "grace", s.watchdog.Grace())
	}
}

func (s *session) onDelivered(env llm.Envelope) {
	if reason := env.Reason(); reason != "" {
		s.lastReason.Store(&reason)
	}

	if env.IsStop() {
		s.resolve(StatusCompleted, llm.FinishStop, nil)
		// Anything the provider sent after its stop is not forwarded.
		s.queue.Abort()
	}
}

func (s *session) onSinkFailure(_ llm.Envelope, err error) {
	if s.resolve(StatusSinkFailed, "", fmt.Errorf("delivering envelope: %w", err)) {
		s.logger.Warn("client delivery failed", "error", err)
	}
}

// pump reads the upstream body until it ends or the session resolves.
func (s *session) pump(body io.Reader) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 && !s.stopSeen && !s.term.resolved() {
			s.watchdog.Touch()
			s.enqueue(s.decoder.Write(buf[:n]))
		}

		if err != nil {
			s.endOfStream(err)
			return
		}
		if s.term.resolved() {
			return
		}
	}
}

func (s *session) enqueue(objects []json.RawMessage) {
	for _, obj := range objects {
		var chunk llm.StreamChunk
		if err := json.Unmarshal(obj, &chunk); err != nil {
			s.logger.Debug("skipping object that is not a stream chunk", "error", err)
			continue
		}

		env, ok := llm.NewEnvelope(s.requestID, &chunk)
		if !ok {
			continue
		}

		if env.IsStop() {
			// The provider is done; a body left open after its stop is not a
			// stall. If the watchdog already fired, its timeout stands.
			if !s.watchdog.Cancel() {
				return
			}
			s.stopSeen = true
		}

		if err := s.queue.Enqueue(env); err != nil {
			// The session already resolved; later objects are not delivered.
			return
		}
		if s.stopSeen {
			return
		}
	}
}

// endOfStream handles the upstream body ending with err, which is io.EOF for
// a clean close.
func (s *session) endOfStream(err error) {
	if s.term.resolved() {
		return
	}

	if ctxErr := s.ctx.Err(); ctxErr != nil {
		s.resolve(StatusCancelled, "", ctxErr)
		return
	}

	// A finished upstream cannot stall. If the watchdog already committed,
	// let its timeout envelope go out instead.
	if !s.watchdog.Cancel() {
		<-s.watchdog.Done()
		return
	}

	s.queue.Close()
	<-s.queue.Done()

	if s.term.resolved() {
		return
	}

	failure := ErrEarlyEOF
	if errors.Is(err, io.EOF) {
		if reason := s.lastReason.Load(); reason != nil {
			s.resolve(StatusCompleted, *reason, nil)
			return
		}
	} else {
		failure = fmt.Errorf("reading upstream: %w", err)
	}

	if s.resolve(StatusError, llm.FinishError, failure) {
		s.logger.Warn("upstream stream ended without finishing", "error", failure)
		s.sendFinal(llm.NewFailureEnvelope(s.requestID, llm.FinishError))
	}
}

// sendFinal delivers env directly. Callers must have drained the queue so the
// sink is never called concurrently.
func (s *session) sendFinal(env llm.Envelope) {
	ctx, cancel := context.WithTimeout(s.ctx, s.settings.DeliveryTimeout)
	defer cancel()

	if err := s.sink(ctx, env); err != nil {
		s.finalDropped++
		s.logger.Warn("failed to deliver final envelope", "error", err)
		return
	}
	s.finalDelivered++
}

// terminate cancels the watchdog, stops the upstream and waits for every
// queued envelope to be delivered or dropped.
func (s *session) terminate() Outcome {
	// A fired watchdog seals the queue from its own goroutine; wait for it
	// so Close cannot beat the timeout envelope.
	if !s.watchdog.Cancel() {
		<-s.watchdog.Done()
	}
	s.stream.stop()
	s.queue.Close()
	<-s.queue.Done()

	out := s.term.result()
	out.Delivered = s.queue.Delivered() + s.finalDelivered
	out.Dropped = s.queue.Dropped() + s.finalDropped
	out.Stats = s.decoder.Stats()
	out.StartedAt = s.startedAt
	out.Duration = time.Since(s.startedAt)
	s.phase.Store(int32(PhaseDone))

	return out
}

// upstreamStream holds the body once the request has been answered, so any
// goroutine can stop it, including before the body exists.
type upstreamStream struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	body    io.ReadCloser
	stopped bool
}

// attach stores body, or closes it and returns false when the stream was
// already stopped.
func (u *upstreamStream) attach(body io.ReadCloser) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.stopped {
		_ = body.Close()
		return false
	}
	u.body = body
	return true
}

func (u *upstreamStream) stop() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.stopped {
		return
	}
	u.stopped = true
	u.cancel()
	if u.body != nil {
		_ = u.body.Close()
	}
}

func (r *Relay) finish(s *session, out Outcome) {
	attrs := []any{
		"status", string(out.Status),
		"finish_reason", out.FinishReason,
		"phase", out.Phase.String(),
		"delivered", out.Delivered,
		"dropped", out.Dropped,
		"fragments", out.Stats.Fragments,
		"objects", out.Stats.Objects,
		"discarded", out.Stats.Discarded,
		"duration", out.Duration,
	}
	if out.Err != nil {
		attrs = append(attrs, "error", out.Err)
	}

	if out.Status == StatusCompleted {
		s.logger.Info("relay session finished", attrs...)
	} else {
		s.logger.Warn("relay session failed", attrs...)
	}

	r.metrics.RecordSession(metrics.SessionStats{
		Flavor:    string(s.req.Flavor),
		Outcome:   string(out.Status),
		Duration:  out.Duration,
		Fragments: out.Stats.Fragments,
		Objects:   out.Stats.Objects,
		Discarded: out.Stats.Discarded,
		Delivered: out.Delivered,
		Dropped:   out.Dropped,
	})

	r.publish(s, out)
}

func (r *Relay) publish(s *session, out Outcome) {
	if r.publisher == nil {
		return
	}

	meta := eventstream.SessionMeta{
		StartedAt:    out.StartedAt.UTC(),
		CompletedAt:  out.StartedAt.Add(out.Duration).UTC(),
		DurationMs:   out.Duration.Milliseconds(),
		Outcome:      string(out.Status),
		FinishReason: out.FinishReason,
	}
	if out.Err != nil {
		meta.Error = out.Err.Error()
	}

	event := eventstream.NewSessionCompletedEvent(
		eventstream.EventSource{
			ConnectionID: s.connectionID,
			RequestID:    s.requestID,
			Flavor:       string(s.req.Flavor),
			Model:        s.req.Model,
		},
		meta,
		eventstream.SessionStreamMeta{
			Fragments:           out.Stats.Fragments,
			Objects:             out.Stats.Objects,
			DiscardedCandidates: out.Stats.Discarded,
			EnvelopesDelivered:  out.Delivered,
			EnvelopesDropped:    out.Dropped,
		},
	)

	// The session context may already be cancelled; the event still goes out.
	if err := r.publisher.PublishSession(context.WithoutCancel(s.ctx), event); err != nil {
		s.logger.Warn("failed to publish session event", "error", err)
	}
}
