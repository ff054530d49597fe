package relay_test

import (
	"context"
	"errors"
	"io"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/papercomputeco/wsrelay/pkg/llm"
	"github.com/papercomputeco/wsrelay/pkg/metrics"
	"github.com/papercomputeco/wsrelay/relay"
)

const (
	chunkHi   = `{"choices":[{"delta":{"content":"Hi"}}]}`
	chunkBang = `{"choices":[{"delta":{"content":"!"},"finish_reason":"stop"}]}`
	chunkMore = `{"choices":[{"delta":{"content":"late"}}]}`

	grace = 200 * time.Millisecond
	poll  = 20 * time.Millisecond
)

func sse(obj string) string {
	return "data: " + obj + "\n\n"
}

func newRequest() *llm.RelayRequest {
	return &llm.RelayRequest{
		APIKey:    "sk-test",
		BaseURL:   "https://api.example.com",
		Model:     "gpt-4o",
		Messages:  []llm.Message{llm.NewTextMessage("user", "hi")},
		RequestID: "req-1",
	}
}

var _ = Describe("Relay", func() {
	var (
		up        *fakeUpstream
		sink      *recorder
		publisher *capturePublisher
		r         *relay.Relay
		ctx       context.Context
	)

	BeforeEach(func() {
		up = &fakeUpstream{}
		sink = &recorder{}
		publisher = &capturePublisher{}
		ctx = context.Background()

		var err error
		r, err = relay.New(relay.Config{
			Upstream:  up,
			Publisher: publisher,
			Metrics:   metrics.NewCollector(&metrics.Config{Enabled: true}, prometheus.NewRegistry()),
			Settings: relay.Settings{
				StallGrace:      grace,
				PollInterval:    poll,
				MaxTokens:       800,
				DeliveryTimeout: time.Second,
			},
		})
		Expect(err).NotTo(HaveOccurred())
	})

	run := func() relay.Outcome {
		return r.Run(ctx, relay.Session{
			ConnectionID: "conn-1",
			Request:      newRequest(),
			Sink:         sink.send,
		})
	}

	It("requires an upstream", func() {
		_, err := relay.New(relay.Config{})
		Expect(err).To(HaveOccurred())
	})

	It("delivers each fragment in order and ends once on stop", func() {
		up.body = newFragmentBody(chunkHi, chunkBang)

		out := run()

		Expect(out.Status).To(Equal(relay.StatusCompleted))
		Expect(out.FinishReason).To(Equal(llm.FinishStop))
		Expect(out.Err).NotTo(HaveOccurred())

		envs := sink.envelopes()
		Expect(contents(envs)).To(Equal([]string{"Hi", "!"}))
		Expect(reasons(envs)).To(Equal([]string{"", "stop"}))
		Expect(envs[0].RequestID).To(Equal("req-1"))
		Expect(out.Delivered).To(Equal(2))

		Consistently(sink.envelopes, 3*grace/2).Should(HaveLen(2))
		Expect(publisher.published()).To(HaveLen(1))
	})

	It("reassembles an object split across fragments", func() {
		up.body = newFragmentBody(`data: {"choices":[{"delta":`, `{"content":"Hi"}}]}`+"\n\n", sse(chunkBang), "data: [DONE]\n\n")

		out := run()

		Expect(out.Status).To(Equal(relay.StatusCompleted))
		Expect(contents(sink.envelopes())).To(Equal([]string{"Hi", "!"}))
		Expect(out.Stats.Objects).To(Equal(2))
		Expect(out.Stats.Fragments).To(BeNumerically(">=", 2))
	})

	It("sends exactly one error envelope when the upstream request fails", func() {
		up.err = errors.New("connection refused")

		out := run()

		Expect(out.Status).To(Equal(relay.StatusError))
		Expect(out.Phase).To(Equal(relay.PhaseRequesting))
		Expect(out.Err).To(MatchError(ContainSubstring("connection refused")))

		envs := sink.envelopes()
		Expect(reasons(envs)).To(Equal([]string{llm.FinishError}))
		Expect(envs[0].RequestID).To(Equal("req-1"))

		// The watchdog was cancelled: no timeout follows.
		Consistently(sink.envelopes, 2*grace).Should(HaveLen(1))
	})

	It("sends exactly one timeout envelope when the upstream stalls", func() {
		pr, pw := io.Pipe()
		up.body = pr

		started := time.Now()
		out := run()

		Expect(time.Since(started)).To(BeNumerically(">=", grace))
		Expect(out.Status).To(Equal(relay.StatusTimeout))
		Expect(out.Err).To(MatchError(relay.ErrStalled))
		Expect(reasons(sink.envelopes())).To(Equal([]string{llm.FinishTimeout}))

		// Data arriving after the timeout is never forwarded.
		_, err := pw.Write([]byte(chunkHi))
		Expect(err).To(HaveOccurred())
		Consistently(sink.envelopes, grace).Should(HaveLen(1))
	})

	It("times out after content when the stream goes quiet", func() {
		pr, pw := io.Pipe()
		up.body = pr

		go func() {
			defer GinkgoRecover()
			_, _ = pw.Write([]byte(sse(chunkHi)))
		}()

		out := run()

		Expect(out.Status).To(Equal(relay.StatusTimeout))
		Expect(out.Phase).To(Equal(relay.PhaseStreaming))
		Expect(reasons(sink.envelopes())).To(Equal([]string{"", llm.FinishTimeout}))
	})

	It("times out when the upstream never answers the request", func() {
		up.open = func(ctx context.Context) (io.ReadCloser, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}

		out := run()

		Expect(out.Status).To(Equal(relay.StatusTimeout))
		Expect(out.Phase).To(Equal(relay.PhaseRequesting))
		Expect(reasons(sink.envelopes())).To(Equal([]string{llm.FinishTimeout}))
	})

	It("ends the session without retrying when the client is gone", func() {
		sink.failAt = 2
		up.body = newFragmentBody(chunkHi, chunkMore, chunkMore, chunkBang)

		out := run()

		Expect(out.Status).To(Equal(relay.StatusSinkFailed))
		Expect(out.Err).To(MatchError(ContainSubstring("connection gone")))
		Expect(contents(sink.envelopes())).To(Equal([]string{"Hi"}))
		Expect(sink.attempts()).To(Equal(2))
	})

	It("does not forward anything after the provider's stop", func() {
		up.body = newFragmentBody(chunkHi, chunkBang, chunkMore, chunkMore)

		out := run()

		Expect(out.Status).To(Equal(relay.StatusCompleted))
		Expect(contents(sink.envelopes())).To(Equal([]string{"Hi", "!"}))
	})

	It("completes on stop even when delivery outlasts the grace period", func() {
		body := newHangingBody(sse(chunkHi) + sse(chunkBang))
		up.body = body
		sink.onSend = func(n int) {
			if n == 1 {
				time.Sleep(2 * grace)
			}
		}

		out := run()

		Expect(out.Status).To(Equal(relay.StatusCompleted))
		Expect(out.FinishReason).To(Equal(llm.FinishStop))
		envs := sink.envelopes()
		Expect(contents(envs)).To(Equal([]string{"Hi", "!"}))
		Expect(reasons(envs)).To(Equal([]string{"", "stop"}))
		Expect(body.released).To(BeClosed())
	})

	It("never overlaps sends", func() {
		frags := make([]string, 0, 41)
		for range 40 {
			frags = append(frags, chunkMore)
		}
		up.body = newFragmentBody(append(frags, chunkBang)...)
		sink.onSend = func(int) { time.Sleep(time.Millisecond) }

		out := run()

		Expect(out.Status).To(Equal(relay.StatusCompleted))
		Expect(sink.envelopes()).To(HaveLen(41))
		Expect(sink.overlap.Load()).To(BeFalse())
	})

	Context("when the upstream closes without a stop", func() {
		It("sends one error envelope after the content", func() {
			up.body = newFragmentBody(chunkHi, chunkMore)

			out := run()

			Expect(out.Status).To(Equal(relay.StatusError))
			Expect(out.Err).To(MatchError(relay.ErrEarlyEOF))
			Expect(reasons(sink.envelopes())).To(Equal([]string{"", "", llm.FinishError}))
			Expect(out.Delivered).To(Equal(3))
		})

		It("ends with the provider's own finish reason", func() {
			up.body = newFragmentBody(chunkHi, `{"choices":[{"delta":{},"finish_reason":"length"}]}`)

			out := run()

			Expect(out.Status).To(Equal(relay.StatusCompleted))
			Expect(out.FinishReason).To(Equal(llm.FinishLength))
			Expect(reasons(sink.envelopes())).To(Equal([]string{"", llm.FinishLength}))
		})

		It("treats a read error as an error after the content", func() {
			body := newFragmentBody(chunkHi)
			body.err = errors.New("connection reset by peer")
			up.body = body

			out := run()

			Expect(out.Status).To(Equal(relay.StatusError))
			Expect(out.Err).To(MatchError(ContainSubstring("connection reset by peer")))
			Expect(reasons(sink.envelopes())).To(Equal([]string{"", llm.FinishError}))
		})
	})

	It("ends quietly when the caller cancels", func() {
		pr, pw := io.Pipe()
		up.body = pr

		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(context.Background())
		sink.onSend = func(int) { cancel() }

		go func() {
			defer GinkgoRecover()
			_, _ = pw.Write([]byte(chunkHi))
		}()

		out := run()

		Expect(out.Status).To(Equal(relay.StatusCancelled))
		Expect(contents(sink.envelopes())).To(Equal([]string{"Hi"}))
	})

	It("rejects an incomplete request without calling the upstream", func() {
		out := r.Run(ctx, relay.Session{
			Request: &llm.RelayRequest{RequestID: "req-2", BaseURL: "https://x"},
			Sink:    sink.send,
		})

		Expect(out.Status).To(Equal(relay.StatusError))
		Expect(up.calls()).To(BeZero())
		Expect(reasons(sink.envelopes())).To(Equal([]string{llm.FinishError}))
	})

	It("fills flavor and base URL from settings and applies the token cap", func() {
		up.body = newFragmentBody(chunkBang)
		r.UpdateSettings(relay.Settings{
			StallGrace:     grace,
			PollInterval:   poll,
			MaxTokens:      64,
			DefaultFlavor:  llm.FlavorAPIKey,
			DefaultBaseURL: "https://fallback.example.com",
		})

		req := newRequest()
		req.BaseURL = ""
		out := r.Run(ctx, relay.Session{Request: req, Sink: sink.send})

		Expect(out.Status).To(Equal(relay.StatusCompleted))
		Expect(up.lastReq.Flavor).To(Equal(llm.FlavorAPIKey))
		Expect(up.lastReq.BaseURL).To(Equal("https://fallback.example.com"))
		Expect(up.maxTokens).To(Equal(64))
		Expect(req.BaseURL).To(BeEmpty())
	})

	It("applies defaults to unset settings", func() {
		r.UpdateSettings(relay.Settings{})
		s := r.Settings()
		Expect(s.StallGrace).To(Equal(8 * time.Second))
		Expect(s.PollInterval).To(Equal(time.Second))
		Expect(s.DeliveryTimeout).To(Equal(10 * time.Second))
		Expect(s.DefaultFlavor).To(Equal(llm.FlavorOpenAI))
	})

	It("publishes a session event with the stream counters", func() {
		up.body = newFragmentBody("noise {bad} "+chunkHi, chunkBang)

		run()

		events := publisher.published()
		Expect(events).To(HaveLen(1))
		e := events[0]
		Expect(e.Source.ConnectionID).To(Equal("conn-1"))
		Expect(e.Source.RequestID).To(Equal("req-1"))
		Expect(e.Session.Outcome).To(Equal("completed"))
		Expect(e.Session.FinishReason).To(Equal("stop"))
		Expect(e.Stream.DiscardedCandidates).To(Equal(1))
		Expect(e.Stream.EnvelopesDelivered).To(Equal(2))
	})
})
