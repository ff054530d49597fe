package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/wsrelay/relay/queue"
)

// recordingSink records deliveries and the peak number of concurrent calls.
type recordingSink struct {
	mu       sync.Mutex
	got      []int
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	failOn   int
}

func (s *recordingSink) send(_ context.Context, item int) error {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.failOn != 0 && item == s.failOn {
		return errors.New("connection gone")
	}

	s.mu.Lock()
	s.got = append(s.got, item)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) delivered() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.got...)
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range n {
		out[i] = i + 1
	}
	return out
}

var _ = Describe("Queue", func() {
	var sink *recordingSink

	BeforeEach(func() {
		sink = &recordingSink{}
	})

	It("delivers every item in enqueue order without overlap", func() {
		sink.delay = time.Millisecond
		q := queue.New(&queue.Config[int]{Sink: sink.send})

		for _, i := range seq(50) {
			Expect(q.Enqueue(i)).To(Succeed())
		}
		q.Close()

		Eventually(q.Done(), 5*time.Second).Should(BeClosed())
		Expect(sink.delivered()).To(Equal(seq(50)))
		Expect(sink.peak.Load()).To(Equal(int32(1)))
		Expect(q.Delivered()).To(Equal(50))
	})

	It("keeps order when producers race with an in-flight delivery", func() {
		sink.delay = 200 * time.Microsecond
		q := queue.New(&queue.Config[int]{Sink: sink.send})

		var wg sync.WaitGroup
		var mu sync.Mutex
		var order []int
		for _, i := range seq(40) {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				mu.Lock()
				defer mu.Unlock()
				order = append(order, i)
				Expect(q.Enqueue(i)).To(Succeed())
			}()
		}
		wg.Wait()
		q.Close()

		Eventually(q.Done(), 5*time.Second).Should(BeClosed())
		Expect(sink.delivered()).To(Equal(order))
		Expect(sink.peak.Load()).To(Equal(int32(1)))
	})

	It("returns to idle when empty and restarts on the next Enqueue", func() {
		q := queue.New(&queue.Config[int]{Sink: sink.send})

		Expect(q.State()).To(Equal(queue.Idle))
		Expect(q.Enqueue(1)).To(Succeed())
		Eventually(q.State).Should(Equal(queue.Idle))

		Expect(q.Enqueue(2)).To(Succeed())
		Eventually(sink.delivered).Should(Equal([]int{1, 2}))
	})

	It("runs OnDelivered after each send and before the next", func() {
		var events []string
		var mu sync.Mutex
		record := func(s string) {
			mu.Lock()
			events = append(events, s)
			mu.Unlock()
		}

		q := queue.New(&queue.Config[int]{
			Sink: func(_ context.Context, item int) error {
				record("send")
				return nil
			},
			OnDelivered: func(item int) { record("delivered") },
		})
		Expect(q.Enqueue(1)).To(Succeed())
		Expect(q.Enqueue(2)).To(Succeed())
		q.Close()

		Eventually(q.Done()).Should(BeClosed())
		Expect(events).To(Equal([]string{"send", "delivered", "send", "delivered"}))
	})

	It("lets OnDelivered close the queue", func() {
		var q *queue.Queue[int]
		q = queue.New(&queue.Config[int]{
			Sink: sink.send,
			OnDelivered: func(item int) {
				if item == 2 {
					q.Close()
				}
			},
		})
		Expect(q.Enqueue(1)).To(Succeed())
		Expect(q.Enqueue(2)).To(Succeed())

		Eventually(q.Done()).Should(BeClosed())
		Expect(q.Enqueue(3)).To(MatchError(queue.ErrClosed))
		Expect(q.State()).To(Equal(queue.Closed))
	})

	It("closes immediately when closed while idle", func() {
		q := queue.New(&queue.Config[int]{Sink: sink.send})
		q.Close()
		Expect(q.Done()).To(BeClosed())
		Expect(q.Enqueue(1)).To(MatchError(queue.ErrClosed))
	})

	Describe("Seal", func() {
		It("drops pending items and delivers the final item last", func() {
			release := make(chan struct{})
			started := make(chan struct{}, 1)
			q := queue.New(&queue.Config[int]{
				Sink: func(ctx context.Context, item int) error {
					if item == 1 {
						started <- struct{}{}
						<-release
					}
					return sink.send(ctx, item)
				},
			})

			Expect(q.Enqueue(1)).To(Succeed())
			Eventually(started).Should(Receive())
			Expect(q.Enqueue(2)).To(Succeed())
			Expect(q.Enqueue(3)).To(Succeed())

			Expect(q.Seal(99)).To(BeTrue())
			Expect(q.Seal(100)).To(BeFalse())
			Expect(q.Enqueue(4)).To(MatchError(queue.ErrClosed))
			close(release)

			Eventually(q.Done()).Should(BeClosed())
			Expect(sink.delivered()).To(Equal([]int{1, 99}))
			Expect(q.Dropped()).To(Equal(2))
		})

		It("delivers the final item on an idle queue", func() {
			q := queue.New(&queue.Config[int]{Sink: sink.send})
			Expect(q.Seal(7)).To(BeTrue())
			Eventually(q.Done()).Should(BeClosed())
			Expect(sink.delivered()).To(Equal([]int{7}))
		})

		It("refuses to seal a closed queue", func() {
			q := queue.New(&queue.Config[int]{Sink: sink.send})
			q.Close()
			Expect(q.Seal(7)).To(BeFalse())
			Consistently(sink.delivered).Should(BeEmpty())
		})
	})

	Describe("Abort", func() {
		It("drops pending items once OnDelivered sees a terminal item", func() {
			var q *queue.Queue[int]
			q = queue.New(&queue.Config[int]{
				Sink: sink.send,
				OnDelivered: func(item int) {
					if item == 2 {
						q.Abort()
					}
				},
			})
			for _, i := range seq(5) {
				Expect(q.Enqueue(i)).To(Succeed())
			}

			Eventually(q.Done()).Should(BeClosed())
			Expect(sink.delivered()).To(HaveLen(2))
			Expect(sink.delivered()).To(Equal([]int{1, 2}))
			Expect(q.Dropped()).To(Equal(3))
		})

		It("closes an idle queue immediately", func() {
			q := queue.New(&queue.Config[int]{Sink: sink.send})
			q.Abort()
			Expect(q.Done()).To(BeClosed())
			Expect(q.State()).To(Equal(queue.Closed))
		})

		It("never discards the final item of a Seal", func() {
			release := make(chan struct{})
			started := make(chan struct{}, 1)
			q := queue.New(&queue.Config[int]{
				Sink: func(ctx context.Context, item int) error {
					if item == 1 {
						started <- struct{}{}
						<-release
					}
					return sink.send(ctx, item)
				},
			})

			Expect(q.Enqueue(1)).To(Succeed())
			Eventually(started).Should(Receive())
			Expect(q.Seal(99)).To(BeTrue())
			q.Abort()
			close(release)

			Eventually(q.Done()).Should(BeClosed())
			Expect(sink.delivered()).To(Equal([]int{1, 99}))
		})
	})

	Describe("sink failure", func() {
		It("reports the failure once, drops the rest and does not retry", func() {
			sink.delay = time.Millisecond
			sink.failOn = 3

			var failures atomic.Int32
			var failedItem atomic.Int32
			var failErr atomic.Value
			q := queue.New(&queue.Config[int]{
				Sink: sink.send,
				OnFailure: func(item int, err error) {
					failures.Add(1)
					failedItem.Store(int32(item))
					failErr.Store(err)
				},
			})
			for _, i := range seq(6) {
				Expect(q.Enqueue(i)).To(Succeed())
			}

			Eventually(q.Done()).Should(BeClosed())
			Expect(failures.Load()).To(Equal(int32(1)))
			Expect(failedItem.Load()).To(Equal(int32(3)))
			Expect(failErr.Load()).To(MatchError("connection gone"))
			Expect(sink.delivered()).To(Equal([]int{1, 2}))
			Expect(q.Dropped()).To(Equal(3))
			Expect(q.Enqueue(7)).To(MatchError(queue.ErrClosed))
		})

		It("bounds each send with SendTimeout", func() {
			var gotErr atomic.Value
			q := queue.New(&queue.Config[int]{
				SendTimeout: 20 * time.Millisecond,
				Sink: func(ctx context.Context, _ int) error {
					<-ctx.Done()
					return ctx.Err()
				},
				OnFailure: func(_ int, err error) { gotErr.Store(err) },
			})
			Expect(q.Enqueue(1)).To(Succeed())

			Eventually(q.Done(), time.Second).Should(BeClosed())
			Expect(gotErr.Load()).To(MatchError(context.DeadlineExceeded))
		})
	})
})
