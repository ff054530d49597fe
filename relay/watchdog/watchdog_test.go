package watchdog_test

import (
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/wsrelay/relay/watchdog"
)

const (
	grace = 200 * time.Millisecond
	poll  = 20 * time.Millisecond
)

var _ = Describe("Watchdog", func() {
	It("fires once after the grace period when nothing arrives", func() {
		w := watchdog.New(grace, poll)

		var calls atomic.Int32
		firedAt := make(chan time.Time, 1)
		start := time.Now()
		w.Start(func() {
			calls.Add(1)
			firedAt <- time.Now()
		})

		var at time.Time
		Eventually(firedAt, time.Second).Should(Receive(&at))
		elapsed := at.Sub(start)
		Expect(elapsed).To(BeNumerically(">=", grace))
		// One polling interval of lateness, plus scheduler slack.
		Expect(elapsed).To(BeNumerically("<=", grace+poll+50*time.Millisecond))

		Eventually(w.Done()).Should(BeClosed())
		Consistently(calls.Load, 3*poll).Should(Equal(int32(1)))
		Expect(w.Fired()).To(BeTrue())
	})

	It("keeps pushing the deadline forward on Touch", func() {
		w := watchdog.New(grace, poll)

		var fired atomic.Bool
		w.Start(func() { fired.Store(true) })

		deadline := time.Now().Add(2 * grace)
		for time.Now().Before(deadline) {
			w.Touch()
			time.Sleep(grace / 4)
		}
		Expect(fired.Load()).To(BeFalse())

		Eventually(fired.Load, time.Second).Should(BeTrue())
	})

	It("never fires after Cancel", func() {
		w := watchdog.New(grace, poll)

		var fired atomic.Bool
		w.Start(func() { fired.Store(true) })

		time.Sleep(grace / 2)
		Expect(w.Cancel()).To(BeTrue())
		Eventually(w.Done()).Should(BeClosed())

		Consistently(fired.Load, 2*grace).Should(BeFalse())
		Expect(w.Fired()).To(BeFalse())
	})

	It("reports a lost race when cancelled after firing", func() {
		w := watchdog.New(grace, poll)

		stalled := make(chan struct{})
		w.Start(func() { close(stalled) })

		Eventually(stalled, time.Second).Should(BeClosed())
		Expect(w.Cancel()).To(BeFalse())
		Expect(w.Cancel()).To(BeFalse())
	})

	It("ignores a second Start", func() {
		w := watchdog.New(grace, poll)

		var calls atomic.Int32
		w.Start(func() { calls.Add(1) })
		w.Start(func() { calls.Add(100) })

		Eventually(calls.Load, time.Second).Should(Equal(int32(1)))
	})

	Describe("New", func() {
		It("applies defaults for zero durations", func() {
			Expect(watchdog.New(0, 0).Grace()).To(Equal(8 * time.Second))
		})

		It("keeps an explicit grace", func() {
			Expect(watchdog.New(time.Second, 5*time.Second).Grace()).To(Equal(time.Second))
		})
	})
})
