// Package watchdog detects upstream streams that stop delivering data without
// closing or failing.
//
// An upstream HTTP response can hang indefinitely with the connection still
// open. The watchdog polls on a fixed interval, shorter than the grace
// period, and compares the time since the last Touch against the grace
// period. Touch only stores a timestamp, so pushing the deadline forward on
// every fragment never reschedules a timer.
package watchdog

import (
	"sync"
	"sync/atomic"
	"time"
)

var (
	defaultGrace = 8 * time.Second
	defaultPoll  = time.Second
)

// Watchdog fires a callback at most once when no Touch has been observed for
// longer than its grace period. Touch and Cancel are safe to call from any
// goroutine.
type Watchdog struct {
	grace time.Duration
	poll  time.Duration

	// last is the unix-nano timestamp of the most recent Touch.
	last atomic.Int64

	startOnce sync.Once

	mu      sync.Mutex
	stopped bool
	fired   bool
	stop    chan struct{}
	done    chan struct{}
}

// New returns a stopped Watchdog. A zero grace or poll falls back to the
// defaults (8s and 1s); a poll that is not shorter than grace is clamped to
// a tenth of it.
func New(grace, poll time.Duration) *Watchdog {
	if grace <= 0 {
		grace = defaultGrace
	}
	if poll <= 0 {
		poll = defaultPoll
	}
	if poll >= grace {
		poll = grace / 10
	}

	return &Watchdog{
		grace: grace,
		poll:  poll,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start begins polling and treats the current instant as the last touch.
// onStall runs on the watchdog goroutine after the watchdog has cancelled
// itself. Subsequent calls to Start are ignored.
func (w *Watchdog) Start(onStall func()) {
	w.startOnce.Do(func() {
		w.Touch()
		go w.run(onStall)
	})
}

// Touch records that data was just observed.
func (w *Watchdog) Touch() {
	w.last.Store(time.Now().UnixNano())
}

// Cancel stops polling without firing and reports whether it got there
// before the watchdog fired. It is idempotent. When Cancel returns true,
// onStall has not run and never will.
func (w *Watchdog) Cancel() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.stopped {
		w.stopped = true
		close(w.stop)
	}
	return !w.fired
}

// Fired reports whether the watchdog committed to invoking onStall.
func (w *Watchdog) Fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

// expire marks the watchdog fired unless it was already stopped.
func (w *Watchdog) expire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return false
	}
	w.stopped = true
	w.fired = true
	close(w.stop)
	return true
}

// Done is closed when the polling goroutine has exited.
func (w *Watchdog) Done() <-chan struct{} {
	return w.done
}

// Grace returns the effective grace period.
func (w *Watchdog) Grace() time.Duration {
	return w.grace
}

func (w *Watchdog) run(onStall func()) {
	defer close(w.done)

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case now := <-ticker.C:
			elapsed := now.Sub(time.Unix(0, w.last.Load()))
			if elapsed <= w.grace {
				continue
			}

			if !w.expire() {
				return
			}
			if onStall != nil {
				onStall()
			}
			return
		}
	}
}
