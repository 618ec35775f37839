// Package timing provides the one-shot callback primitive the servo
// scheduler is built on.
package timing

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Timeout is a re-armable one-shot callback. Arming a Timeout that is still
// pending replaces the pending callback.
type Timeout interface {
	// Arm schedules fn to run once after d. It reports whether a pending
	// callback was replaced.
	Arm(d time.Duration, fn func()) bool
	// Disarm cancels a pending callback and reports whether there was one.
	Disarm() bool
}

// Scheduler hands out Timeouts and performs the short busy-wait used to
// stagger pin activations.
type Scheduler interface {
	NewTimeout() Timeout
	// Stagger blocks the caller for d without yielding to the timer.
	Stagger(d time.Duration)
}

// Clock is a Scheduler backed by a clock.Clock.
type Clock struct {
	clk clock.Clock
}

// New returns a Scheduler over the wall clock.
func New() *Clock {
	return NewWithClock(clock.New())
}

// NewWithClock returns a Scheduler over clk.
func NewWithClock(clk clock.Clock) *Clock {
	return &Clock{clk: clk}
}

// NewTimeout returns an unarmed Timeout on the clock.
func (c *Clock) NewTimeout() Timeout {
	return &clockTimeout{clk: c.clk}
}

// Stagger spins on the clock; it never sleeps.
func (c *Clock) Stagger(d time.Duration) {
	if d <= 0 {
		return
	}
	start := c.clk.Now()
	for c.clk.Since(start) < d {
	}
}

type clockTimeout struct {
	clk clock.Clock

	mu    sync.Mutex
	timer *clock.Timer
	gen   uint64
}

func (t *clockTimeout) Arm(d time.Duration, fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	replaced := t.stopLocked()
	t.gen++
	gen := t.gen
	t.timer = t.clk.AfterFunc(d, func() {
		t.mu.Lock()
		if t.gen != gen {
			t.mu.Unlock()
			return
		}
		t.timer = nil
		t.mu.Unlock()
		fn()
	})
	return replaced
}

func (t *clockTimeout) Disarm() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	return t.stopLocked()
}

func (t *clockTimeout) stopLocked() bool {
	if t.timer == nil {
		return false
	}
	// The generation bump in the caller keeps an already-fired timer from
	// running fn, so a non-nil timer always counts as cancelled.
	t.timer.Stop()
	t.timer = nil
	return true
}
