// Package timingtest provides a virtual-time timing.Scheduler for tests.
//
// Callbacks only run from Advance, on the caller's goroutine, in due-time
// order. Stagger moves virtual time forward without running callbacks, so a
// callback that staggers delays everything armed after it the way the busy
// wait does on hardware.
package timingtest

import (
	"sort"
	"sync"
	"time"

	"github.com/Seann-Moser/servosched/pkg/timing"
)

// Scheduler is a manually driven timing.Scheduler.
type Scheduler struct {
	mu      sync.Mutex
	now     time.Duration
	seq     uint64
	pending []*event
	stagger time.Duration
}

type event struct {
	due   time.Duration
	seq   uint64
	fn    func()
	owner *Timeout
}

var _ timing.Scheduler = (*Scheduler)(nil)

// New returns a Scheduler at virtual time zero.
func New() *Scheduler {
	return &Scheduler{}
}

// Now returns the current virtual time.
func (s *Scheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Pending returns how many callbacks are armed.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Staggered returns the total virtual time spent in Stagger.
func (s *Scheduler) Staggered() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stagger
}

// NewTimeout returns an unarmed Timeout on the virtual clock.
func (s *Scheduler) NewTimeout() timing.Timeout {
	return &Timeout{s: s}
}

// Stagger moves virtual time forward by d without running callbacks.
func (s *Scheduler) Stagger(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.now += d
	s.stagger += d
	s.mu.Unlock()
}

// Advance runs every callback due within d of the current time, then sets
// the clock to the end of the window.
func (s *Scheduler) Advance(d time.Duration) {
	s.mu.Lock()
	end := s.now + d
	s.mu.Unlock()
	s.AdvanceTo(end)
}

// AdvanceTo runs every callback due at or before t.
func (s *Scheduler) AdvanceTo(t time.Duration) {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			break
		}
		sort.Slice(s.pending, func(i, j int) bool {
			if s.pending[i].due != s.pending[j].due {
				return s.pending[i].due < s.pending[j].due
			}
			return s.pending[i].seq < s.pending[j].seq
		})
		ev := s.pending[0]
		if ev.due > t {
			break
		}
		s.pending = s.pending[1:]
		if ev.due > s.now {
			s.now = ev.due
		}
		if ev.owner.ev == ev {
			ev.owner.ev = nil
		}
		s.mu.Unlock()
		ev.fn()
	}
	if t > s.now {
		s.now = t
	}
	s.mu.Unlock()
}

func (s *Scheduler) removeLocked(ev *event) {
	for i, p := range s.pending {
		if p == ev {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// Timeout is the virtual-time timing.Timeout.
type Timeout struct {
	s  *Scheduler
	ev *event
}

// Arm schedules fn at d past the current virtual time, replacing any
// pending callback.
func (t *Timeout) Arm(d time.Duration, fn func()) bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	replaced := t.disarmLocked()
	t.s.seq++
	t.ev = &event{due: t.s.now + d, seq: t.s.seq, fn: fn, owner: t}
	t.s.pending = append(t.s.pending, t.ev)
	return replaced
}

// Disarm drops the pending callback, if any.
func (t *Timeout) Disarm() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.disarmLocked()
}

func (t *Timeout) disarmLocked() bool {
	if t.ev == nil {
		return false
	}
	t.s.removeLocked(t.ev)
	t.ev = nil
	return true
}
