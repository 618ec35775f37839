package servo

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Seann-Moser/servosched/pkg/timing/timingtest"
)

type pinEvent struct {
	pin  *recPin
	high bool
	at   time.Duration
}

// recorder collects pin edges from every recPin on one virtual clock.
type recorder struct {
	ts *timingtest.Scheduler

	mu     sync.Mutex
	events []pinEvent
}

func newRecorder() *recorder {
	return &recorder{ts: timingtest.New()}
}

func (r *recorder) pin(name string) *recPin {
	return &recPin{name: name, rec: r}
}

func (r *recorder) record(p *recPin, high bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, pinEvent{pin: p, high: high, at: r.ts.Now()})
}

func (r *recorder) edges(high bool) []pinEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []pinEvent
	for _, ev := range r.events {
		if ev.high == high {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type recPin struct {
	name string
	rec  *recorder

	mu     sync.Mutex
	high   bool
	highs  int
	closed bool
	err    error
}

func (p *recPin) High() error {
	p.mu.Lock()
	p.high = true
	p.highs++
	err := p.err
	p.mu.Unlock()
	p.rec.record(p, true)
	return err
}

func (p *recPin) Low() error {
	p.mu.Lock()
	p.high = false
	err := p.err
	p.mu.Unlock()
	p.rec.record(p, false)
	return err
}

func (p *recPin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("already closed")
	}
	p.closed = true
	return nil
}

func (p *recPin) isHigh() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.high
}

func (p *recPin) highCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.highs
}

// smallConfig is two groups of three slots.
func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Groups = 2
	cfg.StaggerWindow = 300 * time.Microsecond
	return cfg
}

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *recorder) {
	t.Helper()
	rec := newRecorder()
	s, err := New(cfg, rec.ts)
	require.NoError(t, err)
	return s, rec
}

func layoutIndexes(s *Scheduler) [][]uint {
	var out [][]uint
	for _, group := range s.Layout() {
		var idx []uint
		for _, e := range group {
			idx = append(idx, e.Index)
		}
		out = append(out, idx)
	}
	return out
}
