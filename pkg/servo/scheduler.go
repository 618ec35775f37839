// Package servo drives many hobby servos from plain digital outputs by
// time-multiplexing their pulses.
//
// Servos are packed into fixed-size groups. Every cycle the groups are
// switched on one after another, GroupTime apart, and inside a group the
// pins go high in ascending on-time order, InterruptServiceTime apart. The
// group size is bounded so that the whole stagger fits inside the shortest
// pulse, which keeps every off callback of a group at least one interrupt
// service time away from the others.
package servo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/Seann-Moser/servosched/pkg/timing"
)

// Scheduler owns the servo table and runs the output cycle.
type Scheduler struct {
	log   zerolog.Logger
	timer timing.Scheduler

	// mu is the critical section shared by the API and the timer callbacks.
	mu  sync.Mutex
	cfg Config
	tab *table

	running bool
	// gen is bumped by every Start; callbacks armed under an older
	// generation never re-arm or switch pins on.
	gen     uint64
	pending int
	firing  int
	lit     int
	cycles  uint64

	idle       chan struct{}
	idleClosed bool

	cycle  timing.Timeout
	groups []timing.Timeout
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) {
		s.log = l
	}
}

// New builds a stopped Scheduler. ts supplies the timer callbacks and the
// stagger busy-wait.
func New(cfg Config, ts timing.Scheduler, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ts == nil {
		return nil, errors.New("servo: nil timing scheduler")
	}
	s := &Scheduler{
		log:        zerolog.Nop(),
		timer:      ts,
		cfg:        cfg,
		tab:        newTable(cfg.Groups, cfg.GroupSize()),
		idle:       make(chan struct{}),
		idleClosed: true,
		cycle:      ts.NewTimeout(),
		groups:     make([]timing.Timeout, cfg.Groups),
	}
	close(s.idle)
	for g := range s.groups {
		s.groups[g] = ts.NewTimeout()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// critical enters the critical section and returns its release:
//
//	defer s.critical()()
func (s *Scheduler) critical() func() {
	s.mu.Lock()
	return s.mu.Unlock
}

// Add appends a servo to the first group with a free slot. The group is
// sorted at the start of the next cycle.
func (s *Scheduler) Add(pin Pin, pos Position, index uint) error {
	if pin == nil {
		return fmt.Errorf("servo %d: nil pin", index)
	}
	defer s.critical()()
	if s.tab.full() {
		return fmt.Errorf("servo %d: %w (capacity %d)", index, ErrCapacityExceeded, s.tab.capacity())
	}
	if _, e := s.tab.find(index); e != nil {
		return fmt.Errorf("servo %d: %w", index, ErrDuplicateIndex)
	}
	e := newEntry(pin, index, pos, s.cfg, s.timer.NewTimeout())
	g := s.tab.append(e)
	s.tab.sorted[g] = false
	s.log.Debug().Uint("index", index).Uint8("position", uint8(pos)).Int("group", g).
		Dur("on_time", e.onTime).Msg("servo added")
	return nil
}

// Remove takes a servo out of the table, drives its pin low and closes it
// if it is an io.Closer.
func (s *Scheduler) Remove(index uint) error {
	e, err := s.remove(index)
	if err != nil {
		return err
	}
	if err := release(e.pin); err != nil {
		s.log.Warn().Err(err).Uint("index", index).Msg("releasing servo pin")
	}
	return nil
}

func (s *Scheduler) remove(index uint) (*Entry, error) {
	defer s.critical()()
	i, e := s.tab.find(index)
	if e == nil {
		return nil, fmt.Errorf("servo %d: %w", index, ErrIndexNotFound)
	}
	s.tab.removeAt(i)
	s.retireLocked(e)

	// Every group from the owner on had one entry pulled in at its tail.
	first, _ := s.tab.locate(i)
	for g := first; g < s.tab.groupsInUse(); g++ {
		BubbleSort(s.tab.group(g), byOnTime)
		s.tab.sorted[g] = true
	}
	for g := s.tab.groupsInUse(); g < len(s.tab.sorted); g++ {
		s.tab.sorted[g] = true
	}
	s.settleLocked()
	s.log.Debug().Uint("index", index).Int("live", s.tab.live).Msg("servo removed")
	return e, nil
}

// retireLocked detaches a removed entry from the cycle. The pin itself is
// released by the caller outside the critical section.
func (s *Scheduler) retireLocked(e *Entry) {
	e.released = true
	if e.off.Disarm() {
		s.pending--
	}
	if e.lit {
		e.lit = false
		s.lit--
	}
}

func release(p Pin) error {
	err := p.Low()
	if c, ok := p.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// UpdatePosition moves a servo and restores its group's order.
func (s *Scheduler) UpdatePosition(index uint, pos Position) error {
	_, _, err := s.reposition(index, pos)
	return err
}

func (s *Scheduler) reposition(index uint, pos Position) (swaps, passes int, err error) {
	defer s.critical()()
	i, e := s.tab.find(index)
	if e == nil {
		return 0, 0, fmt.Errorf("servo %d: %w", index, ErrIndexNotFound)
	}
	e.setPosition(pos, s.cfg)
	g, _ := s.tab.locate(i)
	if s.tab.sorted[g] {
		swaps, passes = BubbleSort(s.tab.group(g), byOnTime)
	} else {
		InsertionSort(s.tab.group(g), byOnTime)
		s.tab.sorted[g] = true
	}
	return swaps, passes, nil
}

// UpdateIndex relabels a servo. The table order is untouched.
func (s *Scheduler) UpdateIndex(oldIndex, newIndex uint) error {
	defer s.critical()()
	_, e := s.tab.find(oldIndex)
	if e == nil {
		return fmt.Errorf("servo %d: %w", oldIndex, ErrIndexNotFound)
	}
	if oldIndex == newIndex {
		return nil
	}
	if _, other := s.tab.find(newIndex); other != nil {
		return fmt.Errorf("servo %d: %w", newIndex, ErrDuplicateIndex)
	}
	e.index = newIndex
	return nil
}

// Position returns the commanded position of a servo.
func (s *Scheduler) Position(index uint) (Position, bool) {
	defer s.critical()()
	_, e := s.tab.find(index)
	if e == nil {
		return 0, false
	}
	return e.pos, true
}

// Start begins the output cycle. Starting a running scheduler does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.gen++
	gen := s.gen
	if s.idleClosed {
		s.idle = make(chan struct{})
		s.idleClosed = false
	}
	s.mu.Unlock()
	s.log.Info().Int("servos", s.Len()).Dur("cycle", s.Timing().CycleTime).Msg("servo cycle started")
	s.run(gen)
}

// Stop ends the output cycle. Callbacks that are already armed still fire
// once, so pulses in flight end normally, but nothing is re-armed.
func (s *Scheduler) Stop() {
	defer s.critical()()
	if !s.running {
		return
	}
	s.running = false
	s.settleLocked()
	s.log.Info().Int("pending", s.pending).Msg("servo cycle stopped")
}

// Quiesce waits until a stopped scheduler has no callbacks left and every
// pin is low.
func (s *Scheduler) Quiesce(ctx context.Context) error {
	s.mu.Lock()
	ch := s.idle
	s.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the cycle, disarms every pending pulse and releases all pins.
func (s *Scheduler) Close() error {
	entries := s.closeTable()
	var err error
	for _, e := range entries {
		if rerr := release(e.pin); rerr != nil {
			err = multierr.Append(err, fmt.Errorf("servo %d: %w", e.index, rerr))
		}
	}
	return err
}

func (s *Scheduler) closeTable() []*Entry {
	defer s.critical()()
	s.running = false
	entries := s.tab.entries()
	for _, e := range entries {
		s.retireLocked(e)
	}
	s.tab.clear()
	if s.cycle.Disarm() {
		s.pending--
	}
	for _, t := range s.groups {
		if t.Disarm() {
			s.pending--
		}
	}
	s.settleLocked()
	return entries
}

// run is one cycle tick.
func (s *Scheduler) run(gen uint64) {
	s.catchUp(gen)

	defer s.critical()()
	if !s.currentLocked(gen) {
		return
	}
	s.armLocked(s.cycle, s.cfg.CycleTime, func() { s.run(gen) })
	for g := 0; g < s.tab.groupsInUse(); g++ {
		g := g
		s.armLocked(s.groups[g], time.Duration(g)*s.cfg.GroupTime(), func() { s.fireGroup(gen, g) })
	}
	s.cycles++
}

// catchUp insertion-sorts every group flagged unsorted since the last tick.
func (s *Scheduler) catchUp(gen uint64) {
	defer s.critical()()
	if !s.currentLocked(gen) {
		return
	}
	s.sortPendingLocked()
}

// Sort orders every group flagged unsorted now rather than at the next
// cycle tick.
func (s *Scheduler) Sort() {
	defer s.critical()()
	s.sortPendingLocked()
}

func (s *Scheduler) sortPendingLocked() {
	for g := 0; g < s.tab.groupsInUse(); g++ {
		if s.tab.sorted[g] {
			continue
		}
		moves := InsertionSort(s.tab.group(g), byOnTime)
		s.tab.sorted[g] = true
		s.log.Debug().Int("group", g).Int("moves", moves).Msg("group sorted")
	}
}

// pulse is one entry of a firing batch. onTime is fixed when the batch is
// taken so the off callbacks keep the order the group was sorted in, even if
// a position changes while the group is being switched on.
type pulse struct {
	e      *Entry
	onTime time.Duration
}

func (s *Scheduler) fireGroup(gen uint64, g int) {
	batch, spacing := s.beginGroup(gen, g)
	if len(batch) == 0 {
		return
	}
	defer func() {
		defer s.critical()()
		s.firing--
	}()
	for i, p := range batch {
		if i > 0 {
			// Outside the critical section so the off callbacks of earlier
			// pins can run on time.
			s.timer.Stagger(spacing)
		}
		s.turnOn(gen, p)
	}
}

// beginGroup snapshots the live entries of group g in on-time order. The
// snapshot is bounded by the group's occupancy.
func (s *Scheduler) beginGroup(gen uint64, g int) ([]pulse, time.Duration) {
	defer s.critical()()
	if !s.currentLocked(gen) {
		return nil, 0
	}
	if !s.tab.sorted[g] {
		InsertionSort(s.tab.group(g), byOnTime)
		s.tab.sorted[g] = true
	}
	live := s.tab.group(g)
	if len(live) == 0 {
		return nil, 0
	}
	batch := make([]pulse, len(live))
	for i, e := range live {
		batch[i] = pulse{e: e, onTime: e.onTime}
	}
	s.firing++
	return batch, s.cfg.InterruptServiceTime
}

func (s *Scheduler) turnOn(gen uint64, p pulse) {
	defer s.critical()()
	e := p.e
	if !s.currentLocked(gen) || e.released {
		return
	}
	if err := e.pin.High(); err != nil {
		s.log.Warn().Err(err).Uint("index", e.index).Msg("servo pin high")
	}
	if !e.lit {
		e.lit = true
		s.lit++
	}
	s.armLocked(e.off, p.onTime, func() { s.turnOff(e) })
}

func (s *Scheduler) turnOff(e *Entry) {
	defer s.critical()()
	if !e.lit {
		return
	}
	e.lit = false
	s.lit--
	if err := e.pin.Low(); err != nil {
		s.log.Warn().Err(err).Uint("index", e.index).Msg("servo pin low")
	}
}

func (s *Scheduler) currentLocked(gen uint64) bool {
	return s.running && s.gen == gen
}

// armLocked arms t and keeps the pending count in step. The count drops
// once fn has returned, so the scheduler cannot go idle mid-callback.
func (s *Scheduler) armLocked(t timing.Timeout, d time.Duration, fn func()) {
	if t.Arm(d, func() {
		fn()
		defer s.critical()()
		s.pending--
		s.settleLocked()
	}) {
		s.pending--
	}
	s.pending++
}

func (s *Scheduler) settleLocked() {
	if s.running || s.pending > 0 || s.idleClosed {
		return
	}
	close(s.idle)
	s.idleClosed = true
	s.log.Debug().Uint64("cycles", s.cycles).Msg("servo cycle drained")
}

// SetCycleTime changes the cycle period from the next cycle on.
func (s *Scheduler) SetCycleTime(d time.Duration) error {
	return s.retime(func(c *Config) { c.CycleTime = d })
}

// SetMinOnTime changes the pulse width of position 0.
func (s *Scheduler) SetMinOnTime(d time.Duration) error {
	return s.retime(func(c *Config) { c.MinOnTime = d })
}

// SetOnTimeLen changes the upper end of the pulse width range.
func (s *Scheduler) SetOnTimeLen(d time.Duration) error {
	return s.retime(func(c *Config) { c.MaxOnTime = d })
}

// SetTiming replaces the pulse and cycle timing in one step. The group
// layout is fixed at construction, so Groups and the group size must not
// change.
func (s *Scheduler) SetTiming(cfg Config) error {
	if cfg.Groups != len(s.tab.slots) || cfg.GroupSize() != s.tab.size {
		return fmt.Errorf("%w: group layout %dx%d cannot change to %dx%d",
			ErrInvalidTiming, len(s.tab.slots), s.tab.size, cfg.Groups, cfg.GroupSize())
	}
	return s.retime(func(c *Config) { *c = cfg })
}

// retime applies a timing change and recomputes every on-time. The map from
// position to on-time stays monotonic, so group order is preserved.
func (s *Scheduler) retime(change func(*Config)) error {
	defer s.critical()()
	next := s.cfg
	change(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	s.cfg = next
	for _, e := range s.tab.entries() {
		e.setPosition(e.pos, next)
	}
	s.log.Info().Dur("min_on", next.MinOnTime).Dur("max_on", next.MaxOnTime).
		Dur("cycle", next.CycleTime).Msg("servo timing changed")
	return nil
}

// State reports where the cycle state machine is.
func (s *Scheduler) State() State {
	defer s.critical()()
	switch {
	case s.running && (s.firing > 0 || s.lit > 0):
		return GroupFiring
	case s.running:
		return CycleArmed
	case s.pending > 0:
		return Draining
	}
	return Idle
}

// Running reports whether the cycle is running.
func (s *Scheduler) Running() bool {
	defer s.critical()()
	return s.running
}

// Cycles is the number of cycle ticks armed since construction.
func (s *Scheduler) Cycles() uint64 {
	defer s.critical()()
	return s.cycles
}

// Len is the number of servos in the table.
func (s *Scheduler) Len() int {
	defer s.critical()()
	return s.tab.live
}

// Capacity is the number of servos the table can hold.
func (s *Scheduler) Capacity() int {
	return s.tab.capacity()
}

// GroupSize is the number of slots per group.
func (s *Scheduler) GroupSize() int {
	return s.tab.size
}

// Timing returns the current timing constants.
func (s *Scheduler) Timing() Config {
	defer s.critical()()
	return s.cfg
}

// Layout returns the table group by group, in firing order.
func (s *Scheduler) Layout() [][]EntryInfo {
	defer s.critical()()
	out := make([][]EntryInfo, len(s.tab.slots))
	for g := range s.tab.slots {
		for slot, e := range s.tab.group(g) {
			out[g] = append(out[g], e.info(g, slot))
		}
	}
	return out
}
