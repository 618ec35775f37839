package servo

import (
	"fmt"
	"time"
)

const (
	DefaultMinOnTime            = 500 * time.Microsecond
	DefaultMaxOnTime            = 2500 * time.Microsecond
	DefaultCycleTime            = 20 * time.Millisecond
	DefaultStaggerWindow        = 500 * time.Microsecond
	DefaultInterruptServiceTime = 100 * time.Microsecond
	DefaultGroups               = 6
)

// Config holds the timing constants of a Scheduler.
type Config struct {
	// MinOnTime is the pulse width for position 0.
	MinOnTime time.Duration
	// MaxOnTime is the pulse width position 256 would have.
	MaxOnTime time.Duration
	// CycleTime is the period of the output signal.
	CycleTime time.Duration
	// StaggerWindow is how much of the minimum on-time may be spent
	// staggering pin activations within a group.
	StaggerWindow time.Duration
	// InterruptServiceTime is the spacing kept between two pin activations
	// so their off callbacks never overlap.
	InterruptServiceTime time.Duration
	// Groups is the number of groups in the table.
	Groups int
}

// DefaultConfig returns timing for standard 50 Hz hobby servos.
func DefaultConfig() Config {
	return Config{
		MinOnTime:            DefaultMinOnTime,
		MaxOnTime:            DefaultMaxOnTime,
		CycleTime:            DefaultCycleTime,
		StaggerWindow:        DefaultStaggerWindow,
		InterruptServiceTime: DefaultInterruptServiceTime,
		Groups:               DefaultGroups,
	}
}

// GroupSize is the number of servos that fit in one group.
func (c Config) GroupSize() int {
	if c.InterruptServiceTime <= 0 {
		return 0
	}
	return int(c.StaggerWindow / c.InterruptServiceTime)
}

// GroupTime is the spacing between the start of two consecutive groups.
func (c Config) GroupTime() time.Duration {
	return c.MinOnTime + c.MaxOnTime
}

// Capacity is the total number of servos the table holds.
func (c Config) Capacity() int {
	return c.Groups * c.GroupSize()
}

// OnTime maps a position onto a pulse width.
func (c Config) OnTime(p Position) time.Duration {
	return c.MinOnTime + (c.MaxOnTime-c.MinOnTime)*time.Duration(p)/256
}

// Validate rejects timing that could let two groups, or two pulses inside a
// group, overlap.
func (c Config) Validate() error {
	switch {
	case c.MinOnTime <= 0:
		return fmt.Errorf("%w: min on-time must be positive, got %v", ErrInvalidTiming, c.MinOnTime)
	case c.MaxOnTime <= c.MinOnTime:
		return fmt.Errorf("%w: max on-time %v must exceed min on-time %v", ErrInvalidTiming, c.MaxOnTime, c.MinOnTime)
	case c.InterruptServiceTime <= 0:
		return fmt.Errorf("%w: interrupt service time must be positive, got %v", ErrInvalidTiming, c.InterruptServiceTime)
	case c.StaggerWindow > c.MinOnTime:
		return fmt.Errorf("%w: stagger window %v exceeds min on-time %v", ErrInvalidTiming, c.StaggerWindow, c.MinOnTime)
	case c.GroupSize() < 1:
		return fmt.Errorf("%w: stagger window %v is shorter than one interrupt service time %v",
			ErrInvalidTiming, c.StaggerWindow, c.InterruptServiceTime)
	case c.Groups < 1:
		return fmt.Errorf("%w: need at least one group, got %d", ErrInvalidTiming, c.Groups)
	}
	// The last pulse of the last group has to end inside the cycle.
	last := time.Duration(c.Groups-1)*c.GroupTime() +
		time.Duration(c.GroupSize()-1)*c.InterruptServiceTime + c.MaxOnTime
	if last > c.CycleTime {
		return fmt.Errorf("%w: %d groups need %v but the cycle is %v", ErrInvalidTiming, c.Groups, last, c.CycleTime)
	}
	return nil
}
