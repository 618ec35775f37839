package servo

import (
	"fmt"
	"time"

	"github.com/Seann-Moser/servosched/pkg/timing"
)

// Position is a commanded servo angle, 0 to 255.
type Position uint8

// ParsePosition converts an integer read from config or the command line.
func ParsePosition(v int) (Position, error) {
	if v < 0 || v > 255 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPosition, v)
	}
	return Position(v), nil
}

// Pin is the digital output a servo's control line is attached to. A Pin
// that also implements io.Closer is closed when its servo is removed.
type Pin interface {
	High() error
	Low() error
}

// Entry is one servo in the table.
type Entry struct {
	pin     Pin
	index   uint
	pos     Position
	onTime  time.Duration
	offTime time.Duration
	off     timing.Timeout

	// lit is set while the pin is high and its off callback is armed.
	lit bool
	// released is set once the entry leaves the table; a released entry is
	// never driven high again.
	released bool
}

func newEntry(pin Pin, index uint, pos Position, cfg Config, off timing.Timeout) *Entry {
	e := &Entry{pin: pin, index: index, off: off}
	e.setPosition(pos, cfg)
	return e
}

func (e *Entry) setPosition(p Position, cfg Config) {
	e.pos = p
	e.onTime = cfg.OnTime(p)
	e.offTime = cfg.CycleTime - e.onTime
}

// EntryInfo is a read-only view of an Entry.
type EntryInfo struct {
	Index    uint
	Position Position
	OnTime   time.Duration
	OffTime  time.Duration
	Group    int
	Slot     int
}

func (e *Entry) info(group, slot int) EntryInfo {
	return EntryInfo{
		Index:    e.index,
		Position: e.pos,
		OnTime:   e.onTime,
		OffTime:  e.offTime,
		Group:    group,
		Slot:     slot,
	}
}
