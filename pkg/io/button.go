package io

import (
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
	"github.com/warthog618/go-gpiocdev/device/rpi"
)

const debounce = 10 * time.Millisecond

// Button is a push button wired between a GPIO line and ground.
type Button struct {
	Event chan ButtonEvent

	mu      sync.Mutex
	pressed bool
	start   time.Time
}

// ButtonEvent reports a completed press.
type ButtonEvent struct {
	Duration time.Duration
}

func newButton() *Button {
	return &Button{Event: make(chan ButtonEvent, 1)}
}

// edge handles one line transition. The line is pulled up, so a falling
// edge is a press.
func (b *Button) edge(pressed bool, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pressed == b.pressed {
		return
	}
	b.pressed = pressed
	if pressed {
		b.start = at
		return
	}
	held := at.Sub(b.start)
	if held < debounce {
		return
	}
	select {
	case b.Event <- ButtonEvent{Duration: held}:
	default:
	}
}

func (b *Button) eventHandler(evt gpiocdev.LineEvent) {
	b.edge(evt.Type == gpiocdev.LineEventFallingEdge, time.Now())
}

// WatchButton requests the named line as a pulled-up input and reports
// presses on the returned Button's Event channel.
func (io *IO) WatchButton(name string) (*Button, error) {
	offset, err := rpi.Pin(name)
	if err != nil {
		return nil, fmt.Errorf("button %q: %w", name, err)
	}
	if err := io.openChip(); err != nil {
		return nil, err
	}
	b := newButton()
	io.mu.Lock()
	defer io.mu.Unlock()
	if io.inUseLocked(offset) {
		return nil, fmt.Errorf("button %q: gpio line %d already in use", name, offset)
	}
	line, err := io.chip.RequestLine(offset,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(b.eventHandler),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to request GPIO line: %w", err)
	}
	io.buttons[offset] = line
	return b, nil
}
