package io

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// LinePin is a GPIO line requested as an output.
type LinePin struct {
	io     *IO
	offset int
	line   *gpiocdev.Line
}

func (io *IO) linePin(offset int) (*LinePin, error) {
	if err := io.openChip(); err != nil {
		return nil, err
	}
	io.mu.Lock()
	defer io.mu.Unlock()
	if io.inUseLocked(offset) {
		return nil, fmt.Errorf("gpio line %d already in use", offset)
	}
	l, err := io.chip.RequestLine(offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("requesting gpio line %d: %w", offset, err)
	}
	io.lines[offset] = l
	return &LinePin{io: io, offset: offset, line: l}, nil
}

func (p *LinePin) High() error { return p.line.SetValue(1) }

func (p *LinePin) Low() error { return p.line.SetValue(0) }

// Close returns the line to the chip as an input.
func (p *LinePin) Close() error {
	p.io.mu.Lock()
	defer p.io.mu.Unlock()
	if _, ok := p.io.lines[p.offset]; !ok {
		return nil
	}
	delete(p.io.lines, p.offset)
	_ = p.line.Reconfigure(gpiocdev.AsInput)
	return p.line.Close()
}
