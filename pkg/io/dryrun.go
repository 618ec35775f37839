package io

import (
	"sync"

	"github.com/rs/zerolog"
)

// DryRunPin logs edges instead of driving hardware.
type DryRunPin struct {
	name string
	log  zerolog.Logger

	mu     sync.Mutex
	high   bool
	pulses int
}

// NewDryRunPin returns a pin that only records its state.
func NewDryRunPin(name string, log zerolog.Logger) *DryRunPin {
	return &DryRunPin{name: name, log: log}
}

func (p *DryRunPin) High() error {
	p.mu.Lock()
	p.high = true
	p.pulses++
	p.mu.Unlock()
	p.log.Trace().Str("pin", p.name).Msg("high")
	return nil
}

func (p *DryRunPin) Low() error {
	p.mu.Lock()
	p.high = false
	p.mu.Unlock()
	p.log.Trace().Str("pin", p.name).Msg("low")
	return nil
}

// State reports whether the pin is high and how many pulses it has started.
func (p *DryRunPin) State() (high bool, pulses int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.high, p.pulses
}

func (p *DryRunPin) Name() string { return p.name }
