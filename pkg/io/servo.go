package io

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/pca9685"
	"periph.io/x/host/v3"
)

// PCA9685 register values with bit 12 set force a channel fully on or off.
const pcaFull = 0x1000

func initPeriph() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("initialising periph host: %w", err)
	}
	return nil
}

// PeriphPin is a periph.io GPIO output.
type PeriphPin struct {
	pin gpio.PinOut
}

func newPeriphPin(name string) (*PeriphPin, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("periph pin %q not found", name)
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("periph pin %q: %w", name, err)
	}
	return &PeriphPin{pin: p}, nil
}

func (p *PeriphPin) High() error { return p.pin.Out(gpio.High) }

func (p *PeriphPin) Low() error { return p.pin.Out(gpio.Low) }

func (io *IO) openPeriphPCA9685() error {
	if err := initPeriph(); err != nil {
		return err
	}
	bus, err := i2creg.Open(io.cfg.I2CBus)
	if err != nil {
		return fmt.Errorf("opening %s: %w", io.cfg.I2CBus, err)
	}
	io.bus = bus
	dev, err := pca9685.NewI2C(bus, io.cfg.I2CAddress)
	if err != nil {
		return fmt.Errorf("pca9685 at %#x: %w", io.cfg.I2CAddress, err)
	}
	// The board only gates the output here, so its own PWM frequency just
	// needs to be valid.
	if err := dev.SetPwmFreq(50 * physic.Hertz); err != nil {
		return fmt.Errorf("pca9685 frequency: %w", err)
	}
	io.dev = dev
	return nil
}

// PeriphChannel is one PCA9685 channel used as a plain on/off output.
type PeriphChannel struct {
	dev     *pca9685.Dev
	channel int
}

func (c *PeriphChannel) High() error { return c.dev.SetPwm(c.channel, pcaFull, 0) }

func (c *PeriphChannel) Low() error { return c.dev.SetPwm(c.channel, 0, pcaFull) }
