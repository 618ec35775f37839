package io

import (
	"fmt"

	"gobot.io/x/gobot/drivers/gpio"
	"gobot.io/x/gobot/drivers/i2c"
	"gobot.io/x/gobot/platforms/raspi"
)

// GobotPin writes a header pin through any gobot digital writer.
type GobotPin struct {
	w   gpio.DigitalWriter
	pin string
}

func newGobotPin(w gpio.DigitalWriter, pin string) (*GobotPin, error) {
	if w == nil {
		return nil, fmt.Errorf("gobot pin %q: no adaptor", pin)
	}
	p := &GobotPin{w: w, pin: pin}
	if err := p.Low(); err != nil {
		return nil, fmt.Errorf("gobot pin %q: %w", pin, err)
	}
	return p, nil
}

func (p *GobotPin) High() error { return p.w.DigitalWrite(p.pin, 1) }

func (p *GobotPin) Low() error { return p.w.DigitalWrite(p.pin, 0) }

func (io *IO) openGobotPCA9685() error {
	r := raspi.NewAdaptor()
	io.raspi = r
	d := i2c.NewPCA9685Driver(r, i2c.WithAddress(int(io.cfg.I2CAddress)))
	if err := d.Start(); err != nil {
		return fmt.Errorf("starting pca9685 driver: %w", err)
	}
	io.driver = d
	return nil
}

// GobotChannel is one PCA9685 channel used as a plain on/off output.
type GobotChannel struct {
	driver  *i2c.PCA9685Driver
	channel int
}

func (c *GobotChannel) High() error { return c.driver.SetPWM(c.channel, pcaFull, 0) }

func (c *GobotChannel) Low() error { return c.driver.SetPWM(c.channel, 0, pcaFull) }
