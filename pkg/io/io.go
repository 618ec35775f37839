package io

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/warthog618/go-gpiocdev"
	"github.com/warthog618/go-gpiocdev/device/rpi"
	"go.uber.org/multierr"
	"gobot.io/x/gobot/drivers/i2c"
	"gobot.io/x/gobot/platforms/raspi"
	periphi2c "periph.io/x/conn/v3/i2c"
	"periph.io/x/devices/v3/pca9685"

	"github.com/Seann-Moser/servosched/pkg/servo"
)

// Backend selects how servo pins are driven.
type Backend string

const (
	// BackendGPIOCDev drives GPIO lines through the Linux character device.
	BackendGPIOCDev Backend = "gpiocdev"
	// BackendPeriph drives GPIO pins through periph.io.
	BackendPeriph Backend = "periph"
	// BackendGobot drives header pins through the gobot Raspberry Pi adaptor.
	BackendGobot Backend = "gobot"
	// BackendPCA9685Periph switches PCA9685 channels fully on and off via periph.io.
	BackendPCA9685Periph Backend = "pca9685-periph"
	// BackendPCA9685Gobot switches PCA9685 channels fully on and off via gobot.
	BackendPCA9685Gobot Backend = "pca9685-gobot"
	// BackendDryRun drives nothing.
	BackendDryRun Backend = "dryrun"
)

// Backends lists every supported backend.
var Backends = []Backend{
	BackendGPIOCDev, BackendPeriph, BackendGobot,
	BackendPCA9685Periph, BackendPCA9685Gobot, BackendDryRun,
}

// ParseBackend validates a backend name.
func ParseBackend(s string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(s)))
	if b == "" {
		return BackendGPIOCDev, nil
	}
	for _, known := range Backends {
		if b == known {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown pin backend %q", s)
}

// Config selects and parameterises the backend.
type Config struct {
	Backend Backend
	// Chip is the GPIO character device, e.g. gpiochip0.
	Chip string
	// I2CBus names the bus a PCA9685 sits on, e.g. I2C1.
	I2CBus string
	// I2CAddress is the PCA9685 address, 0x40 by default.
	I2CAddress uint16
}

// IO owns the hardware handles servo pins and buttons are opened from.
type IO struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	chip    *gpiocdev.Chip
	lines   map[int]*gpiocdev.Line
	buttons map[int]*gpiocdev.Line

	raspi  *raspi.Adaptor
	driver *i2c.PCA9685Driver

	bus periphi2c.BusCloser
	dev *pca9685.Dev
}

// New prepares the backend. Devices that are only needed by some backends
// are opened here so a bad setup fails before the cycle starts.
func New(cfg Config, log zerolog.Logger) (*IO, error) {
	if cfg.Chip == "" {
		cfg.Chip = "gpiochip0"
	}
	if cfg.I2CBus == "" {
		cfg.I2CBus = "I2C1"
	}
	if cfg.I2CAddress == 0 {
		cfg.I2CAddress = 0x40
	}
	io := &IO{
		cfg:     cfg,
		log:     log.With().Str("backend", string(cfg.Backend)).Logger(),
		lines:   make(map[int]*gpiocdev.Line),
		buttons: make(map[int]*gpiocdev.Line),
	}
	var err error
	switch cfg.Backend {
	case BackendGPIOCDev:
		err = io.openChip()
	case BackendPeriph:
		err = initPeriph()
	case BackendGobot:
		err = io.openRaspi()
	case BackendPCA9685Periph:
		err = io.openPeriphPCA9685()
	case BackendPCA9685Gobot:
		err = io.openGobotPCA9685()
	case BackendDryRun:
	default:
		err = fmt.Errorf("unknown pin backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, multierr.Append(err, io.Close())
	}
	io.log.Debug().Msg("pin backend ready")
	return io, nil
}

// Pin opens the named output as a servo pin. Names depend on the backend:
// GPIO names or J8 header pins for gpiocdev, periph pin names for periph,
// header pin numbers for gobot and channel numbers for the PCA9685.
func (io *IO) Pin(name string) (servo.Pin, error) {
	switch io.cfg.Backend {
	case BackendGPIOCDev:
		offset, err := rpi.Pin(name)
		if err != nil {
			return nil, fmt.Errorf("pin %q: %w", name, err)
		}
		return io.linePin(offset)
	case BackendPeriph:
		return newPeriphPin(name)
	case BackendGobot:
		return newGobotPin(io.raspi, name)
	case BackendPCA9685Periph:
		ch, err := parseChannel(name)
		if err != nil {
			return nil, err
		}
		return &PeriphChannel{dev: io.dev, channel: ch}, nil
	case BackendPCA9685Gobot:
		ch, err := parseChannel(name)
		if err != nil {
			return nil, err
		}
		return &GobotChannel{driver: io.driver, channel: ch}, nil
	case BackendDryRun:
		return NewDryRunPin(name, io.log), nil
	}
	return nil, fmt.Errorf("unknown pin backend %q", io.cfg.Backend)
}

func parseChannel(name string) (int, error) {
	ch, err := strconv.Atoi(strings.TrimSpace(name))
	if err != nil || ch < 0 || ch > 15 {
		return 0, fmt.Errorf("pca9685 channel %q: want 0-15", name)
	}
	return ch, nil
}

// inUseLocked reports whether a servo or button already holds the line.
func (io *IO) inUseLocked(offset int) bool {
	_, out := io.lines[offset]
	_, in := io.buttons[offset]
	return out || in
}

func (io *IO) openChip() error {
	io.mu.Lock()
	defer io.mu.Unlock()
	if io.chip != nil {
		return nil
	}
	c, err := gpiocdev.NewChip(io.cfg.Chip)
	if err != nil {
		return fmt.Errorf("opening %s: %w", io.cfg.Chip, err)
	}
	io.chip = c
	return nil
}

func (io *IO) openRaspi() error {
	r := raspi.NewAdaptor()
	if err := r.Connect(); err != nil {
		return fmt.Errorf("connecting raspi adaptor: %w", err)
	}
	io.raspi = r
	return nil
}

// Close drives every output low and releases the devices.
func (io *IO) Close() error {
	io.mu.Lock()
	defer io.mu.Unlock()
	var err error
	for offset, l := range io.lines {
		err = multierr.Append(err, l.SetValue(0))
		err = multierr.Append(err, l.Reconfigure(gpiocdev.AsInput))
		err = multierr.Append(err, l.Close())
		delete(io.lines, offset)
	}
	for offset, l := range io.buttons {
		err = multierr.Append(err, l.Close())
		delete(io.buttons, offset)
	}
	if io.chip != nil {
		err = multierr.Append(err, io.chip.Close())
		io.chip = nil
	}
	if io.driver != nil {
		err = multierr.Append(err, io.driver.Halt())
		io.driver = nil
	}
	if io.raspi != nil {
		err = multierr.Append(err, io.raspi.Finalize())
		io.raspi = nil
	}
	if io.bus != nil {
		err = multierr.Append(err, io.bus.Close())
		io.bus = nil
		io.dev = nil
	}
	return err
}
