// Package config loads the servo daemon configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	yaml "go.yaml.in/yaml/v3"

	pinio "github.com/Seann-Moser/servosched/pkg/io"
	"github.com/Seann-Moser/servosched/pkg/servo"
)

// file is the on-disk layout.
type file struct {
	LogLevel   string      `yaml:"log_level"`
	Timing     timingFile  `yaml:"timing"`
	Backend    string      `yaml:"backend"`
	Chip       string      `yaml:"chip"`
	I2CBus     string      `yaml:"i2c_bus"`
	I2CAddress uint16      `yaml:"i2c_address"`
	Button     string      `yaml:"button"`
	Servos     []servoFile `yaml:"servos"`
	Poses      []poseFile  `yaml:"poses"`
}

type timingFile struct {
	MinOnTime            string `yaml:"min_on_time"`
	MaxOnTime            string `yaml:"max_on_time"`
	CycleTime            string `yaml:"cycle_time"`
	StaggerWindow        string `yaml:"stagger_window"`
	InterruptServiceTime string `yaml:"interrupt_service_time"`
	Groups               int    `yaml:"groups"`
}

type servoFile struct {
	Index    uint   `yaml:"index"`
	Pin      string `yaml:"pin"`
	Position *int   `yaml:"position"`
}

type poseFile struct {
	Name      string       `yaml:"name"`
	Schedule  string       `yaml:"schedule"`
	Positions map[uint]int `yaml:"positions"`
}

// Config is a validated configuration.
type Config struct {
	LogLevel string
	Timing   servo.Config
	IO       pinio.Config
	Button   string
	Servos   []Servo
	Poses    []Pose
}

// Servo is one servo to drive.
type Servo struct {
	Index    uint
	Pin      string
	Position servo.Position
}

// Pose moves a set of servos on a cron schedule.
type Pose struct {
	Name      string
	Schedule  string
	Positions map[uint]servo.Position
}

// DefaultPosition is used for servos configured without a position.
const DefaultPosition servo.Position = 128

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a YAML document. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	return f.build()
}

func (f *file) build() (*Config, error) {
	t, err := f.Timing.build()
	if err != nil {
		return nil, err
	}
	backend, err := pinio.ParseBackend(f.Backend)
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}
	cfg := &Config{
		LogLevel: strings.TrimSpace(f.LogLevel),
		Timing:   t,
		IO: pinio.Config{
			Backend:    backend,
			Chip:       strings.TrimSpace(f.Chip),
			I2CBus:     strings.TrimSpace(f.I2CBus),
			I2CAddress: f.I2CAddress,
		},
		Button: strings.TrimSpace(f.Button),
	}

	indexes := map[uint]bool{}
	pins := map[string]uint{}
	for i, s := range f.Servos {
		path := fmt.Sprintf("servos[%d]", i)
		if indexes[s.Index] {
			return nil, fmt.Errorf("%s.index: %w: %d", path, servo.ErrDuplicateIndex, s.Index)
		}
		indexes[s.Index] = true
		pin := strings.TrimSpace(s.Pin)
		if pin == "" {
			return nil, fmt.Errorf("%s.pin: required", path)
		}
		if other, ok := pins[pin]; ok {
			return nil, fmt.Errorf("%s.pin: %q already used by servo %d", path, pin, other)
		}
		pins[pin] = s.Index
		pos := DefaultPosition
		if s.Position != nil {
			if pos, err = servo.ParsePosition(*s.Position); err != nil {
				return nil, fmt.Errorf("%s.position: %w", path, err)
			}
		}
		cfg.Servos = append(cfg.Servos, Servo{Index: s.Index, Pin: pin, Position: pos})
	}
	if cfg.Button != "" {
		if other, ok := pins[cfg.Button]; ok {
			return nil, fmt.Errorf("button: %q already used by servo %d", cfg.Button, other)
		}
	}
	if n, capacity := len(cfg.Servos), t.Capacity(); n > capacity {
		return nil, fmt.Errorf("servos: %w: %d configured, room for %d", servo.ErrCapacityExceeded, n, capacity)
	}

	names := map[string]bool{}
	for i, p := range f.Poses {
		path := fmt.Sprintf("poses[%d]", i)
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, fmt.Errorf("%s.name: required", path)
		}
		if names[name] {
			return nil, fmt.Errorf("%s.name: duplicate pose %q", path, name)
		}
		names[name] = true
		if _, err := cron.ParseStandard(p.Schedule); err != nil {
			return nil, fmt.Errorf("%s.schedule: %w", path, err)
		}
		pose := Pose{Name: name, Schedule: strings.TrimSpace(p.Schedule), Positions: map[uint]servo.Position{}}
		for idx, v := range p.Positions {
			if !indexes[idx] {
				return nil, fmt.Errorf("%s.positions: %w: %d", path, servo.ErrIndexNotFound, idx)
			}
			pos, err := servo.ParsePosition(v)
			if err != nil {
				return nil, fmt.Errorf("%s.positions[%d]: %w", path, idx, err)
			}
			pose.Positions[idx] = pos
		}
		cfg.Poses = append(cfg.Poses, pose)
	}
	return cfg, nil
}

func (t timingFile) build() (servo.Config, error) {
	def := servo.DefaultConfig()
	var (
		c   servo.Config
		err error
	)
	if c.MinOnTime, err = ParsePulseDuration("timing.min_on_time", t.MinOnTime, def.MinOnTime); err != nil {
		return c, err
	}
	if c.MaxOnTime, err = ParsePulseDuration("timing.max_on_time", t.MaxOnTime, def.MaxOnTime); err != nil {
		return c, err
	}
	if c.CycleTime, err = ParsePulseDuration("timing.cycle_time", t.CycleTime, def.CycleTime); err != nil {
		return c, err
	}
	if c.StaggerWindow, err = ParsePulseDuration("timing.stagger_window", t.StaggerWindow, def.StaggerWindow); err != nil {
		return c, err
	}
	if c.InterruptServiceTime, err = ParsePulseDuration("timing.interrupt_service_time",
		t.InterruptServiceTime, def.InterruptServiceTime); err != nil {
		return c, err
	}
	c.Groups = t.Groups
	if c.Groups == 0 {
		c.Groups = def.Groups
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("timing: %w", err)
	}
	return c, nil
}
