package controller

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seann-Moser/servosched/pkg/config"
	pinio "github.com/Seann-Moser/servosched/pkg/io"
	"github.com/Seann-Moser/servosched/pkg/servo"
	"github.com/Seann-Moser/servosched/pkg/timing/timingtest"
)

type fakePins struct {
	mu     sync.Mutex
	pins   map[string]*pinio.DryRunPin
	fail   map[string]bool
	closed bool
}

func newFakePins() *fakePins {
	return &fakePins{pins: map[string]*pinio.DryRunPin{}, fail: map[string]bool{}}
}

func (f *fakePins) Pin(name string) (servo.Pin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[name] {
		return nil, errors.New("no such pin")
	}
	p := pinio.NewDryRunPin(name, zerolog.Nop())
	f.pins[name] = p
	return p, nil
}

func (f *fakePins) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePins) pin(name string) *pinio.DryRunPin {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pins[name]
}

func testConfig() *config.Config {
	t := servo.DefaultConfig()
	t.Groups = 2
	t.StaggerWindow = 300 * time.Microsecond
	return &config.Config{
		Timing: t,
		IO:     pinio.Config{Backend: pinio.BackendDryRun},
		Servos: []config.Servo{
			{Index: 1, Pin: "GPIO17", Position: 10},
			{Index: 2, Pin: "GPIO27", Position: 200},
			{Index: 3, Pin: "GPIO22", Position: 128},
		},
	}
}

func newTestController(t *testing.T, cfg *config.Config) (*Controller, *fakePins, *timingtest.Scheduler) {
	t.Helper()
	pins := newFakePins()
	ts := timingtest.New()
	c, err := New(cfg, WithPins(pins), WithTiming(ts))
	require.NoError(t, err)
	return c, pins, ts
}

func position(t *testing.T, c *Controller, index uint) servo.Position {
	t.Helper()
	p, ok := c.Servos.Position(index)
	require.True(t, ok, "servo %d missing", index)
	return p
}

func TestNewFillsTable(t *testing.T) {
	c, _, _ := newTestController(t, testConfig())
	assert.Equal(t, 3, c.Servos.Len())
	assert.False(t, c.Servos.Running())
	assert.Equal(t, servo.Position(200), position(t, c, 2))
}

func TestNewClosesOnBadPin(t *testing.T) {
	pins := newFakePins()
	pins.fail["GPIO27"] = true
	_, err := New(testConfig(), WithPins(pins), WithTiming(timingtest.New()))
	require.Error(t, err)
	assert.True(t, pins.closed)
}

func TestApplyDiff(t *testing.T) {
	c, pins, _ := newTestController(t, testConfig())

	next := testConfig()
	next.Servos = []config.Servo{
		{Index: 1, Pin: "GPIO17", Position: 90},
		{Index: 3, Pin: "GPIO5", Position: 128},
		{Index: 4, Pin: "GPIO6", Position: 0},
	}
	require.NoError(t, c.Apply(next))

	assert.Equal(t, 3, c.Servos.Len())
	assert.Equal(t, servo.Position(90), position(t, c, 1))
	_, ok := c.Servos.Position(2)
	assert.False(t, ok)
	assert.Equal(t, servo.Position(0), position(t, c, 4))
	assert.NotNil(t, pins.pin("GPIO5"), "re-pinned servo opens its new pin")
}

func TestApplyRetriesFailedAdd(t *testing.T) {
	c, pins, _ := newTestController(t, testConfig())

	next := testConfig()
	next.Servos = append(next.Servos, config.Servo{Index: 4, Pin: "GPIO6", Position: 30})
	pins.mu.Lock()
	pins.fail["GPIO6"] = true
	pins.mu.Unlock()
	require.Error(t, c.Apply(next))
	assert.Equal(t, 3, c.Servos.Len())
	_, ok := c.Servos.Position(4)
	assert.False(t, ok)

	pins.mu.Lock()
	delete(pins.fail, "GPIO6")
	pins.mu.Unlock()
	require.NoError(t, c.Apply(next))
	assert.Equal(t, 4, c.Servos.Len())
	assert.Equal(t, servo.Position(30), position(t, c, 4))
}

func TestApplyFailedRepinDropsServo(t *testing.T) {
	c, pins, _ := newTestController(t, testConfig())

	next := testConfig()
	next.Servos[1].Pin = "GPIO5"
	pins.mu.Lock()
	pins.fail["GPIO5"] = true
	pins.mu.Unlock()
	require.Error(t, c.Apply(next))
	_, ok := c.Servos.Position(2)
	assert.False(t, ok, "old pin released before the new one failed")

	pins.mu.Lock()
	delete(pins.fail, "GPIO5")
	pins.mu.Unlock()
	require.NoError(t, c.Apply(next))
	assert.Equal(t, servo.Position(200), position(t, c, 2))
	assert.NotNil(t, pins.pin("GPIO5"))
}

func TestApplyTiming(t *testing.T) {
	c, _, _ := newTestController(t, testConfig())

	next := testConfig()
	next.Timing.CycleTime = 25 * time.Millisecond
	require.NoError(t, c.Apply(next))
	assert.Equal(t, 25*time.Millisecond, c.Servos.Timing().CycleTime)

	bad := testConfig()
	bad.Timing.Groups = 3
	assert.Error(t, c.Apply(bad))
	assert.Equal(t, next.Timing, c.cfg.Timing, "rejected timing is not recorded as applied")
	assert.Error(t, c.Apply(bad), "rejected timing is retried on the next reload")
}

func TestApplyPose(t *testing.T) {
	c, _, _ := newTestController(t, testConfig())
	c.ApplyPose(config.Pose{Name: "wave", Positions: map[uint]servo.Position{1: 255, 3: 0, 9: 1}})
	assert.Equal(t, servo.Position(255), position(t, c, 1))
	assert.Equal(t, servo.Position(200), position(t, c, 2))
	assert.Equal(t, servo.Position(0), position(t, c, 3))
}

func TestPosesScheduled(t *testing.T) {
	c, _, _ := newTestController(t, testConfig())
	next := testConfig()
	next.Poses = []config.Pose{
		{Name: "a", Schedule: "@every 1m", Positions: map[uint]servo.Position{1: 0}},
		{Name: "b", Schedule: "@hourly", Positions: map[uint]servo.Position{2: 0}},
	}
	require.NoError(t, c.Apply(next))
	assert.Len(t, c.cron.Entries(), 2)

	next = testConfig()
	require.NoError(t, c.Apply(next))
	assert.Empty(t, c.cron.Entries())
}

func TestCentreAndToggle(t *testing.T) {
	c, _, ts := newTestController(t, testConfig())
	c.Centre()
	for _, idx := range []uint{1, 2, 3} {
		assert.Equal(t, config.DefaultPosition, position(t, c, idx))
	}

	c.Toggle()
	assert.True(t, c.Servos.Running())
	c.Toggle()
	assert.False(t, c.Servos.Running())
	ts.Advance(c.Servos.Timing().CycleTime)
	assert.Equal(t, servo.Idle, c.Servos.State())
}

func TestRunDrivesPinsAndDrains(t *testing.T) {
	c, pins, ts := newTestController(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	require.Eventually(t, func() bool { return c.Servos.Cycles() > 0 }, time.Second, time.Millisecond)

	ts.Advance(c.Servos.Timing().CycleTime)
	_, pulses := pins.pin("GPIO17").State()
	assert.GreaterOrEqual(t, pulses, 1)

	cancel()
	require.Eventually(t, func() bool {
		ts.Advance(time.Millisecond)
		select {
		case err := <-done:
			require.NoError(t, err)
			return true
		default:
			return false
		}
	}, 5*time.Second, time.Millisecond)

	for _, name := range []string{"GPIO17", "GPIO27", "GPIO22"} {
		high, _ := pins.pin(name).State()
		assert.False(t, high, name)
	}
	require.NoError(t, c.Close())
	assert.True(t, pins.closed)
}

func TestPlanListsPulseTimes(t *testing.T) {
	c, _, _ := newTestController(t, testConfig())
	out := c.Plan()
	assert.Contains(t, out, "3/6")
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "+"))
	assert.Contains(t, out, "100µs")
	assert.Contains(t, out, "200µs")
}

func TestCentreLogsMissingServo(t *testing.T) {
	var buf bytes.Buffer
	c, err := New(testConfig(), WithPins(newFakePins()), WithTiming(timingtest.New()),
		WithLogger(zerolog.New(&buf)))
	require.NoError(t, err)
	require.NoError(t, c.Servos.Remove(2))

	c.Centre()
	assert.Equal(t, config.DefaultPosition, position(t, c, 1))
	assert.Equal(t, config.DefaultPosition, position(t, c, 3))
	assert.Contains(t, buf.String(), "centre skipped servo")
	assert.Contains(t, buf.String(), `"index":2`)
}
