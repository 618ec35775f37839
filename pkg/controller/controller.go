// Package controller runs a servo scheduler from a config file: it opens the
// pins, keeps the table in step with the file, runs scheduled poses and
// listens to the start/stop button.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/Seann-Moser/servosched/pkg/config"
	pinio "github.com/Seann-Moser/servosched/pkg/io"
	"github.com/Seann-Moser/servosched/pkg/servo"
	"github.com/Seann-Moser/servosched/pkg/timing"
)

// longPress on the button recentres every servo instead of toggling output.
const longPress = 2 * time.Second

// Pins opens servo outputs by name.
type Pins interface {
	Pin(name string) (servo.Pin, error)
}

type buttonWatcher interface {
	WatchButton(name string) (*pinio.Button, error)
}

// Controller ties a Scheduler to its configuration.
type Controller struct {
	log    zerolog.Logger
	path   string
	pins   Pins
	timer  timing.Scheduler
	Servos *servo.Scheduler

	mu    sync.Mutex
	cfg   *config.Config
	cron  *cron.Cron
	poses []cron.EntryID
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithPins replaces the hardware backend named in the config.
func WithPins(p Pins) Option {
	return func(c *Controller) { c.pins = p }
}

// WithTiming replaces the wall-clock timer.
func WithTiming(ts timing.Scheduler) Option {
	return func(c *Controller) { c.timer = ts }
}

// WithConfigPath makes Run reload the config whenever the file changes.
func WithConfigPath(path string) Option {
	return func(c *Controller) { c.path = path }
}

// New opens the pins and fills a stopped scheduler from cfg.
func New(cfg *config.Config, opts ...Option) (*Controller, error) {
	c := &Controller{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	if c.pins == nil {
		p, err := pinio.New(cfg.IO, c.log)
		if err != nil {
			return nil, err
		}
		c.pins = p
	}
	if c.timer == nil {
		c.timer = timing.New()
	}
	s, err := servo.New(cfg.Timing, c.timer, servo.WithLogger(c.log.With().Str("component", "scheduler").Logger()))
	if err != nil {
		return nil, multierr.Append(err, c.closePins())
	}
	c.Servos = s
	c.cfg = &config.Config{Timing: cfg.Timing, IO: cfg.IO}
	c.cron = cron.New()
	if err := c.Apply(cfg); err != nil {
		return nil, multierr.Combine(err, s.Close(), c.closePins())
	}
	return c, nil
}

// Apply moves the controller to a new config: servos are removed, added and
// repositioned as needed, timing is changed in place and poses are
// rescheduled. The pin backend and the group layout cannot change while
// running. Whatever fails is left as it was, so the next Apply retries it.
func (c *Controller) Apply(next *config.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	applied := *next
	if next.IO != c.cfg.IO {
		c.log.Warn().Msg("pin backend changes need a restart; keeping the current backend")
		applied.IO = c.cfg.IO
	}
	if next.Timing != c.cfg.Timing {
		if terr := c.Servos.SetTiming(next.Timing); terr != nil {
			err = multierr.Append(err, terr)
			applied.Timing = c.cfg.Timing
		}
	}

	// live tracks what the scheduler actually holds.
	live := make(map[uint]config.Servo, len(c.cfg.Servos))
	for _, s := range c.cfg.Servos {
		live[s.Index] = s
	}
	ch := config.Diff(c.cfg.Servos, next.Servos)
	for _, idx := range ch.Remove {
		if rerr := c.Servos.Remove(idx); rerr != nil && !errors.Is(rerr, servo.ErrIndexNotFound) {
			err = multierr.Append(err, rerr)
			continue
		}
		delete(live, idx)
	}
	for _, s := range ch.Add {
		if _, ok := live[s.Index]; ok {
			// the old servo on this index could not be removed
			continue
		}
		if aerr := c.addServo(s); aerr != nil {
			err = multierr.Append(err, aerr)
			continue
		}
		live[s.Index] = s
	}
	for _, s := range ch.Move {
		if merr := c.Servos.UpdatePosition(s.Index, s.Position); merr != nil {
			err = multierr.Append(err, merr)
			continue
		}
		live[s.Index] = s
	}
	applied.Servos = appliedServos(c.cfg.Servos, next.Servos, live)

	c.schedulePoses(next.Poses)
	c.cfg = &applied
	if !ch.Empty() {
		c.log.Info().Int("added", len(ch.Add)).Int("removed", len(ch.Remove)).Int("moved", len(ch.Move)).
			Int("servos", c.Servos.Len()).Err(err).Msg("servo table updated")
	}
	return err
}

// appliedServos lists the servos in live, in next's order followed by any
// servo of prev that could not be removed.
func appliedServos(prev, next []config.Servo, live map[uint]config.Servo) []config.Servo {
	out := make([]config.Servo, 0, len(live))
	seen := make(map[uint]bool, len(live))
	for _, list := range [][]config.Servo{next, prev} {
		for _, s := range list {
			if cur, ok := live[s.Index]; ok && !seen[s.Index] {
				seen[s.Index] = true
				out = append(out, cur)
			}
		}
	}
	return out
}

func (c *Controller) addServo(s config.Servo) error {
	pin, err := c.pins.Pin(s.Pin)
	if err != nil {
		return fmt.Errorf("servo %d: %w", s.Index, err)
	}
	if err := c.Servos.Add(pin, s.Position, s.Index); err != nil {
		if cl, ok := pin.(io.Closer); ok {
			err = multierr.Append(err, cl.Close())
		}
		return err
	}
	return nil
}

func (c *Controller) schedulePoses(poses []config.Pose) {
	for _, id := range c.poses {
		c.cron.Remove(id)
	}
	c.poses = c.poses[:0]
	for _, p := range poses {
		p := p
		id, err := c.cron.AddFunc(p.Schedule, func() { c.ApplyPose(p) })
		if err != nil {
			c.log.Warn().Err(err).Str("pose", p.Name).Msg("scheduling pose")
			continue
		}
		c.poses = append(c.poses, id)
	}
}

// ApplyPose moves every servo named in the pose.
func (c *Controller) ApplyPose(p config.Pose) {
	moved := 0
	for idx, pos := range p.Positions {
		if err := c.Servos.UpdatePosition(idx, pos); err != nil {
			c.log.Warn().Err(err).Str("pose", p.Name).Uint("index", idx).Msg("pose skipped servo")
			continue
		}
		moved++
	}
	c.log.Info().Str("pose", p.Name).Int("moved", moved).Msg("pose applied")
}

// Centre moves every configured servo to the middle of its range.
func (c *Controller) Centre() {
	c.mu.Lock()
	servos := c.cfg.Servos
	c.mu.Unlock()
	for _, s := range servos {
		if err := c.Servos.UpdatePosition(s.Index, config.DefaultPosition); err != nil {
			c.log.Warn().Err(err).Uint("index", s.Index).Msg("centre skipped servo")
		}
	}
}

// Toggle starts a stopped scheduler and stops a running one.
func (c *Controller) Toggle() {
	if c.Servos.Running() {
		c.Servos.Stop()
		return
	}
	c.Servos.Start()
}

// Run starts the output cycle and blocks until ctx is done, then stops the
// cycle and waits for the last pulses to end.
func (c *Controller) Run(ctx context.Context) error {
	c.Servos.Start()
	c.cron.Start()

	wg := sync.WaitGroup{}
	if c.path != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := config.Watch(ctx, c.path, c.log, func(next *config.Config) {
				if err := c.Apply(next); err != nil {
					c.log.Warn().Err(err).Msg("config applied with errors")
				}
			}); err != nil {
				c.log.Error().Err(err).Msg("config watcher stopped")
			}
		}()
	}
	if b := c.button(); b != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-b.Event:
					if ev.Duration >= longPress {
						c.log.Info().Msg("button held, centring servos")
						c.Centre()
						continue
					}
					c.Toggle()
					c.log.Info().Bool("running", c.Servos.Running()).Msg("button pressed")
				}
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	<-c.cron.Stop().Done()
	c.Servos.Stop()

	drain, cancel := context.WithTimeout(context.Background(), 2*c.Servos.Timing().CycleTime+time.Second)
	defer cancel()
	if err := c.Servos.Quiesce(drain); err != nil {
		return fmt.Errorf("waiting for servo cycle to drain: %w", err)
	}
	return nil
}

func (c *Controller) button() *pinio.Button {
	c.mu.Lock()
	name := c.cfg.Button
	c.mu.Unlock()
	if name == "" {
		return nil
	}
	w, ok := c.pins.(buttonWatcher)
	if !ok {
		c.log.Warn().Str("button", name).Msg("pin backend cannot watch buttons")
		return nil
	}
	b, err := w.WatchButton(name)
	if err != nil {
		c.log.Warn().Err(err).Str("button", name).Msg("button disabled")
		return nil
	}
	return b
}

// Close releases every servo pin and the pin backend.
func (c *Controller) Close() error {
	return multierr.Combine(c.Servos.Close(), c.closePins())
}

func (c *Controller) closePins() error {
	if cl, ok := c.pins.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}
