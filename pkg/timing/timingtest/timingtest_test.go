package timingtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdvanceRunsInDueOrder(t *testing.T) {
	t.Parallel()
	s := New()
	var got []string
	s.NewTimeout().Arm(2*time.Millisecond, func() { got = append(got, "b") })
	s.NewTimeout().Arm(time.Millisecond, func() { got = append(got, "a") })
	s.NewTimeout().Arm(5*time.Millisecond, func() { got = append(got, "c") })

	s.Advance(3 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 3*time.Millisecond, s.Now())
	assert.Equal(t, 1, s.Pending())

	s.Advance(2 * time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestRearmFromCallback(t *testing.T) {
	t.Parallel()
	s := New()
	to := s.NewTimeout()
	var ticks []time.Duration
	var tick func()
	tick = func() {
		ticks = append(ticks, s.Now())
		to.Arm(10*time.Millisecond, tick)
	}
	to.Arm(0, tick)
	s.Advance(35 * time.Millisecond)
	assert.Equal(t, []time.Duration{0, 10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}, ticks)
}

func TestStaggerDelaysLaterArms(t *testing.T) {
	t.Parallel()
	s := New()
	var at []time.Duration
	s.NewTimeout().Arm(0, func() {
		s.Stagger(100 * time.Microsecond)
		s.NewTimeout().Arm(time.Millisecond, func() { at = append(at, s.Now()) })
	})
	s.Advance(2 * time.Millisecond)
	assert.Equal(t, []time.Duration{1100 * time.Microsecond}, at)
	assert.Equal(t, 100*time.Microsecond, s.Staggered())
}

func TestDisarm(t *testing.T) {
	t.Parallel()
	s := New()
	to := s.NewTimeout()
	fired := false
	assert.False(t, to.Arm(time.Millisecond, func() { fired = true }))
	assert.True(t, to.Arm(time.Millisecond, func() { fired = true }))
	assert.True(t, to.Disarm())
	assert.False(t, to.Disarm())
	s.Advance(time.Second)
	assert.False(t, fired)
	assert.Zero(t, s.Pending())
}
