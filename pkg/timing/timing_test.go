package timing

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutFires(t *testing.T) {
	t.Parallel()
	to := New().NewTimeout()
	var fired atomic.Int32
	assert.False(t, to.Arm(time.Millisecond, func() { fired.Add(1) }))
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	assert.False(t, to.Disarm(), "a fired timeout has nothing to cancel")
}

func TestTimeoutRearmReplaces(t *testing.T) {
	t.Parallel()
	to := New().NewTimeout()
	var first, second atomic.Int32
	to.Arm(50*time.Millisecond, func() { first.Add(1) })
	assert.True(t, to.Arm(time.Millisecond, func() { second.Add(1) }))
	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, first.Load())
}

func TestTimeoutDisarm(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	to := NewWithClock(mock).NewTimeout()
	var fired atomic.Int32
	to.Arm(10*time.Millisecond, func() { fired.Add(1) })
	assert.True(t, to.Disarm())
	assert.False(t, to.Disarm())
	mock.Add(20 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestStagger(t *testing.T) {
	t.Parallel()
	c := New()
	start := time.Now()
	c.Stagger(200 * time.Microsecond)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Microsecond)

	c.Stagger(0)
	c.Stagger(-time.Second)
}
