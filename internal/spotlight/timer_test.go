package spotlight

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotationTimerFires(t *testing.T) {
	var calls atomic.Int32
	timer := NewRotationTimer(uuid.New(), func() { calls.Add(1) }, nil)

	timer.StartEvery(5 * time.Millisecond)
	defer timer.Stop()

	assert.True(t, timer.Running())
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
}

func TestRotationTimerStopIsIdempotent(t *testing.T) {
	var calls atomic.Int32
	timer := NewRotationTimer(uuid.New(), func() { calls.Add(1) }, nil)

	timer.Stop()
	assert.False(t, timer.Running())

	timer.StartEvery(5 * time.Millisecond)
	timer.Stop()
	timer.Stop()
	assert.False(t, timer.Running())

	n := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, calls.Load(), "no rotation after stop")
}

func TestRotationTimerRestartReplacesInterval(t *testing.T) {
	timer := NewRotationTimer(uuid.New(), func() {}, nil)
	defer timer.Stop()

	timer.Start(60)
	require.Equal(t, 60*time.Second, timer.Interval())

	timer.Start(0)
	assert.Equal(t, time.Duration(DefaultRotationInterval)*time.Second, timer.Interval())
	assert.True(t, timer.Running())
}
