package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestDetectorReportsSleep(t *testing.T) {
	d := NewDetector(5 * time.Minute)

	first := d.Observe(Reading{Wall: t0, Mono: time.Hour})
	assert.Nil(t, first.Sleep)

	// Only 10s of real time passed while the wall clock moved 20 minutes.
	tick := d.Observe(Reading{Wall: t0.Add(20 * time.Minute), Mono: time.Hour + 10*time.Second})
	require.NotNil(t, tick.Sleep)
	assert.Equal(t, t0.Add(10*time.Second), tick.Sleep.Onset)
	assert.Equal(t, t0.Add(20*time.Minute), tick.Sleep.Resume)
	assert.Equal(t, 20*time.Minute-10*time.Second, tick.Sleep.Duration())
}

func TestDetectorIgnoresSmallDrift(t *testing.T) {
	d := NewDetector(5 * time.Minute)
	d.Observe(Reading{Wall: t0, Mono: 0})

	tick := d.Observe(Reading{Wall: t0.Add(6 * time.Minute), Mono: 2 * time.Minute})
	assert.Nil(t, tick.Sleep, "4 minutes of drift is below the threshold")

	tick = d.Observe(Reading{Wall: t0.Add(7 * time.Minute), Mono: 3 * time.Minute})
	assert.Nil(t, tick.Sleep)
	assert.Equal(t, t0.Add(7*time.Minute), tick.Now)
}

func TestDetectorHandlesBackwardWallClock(t *testing.T) {
	d := NewDetector(5 * time.Minute)
	d.Observe(Reading{Wall: t0, Mono: 0})

	tick := d.Observe(Reading{Wall: t0.Add(-time.Hour), Mono: time.Minute})
	assert.Nil(t, tick.Sleep)
}

type fakeClock struct {
	mu       sync.Mutex
	readings []Reading
}

func (c *fakeClock) Read() Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.readings[0]
	if len(c.readings) > 1 {
		c.readings = c.readings[1:]
	}
	return r
}

func TestMonitorEmitsTicks(t *testing.T) {
	clock := &fakeClock{readings: []Reading{
		{Wall: t0, Mono: 0},
		{Wall: t0.Add(time.Minute), Mono: time.Minute},
		{Wall: t0.Add(30 * time.Minute), Mono: 2 * time.Minute},
	}}

	ticks := make(chan Tick, 8)
	m := New(clock, 5*time.Millisecond, 5*time.Minute, func(_ context.Context, tick Tick) { ticks <- tick })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	first := <-ticks
	assert.Nil(t, first.Sleep)
	second := <-ticks
	require.NotNil(t, second.Sleep)
	assert.Equal(t, t0.Add(2*time.Minute), second.Sleep.Onset)

	cancel()
	require.NoError(t, <-done)
}

func TestSystemClockIsMonotonic(t *testing.T) {
	c := SystemClock()
	a := c.Read()
	b := c.Read()
	assert.GreaterOrEqual(t, b.Mono, a.Mono)
	assert.Equal(t, time.UTC, a.Wall.Location())
}
