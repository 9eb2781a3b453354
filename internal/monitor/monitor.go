// Package monitor samples the wall and monotonic clocks on a fixed tick and
// reports host sleep as the drift between them.
package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/codefionn/tempo/internal/logger"
)

// Reading is one simultaneous sample of both clocks.
type Reading struct {
	Wall time.Time
	// Mono only advances while the host is awake.
	Mono time.Duration
}

// Clock produces readings.
type Clock interface {
	Read() Reading
}

type systemClock struct {
	origin time.Time
}

// SystemClock reads the OS clocks. Go's monotonic reading stops while the
// machine is suspended, so the wall/monotonic drift measures sleep.
func SystemClock() Clock {
	return &systemClock{origin: time.Now()}
}

func (c *systemClock) Read() Reading {
	now := time.Now()
	return Reading{
		Wall: now.Round(0).UTC(),
		Mono: now.Sub(c.origin),
	}
}

// Sleep is a detected suspend interval. Onset is the previous tick's wall
// time plus the monotonic time that elapsed after it, so the awake part of
// the interval is not counted as sleep. Resume is the wall time of the tick
// that noticed the drift; activity may already have arrived before it.
type Sleep struct {
	Onset  time.Time
	Resume time.Time
}

// Duration is the time the host spent asleep.
func (s Sleep) Duration() time.Duration {
	return s.Resume.Sub(s.Onset)
}

// Tick is emitted once per interval.
type Tick struct {
	Now   time.Time
	Sleep *Sleep
}

// Detector compares consecutive readings.
type Detector struct {
	threshold time.Duration
	prev      *Reading
}

// NewDetector creates a detector that reports drift above threshold.
func NewDetector(threshold time.Duration) *Detector {
	return &Detector{threshold: threshold}
}

// SetThreshold replaces the drift threshold.
func (d *Detector) SetThreshold(threshold time.Duration) {
	d.threshold = threshold
}

// Observe turns a reading into a tick. When the wall clock advanced more
// than the monotonic clock by over the threshold, the tick carries a sleep
// whose onset is the previous wall reading plus the genuinely awake time.
func (d *Detector) Observe(r Reading) Tick {
	tick := Tick{Now: r.Wall}
	if d.prev != nil {
		wallDelta := r.Wall.Sub(d.prev.Wall)
		monoDelta := r.Mono - d.prev.Mono
		if monoDelta < 0 {
			monoDelta = 0
		}
		if wallDelta-monoDelta > d.threshold {
			tick.Sleep = &Sleep{
				Onset:  d.prev.Wall.Add(monoDelta),
				Resume: r.Wall,
			}
		}
	}
	d.prev = &r
	return tick
}

// Monitor drives a Detector from a ticker.
type Monitor struct {
	clock    Clock
	detector *Detector
	interval time.Duration
	emit     func(context.Context, Tick)
	log      *logger.Logger

	// threshold is applied to the detector before each reading.
	threshold atomic.Int64
}

// New creates a monitor. emit is called from the monitor goroutine for each tick.
func New(clock Clock, interval, sleepThreshold time.Duration, emit func(context.Context, Tick)) *Monitor {
	m := &Monitor{
		clock:    clock,
		detector: NewDetector(sleepThreshold),
		interval: interval,
		emit:     emit,
		log:      logger.Global().WithPrefix("monitor"),
	}
	m.threshold.Store(int64(sleepThreshold))
	return m
}

// SetSleepThreshold changes the drift threshold of a running monitor.
func (m *Monitor) SetSleepThreshold(threshold time.Duration) {
	m.threshold.Store(int64(threshold))
}

// Run samples the clocks every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.detector.Observe(m.clock.Read())

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.detector.SetThreshold(time.Duration(m.threshold.Load()))
			tick := m.detector.Observe(m.clock.Read())
			if tick.Sleep != nil {
				m.log.Info("Host sleep detected: %s from %s", tick.Sleep.Duration().Round(time.Second), tick.Sleep.Onset.Format(time.RFC3339))
			}
			m.emit(ctx, tick)
		}
	}
}
