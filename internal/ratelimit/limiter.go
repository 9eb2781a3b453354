// Package ratelimit bounds the rate at which activity signals reach the
// session state machine.
package ratelimit

import (
	"sync"
	"time"

	"github.com/codefionn/tempo/internal/config"
	"github.com/codefionn/tempo/internal/session"
)

// Limits is the per-source budget within one window.
type Limits struct {
	Window    time.Duration
	PerSource map[session.Source]int
}

// LimitsFromConfig builds budgets from the rate_limits section. A budget of
// zero leaves the source unlimited.
func LimitsFromConfig(c config.RateLimitConfig) Limits {
	l := Limits{Window: c.Window(), PerSource: map[session.Source]int{}}
	for src, n := range map[session.Source]int{
		session.SourceTerminal: c.Terminal,
		session.SourceIDE:      c.IDE,
		session.SourceManual:   c.ManualCLI,
	} {
		if n > 0 {
			l.PerSource[src] = n
		}
	}
	return l
}

// Limiter admits signals per source using a sliding window. It is safe for
// concurrent use by connection handlers.
type Limiter struct {
	mu      sync.Mutex
	limits  Limits
	windows map[session.Source][]time.Time
	dropped map[session.Source]uint64
}

// New creates a limiter. A source without a budget is unlimited.
func New(limits Limits) *Limiter {
	return &Limiter{
		limits:  copyLimits(limits),
		windows: make(map[session.Source][]time.Time),
		dropped: make(map[session.Source]uint64),
	}
}

func copyLimits(l Limits) Limits {
	per := make(map[session.Source]int, len(l.PerSource))
	for k, v := range l.PerSource {
		per[k] = v
	}
	return Limits{Window: l.Window, PerSource: per}
}

// Admit records a signal from source at now and reports whether it fits the
// budget. Rejected signals are counted and never queued.
func (l *Limiter) Admit(source session.Source, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit, ok := l.limits.PerSource[source]
	if !ok {
		return true
	}

	cutoff := now.Add(-l.limits.Window)
	window := l.windows[source]
	keep := 0
	for keep < len(window) && !window[keep].After(cutoff) {
		keep++
	}
	window = window[keep:]

	if len(window) >= limit {
		l.windows[source] = window
		l.dropped[source]++
		return false
	}

	l.windows[source] = append(window, now)
	return true
}

// Dropped returns the rejected signal count per source.
func (l *Limiter) Dropped() map[session.Source]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[session.Source]uint64, len(l.dropped))
	for k, v := range l.dropped {
		out[k] = v
	}
	return out
}

// SetLimits replaces the budgets. Windows already in flight are kept.
func (l *Limiter) SetLimits(limits Limits) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits = copyLimits(limits)
}
