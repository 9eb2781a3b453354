package ratelimit

import (
	"time"

	"github.com/codefionn/tempo/internal/session"
)

// Decision tells the caller what to do with an offered signal.
type Decision int

const (
	// Apply forwards the signal to the state machine now.
	Apply Decision = iota
	// Drop discards the signal.
	Drop
	// Defer holds the signal as the pending switch until its deadline.
	Defer
)

func (d Decision) String() string {
	switch d {
	case Apply:
		return "apply"
	case Drop:
		return "drop"
	case Defer:
		return "defer"
	default:
		return "unknown"
	}
}

type pendingSwitch[T any] struct {
	key      string
	payload  T
	deadline time.Time
}

// Debouncer spaces IDE signals per project and holds project switches for a
// settle window, keeping only the most recent distinct target. It is not
// safe for concurrent use; the serialized processor owns it.
type Debouncer[T any] struct {
	ideSpacing time.Duration
	settle     time.Duration
	lastIDE    map[string]time.Time
	pending    *pendingSwitch[T]
}

// NewDebouncer creates a debouncer. Zero durations disable the respective rule.
func NewDebouncer[T any](ideSpacing, settle time.Duration) *Debouncer[T] {
	return &Debouncer[T]{
		ideSpacing: ideSpacing,
		settle:     settle,
		lastIDE:    make(map[string]time.Time),
	}
}

// SetWindows replaces both durations.
func (d *Debouncer[T]) SetWindows(ideSpacing, settle time.Duration) {
	d.ideSpacing = ideSpacing
	d.settle = settle
}

// Offer classifies a signal from source for project key while focused is the
// currently focused project ("" for none). On Defer the returned deadline is
// when Settle should be called.
func (d *Debouncer[T]) Offer(source session.Source, key, focused string, now time.Time, payload T) (Decision, time.Time) {
	if source == session.SourceIDE && d.ideSpacing > 0 {
		if last, ok := d.lastIDE[key]; ok && now.Sub(last) < d.ideSpacing {
			return Drop, time.Time{}
		}
		d.lastIDE[key] = now
		d.pruneIDE(now)
	}

	if focused == "" || key == focused {
		d.pending = nil
		return Apply, time.Time{}
	}

	// Explicit user intent is never held back.
	if source == session.SourceManual || d.settle <= 0 {
		d.pending = nil
		return Apply, time.Time{}
	}

	if d.pending != nil && d.pending.key == key {
		d.pending.payload = payload
		return Defer, d.pending.deadline
	}

	d.pending = &pendingSwitch[T]{key: key, payload: payload, deadline: now.Add(d.settle)}
	return Defer, d.pending.deadline
}

// Settle returns the pending switch once its deadline has passed.
func (d *Debouncer[T]) Settle(now time.Time) (T, bool) {
	var zero T
	if d.pending == nil || now.Before(d.pending.deadline) {
		return zero, false
	}
	payload := d.pending.payload
	d.pending = nil
	return payload, true
}

// Pending returns the key and deadline of the held switch, if any.
func (d *Debouncer[T]) Pending() (string, time.Time, bool) {
	if d.pending == nil {
		return "", time.Time{}, false
	}
	return d.pending.key, d.pending.deadline, true
}

// Cancel discards any held switch.
func (d *Debouncer[T]) Cancel() {
	d.pending = nil
}

func (d *Debouncer[T]) pruneIDE(now time.Time) {
	if len(d.lastIDE) < 64 {
		return
	}
	for key, last := range d.lastIDE {
		if now.Sub(last) >= d.ideSpacing {
			delete(d.lastIDE, key)
		}
	}
}
