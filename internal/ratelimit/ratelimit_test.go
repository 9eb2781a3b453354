package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/tempo/internal/config"
	"github.com/codefionn/tempo/internal/session"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func defaultLimits() Limits {
	return Limits{
		Window: time.Second,
		PerSource: map[session.Source]int{
			session.SourceTerminal: 10,
			session.SourceIDE:      2,
			session.SourceManual:   5,
		},
	}
}

func TestTerminalBurstAdmitsTenDropsFive(t *testing.T) {
	l := New(defaultLimits())

	admitted := 0
	for i := 0; i < 15; i++ {
		if l.Admit(session.SourceTerminal, t0.Add(time.Duration(i)*60*time.Millisecond)) {
			admitted++
		}
	}

	assert.Equal(t, 10, admitted)
	assert.Equal(t, uint64(5), l.Dropped()[session.SourceTerminal])
}

func TestWindowSlides(t *testing.T) {
	l := New(defaultLimits())

	assert.True(t, l.Admit(session.SourceIDE, t0))
	assert.True(t, l.Admit(session.SourceIDE, t0.Add(100*time.Millisecond)))
	assert.False(t, l.Admit(session.SourceIDE, t0.Add(900*time.Millisecond)))

	// The first signal leaves the window exactly one second later.
	assert.True(t, l.Admit(session.SourceIDE, t0.Add(time.Second)))
	assert.False(t, l.Admit(session.SourceIDE, t0.Add(1050*time.Millisecond)))
	assert.True(t, l.Admit(session.SourceIDE, t0.Add(1100*time.Millisecond)))
}

func TestSourcesAreIndependent(t *testing.T) {
	l := New(defaultLimits())
	for i := 0; i < 5; i++ {
		require.True(t, l.Admit(session.SourceManual, t0))
	}
	assert.False(t, l.Admit(session.SourceManual, t0))
	assert.True(t, l.Admit(session.SourceTerminal, t0))
	assert.Zero(t, l.Dropped()[session.SourceTerminal])
}

func TestSetLimits(t *testing.T) {
	l := New(defaultLimits())
	require.True(t, l.Admit(session.SourceIDE, t0))
	require.True(t, l.Admit(session.SourceIDE, t0))
	require.False(t, l.Admit(session.SourceIDE, t0))

	limits := defaultLimits()
	limits.PerSource[session.SourceIDE] = 4
	l.SetLimits(limits)
	assert.True(t, l.Admit(session.SourceIDE, t0))
}

func TestIDEDebounce(t *testing.T) {
	d := NewDebouncer[string](30*time.Second, 10*time.Second)

	dec, _ := d.Offer(session.SourceIDE, "/a", "/a", t0, "first")
	assert.Equal(t, Apply, dec)

	dec, _ = d.Offer(session.SourceIDE, "/a", "/a", t0.Add(29*time.Second), "second")
	assert.Equal(t, Drop, dec)

	dec, _ = d.Offer(session.SourceIDE, "/a", "/a", t0.Add(30*time.Second), "third")
	assert.Equal(t, Apply, dec)

	// Terminal signals are not spaced.
	dec, _ = d.Offer(session.SourceTerminal, "/a", "/a", t0.Add(31*time.Second), "term")
	assert.Equal(t, Apply, dec)
}

func TestSwitchSettleKeepsLatestTarget(t *testing.T) {
	d := NewDebouncer[string](0, 10*time.Second)

	dec, deadline := d.Offer(session.SourceTerminal, "/b", "/a", t0, "to-b")
	require.Equal(t, Defer, dec)
	assert.Equal(t, t0.Add(10*time.Second), deadline)

	dec, deadline = d.Offer(session.SourceTerminal, "/c", "/a", t0.Add(4*time.Second), "to-c")
	require.Equal(t, Defer, dec)
	assert.Equal(t, t0.Add(14*time.Second), deadline)

	_, ok := d.Settle(t0.Add(10 * time.Second))
	assert.False(t, ok, "superseded deadline must not settle")

	got, ok := d.Settle(t0.Add(14 * time.Second))
	require.True(t, ok)
	assert.Equal(t, "to-c", got)

	_, ok = d.Settle(t0.Add(20 * time.Second))
	assert.False(t, ok)
}

func TestSameTargetKeepsDeadline(t *testing.T) {
	d := NewDebouncer[string](0, 10*time.Second)
	_, first := d.Offer(session.SourceTerminal, "/b", "/a", t0, "one")
	_, again := d.Offer(session.SourceTerminal, "/b", "/a", t0.Add(5*time.Second), "two")
	assert.Equal(t, first, again)

	got, ok := d.Settle(t0.Add(10 * time.Second))
	require.True(t, ok)
	assert.Equal(t, "two", got)
}

func TestReturningToFocusCancelsSwitch(t *testing.T) {
	d := NewDebouncer[string](0, 10*time.Second)
	d.Offer(session.SourceTerminal, "/b", "/a", t0, "to-b")

	dec, _ := d.Offer(session.SourceTerminal, "/a", "/a", t0.Add(2*time.Second), "back")
	assert.Equal(t, Apply, dec)

	_, _, pending := d.Pending()
	assert.False(t, pending)
}

func TestManualSwitchIsImmediate(t *testing.T) {
	d := NewDebouncer[string](0, 10*time.Second)
	d.Offer(session.SourceTerminal, "/b", "/a", t0, "to-b")

	dec, _ := d.Offer(session.SourceManual, "/c", "/a", t0.Add(time.Second), "to-c")
	assert.Equal(t, Apply, dec)
	_, _, pending := d.Pending()
	assert.False(t, pending)
}

func TestNoFocusAppliesImmediately(t *testing.T) {
	d := NewDebouncer[string](0, 10*time.Second)
	dec, _ := d.Offer(session.SourceTerminal, "/b", "", t0, "start")
	assert.Equal(t, Apply, dec)
}

func TestLimitsFromConfig(t *testing.T) {
	rc := config.DefaultConfig().RateLimits
	rc.IDE = 0
	l := LimitsFromConfig(rc)

	assert.Equal(t, rc.Window(), l.Window)
	assert.Equal(t, rc.Terminal, l.PerSource[session.SourceTerminal])
	_, limited := l.PerSource[session.SourceIDE]
	assert.False(t, limited)

	lim := New(l)
	for i := 0; i < 100; i++ {
		require.True(t, lim.Admit(session.SourceIDE, t0))
	}
}
