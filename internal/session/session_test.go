package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestSession() *Session {
	return New(&Project{Key: "/src/api", Path: "/src/api", Name: "api"}, ContextTerminal, t0)
}

func TestDurations(t *testing.T) {
	s := newTestSession()
	require.NoError(t, s.BeginPause(t0.Add(10*time.Minute), PauseManual))
	assert.Equal(t, Paused, s.State())
	require.NoError(t, s.EndPause(t0.Add(15*time.Minute)))
	assert.Equal(t, Active, s.State())
	s.Close(t0.Add(40 * time.Minute))

	assert.Equal(t, NoActiveSession, s.State())
	assert.Equal(t, 40*time.Minute, s.Elapsed(t0.Add(time.Hour)))
	assert.Equal(t, 5*time.Minute, s.PausedDuration(t0.Add(time.Hour)))
	assert.Equal(t, 35*time.Minute, s.ActiveDuration(t0.Add(time.Hour)))
	assert.NoError(t, s.Validate())
}

func TestOpenPauseCountsUntilNow(t *testing.T) {
	s := newTestSession()
	require.NoError(t, s.BeginPause(t0.Add(5*time.Minute), PauseIdle))

	now := t0.Add(20 * time.Minute)
	assert.Equal(t, 15*time.Minute, s.PausedDuration(now))
	assert.Equal(t, 5*time.Minute, s.ActiveDuration(now))
}

func TestPauseTransitionsRejectWrongState(t *testing.T) {
	s := newTestSession()
	assert.Error(t, s.EndPause(t0.Add(time.Minute)))

	require.NoError(t, s.BeginPause(t0.Add(time.Minute), PauseManual))
	assert.Error(t, s.BeginPause(t0.Add(2*time.Minute), PauseManual))

	s.Close(t0.Add(3 * time.Minute))
	assert.Error(t, s.BeginPause(t0.Add(4*time.Minute), PauseManual))
}

func TestCloseClosesRunningPause(t *testing.T) {
	s := newTestSession()
	require.NoError(t, s.BeginPause(t0.Add(30*time.Minute), PauseSleep))
	s.Close(t0.Add(20 * time.Minute))

	require.Len(t, s.Pauses, 1)
	assert.Equal(t, t0.Add(20*time.Minute), s.Pauses[0].Start)
	assert.Equal(t, t0.Add(20*time.Minute), *s.Pauses[0].End)
	assert.NoError(t, s.Validate())
}

func TestCloseNeverProducesEmptySession(t *testing.T) {
	s := newTestSession()
	s.Close(t0.Add(-time.Second))

	assert.True(t, s.End.After(s.Start))
	assert.NoError(t, s.Validate())
}

func TestPauseStartIsClampedIntoSession(t *testing.T) {
	s := newTestSession()
	require.NoError(t, s.BeginPause(t0.Add(-time.Hour), PauseIdle))
	assert.Equal(t, t0, s.Pauses[0].Start)

	require.NoError(t, s.EndPause(t0.Add(10*time.Minute)))
	require.NoError(t, s.BeginPause(t0.Add(5*time.Minute), PauseSleep))
	assert.Equal(t, t0.Add(10*time.Minute), s.Pauses[1].Start)
	assert.NoError(t, s.Validate())
}

func TestCloneIsDeep(t *testing.T) {
	s := newTestSession()
	require.NoError(t, s.BeginPause(t0.Add(time.Minute), PauseManual))
	require.NoError(t, s.EndPause(t0.Add(2*time.Minute)))

	c := s.Clone()
	*c.Pauses[0].End = t0.Add(time.Hour)
	c.Touch(t0.Add(time.Hour))

	assert.Equal(t, t0.Add(2*time.Minute), *s.Pauses[0].End)
	assert.Equal(t, t0, s.LastActivity)
}

func TestParseSourceAndPriority(t *testing.T) {
	src, err := ParseSource("IDE")
	require.NoError(t, err)
	assert.Equal(t, SourceIDE, src)

	src, err = ParseSource("manual")
	require.NoError(t, err)
	assert.Equal(t, SourceManual, src)

	_, err = ParseSource("browser")
	assert.Error(t, err)

	assert.Greater(t, SourceManual.Priority(), SourceIDE.Priority())
	assert.Greater(t, SourceIDE.Priority(), SourceTerminal.Priority())
	assert.Equal(t, ContextManual, SourceManual.Context())
}
