package tracker

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/tempo/internal/monitor"
	"github.com/codefionn/tempo/internal/session"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func target(name string) Target {
	return Target{Key: "/work/" + name, Path: "/work/" + name, Name: name}
}

func newTestEngine() *Engine {
	return NewEngine(DefaultSettings(), nil)
}

func TestRoundTripActiveDuration(t *testing.T) {
	e := newTestEngine()

	_, err := e.Start(target("api"), session.ContextManual, t0)
	require.NoError(t, err)
	_, err = e.Pause(t0.Add(10 * time.Minute))
	require.NoError(t, err)
	_, err = e.Resume(t0.Add(15 * time.Minute))
	require.NoError(t, err)

	s := e.open["/work/api"]
	ch, err := e.Stop(t0.Add(40 * time.Minute))
	require.NoError(t, err)
	require.Len(t, ch.Sessions, 1)

	assert.Equal(t, 35*time.Minute, s.ActiveDuration(t0.Add(time.Hour)))
	assert.Equal(t, 5*time.Minute, s.PausedDuration(t0.Add(time.Hour)))
	assert.False(t, s.Open())
	assert.Equal(t, session.NoActiveSession, e.State())
}

func TestErrorsDoNotMutateState(t *testing.T) {
	e := newTestEngine()

	_, err := e.Stop(t0)
	assert.ErrorIs(t, err, ErrNoActiveSession)
	_, err = e.Pause(t0)
	assert.ErrorIs(t, err, ErrNoActiveSession)
	_, err = e.Resume(t0)
	assert.ErrorIs(t, err, ErrNoActiveSession)

	_, err = e.Start(target("api"), session.ContextManual, t0)
	require.NoError(t, err)

	_, err = e.Resume(t0.Add(time.Minute))
	var ite *InvalidTransitionError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, "resume", ite.Op)
	assert.Equal(t, session.Active, ite.State)

	_, err = e.Start(target("api"), session.ContextManual, t0.Add(time.Minute))
	assert.True(t, IsInvalidTransition(err))

	_, err = e.Pause(t0.Add(2 * time.Minute))
	require.NoError(t, err)
	before := e.open["/work/api"].Clone()

	_, err = e.Pause(t0.Add(3 * time.Minute))
	assert.True(t, IsInvalidTransition(err))
	assert.Equal(t, before, e.open["/work/api"])
}

func TestStartingPausedProjectResumes(t *testing.T) {
	e := newTestEngine()
	_, err := e.Start(target("api"), session.ContextManual, t0)
	require.NoError(t, err)
	_, err = e.Pause(t0.Add(time.Minute))
	require.NoError(t, err)

	ch, err := e.Start(target("api"), session.ContextManual, t0.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, ch.Sessions, 1)
	assert.Equal(t, session.Active, e.State())
	assert.Len(t, e.open, 1)
}

func TestStartStopsOtherProject(t *testing.T) {
	e := newTestEngine()
	_, err := e.Start(target("api"), session.ContextManual, t0)
	require.NoError(t, err)
	first := e.open["/work/api"]

	ch, err := e.Switch(target("web"), session.ContextManual, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, ch.Sessions, 2)
	assert.Len(t, ch.Projects, 1, "only the new project is created")

	require.NotNil(t, first.End)
	assert.Equal(t, t0.Add(time.Hour), *first.End)
	assert.Equal(t, "/work/web", e.Focused())
	assert.Len(t, e.open, 1)
}

func TestSwitchToOnlyActiveProjectIsInvalid(t *testing.T) {
	e := newTestEngine()
	_, err := e.Start(target("api"), session.ContextManual, t0)
	require.NoError(t, err)

	_, err = e.Switch(target("api"), session.ContextManual, t0.Add(time.Minute))
	assert.True(t, IsInvalidTransition(err))
}

func TestIdlePauseAnchorsAtLastActivity(t *testing.T) {
	e := newTestEngine()
	_, err := e.Activity(target("api"), session.SourceTerminal, t0)
	require.NoError(t, err)

	for m := 1; m < 30; m++ {
		ch := e.Tick(t0.Add(time.Duration(m)*time.Minute), nil)
		require.True(t, ch.Empty(), "minute %d", m)
	}
	ch := e.Tick(t0.Add(30*time.Minute), nil)
	require.Len(t, ch.Sessions, 1)

	s := e.open["/work/api"]
	pause := s.OpenPause()
	require.NotNil(t, pause)
	assert.Equal(t, t0, pause.Start)
	assert.Equal(t, session.PauseIdle, pause.Reason)

	// Further ticks keep the single pause.
	assert.True(t, e.Tick(t0.Add(31*time.Minute), nil).Empty())
	assert.Len(t, s.Pauses, 1)
}

func TestActivityResumesAutomaticPauseOnly(t *testing.T) {
	e := newTestEngine()
	_, err := e.Activity(target("api"), session.SourceTerminal, t0)
	require.NoError(t, err)
	e.Tick(t0.Add(45*time.Minute), nil)
	require.Equal(t, session.Paused, e.State())

	_, err = e.Activity(target("api"), session.SourceTerminal, t0.Add(46*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, session.Active, e.State())

	_, err = e.Pause(t0.Add(50 * time.Minute))
	require.NoError(t, err)
	_, err = e.Activity(target("api"), session.SourceIDE, t0.Add(51*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, session.Paused, e.State(), "automatic activity must not end a manual pause")

	_, err = e.Activity(target("api"), session.SourceManual, t0.Add(52*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, session.Active, e.State())
}

func TestSleepPauseStartsAtOnset(t *testing.T) {
	e := newTestEngine()
	_, err := e.Activity(target("api"), session.SourceIDE, t0)
	require.NoError(t, err)

	onset := t0.Add(10 * time.Second)
	ch := e.Tick(t0.Add(20*time.Minute), &monitor.Sleep{Onset: onset, Resume: t0.Add(20 * time.Minute)})
	require.Len(t, ch.Sessions, 1)

	pause := e.open["/work/api"].OpenPause()
	require.NotNil(t, pause)
	assert.Equal(t, onset, pause.Start)
	assert.Equal(t, session.PauseSleep, pause.Reason)
}

func TestActivityBeforeSleepTickKeepsSessionActive(t *testing.T) {
	e := newTestEngine()
	_, err := e.Activity(target("api"), session.SourceTerminal, t0)
	require.NoError(t, err)

	onset := t0.Add(time.Minute)
	resume := t0.Add(21 * time.Minute)
	back := resume.Add(5 * time.Second)
	_, err = e.Activity(target("api"), session.SourceTerminal, back)
	require.NoError(t, err)

	ch := e.Tick(resume.Add(30*time.Second), &monitor.Sleep{Onset: onset, Resume: resume})
	require.Len(t, ch.Sessions, 1)

	s := e.open["/work/api"]
	assert.Equal(t, session.Active, s.State())
	require.Len(t, s.Pauses, 1)
	assert.Equal(t, onset, s.Pauses[0].Start)
	require.NotNil(t, s.Pauses[0].End)
	assert.Equal(t, resume, *s.Pauses[0].End)
	assert.Equal(t, session.PauseSleep, s.Pauses[0].Reason)

	assert.Equal(t, 31*time.Minute, s.ActiveDuration(t0.Add(51*time.Minute)))
}

func TestLongSleepAfterIdleAnchorsAtLastActivity(t *testing.T) {
	e := newTestEngine()
	_, err := e.Activity(target("api"), session.SourceIDE, t0)
	require.NoError(t, err)

	onset := t0.Add(40 * time.Minute)
	e.Tick(t0.Add(3*time.Hour), &monitor.Sleep{Onset: onset, Resume: t0.Add(3 * time.Hour)})

	pause := e.open["/work/api"].OpenPause()
	require.NotNil(t, pause)
	assert.Equal(t, t0, pause.Start)
	assert.Equal(t, session.PauseIdle, pause.Reason)
}

func TestMaxDurationClosesAndFlags(t *testing.T) {
	e := newTestEngine()
	_, err := e.Start(target("api"), session.ContextManual, t0)
	require.NoError(t, err)
	s := e.open["/work/api"]

	e.Tick(t0.Add(13*time.Hour), nil)
	events := e.DrainEvents()
	assert.Contains(t, eventKinds(events), "long_session")

	e.Tick(t0.Add(14*time.Hour), nil)
	assert.NotContains(t, eventKinds(e.DrainEvents()), "long_session", "warning is logged once")

	ch := e.Tick(t0.Add(50*time.Hour), nil)
	require.Len(t, ch.Sessions, 1)
	require.NotNil(t, s.End)
	assert.Equal(t, t0.Add(48*time.Hour), *s.End)
	assert.True(t, s.NeedsReview)
	assert.NotEmpty(t, s.ReviewReason)
	assert.Equal(t, session.NoActiveSession, e.State())
}

func eventKinds(events []Event) []string {
	kinds := make([]string, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func TestPrioritySlot(t *testing.T) {
	e := newTestEngine()
	_, err := e.Activity(target("api"), session.SourceIDE, t0)
	require.NoError(t, err)

	_, err = e.Activity(target("web"), session.SourceTerminal, t0.Add(200*time.Millisecond))
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.Equal(t, "/work/api", e.Focused())

	_, err = e.Activity(target("web"), session.SourceTerminal, t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "/work/web", e.Focused())
}

func TestManualBeatsIDEWithinSlot(t *testing.T) {
	e := newTestEngine()
	_, err := e.Activity(target("api"), session.SourceManual, t0)
	require.NoError(t, err)

	_, err = e.Activity(target("web"), session.SourceIDE, t0.Add(500*time.Millisecond))
	assert.ErrorIs(t, err, ErrSuperseded)
}

func TestLinkedModeSharesTimeline(t *testing.T) {
	settings := DefaultSettings()
	settings.Linked = true
	settings.LinkedKeys = map[string]bool{"/work/api": true, "/work/web": true}
	e := NewEngine(settings, nil)

	_, err := e.Start(target("api"), session.ContextTerminal, t0)
	require.NoError(t, err)
	_, err = e.Start(target("web"), session.ContextManual, t0.Add(time.Minute))
	require.NoError(t, err)

	require.Len(t, e.open, 2)
	assert.Equal(t, session.ContextLinked, e.open["/work/web"].Context)
	assert.Equal(t, session.ContextLinked, e.open["/work/api"].Context)
	assert.Equal(t, []string{"/work/api"}, e.Status(t0.Add(2*time.Minute)).Linked)

	ch, err := e.Pause(t0.Add(5 * time.Minute))
	require.NoError(t, err)
	assert.Len(t, ch.Sessions, 2)

	_, err = e.Resume(t0.Add(6 * time.Minute))
	require.NoError(t, err)

	// A non-member breaks the linked timeline.
	ch, err = e.Start(target("other"), session.ContextManual, t0.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Len(t, ch.Sessions, 3)
	assert.Len(t, e.open, 1)
}

func TestArchivedProjectRejectsWork(t *testing.T) {
	e := newTestEngine()
	_, err := e.Start(target("api"), session.ContextManual, t0)
	require.NoError(t, err)

	ch := e.SetArchived(target("api"), true, t0.Add(time.Minute))
	assert.Len(t, ch.Archived, 1)
	assert.Len(t, ch.Sessions, 1, "archiving closes the open session")

	_, err = e.Start(target("api"), session.ContextManual, t0.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrProjectArchived)
	_, err = e.Activity(target("api"), session.SourceTerminal, t0.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrProjectArchived)

	e.SetArchived(target("api"), false, t0.Add(3*time.Minute))
	_, err = e.Start(target("api"), session.ContextManual, t0.Add(4*time.Minute))
	assert.NoError(t, err)
}

func TestCloseAll(t *testing.T) {
	e := newTestEngine()
	_, err := e.Start(target("api"), session.ContextManual, t0)
	require.NoError(t, err)
	_, err = e.Pause(t0.Add(time.Minute))
	require.NoError(t, err)

	ch := e.CloseAll(t0.Add(2 * time.Minute))
	require.Len(t, ch.Sessions, 1)
	s := ch.Sessions[0]
	require.NoError(t, s.Validate())
	assert.Equal(t, t0.Add(2*time.Minute), *s.Pauses[0].End)
	assert.Empty(t, e.OpenSessions())
}

// Random operation sequences must never break the session invariants.
func TestRandomSequencesKeepInvariants(t *testing.T) {
	settings := DefaultSettings()
	settings.Linked = true
	settings.LinkedKeys = map[string]bool{"/work/a": true, "/work/b": true}

	names := []string{"a", "b", "c"}
	sources := []session.Source{session.SourceTerminal, session.SourceIDE, session.SourceManual}

	for seed := int64(1); seed <= 50; seed++ {
		rng := rand.New(rand.NewSource(seed))
		e := NewEngine(settings, nil)
		seen := map[*session.Session]bool{}
		now := t0

		for step := 0; step < 200; step++ {
			now = now.Add(time.Duration(rng.Intn(3600)) * time.Second)
			tgt := target(names[rng.Intn(len(names))])

			var ch Changes
			switch rng.Intn(8) {
			case 0:
				ch, _ = e.Start(tgt, session.ContextManual, now)
			case 1:
				ch, _ = e.Stop(now)
			case 2:
				ch, _ = e.Pause(now)
			case 3:
				ch, _ = e.Resume(now)
			case 4:
				ch, _ = e.Switch(tgt, session.ContextManual, now)
			case 5:
				var sleep *monitor.Sleep
				if rng.Intn(3) == 0 {
					sleep = &monitor.Sleep{Onset: now.Add(-time.Duration(rng.Intn(600)) * time.Second), Resume: now}
				}
				ch = e.Tick(now, sleep)
			default:
				ch, _ = e.Activity(tgt, sources[rng.Intn(len(sources))], now)
			}
			for _, s := range ch.Sessions {
				seen[s] = true
			}

			openPerProject := map[string]int{}
			for s := range seen {
				require.NoError(t, s.Validate(), "seed %d step %d", seed, step)
				if s.Open() {
					openPerProject[s.ProjectKey]++
				}
			}
			for key, n := range openPerProject {
				require.LessOrEqual(t, n, 1, "seed %d step %d: %s has %d open sessions", seed, step, key, n)
			}
		}
	}
}

func TestAdoptedSessionIsContinued(t *testing.T) {
	p := &session.Project{Key: "/work/api", Path: "/work/api", Name: "api"}
	left := session.New(p, session.ContextTerminal, t0)
	left.ID = 7
	e := NewEngine(DefaultSettings(), []*session.Project{p})

	ch := e.Adopt(left)
	assert.True(t, ch.Empty())
	assert.Equal(t, "/work/api", e.Focused())

	ch, err := e.Activity(target("api"), session.SourceTerminal, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, ch.Sessions, "no new session is opened")
	assert.Len(t, e.OpenSessions(), 1)
	assert.Equal(t, int64(7), e.OpenSessions()[0].ID)
}

func TestAdoptClosesOlderDuplicate(t *testing.T) {
	p := &session.Project{Key: "/work/api", Path: "/work/api", Name: "api"}
	older := session.New(p, session.ContextTerminal, t0)
	older.Touch(t0.Add(5 * time.Minute))
	newer := session.New(p, session.ContextTerminal, t0.Add(time.Hour))
	e := NewEngine(DefaultSettings(), []*session.Project{p})

	assert.True(t, e.Adopt(newer).Empty())
	ch := e.Adopt(older)
	require.Len(t, ch.Sessions, 1)
	assert.Same(t, older, ch.Sessions[0])
	require.NotNil(t, older.End)
	assert.Equal(t, t0.Add(5*time.Minute), *older.End)
	assert.True(t, older.NeedsReview)
	assert.Same(t, newer, e.open["/work/api"])
}
