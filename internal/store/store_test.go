package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/tempo/internal/session"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tempo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testProject(t *testing.T, s *Store, key string) *session.Project {
	t.Helper()
	p := &session.Project{Key: key, Path: key, Name: filepath.Base(key)}
	require.NoError(t, s.EnsureProject(context.Background(), p))
	return p
}

func TestEnsureProjectIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	p := &session.Project{Key: "/src/api", Path: "/src/api", Name: "api", Fingerprint: "abc"}
	require.NoError(t, s.EnsureProject(ctx, p))
	require.NotZero(t, p.ID)
	created := p.CreatedAt

	again := &session.Project{Key: "/src/api", Path: "/src/API", Name: "API", CreatedAt: t0}
	require.NoError(t, s.EnsureProject(ctx, again))
	assert.Equal(t, p.ID, again.ID)
	assert.Equal(t, "/src/API", again.Path)
	assert.Equal(t, "abc", again.Fingerprint, "empty fingerprint must not erase the stored one")
	assert.True(t, created.Equal(again.CreatedAt))

	projects, err := s.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, projects, 1)
}

func TestArchive(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	testProject(t, s, "/src/old")

	require.NoError(t, s.SetArchived(ctx, "/src/old", true))
	p, err := s.GetProject(ctx, "/src/old")
	require.NoError(t, err)
	assert.True(t, p.Archived)

	assert.ErrorIs(t, s.SetArchived(ctx, "/src/missing", true), ErrNotFound)
	_, err = s.GetProject(ctx, "/src/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnsureProjectKeepsCallerArchivedFlag(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	p := testProject(t, s, "/src/old")
	require.NoError(t, s.SetArchived(ctx, "/src/old", true))

	p.Archived = false
	p.Fingerprint = "f00d"
	require.NoError(t, s.EnsureProject(ctx, p))
	assert.False(t, p.Archived)
	assert.Equal(t, "f00d", p.Fingerprint)
}

func TestOpenSessionsSortByStartAcrossFractions(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	a := testProject(t, s, "/src/a")
	b := testProject(t, s, "/src/b")

	later := session.New(a, session.ContextTerminal, t0.Add(500*time.Millisecond))
	require.NoError(t, s.SaveSession(ctx, later))
	earlier := session.New(b, session.ContextTerminal, t0)
	require.NoError(t, s.SaveSession(ctx, earlier))

	open, err := s.OpenSessions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, earlier.ID, open[0].ID)
	assert.Equal(t, later.ID, open[1].ID)
	assert.True(t, open[0].Start.Equal(t0))
}

func TestSaveSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	p := testProject(t, s, "/src/api")

	sess := session.New(p, session.ContextIDE, t0)
	require.NoError(t, sess.BeginPause(t0.Add(10*time.Minute), session.PauseIdle))
	require.NoError(t, s.SaveSession(ctx, sess))
	require.NotZero(t, sess.ID)

	open, err := s.OpenSessions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "/src/api", open[0].ProjectPath)
	require.Len(t, open[0].Pauses, 1)
	assert.True(t, open[0].Pauses[0].Open())
	assert.Equal(t, session.PauseIdle, open[0].Pauses[0].Reason)

	require.NoError(t, sess.EndPause(t0.Add(15*time.Minute)))
	sess.Touch(t0.Add(20 * time.Minute))
	sess.Close(t0.Add(40 * time.Minute))
	sess.Flag("test")
	require.NoError(t, s.SaveSession(ctx, sess))

	loaded, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 35*time.Minute, loaded.ActiveDuration(t0.Add(time.Hour)))
	assert.True(t, loaded.End.Equal(t0.Add(40*time.Minute)))
	assert.True(t, loaded.LastActivity.Equal(t0.Add(20*time.Minute)))
	assert.True(t, loaded.NeedsReview)
	assert.Equal(t, session.ContextIDE, loaded.Context)

	open, err = s.OpenSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestUpdateUnknownSession(t *testing.T) {
	s := openTestStore(t)
	p := testProject(t, s, "/src/api")
	sess := session.New(p, session.ContextTerminal, t0)
	sess.ID = 999
	assert.ErrorIs(t, s.SaveSession(context.Background(), sess), ErrNotFound)
}

func TestProjectSessionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	p := testProject(t, s, "/src/api")

	for i := 0; i < 3; i++ {
		sess := session.New(p, session.ContextTerminal, t0.Add(time.Duration(i)*time.Hour))
		sess.Close(t0.Add(time.Duration(i)*time.Hour + 30*time.Minute))
		require.NoError(t, s.SaveSession(ctx, sess))
	}

	sessions, err := s.ProjectSessions(ctx, "/src/api", 2)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.True(t, sessions[0].Start.Equal(t0.Add(2*time.Hour)))
}

func TestHeartbeats(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	p := testProject(t, s, "/src/api")
	sess := session.New(p, session.ContextTerminal, t0)
	require.NoError(t, s.SaveSession(ctx, sess))

	_, ok, err := s.LastHeartbeat(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.RecordHeartbeat(ctx, sess.ID, t0.Add(5*time.Minute)))
	require.NoError(t, s.RecordHeartbeat(ctx, sess.ID, t0.Add(10*time.Minute)))

	at, ok, err := s.LastHeartbeat(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, at.Equal(t0.Add(10*time.Minute)))
}

func TestRecoveryLogAndModTime(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	end := t0.Add(4 * time.Minute)
	require.NoError(t, s.RecordRecovery(ctx, &RecoveryEntry{
		SessionID: 1, ProjectKey: "/src/api", Action: ActionClosed, CrashTime: &end, RecoveredEnd: &end,
	}))
	require.NoError(t, s.RecordRecovery(ctx, &RecoveryEntry{SessionID: 2, ProjectKey: "/src/api", Action: ActionAnomaly}))

	entries, err := s.RecoveryLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ActionAnomaly, entries[0].Action)
	assert.Nil(t, entries[0].RecoveredEnd)
	assert.True(t, entries[1].RecoveredEnd.Equal(end))

	mod, err := s.ModTime()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), mod, time.Minute)
}
