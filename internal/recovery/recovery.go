// Package recovery closes sessions left open by a daemon that did not shut
// down cleanly. It runs once at startup, before any signal is accepted.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/codefionn/tempo/internal/logger"
	"github.com/codefionn/tempo/internal/session"
	"github.com/codefionn/tempo/internal/store"
)

// Store is the subset of the session store recovery uses.
type Store interface {
	OpenSessions(ctx context.Context) ([]*session.Session, error)
	LastHeartbeat(ctx context.Context, sessionID int64) (time.Time, bool, error)
	ModTime() (time.Time, error)
	SaveSession(ctx context.Context, s *session.Session) error
	RecordRecovery(ctx context.Context, e *store.RecoveryEntry) error
}

// Policy holds the limits recovery applies.
type Policy struct {
	IdleTimeout time.Duration
	MaxSession  time.Duration
}

// Report summarizes one recovery run.
type Report struct {
	Recovered  int
	Duplicates int
	Failed     int
	Remaining  int
}

// Manager performs crash recovery.
type Manager struct {
	store  Store
	policy Policy
	log    *slog.Logger
	now    func() time.Time
}

// New creates a recovery manager that logs through slog's default handler.
func New(st Store, policy Policy) *Manager {
	return &Manager{
		store:  st,
		policy: policy,
		log:    slog.Default().With(logger.ComponentKey, "recovery"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run closes every open session. Store failures are logged and counted,
// never returned, so startup always proceeds.
func (m *Manager) Run(ctx context.Context) Report {
	var report Report

	open, err := m.store.OpenSessions(ctx)
	if err != nil {
		m.log.Error("cannot list open sessions", "error", err)
		report.Failed++
		return report
	}
	if len(open) == 0 {
		m.log.Debug("no open sessions, nothing to recover")
		return report
	}

	fallback, err := m.store.ModTime()
	if err != nil {
		m.log.Warn("cannot read store modification time", "error", err)
		fallback = m.now()
	}

	// Newest first, so the first session seen per project is the one kept.
	sort.Slice(open, func(i, j int) bool { return open[i].Start.After(open[j].Start) })
	seen := make(map[string]bool, len(open))

	for _, s := range open {
		crash := m.crashTime(ctx, s, fallback)
		end := m.endFor(s, crash)

		action := store.ActionClosed
		detail := fmt.Sprintf("closed at %s (last activity %s)", end.Format(time.RFC3339), s.LastActivity.Format(time.RFC3339))
		if seen[s.ProjectKey] {
			action = store.ActionDuplicate
			detail = "duplicate open session for project; " + detail
			m.log.Warn("duplicate open session", "project", s.ProjectPath, "session", s.ID)
		}
		seen[s.ProjectKey] = true

		s.Close(end)
		s.Recovery = session.RecoveryRecovered
		if err := m.store.SaveSession(ctx, s); err != nil {
			m.log.Error("failed to close session", "session", s.ID, "error", err)
			report.Failed++
			continue
		}

		crashAt, endAt := crash, *s.End
		entry := &store.RecoveryEntry{
			SessionID:    s.ID,
			ProjectKey:   s.ProjectKey,
			Action:       action,
			Detail:       detail,
			CrashTime:    &crashAt,
			RecoveredEnd: &endAt,
		}
		if err := m.store.RecordRecovery(ctx, entry); err != nil {
			m.log.Warn("failed to record recovery", "session", s.ID, "error", err)
		}

		if action == store.ActionDuplicate {
			report.Duplicates++
		} else {
			report.Recovered++
		}
		m.log.Info("recovered session", "project", s.ProjectPath, "session", s.ID,
			"end", endAt.Format(time.RFC3339), "active", s.ActiveDuration(endAt).Round(time.Second).String())
	}

	remaining, err := m.store.OpenSessions(ctx)
	if err == nil && len(remaining) > 0 {
		report.Remaining = len(remaining)
		m.log.Error("sessions still open after recovery", "count", len(remaining))
		_ = m.store.RecordRecovery(ctx, &store.RecoveryEntry{
			Action: store.ActionAnomaly,
			Detail: fmt.Sprintf("%d sessions still open after recovery", len(remaining)),
		})
	}
	return report
}

// crashTime is the last moment the daemon is known to have been alive.
func (m *Manager) crashTime(ctx context.Context, s *session.Session, fallback time.Time) time.Time {
	at, ok, err := m.store.LastHeartbeat(ctx, s.ID)
	if err != nil {
		m.log.Warn("cannot read heartbeat", "session", s.ID, "error", err)
	}
	if err == nil && ok {
		return at
	}
	return fallback
}

// endFor assumes work continued until the crash when the last activity was
// recent enough, and otherwise that the user went idle after it.
func (m *Manager) endFor(s *session.Session, crash time.Time) time.Time {
	end := crash
	if m.policy.IdleTimeout > 0 && crash.Sub(s.LastActivity) >= m.policy.IdleTimeout {
		end = s.LastActivity.Add(m.policy.IdleTimeout)
	}
	if m.policy.MaxSession > 0 {
		if limit := s.Start.Add(m.policy.MaxSession); end.After(limit) {
			end = limit
		}
	}
	if !end.After(s.Start) {
		end = s.Start.Add(time.Millisecond)
	}
	return end
}
