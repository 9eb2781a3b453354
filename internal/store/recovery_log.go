package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Recovery actions
const (
	ActionClosed    = "closed"
	ActionDuplicate = "duplicate_closed"
	ActionAnomaly   = "anomaly"
)

// RecoveryEntry is one line of the recovery audit log.
type RecoveryEntry struct {
	ID           int64
	SessionID    int64
	ProjectKey   string
	Action       string
	Detail       string
	CrashTime    *time.Time
	RecoveredEnd *time.Time
	RecordedAt   time.Time
}

// RecordRecovery appends an entry to the recovery log.
func (s *Store) RecordRecovery(ctx context.Context, e *RecoveryEntry) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO recovery_log (session_id, project_key, action, detail, crash_time, recovered_end, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.ProjectKey, e.Action, e.Detail,
		formatTimePtr(e.CrashTime), formatTimePtr(e.RecoveredEnd), formatTime(e.RecordedAt))
	if err != nil {
		return fmt.Errorf("failed to record recovery: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// RecoveryLog returns the newest entries first.
func (s *Store) RecoveryLog(ctx context.Context, limit int) ([]RecoveryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, project_key, action, detail, crash_time, recovered_end, recorded_at
		FROM recovery_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recovery log: %w", err)
	}
	defer rows.Close()

	var entries []RecoveryEntry
	for rows.Next() {
		var (
			e          RecoveryEntry
			crash, end sql.NullString
			recorded   string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ProjectKey, &e.Action, &e.Detail, &crash, &end, &recorded); err != nil {
			return nil, err
		}
		if e.CrashTime, err = parseTimePtr(crash); err != nil {
			return nil, err
		}
		if e.RecoveredEnd, err = parseTimePtr(end); err != nil {
			return nil, err
		}
		if e.RecordedAt, err = parseTime(recorded); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
