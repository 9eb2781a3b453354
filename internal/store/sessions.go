package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/codefionn/tempo/internal/session"
)

// SaveSession inserts s when s.ID is zero, otherwise updates it. Pause
// periods are rewritten in the same transaction, so a session and its
// pauses are always stored consistently.
func (s *Store) SaveSession(ctx context.Context, sess *session.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id := sess.ID
	if id == 0 {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (project_key, start_time, end_time, context, recovery_status, last_activity, needs_review, review_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ProjectKey, formatTime(sess.Start), formatTimePtr(sess.End), string(sess.Context),
			string(sess.Recovery), formatTime(sess.LastActivity), sess.NeedsReview, sess.ReviewReason)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to read session id: %w", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE sessions SET end_time = ?, context = ?, recovery_status = ?, last_activity = ?, needs_review = ?, review_reason = ?
			WHERE id = ?`,
			formatTimePtr(sess.End), string(sess.Context), string(sess.Recovery),
			formatTime(sess.LastActivity), sess.NeedsReview, sess.ReviewReason, id)
		if err != nil {
			return fmt.Errorf("failed to update session %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("session %d: %w", id, ErrNotFound)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pause_periods WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("failed to clear pause periods: %w", err)
	}
	for i, p := range sess.Pauses {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pause_periods (session_id, seq, start_time, end_time, reason)
			VALUES (?, ?, ?, ?, ?)`,
			id, i, formatTime(p.Start), formatTimePtr(p.End), string(p.Reason)); err != nil {
			return fmt.Errorf("failed to insert pause period: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}
	sess.ID = id
	return nil
}

const sessionColumns = `
	s.id, s.project_key, p.path, s.start_time, s.end_time, s.context,
	s.recovery_status, s.last_activity, s.needs_review, s.review_reason`

// GetSession loads one session with its pause periods.
func (s *Store) GetSession(ctx context.Context, id int64) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+`
		FROM sessions s JOIN projects p ON p.project_key = s.project_key
		WHERE s.id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadPauses(ctx, []*session.Session{sess}); err != nil {
		return nil, err
	}
	return sess, nil
}

// OpenSessions returns every session without an end, oldest first.
func (s *Store) OpenSessions(ctx context.Context) ([]*session.Session, error) {
	return s.querySessions(ctx, `SELECT `+sessionColumns+`
		FROM sessions s JOIN projects p ON p.project_key = s.project_key
		WHERE s.end_time IS NULL
		ORDER BY s.start_time, s.id`)
}

// ProjectSessions returns the most recent sessions of a project, newest first.
func (s *Store) ProjectSessions(ctx context.Context, key string, limit int) ([]*session.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.querySessions(ctx, `SELECT `+sessionColumns+`
		FROM sessions s JOIN projects p ON p.project_key = s.project_key
		WHERE s.project_key = ?
		ORDER BY s.start_time DESC, s.id DESC
		LIMIT ?`, key, limit)
}

func (s *Store) querySessions(ctx context.Context, query string, args ...any) ([]*session.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if err := s.loadPauses(ctx, sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *Store) loadPauses(ctx context.Context, sessions []*session.Session) error {
	for _, sess := range sessions {
		rows, err := s.db.QueryContext(ctx, `
			SELECT start_time, end_time, reason FROM pause_periods
			WHERE session_id = ? ORDER BY seq`, sess.ID)
		if err != nil {
			return fmt.Errorf("failed to query pause periods: %w", err)
		}
		for rows.Next() {
			var (
				start  string
				end    sql.NullString
				reason string
			)
			if err := rows.Scan(&start, &end, &reason); err != nil {
				rows.Close()
				return err
			}
			p := session.PausePeriod{Reason: session.PauseReason(reason)}
			if p.Start, err = parseTime(start); err != nil {
				rows.Close()
				return err
			}
			if p.End, err = parseTimePtr(end); err != nil {
				rows.Close()
				return err
			}
			sess.Pauses = append(sess.Pauses, p)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func scanSession(row scanner) (*session.Session, error) {
	var (
		sess         session.Session
		start, last  string
		end          sql.NullString
		ctxName, rec string
	)
	if err := row.Scan(&sess.ID, &sess.ProjectKey, &sess.ProjectPath, &start, &end, &ctxName,
		&rec, &last, &sess.NeedsReview, &sess.ReviewReason); err != nil {
		return nil, err
	}

	var err error
	if sess.Start, err = parseTime(start); err != nil {
		return nil, err
	}
	if sess.End, err = parseTimePtr(end); err != nil {
		return nil, err
	}
	if sess.LastActivity, err = parseTime(last); err != nil {
		return nil, err
	}
	sess.Context = session.Context(ctxName)
	sess.Recovery = session.RecoveryStatus(rec)
	return &sess, nil
}

// RecordHeartbeat stores the latest liveness time for an open session.
func (s *Store) RecordHeartbeat(ctx context.Context, sessionID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO heartbeats (session_id, beat_at) VALUES (?, ?)
		ON CONFLICT(session_id) DO UPDATE SET beat_at = excluded.beat_at`,
		sessionID, formatTime(at))
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	return nil
}

// LastHeartbeat returns the latest heartbeat of a session. ok is false when
// none was recorded.
func (s *Store) LastHeartbeat(ctx context.Context, sessionID int64) (at time.Time, ok bool, err error) {
	var raw string
	err = s.db.QueryRowContext(ctx, `SELECT beat_at FROM heartbeats WHERE session_id = ?`, sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read heartbeat: %w", err)
	}
	at, err = parseTime(raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}
