// Package store persists projects, sessions, pause periods, heartbeats and
// the recovery log in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/codefionn/tempo/internal/session"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// timeLayout is fixed width so that text ordering in SQL matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store handles SQLite operations for the tracker.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and bootstraps the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_synchronous=FULL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; SQLite serializes anyway and this keeps pragmas per connection consistent.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_key TEXT NOT NULL UNIQUE,
		path TEXT NOT NULL,
		name TEXT NOT NULL,
		fingerprint TEXT NOT NULL DEFAULT '',
		archived BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_key TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT,
		context TEXT NOT NULL,
		recovery_status TEXT NOT NULL DEFAULT 'normal',
		last_activity TEXT NOT NULL,
		needs_review BOOLEAN NOT NULL DEFAULT FALSE,
		review_reason TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (project_key) REFERENCES projects(project_key)
	);

	CREATE TABLE IF NOT EXISTS pause_periods (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT,
		reason TEXT NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE,
		UNIQUE (session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS heartbeats (
		session_id INTEGER PRIMARY KEY,
		beat_at TEXT NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS recovery_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		project_key TEXT NOT NULL,
		action TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		crash_time TEXT,
		recovered_end TEXT,
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_open ON sessions(end_time) WHERE end_time IS NULL;
	CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_key, start_time);
	CREATE INDEX IF NOT EXISTS idx_pause_periods_session ON pause_periods(session_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// ModTime returns the newest modification time of the database files. It
// approximates the crash time when no heartbeat was recorded.
func (s *Store) ModTime() (time.Time, error) {
	var newest time.Time
	found := false
	for _, p := range []string{s.path, s.path + "-wal"} {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		found = true
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	if !found {
		return time.Time{}, fmt.Errorf("stat %s: %w", s.path, os.ErrNotExist)
	}
	return newest.UTC(), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written before the fixed-width layout.
		if t, err2 := time.Parse(time.RFC3339Nano, s); err2 == nil {
			return t.UTC(), nil
		}
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// EnsureProject inserts p if its key is unknown, or refreshes path, name and
// fingerprint otherwise. p.ID, p.CreatedAt and an empty p.Fingerprint are
// filled from the stored row. p.Archived is left alone; SetArchived owns it.
func (s *Store) EnsureProject(ctx context.Context, p *session.Project) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (project_key, path, name, fingerprint, archived, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_key) DO UPDATE SET
			path = excluded.path,
			name = excluded.name,
			fingerprint = CASE WHEN excluded.fingerprint != '' THEN excluded.fingerprint ELSE projects.fingerprint END`,
		p.Key, p.Path, p.Name, p.Fingerprint, p.Archived, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save project %s: %w", p.Path, err)
	}

	stored, err := s.GetProject(ctx, p.Key)
	if err != nil {
		return err
	}
	p.ID = stored.ID
	p.CreatedAt = stored.CreatedAt
	if p.Fingerprint == "" {
		p.Fingerprint = stored.Fingerprint
	}
	return nil
}

// GetProject loads a project by key.
func (s *Store) GetProject(ctx context.Context, key string) (*session.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_key, path, name, fingerprint, archived, created_at
		FROM projects WHERE project_key = ?`, key)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", key, ErrNotFound)
	}
	return p, err
}

// ListProjects returns every project ordered by creation.
func (s *Store) ListProjects(ctx context.Context) ([]*session.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_key, path, name, fingerprint, archived, created_at
		FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []*session.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// SetArchived flags or unflags a project.
func (s *Store) SetArchived(ctx context.Context, key string, archived bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE projects SET archived = ? WHERE project_key = ?`, archived, key)
	if err != nil {
		return fmt.Errorf("failed to archive project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %s: %w", key, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (*session.Project, error) {
	var (
		p       session.Project
		created string
	)
	if err := row.Scan(&p.ID, &p.Key, &p.Path, &p.Name, &p.Fingerprint, &p.Archived, &created); err != nil {
		return nil, err
	}
	t, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = t
	return &p, nil
}
