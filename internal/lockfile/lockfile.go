// Package lockfile enforces a single running daemon per state directory.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrLocked is returned when another process holds the lock.
	ErrLocked = errors.New("daemon is already running")
)

// Lockfile represents a file-based lock
type Lockfile struct {
	path   string
	file   *os.File
	pid    int
	locked bool
}

// New creates a new lockfile instance
func New(path string) *Lockfile {
	return &Lockfile{
		path: path,
	}
}

// TryAcquire takes the lock without blocking. It returns an error wrapping
// ErrLocked when another live process owns it.
func (l *Lockfile) TryAcquire() error {
	if l.locked {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("failed to create lockfile directory: %w", err)
	}

	file, err := acquire(l.path)
	if err != nil {
		return err
	}

	l.file = file
	l.pid = os.Getpid()
	l.locked = true

	if err := l.writeOwner(); err != nil {
		_ = l.Release()
		return err
	}
	return nil
}

func (l *Lockfile) writeOwner() error {
	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate lockfile: %w", err)
	}
	content := fmt.Sprintf("%d\n%s\n", l.pid, time.Now().UTC().Format(time.RFC3339))
	if _, err := l.file.WriteAt([]byte(content), 0); err != nil {
		return fmt.Errorf("failed to write to lockfile: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync lockfile: %w", err)
	}
	return nil
}

// Owner reads the PID recorded in the lockfile at path, whether or not the
// lock is currently held.
func Owner(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	first, _, _ := strings.Cut(strings.TrimSpace(string(data)), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in lockfile: %w", err)
	}
	return pid, nil
}

// Release releases the lock
func (l *Lockfile) Release() error {
	if !l.locked {
		return nil
	}

	var errs []error
	// Remove before unlocking so a waiting process never sees our stale PID.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove lockfile: %w", err))
	}
	if l.file != nil {
		if err := release(l.file); err != nil {
			errs = append(errs, err)
		}
		l.file = nil
	}

	l.locked = false
	return errors.Join(errs...)
}

// PID returns the PID that acquired the lock
func (l *Lockfile) PID() int {
	return l.pid
}

// Locked returns true if the lock is held
func (l *Lockfile) Locked() bool {
	return l.locked
}

// Path returns the lockfile path
func (l *Lockfile) Path() string {
	return l.path
}
