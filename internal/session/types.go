package session

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies where an activity signal came from.
type Source string

const (
	SourceTerminal Source = "terminal"
	SourceIDE      Source = "ide"
	SourceManual   Source = "manual-cli"
)

// ParseSource validates a wire source name.
func ParseSource(s string) (Source, error) {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case SourceTerminal:
		return SourceTerminal, nil
	case SourceIDE:
		return SourceIDE, nil
	case SourceManual, "manual", "cli":
		return SourceManual, nil
	default:
		return "", fmt.Errorf("unknown signal source %q", s)
	}
}

// Priority ranks sources within one processing slot: manual > ide > terminal.
func (s Source) Priority() int {
	switch s {
	case SourceManual:
		return 3
	case SourceIDE:
		return 2
	case SourceTerminal:
		return 1
	default:
		return 0
	}
}

// Context returns the session context a signal from s opens.
func (s Source) Context() Context {
	switch s {
	case SourceIDE:
		return ContextIDE
	case SourceManual:
		return ContextManual
	default:
		return ContextTerminal
	}
}

// Context records how a session was opened.
type Context string

const (
	ContextTerminal Context = "terminal"
	ContextIDE      Context = "ide"
	ContextLinked   Context = "linked"
	ContextManual   Context = "manual"
)

// ParseContext validates a context name. Empty means manual.
func ParseContext(s string) (Context, error) {
	switch Context(strings.ToLower(strings.TrimSpace(s))) {
	case "", ContextManual:
		return ContextManual, nil
	case ContextTerminal:
		return ContextTerminal, nil
	case ContextIDE:
		return ContextIDE, nil
	case ContextLinked:
		return ContextLinked, nil
	default:
		return "", fmt.Errorf("unknown session context %q", s)
	}
}

// RecoveryStatus tells whether a session was closed normally.
type RecoveryStatus string

const (
	RecoveryNormal     RecoveryStatus = "normal"
	RecoveryRecovered  RecoveryStatus = "recovered"
	RecoveryManualEdit RecoveryStatus = "manual_edit"
)

// PauseReason records what opened a pause period.
type PauseReason string

const (
	PauseManual PauseReason = "manual"
	PauseIdle   PauseReason = "idle"
	PauseSleep  PauseReason = "sleep"
)

// Automatic reports whether the pause was opened by the monitor.
func (r PauseReason) Automatic() bool {
	return r == PauseIdle || r == PauseSleep
}

// State is the lifecycle state of a project.
type State int

const (
	NoActiveSession State = iota
	Active
	Paused
)

func (s State) String() string {
	switch s {
	case NoActiveSession:
		return "no_active_session"
	case Active:
		return "active"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Signal is an activity signal after admission.
type Signal struct {
	Source       Source
	Path         string
	At           time.Time
	ActivityType string
}

// Project is a tracked directory.
type Project struct {
	ID int64
	// Key is the comparison key; it differs from Path only on
	// case-insensitive filesystems.
	Key         string
	Path        string
	Name        string
	Fingerprint string
	Archived    bool
	CreatedAt   time.Time
}
