// Package session holds the time tracking domain model: projects, sessions
// and pause periods, plus the derived durations computed from them.
package session

import (
	"errors"
	"fmt"
	"time"
)

// PausePeriod is a span of a session that does not count as active time.
type PausePeriod struct {
	Start  time.Time
	End    *time.Time
	Reason PauseReason
}

// Open reports whether the pause is still running.
func (p PausePeriod) Open() bool {
	return p.End == nil
}

// Duration is the pause length, measured up to now while open.
func (p PausePeriod) Duration(now time.Time) time.Duration {
	end := now
	if p.End != nil {
		end = *p.End
	}
	if end.Before(p.Start) {
		return 0
	}
	return end.Sub(p.Start)
}

// Session is one contiguous stretch of work on a project.
type Session struct {
	ID           int64
	ProjectKey   string
	ProjectPath  string
	Start        time.Time
	End          *time.Time
	Context      Context
	Pauses       []PausePeriod
	Recovery     RecoveryStatus
	LastActivity time.Time
	NeedsReview  bool
	ReviewReason string
}

// New opens a session at start.
func New(p *Project, ctx Context, start time.Time) *Session {
	start = start.UTC()
	return &Session{
		ProjectKey:   p.Key,
		ProjectPath:  p.Path,
		Start:        start,
		Context:      ctx,
		Recovery:     RecoveryNormal,
		LastActivity: start,
	}
}

// Open reports whether the session has no end yet.
func (s *Session) Open() bool {
	return s.End == nil
}

// State derives the lifecycle state from the session.
func (s *Session) State() State {
	switch {
	case s == nil || !s.Open():
		return NoActiveSession
	case s.OpenPause() != nil:
		return Paused
	default:
		return Active
	}
}

// OpenPause returns the running pause period, if any.
func (s *Session) OpenPause() *PausePeriod {
	if n := len(s.Pauses); n > 0 && s.Pauses[n-1].Open() {
		return &s.Pauses[n-1]
	}
	return nil
}

// Elapsed is the wall time from start to end, or to now while open.
func (s *Session) Elapsed(now time.Time) time.Duration {
	end := now
	if s.End != nil {
		end = *s.End
	}
	if end.Before(s.Start) {
		return 0
	}
	return end.Sub(s.Start)
}

// PausedDuration sums every pause period.
func (s *Session) PausedDuration(now time.Time) time.Duration {
	if s.End != nil {
		now = *s.End
	}
	var total time.Duration
	for _, p := range s.Pauses {
		total += p.Duration(now)
	}
	return total
}

// ActiveDuration is elapsed minus paused time.
func (s *Session) ActiveDuration(now time.Time) time.Duration {
	active := s.Elapsed(now) - s.PausedDuration(now)
	if active < 0 {
		return 0
	}
	return active
}

// Touch records activity at t, never moving last activity backwards.
func (s *Session) Touch(t time.Time) {
	if t.After(s.LastActivity) {
		s.LastActivity = t.UTC()
	}
}

// BeginPause opens a pause period at start.
func (s *Session) BeginPause(start time.Time, reason PauseReason) error {
	if !s.Open() {
		return errors.New("session is closed")
	}
	if s.OpenPause() != nil {
		return errors.New("session is already paused")
	}
	start = s.clampPauseStart(start)
	s.Pauses = append(s.Pauses, PausePeriod{Start: start, Reason: reason})
	return nil
}

// EndPause closes the running pause period at end.
func (s *Session) EndPause(end time.Time) error {
	p := s.OpenPause()
	if p == nil {
		return errors.New("session is not paused")
	}
	end = end.UTC()
	if end.Before(p.Start) {
		end = p.Start
	}
	p.End = &end
	return nil
}

// Close ends the session at end, closing a running pause first. An end at
// or before start is moved to one millisecond after start.
func (s *Session) Close(end time.Time) {
	end = end.UTC()
	if !end.After(s.Start) {
		end = s.Start.Add(time.Millisecond)
	}
	for i := range s.Pauses {
		p := &s.Pauses[i]
		if p.Start.After(end) {
			p.Start = end
		}
		if p.End == nil || p.End.After(end) {
			e := end
			p.End = &e
		}
	}
	s.End = &end
}

// Flag marks the session for review.
func (s *Session) Flag(reason string) {
	s.NeedsReview = true
	s.ReviewReason = reason
}

// clampPauseStart keeps a new pause inside the session and after the
// previous pause.
func (s *Session) clampPauseStart(t time.Time) time.Time {
	t = t.UTC()
	if t.Before(s.Start) {
		t = s.Start
	}
	if n := len(s.Pauses); n > 0 && s.Pauses[n-1].End != nil && t.Before(*s.Pauses[n-1].End) {
		t = *s.Pauses[n-1].End
	}
	return t
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	if s.End != nil {
		end := *s.End
		c.End = &end
	}
	c.Pauses = make([]PausePeriod, len(s.Pauses))
	for i, p := range s.Pauses {
		c.Pauses[i] = p
		if p.End != nil {
			end := *p.End
			c.Pauses[i].End = &end
		}
	}
	return &c
}

// Validate checks the structural invariants of a session.
func (s *Session) Validate() error {
	if s.End != nil && !s.End.After(s.Start) {
		return fmt.Errorf("session %d: end %s not after start %s", s.ID, s.End, s.Start)
	}
	var prevEnd time.Time
	for i, p := range s.Pauses {
		if p.Start.Before(s.Start) {
			return fmt.Errorf("session %d: pause %d starts before session", s.ID, i)
		}
		if p.Start.Before(prevEnd) {
			return fmt.Errorf("session %d: pause %d overlaps previous pause", s.ID, i)
		}
		if p.End == nil {
			if i != len(s.Pauses)-1 {
				return fmt.Errorf("session %d: pause %d open but not last", s.ID, i)
			}
			if s.End != nil {
				return fmt.Errorf("session %d: closed with an open pause", s.ID)
			}
			continue
		}
		if p.End.Before(p.Start) {
			return fmt.Errorf("session %d: pause %d ends before it starts", s.ID, i)
		}
		if s.End != nil && p.End.After(*s.End) {
			return fmt.Errorf("session %d: pause %d ends after session", s.ID, i)
		}
		prevEnd = *p.End
	}
	return nil
}
