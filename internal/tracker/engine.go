// Package tracker implements the session state machine and the processor
// actor that serializes every change to it.
package tracker

import (
	"fmt"
	"sort"
	"time"

	"github.com/codefionn/tempo/internal/config"
	"github.com/codefionn/tempo/internal/consts"
	"github.com/codefionn/tempo/internal/monitor"
	"github.com/codefionn/tempo/internal/session"
)

// Settings are the engine knobs that can change at runtime.
type Settings struct {
	IdleTimeout  time.Duration
	MaxSession   time.Duration
	WarnSession  time.Duration
	PrioritySlot time.Duration
	Linked       bool
	// LinkedKeys holds the project keys that share one timeline.
	LinkedKeys map[string]bool
}

// DefaultSettings matches the built-in configuration.
func DefaultSettings() Settings {
	return Settings{
		IdleTimeout:  consts.DefaultIdleTimeout,
		MaxSession:   consts.MaxSessionDuration,
		WarnSession:  consts.WarnSessionDuration,
		PrioritySlot: consts.PrioritySlot,
		LinkedKeys:   map[string]bool{},
	}
}

// SettingsFromConfig builds settings from the tracking section. keyFor maps
// configured linked project paths to project keys.
func SettingsFromConfig(t config.TrackingConfig, keyFor func(string) string) Settings {
	s := Settings{
		IdleTimeout:  t.IdleTimeout(),
		MaxSession:   t.MaxSession(),
		WarnSession:  t.WarnSession(),
		PrioritySlot: t.PrioritySlot(),
		Linked:       t.Mode == config.ModeLinked,
		LinkedKeys:   make(map[string]bool, len(t.LinkedProjects)),
	}
	for _, p := range t.LinkedProjects {
		key := p
		if keyFor != nil {
			key = keyFor(p)
		}
		s.LinkedKeys[key] = true
	}
	return s
}

// Target identifies the project a signal or command refers to.
type Target struct {
	Key         string
	Path        string
	Name        string
	Fingerprint string
}

// Changes lists what a transition touched and must be persisted.
type Changes struct {
	Projects []*session.Project
	Archived []*session.Project
	Sessions []*session.Session
}

// Empty reports whether there is nothing to persist.
func (c Changes) Empty() bool {
	return len(c.Projects) == 0 && len(c.Archived) == 0 && len(c.Sessions) == 0
}

func (c *Changes) addSession(s *session.Session) {
	for _, existing := range c.Sessions {
		if existing == s {
			return
		}
	}
	c.Sessions = append(c.Sessions, s)
}

// Event is a notable engine outcome the processor logs.
type Event struct {
	Kind    string
	Project string
	Detail  string
}

// Engine is the deterministic state machine. Every method takes the current
// time explicitly. It is not safe for concurrent use.
type Engine struct {
	settings Settings
	projects map[string]*session.Project
	open     map[string]*session.Session

	focused     string
	focusSource session.Source
	focusAt     time.Time

	warned map[*session.Session]bool
	events []Event
}

// NewEngine creates an engine that knows the given projects.
func NewEngine(settings Settings, projects []*session.Project) *Engine {
	e := &Engine{
		settings: settings,
		projects: make(map[string]*session.Project, len(projects)),
		open:     make(map[string]*session.Session),
		warned:   make(map[*session.Session]bool),
	}
	if e.settings.LinkedKeys == nil {
		e.settings.LinkedKeys = map[string]bool{}
	}
	for _, p := range projects {
		e.projects[p.Key] = p
	}
	return e
}

// SetSettings applies reloaded settings.
func (e *Engine) SetSettings(s Settings) {
	if s.LinkedKeys == nil {
		s.LinkedKeys = map[string]bool{}
	}
	e.settings = s
}

// Settings returns the current settings.
func (e *Engine) Settings() Settings {
	return e.settings
}

// Adopt registers a session that is still open, e.g. one recovery could not
// close. When the project already has an open session, the older of the two
// is closed at its last activity and returned for persisting.
func (e *Engine) Adopt(s *session.Session) Changes {
	var ch Changes
	if !s.Open() {
		return ch
	}
	if prev := e.open[s.ProjectKey]; prev != nil {
		older := prev
		if s.Start.Before(prev.Start) {
			older, s = s, prev
		}
		older.Close(older.LastActivity)
		older.Flag("duplicate open session closed on startup")
		ch.addSession(older)
		e.event("stopped", older.ProjectPath, "duplicate open session %d closed", older.ID)
	}
	e.open[s.ProjectKey] = s
	if _, ok := e.projects[s.ProjectKey]; !ok {
		e.projects[s.ProjectKey] = &session.Project{Key: s.ProjectKey, Path: s.ProjectPath, CreatedAt: s.Start}
	}
	if cur := e.open[e.focused]; cur == nil || !s.LastActivity.Before(cur.LastActivity) {
		e.focused = s.ProjectKey
		e.focusAt = s.LastActivity
	}
	return ch
}

// DrainEvents returns and clears the events recorded since the last call.
func (e *Engine) DrainEvents() []Event {
	ev := e.events
	e.events = nil
	return ev
}

func (e *Engine) event(kind, project, format string, args ...any) {
	e.events = append(e.events, Event{Kind: kind, Project: project, Detail: fmt.Sprintf(format, args...)})
}

// Focused returns the key of the focused project, or "".
func (e *Engine) Focused() string {
	return e.focused
}

// IsOpen reports whether key has an open session.
func (e *Engine) IsOpen(key string) bool {
	_, ok := e.open[key]
	return ok
}

// Project returns the known project for key.
func (e *Engine) Project(key string) (*session.Project, bool) {
	p, ok := e.projects[key]
	return p, ok
}

// OpenSessions returns the open sessions ordered by start.
func (e *Engine) OpenSessions() []*session.Session {
	out := make([]*session.Session, 0, len(e.open))
	for _, s := range e.open {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ProjectKey < out[j].ProjectKey
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// State returns the state of the focused project.
func (e *Engine) State() session.State {
	return e.open[e.focused].State()
}

func (e *Engine) ensureProject(t Target, now time.Time, ch *Changes) *session.Project {
	if p, ok := e.projects[t.Key]; ok {
		if p.Fingerprint == "" && t.Fingerprint != "" {
			p.Fingerprint = t.Fingerprint
			ch.Projects = append(ch.Projects, p)
		}
		return p
	}
	p := &session.Project{
		Key:         t.Key,
		Path:        t.Path,
		Name:        t.Name,
		Fingerprint: t.Fingerprint,
		CreatedAt:   now.UTC(),
	}
	e.projects[t.Key] = p
	ch.Projects = append(ch.Projects, p)
	return p
}

func (e *Engine) setFocus(key string, src session.Source, now time.Time) {
	e.focused = key
	e.focusSource = src
	e.focusAt = now
}

// linkedJoin reports whether opening key may keep the other sessions open.
func (e *Engine) linkedJoin(key string) bool {
	if !e.settings.Linked || !e.settings.LinkedKeys[key] || len(e.open) == 0 {
		return false
	}
	for k := range e.open {
		if !e.settings.LinkedKeys[k] {
			return false
		}
	}
	return true
}

func (e *Engine) closeSession(s *session.Session, end time.Time, ch *Changes) {
	s.Close(end)
	delete(e.open, s.ProjectKey)
	delete(e.warned, s)
	ch.addSession(s)
	if e.focused == s.ProjectKey {
		e.focused = ""
		for _, other := range e.OpenSessions() {
			e.focused = other.ProjectKey
		}
	}
}

func (e *Engine) closeAllExcept(keep string, end time.Time, ch *Changes) {
	for _, s := range e.OpenSessions() {
		if s.ProjectKey != keep {
			e.closeSession(s, end, ch)
		}
	}
}

func (e *Engine) openSession(p *session.Project, ctx session.Context, src session.Source, now time.Time, ch *Changes) {
	if e.linkedJoin(p.Key) {
		ctx = session.ContextLinked
		for _, s := range e.open {
			if s.Context != session.ContextLinked {
				s.Context = session.ContextLinked
				ch.addSession(s)
			}
		}
	} else {
		e.closeAllExcept("", now, ch)
	}
	s := session.New(p, ctx, now)
	e.open[p.Key] = s
	ch.addSession(s)
	e.setFocus(p.Key, src, now)
	e.event("started", p.Path, "context %s", ctx)
}

// Start opens a session for t. Starting the already-open project resumes it
// when paused and is an invalid transition otherwise.
func (e *Engine) Start(t Target, ctx session.Context, now time.Time) (Changes, error) {
	var ch Changes
	if p, ok := e.projects[t.Key]; ok && p.Archived {
		return Changes{}, ErrProjectArchived
	}
	if s := e.open[t.Key]; s != nil {
		if s.State() != session.Paused {
			return Changes{}, &InvalidTransitionError{Op: "start", State: s.State()}
		}
		e.resume(s, now, &ch)
		e.setFocus(t.Key, session.SourceManual, now)
		return ch, nil
	}
	p := e.ensureProject(t, now, &ch)
	e.openSession(p, ctx, session.SourceManual, now, &ch)
	return ch, nil
}

// Switch stops whatever is open and starts t. Switching to the only open
// project resumes it when paused and is an invalid transition otherwise.
func (e *Engine) Switch(t Target, ctx session.Context, now time.Time) (Changes, error) {
	if p, ok := e.projects[t.Key]; ok && p.Archived {
		return Changes{}, ErrProjectArchived
	}
	var ch Changes
	if s := e.open[t.Key]; s != nil {
		if len(e.open) == 1 && s.State() == session.Active {
			return Changes{}, &InvalidTransitionError{Op: "switch", State: session.Active}
		}
		e.closeAllExcept(t.Key, now, &ch)
		if s.State() == session.Paused {
			e.resume(s, now, &ch)
		}
		e.setFocus(t.Key, session.SourceManual, now)
		return ch, nil
	}
	p := e.ensureProject(t, now, &ch)
	e.closeAllExcept("", now, &ch)
	e.openSession(p, ctx, session.SourceManual, now, &ch)
	return ch, nil
}

// Stop closes every open session at now.
func (e *Engine) Stop(now time.Time) (Changes, error) {
	if len(e.open) == 0 {
		return Changes{}, ErrNoActiveSession
	}
	var ch Changes
	for _, s := range e.OpenSessions() {
		e.event("stopped", s.ProjectPath, "active %s", s.ActiveDuration(now).Round(time.Second))
		e.closeSession(s, now, &ch)
	}
	e.focused = ""
	return ch, nil
}

// Pause opens a manual pause on every active session.
func (e *Engine) Pause(now time.Time) (Changes, error) {
	if len(e.open) == 0 {
		return Changes{}, ErrNoActiveSession
	}
	var ch Changes
	for _, s := range e.OpenSessions() {
		if s.State() == session.Active {
			if err := s.BeginPause(now, session.PauseManual); err == nil {
				ch.addSession(s)
			}
		}
	}
	if len(ch.Sessions) == 0 {
		return Changes{}, &InvalidTransitionError{Op: "pause", State: session.Paused}
	}
	return ch, nil
}

// Resume closes the open pause on every paused session.
func (e *Engine) Resume(now time.Time) (Changes, error) {
	if len(e.open) == 0 {
		return Changes{}, ErrNoActiveSession
	}
	var ch Changes
	for _, s := range e.OpenSessions() {
		if s.State() == session.Paused {
			e.resume(s, now, &ch)
		}
	}
	if len(ch.Sessions) == 0 {
		return Changes{}, &InvalidTransitionError{Op: "resume", State: session.Active}
	}
	return ch, nil
}

func (e *Engine) resume(s *session.Session, now time.Time, ch *Changes) {
	if err := s.EndPause(now); err != nil {
		return
	}
	s.Touch(now)
	ch.addSession(s)
}

// Activity applies an automatic or manual activity signal for t.
func (e *Engine) Activity(t Target, src session.Source, now time.Time) (Changes, error) {
	if p, ok := e.projects[t.Key]; ok && p.Archived {
		return Changes{}, ErrProjectArchived
	}
	if e.focused != "" && t.Key != e.focused && !e.IsOpen(t.Key) &&
		now.Sub(e.focusAt) < e.settings.PrioritySlot &&
		src.Priority() < e.focusSource.Priority() {
		return Changes{}, ErrSuperseded
	}

	var ch Changes
	if s := e.open[t.Key]; s != nil {
		s.Touch(now)
		if pause := s.OpenPause(); pause != nil && (pause.Reason.Automatic() || src == session.SourceManual) {
			e.event("resumed", s.ProjectPath, "%s pause ended by %s activity", pause.Reason, src)
			e.resume(s, now, &ch)
		}
		if t.Key != e.focused || src.Priority() >= e.focusSource.Priority() || now.Sub(e.focusAt) >= e.settings.PrioritySlot {
			e.setFocus(t.Key, src, now)
		}
		return ch, nil
	}

	p := e.ensureProject(t, now, &ch)
	e.openSession(p, src.Context(), src, now, &ch)
	return ch, nil
}

// Tick applies the monitor checks: max duration, sleep and idle.
func (e *Engine) Tick(now time.Time, sleep *monitor.Sleep) Changes {
	var ch Changes
	for _, s := range e.OpenSessions() {
		elapsed := now.Sub(s.Start)
		if e.settings.MaxSession > 0 && elapsed >= e.settings.MaxSession {
			reason := fmt.Sprintf("exceeded maximum session duration of %s", e.settings.MaxSession)
			e.closeSession(s, s.Start.Add(e.settings.MaxSession), &ch)
			s.Flag(reason)
			e.event("max_duration", s.ProjectPath, "%s", reason)
			continue
		}
		if e.settings.WarnSession > 0 && elapsed >= e.settings.WarnSession && !e.warned[s] {
			e.warned[s] = true
			e.event("long_session", s.ProjectPath, "session open for %s", elapsed.Round(time.Minute))
		}

		if s.State() != session.Active {
			continue
		}
		idle := e.settings.IdleTimeout
		switch {
		case sleep != nil && s.LastActivity.After(sleep.Onset):
			// Work resumed before the tick noticed the sleep.
			end := sleep.Resume
			if s.LastActivity.Before(end) {
				end = s.LastActivity
			}
			if err := s.BeginPause(sleep.Onset, session.PauseSleep); err == nil {
				_ = s.EndPause(end)
				ch.addSession(s)
				e.event("sleep", s.ProjectPath, "slept from %s to %s", sleep.Onset.Format(time.RFC3339), end.Format(time.RFC3339))
			}
		case sleep != nil && idle > 0 && sleep.Onset.Sub(s.LastActivity) >= idle:
			e.pauseIdle(s, &ch)
		case sleep != nil:
			if err := s.BeginPause(sleep.Onset, session.PauseSleep); err == nil {
				ch.addSession(s)
				e.event("sleep", s.ProjectPath, "paused from %s", sleep.Onset.Format(time.RFC3339))
			}
		case idle > 0 && now.Sub(s.LastActivity) >= idle:
			e.pauseIdle(s, &ch)
		}
	}
	return ch
}

// pauseIdle anchors the pause at the last activity, not at detection time.
func (e *Engine) pauseIdle(s *session.Session, ch *Changes) {
	if err := s.BeginPause(s.LastActivity, session.PauseIdle); err == nil {
		ch.addSession(s)
		e.event("idle", s.ProjectPath, "paused from last activity %s", s.LastActivity.Format(time.RFC3339))
	}
}

// CloseAll ends every open session at now. Used on shutdown.
func (e *Engine) CloseAll(now time.Time) Changes {
	var ch Changes
	e.closeAllExcept("", now, &ch)
	e.focused = ""
	return ch
}

// SetArchived flags a project, registering it first if it is new.
// Archiving closes its open session.
func (e *Engine) SetArchived(t Target, archived bool, now time.Time) Changes {
	var ch Changes
	p := e.ensureProject(t, now, &ch)
	if archived {
		if s := e.open[t.Key]; s != nil {
			e.closeSession(s, now, &ch)
			e.event("stopped", s.ProjectPath, "project archived")
		}
	}
	if p.Archived != archived {
		p.Archived = archived
		ch.Archived = append(ch.Archived, p)
	}
	return ch
}

// FocusedTarget returns the focused project as a target.
func (e *Engine) FocusedTarget() (Target, bool) {
	p, ok := e.projects[e.focused]
	if !ok || e.focused == "" {
		return Target{}, false
	}
	return Target{Key: p.Key, Path: p.Path, Name: p.Name, Fingerprint: p.Fingerprint}, true
}

// Status summarizes the focused session at now.
func (e *Engine) Status(now time.Time) Status {
	st := Status{State: session.NoActiveSession.String()}
	s := e.open[e.focused]
	if s == nil {
		return st
	}
	st.State = s.State().String()
	st.SessionID = s.ID
	st.ProjectPath = s.ProjectPath
	if p, ok := e.projects[s.ProjectKey]; ok {
		st.ProjectName = p.Name
	}
	st.Context = string(s.Context)
	start := s.Start
	st.StartedAt = &start
	last := s.LastActivity
	st.LastActivity = &last
	st.ActiveSeconds = int64(s.ActiveDuration(now) / time.Second)
	st.PausedSeconds = int64(s.PausedDuration(now) / time.Second)
	if pause := s.OpenPause(); pause != nil {
		st.PauseReason = string(pause.Reason)
	}
	for _, other := range e.OpenSessions() {
		if other != s {
			st.Linked = append(st.Linked, other.ProjectPath)
		}
	}
	return st
}
