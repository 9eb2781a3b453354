package tracker

import "time"

// Status is the daemon's view of the focused session plus runtime health.
type Status struct {
	State         string     `json:"state"`
	SessionID     int64      `json:"session_id,omitempty"`
	ProjectPath   string     `json:"project_path,omitempty"`
	ProjectName   string     `json:"project_name,omitempty"`
	Context       string     `json:"context,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	LastActivity  *time.Time `json:"last_activity,omitempty"`
	ActiveSeconds int64      `json:"active_seconds"`
	PausedSeconds int64      `json:"paused_seconds"`
	PauseReason   string     `json:"pause_reason,omitempty"`
	Linked        []string   `json:"linked_projects,omitempty"`

	PendingSwitch  string `json:"pending_switch,omitempty"`
	Degraded       bool   `json:"degraded"`
	BufferedWrites int    `json:"buffered_writes,omitempty"`

	// Filled in by the socket server.
	UptimeSeconds int64             `json:"uptime_seconds,omitempty"`
	Dropped       map[string]uint64 `json:"dropped,omitempty"`
	Health        string            `json:"health,omitempty"`
}
