package socketclient

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message represents a protocol message
type Message struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Error     *ErrorInfo      `json:"error,omitempty"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// NewMessage creates a new message with a fresh request ID
func NewMessage(msgType string, data interface{}) *Message {
	var rawData json.RawMessage
	if data != nil {
		bytes, err := json.Marshal(data)
		if err == nil {
			rawData = bytes
		}
	}

	return &Message{
		Type:      msgType,
		RequestID: uuid.New().String(),
		Data:      rawData,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// ParseMessage parses a message from JSON bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Decode unmarshals the message payload into v.
func (m *Message) Decode(v interface{}) error {
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// ActivityRequest is the payload of an activity signal.
type ActivityRequest struct {
	Source       string `json:"source"`
	ProjectPath  string `json:"project_path"`
	Timestamp    string `json:"timestamp,omitempty"`
	ActivityType string `json:"activity_type,omitempty"`
}

// ActivityAck is the daemon's answer to an activity signal.
type ActivityAck struct {
	Accepted    bool   `json:"accepted"`
	Reason      string `json:"reason,omitempty"`
	ProjectPath string `json:"project_path,omitempty"`
}

// ControlRequest is the payload of start, switch, stop, pause, resume and archive.
type ControlRequest struct {
	ProjectPath string `json:"project_path,omitempty"`
	Context     string `json:"context,omitempty"`
	Archived    *bool  `json:"archived,omitempty"`
}

// Status mirrors the daemon's status_response payload.
type Status struct {
	State          string            `json:"state"`
	SessionID      int64             `json:"session_id,omitempty"`
	ProjectPath    string            `json:"project_path,omitempty"`
	ProjectName    string            `json:"project_name,omitempty"`
	Context        string            `json:"context,omitempty"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	LastActivity   *time.Time        `json:"last_activity,omitempty"`
	ActiveSeconds  int64             `json:"active_seconds"`
	PausedSeconds  int64             `json:"paused_seconds"`
	PauseReason    string            `json:"pause_reason,omitempty"`
	LinkedProjects []string          `json:"linked_projects,omitempty"`
	PendingSwitch  string            `json:"pending_switch,omitempty"`
	Degraded       bool              `json:"degraded"`
	BufferedWrites int               `json:"buffered_writes"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Dropped        map[string]uint64 `json:"dropped,omitempty"`
	Health         string            `json:"health,omitempty"`
}
