package socketserver

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message type constants
const (
	// Activity signals
	MessageTypeActivity = "activity"

	// Control commands
	MessageTypeStart   = "start"
	MessageTypeStop    = "stop"
	MessageTypePause   = "pause"
	MessageTypeResume  = "resume"
	MessageTypeSwitch  = "switch"
	MessageTypeStatus  = "status"
	MessageTypeArchive = "archive"

	// Responses
	MessageTypeAck            = "ack"
	MessageTypeStatusResponse = "status_response"

	// Connection Lifecycle
	MessageTypePing     = "ping"
	MessageTypePong     = "pong"
	MessageTypeShutdown = "shutdown"
	MessageTypeClosed   = "closed"

	// Error
	MessageTypeError = "error"
)

// Error codes
const (
	ErrorCodeInvalidRequest    = "INVALID_REQUEST"
	ErrorCodeInvalidTransition = "INVALID_TRANSITION"
	ErrorCodeNoActiveSession   = "NO_ACTIVE_SESSION"
	ErrorCodeResolutionFailed  = "RESOLUTION_FAILED"
	ErrorCodeProjectArchived   = "PROJECT_ARCHIVED"
	ErrorCodeStoreUnavailable  = "STORE_UNAVAILABLE"
	ErrorCodeInternalError     = "INTERNAL_ERROR"
	ErrorCodeBusy              = "BUSY"
)

// BaseMessage represents the base structure for all socket messages
type BaseMessage struct {
	Type      string                 `json:"type"`
	RequestID string                 `json:"request_id,omitempty"`
	Data      map[string]interface{} `json:"data"`
	Timestamp string                 `json:"timestamp,omitempty"`
	Error     *ErrorInfo             `json:"error,omitempty"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// NewMessage creates a new message with the given type and data
func NewMessage(msgType string, data map[string]interface{}) *BaseMessage {
	return &BaseMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// NewResponse creates a response message for a given request
func NewResponse(msgType string, requestID string, data map[string]interface{}) *BaseMessage {
	return &BaseMessage{
		Type:      msgType,
		RequestID: requestID,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// NewError creates an error response
func NewError(requestID string, errCode string, message string, details string) *BaseMessage {
	return &BaseMessage{
		Type:      MessageTypeError,
		RequestID: requestID,
		Error: &ErrorInfo{
			Code:    errCode,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// ActivityRequest is the data of an activity message.
type ActivityRequest struct {
	Source       string `json:"source"`
	ProjectPath  string `json:"project_path"`
	Timestamp    string `json:"timestamp,omitempty"`
	ActivityType string `json:"activity_type,omitempty"`
}

// ControlRequest is the data of start, switch and archive messages.
type ControlRequest struct {
	ProjectPath string `json:"project_path,omitempty"`
	Context     string `json:"context,omitempty"`
	Archived    *bool  `json:"archived,omitempty"`
}

// decodeData converts a message's generic data into a typed request.
func decodeData(data map[string]interface{}, v interface{}) error {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}
	return nil
}

// encodeData converts a typed response into generic message data.
func encodeData(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}
