package socketclient

import (
	"context"
	"fmt"
	"time"
)

// Activity reports that the user did something in projectPath.
func (c *Client) Activity(ctx context.Context, source, projectPath, activityType string) (*ActivityAck, error) {
	if projectPath == "" {
		return nil, NewSocketError("INVALID_REQUEST", "Project path is required", "")
	}

	msg := NewMessage("activity", ActivityRequest{
		Source:       source,
		ProjectPath:  projectPath,
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		ActivityType: activityType,
	})
	resp, err := c.SendRequest(ctx, msg)
	if err != nil {
		return nil, err
	}

	var ack ActivityAck
	if err := resp.Decode(&ack); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &ack, nil
}

// Start begins or resumes tracking. An empty projectPath resumes the
// focused project.
func (c *Client) Start(ctx context.Context, projectPath, sessionContext string) (*Status, error) {
	return c.control(ctx, "start", ControlRequest{ProjectPath: projectPath, Context: sessionContext})
}

// Switch moves tracking to another project.
func (c *Client) Switch(ctx context.Context, projectPath, sessionContext string) (*Status, error) {
	if projectPath == "" {
		return nil, NewSocketError("INVALID_REQUEST", "Project path is required", "")
	}
	return c.control(ctx, "switch", ControlRequest{ProjectPath: projectPath, Context: sessionContext})
}

// Stop closes all open sessions.
func (c *Client) Stop(ctx context.Context) (*Status, error) {
	return c.control(ctx, "stop", ControlRequest{})
}

// Pause pauses the active sessions.
func (c *Client) Pause(ctx context.Context) (*Status, error) {
	return c.control(ctx, "pause", ControlRequest{})
}

// Resume resumes the paused sessions.
func (c *Client) Resume(ctx context.Context) (*Status, error) {
	return c.control(ctx, "resume", ControlRequest{})
}

// Status returns the daemon's current view.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	return c.control(ctx, "status", ControlRequest{})
}

// Archive archives or restores a project.
func (c *Client) Archive(ctx context.Context, projectPath string, archived bool) (*Status, error) {
	if projectPath == "" {
		return nil, NewSocketError("INVALID_REQUEST", "Project path is required", "")
	}
	return c.control(ctx, "archive", ControlRequest{ProjectPath: projectPath, Archived: &archived})
}

// Ping checks that the daemon answers and returns the round trip time.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	resp, err := c.SendRequest(ctx, NewMessage("ping", nil))
	if err != nil {
		return 0, err
	}
	if resp.Type != "pong" {
		return 0, fmt.Errorf("unexpected response type %q", resp.Type)
	}
	return time.Since(start), nil
}

// Shutdown asks the daemon to stop gracefully.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.SendRequest(ctx, NewMessage("shutdown", nil))
	return err
}

func (c *Client) control(ctx context.Context, op string, req ControlRequest) (*Status, error) {
	resp, err := c.SendRequest(ctx, NewMessage(op, req))
	if err != nil {
		return nil, err
	}

	var status Status
	if err := resp.Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &status, nil
}
