package socketclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ConnectionState represents the current state of the socket connection
type ConnectionState int

const (
	// StateDisconnected indicates the client is not connected
	StateDisconnected ConnectionState = iota
	// StateConnected indicates the client is connected
	StateConnected
	// StateClosed indicates the client has been closed
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client-side error codes. Server codes are passed through unchanged.
const (
	CodeNotConnected     = "NOT_CONNECTED"
	CodeConnectionClosed = "CONNECTION_CLOSED"
	CodeTimeout          = "TIMEOUT"
)

// SocketError represents an error from the socket server
type SocketError struct {
	Code    string
	Message string
	Details string
}

func (e *SocketError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

// NewSocketError creates a new SocketError
func NewSocketError(code, message, details string) *SocketError {
	return &SocketError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// ErrorCode returns the code of a SocketError anywhere in err's chain.
func ErrorCode(err error) string {
	var se *SocketError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// Config holds client configuration
type Config struct {
	// SocketPath is the path to the Unix socket
	SocketPath string
	// ConnectTimeout is the timeout for initial connection
	ConnectTimeout time.Duration
	// RequestTimeout is the default timeout for requests
	RequestTimeout time.Duration
	// WriteTimeout is the timeout for writing messages
	WriteTimeout time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout: 2 * time.Second,
		RequestTimeout: 10 * time.Second,
		WriteTimeout:   5 * time.Second,
	}
}

// Client is a connection to the tempo daemon. Requests may be issued from
// several goroutines; responses are matched by request ID.
type Client struct {
	config *Config

	conn  net.Conn
	state atomic.Int32 // ConnectionState

	writeMu sync.Mutex

	pendingRequests map[string]chan *Message
	requestMu       sync.Mutex

	// Called when the daemon announces it is going away.
	closedCallback func(reason string)

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewClient creates a new socket client
func NewClient(socketPath string) (*Client, error) {
	config := DefaultConfig()
	config.SocketPath = socketPath
	return NewClientWithConfig(config)
}

// NewClientWithConfig creates a new socket client with custom configuration
func NewClientWithConfig(config *Config) (*Client, error) {
	if config.SocketPath == "" {
		return nil, errors.New("socket path is required")
	}
	defaults := DefaultConfig()
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}

	client := &Client{
		config:          config,
		pendingRequests: make(map[string]chan *Message),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
	client.state.Store(int32(StateDisconnected))
	return client, nil
}

// Dial connects to the daemon at socketPath.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	client, err := NewClient(socketPath)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// SetClosedCallback registers a function called when the daemon sends its
// shutdown notice. It must be set before Connect.
func (c *Client) SetClosedCallback(fn func(reason string)) {
	c.closedCallback = fn
}

// Connect establishes the connection and starts the read loop
func (c *Client) Connect(ctx context.Context) error {
	if c.State() != StateDisconnected {
		return NewSocketError("INVALID_STATE", "Client already connected or closed", c.State().String())
	}

	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.config.SocketPath)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.config.SocketPath, err)
	}

	c.conn = conn
	c.state.Store(int32(StateConnected))
	go c.readLoop()
	return nil
}

// State returns the current connection state
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// IsConnected returns whether the client is connected
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Close closes the connection and fails all pending requests
func (c *Client) Close() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stopCh)
		prev := c.State()
		c.state.Store(int32(StateClosed))
		if c.conn != nil {
			err = c.conn.Close()
		}
		if prev == StateConnected {
			<-c.doneCh
		}
	})
	return err
}

// readLoop routes responses to the waiting requests
func (c *Client) readLoop() {
	defer close(c.doneCh)
	defer c.state.Store(int32(StateClosed))

	reader := bufio.NewReader(c.conn)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			c.handleLine(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.failPending(NewSocketError(CodeConnectionClosed, "Read failed", err.Error()))
			} else {
				c.failPending(NewSocketError(CodeConnectionClosed, "Connection closed", ""))
			}
			return
		}
	}
}

func (c *Client) handleLine(line []byte) {
	msg, err := ParseMessage(line)
	if err != nil {
		return
	}

	if msg.Type == "closed" {
		if c.closedCallback != nil {
			var data struct {
				Reason string `json:"reason"`
			}
			_ = msg.Decode(&data)
			c.closedCallback(data.Reason)
		}
		return
	}

	c.requestMu.Lock()
	ch, ok := c.pendingRequests[msg.RequestID]
	if ok {
		delete(c.pendingRequests, msg.RequestID)
	}
	c.requestMu.Unlock()

	if !ok && msg.RequestID == "" && msg.Error != nil {
		// Rejected before a request could be read, e.g. connection limit.
		c.failPending(NewSocketError(msg.Error.Code, msg.Error.Message, msg.Error.Details))
		return
	}
	if ok {
		ch <- msg
	}
}

func (c *Client) failPending(err *SocketError) {
	c.requestMu.Lock()
	defer c.requestMu.Unlock()
	for id, ch := range c.pendingRequests {
		ch <- &Message{Type: "error", RequestID: id, Error: &ErrorInfo{Code: err.Code, Message: err.Message, Details: err.Details}}
		delete(c.pendingRequests, id)
	}
}

// SendRequest sends a request and waits for a response. An error response
// is returned as a *SocketError.
func (c *Client) SendRequest(ctx context.Context, msg *Message) (*Message, error) {
	if !c.IsConnected() {
		return nil, NewSocketError(CodeNotConnected, "Not connected to daemon", "")
	}
	if msg.RequestID == "" {
		msg.RequestID = uuid.New().String()
	}

	respCh := make(chan *Message, 1)
	c.requestMu.Lock()
	c.pendingRequests[msg.RequestID] = respCh
	c.requestMu.Unlock()

	defer func() {
		c.requestMu.Lock()
		delete(c.pendingRequests, msg.RequestID)
		c.requestMu.Unlock()
	}()

	if err := c.write(msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.config.RequestTimeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, NewSocketError(resp.Error.Code, resp.Error.Message, resp.Error.Details)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.stopCh:
		return nil, NewSocketError(CodeConnectionClosed, "Client is closed", "")
	case <-timer.C:
		return nil, NewSocketError(CodeTimeout, "Request timeout", msg.Type)
	}
}

func (c *Client) write(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
		return NewSocketError(CodeConnectionClosed, "Connection closed", err.Error())
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return NewSocketError(CodeConnectionClosed, "Write failed", err.Error())
	}
	return nil
}
