package socketserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/codefionn/tempo/internal/consts"
	"github.com/codefionn/tempo/internal/logger"
)

// errLineTooLong is reported for a message above consts.MaxMessageSize.
var errLineTooLong = errors.New("message exceeds maximum size")

// Client represents a connected socket client
type Client struct {
	// Connection identifier
	ID string

	conn   net.Conn
	hub    *Hub
	server *Server

	// Outbound message channel
	send chan *BaseMessage

	// Control
	mu       sync.Mutex
	closed   bool
	stopOnce sync.Once
	stopChan chan struct{}
}

// NewClient creates a new client instance
func NewClient(id string, conn net.Conn, hub *Hub, server *Server) *Client {
	return &Client{
		ID:       id,
		conn:     conn,
		hub:      hub,
		server:   server,
		send:     make(chan *BaseMessage, 64),
		stopChan: make(chan struct{}),
	}
}

// Start begins reading from and writing to the client connection
func (c *Client) Start(ctx context.Context) {
	c.hub.RegisterClient(c)

	go c.readPump(ctx)
	go c.writePump()

	logger.Debug("Client %s started read/write pumps", c.ID)
}

// Stop gracefully stops the client. Queued messages are still written
// before the write pump closes the connection.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)

		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()

		c.hub.UnregisterClient(c)
		if c.server != nil {
			c.server.untrackClient(c.ID)
		}

		logger.Debug("Client %s stopped", c.ID)
	})
}

// Close is an alias for Stop
func (c *Client) Close() {
	c.Stop()
}

// readPump reads newline-delimited requests and answers each in order. A
// malformed line is reported and skipped; the connection stays open.
func (c *Client) readPump(ctx context.Context) {
	defer c.Stop()

	reader := bufio.NewReaderSize(c.conn, consts.MaxMessageSize)

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		line, err := readLine(reader)
		if errors.Is(err, errLineTooLong) {
			logger.Warn("Dropping oversized message from client %s", c.ID)
			c.SendError("", ErrorCodeInvalidRequest, "Message too large", fmt.Sprintf("limit is %d bytes", consts.MaxMessageSize))
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				logger.Debug("Client %s disconnected (EOF)", c.ID)
			case errors.Is(err, net.ErrClosed):
				logger.Debug("Client %s connection closed", c.ID)
			default:
				logger.Error("Error reading from client %s: %v", c.ID, err)
			}
			return
		}
		if len(line) == 0 {
			continue
		}

		var msg BaseMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			logger.Warn("Failed to parse message from client %s: %v", c.ID, err)
			c.SendError("", ErrorCodeInvalidRequest, "Invalid JSON format", err.Error())
			continue
		}
		if msg.Type == "" {
			c.SendError(msg.RequestID, ErrorCodeInvalidRequest, "Missing message type", "")
			continue
		}

		logger.Debug("Client %s received message: %s", c.ID, msg.Type)
		c.Send(c.server.dispatch(ctx, &msg))

		if msg.Type == MessageTypeShutdown {
			c.server.requestShutdown()
		}
	}
}

// readLine returns one line without its trailing newline. Lines longer than
// the reader's buffer are discarded up to the next newline.
func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = r.ReadSlice('\n')
		}
		if err != nil {
			return nil, err
		}
		return nil, errLineTooLong
	}
	if err != nil && (len(line) == 0 || !errors.Is(err, io.EOF)) {
		return nil, err
	}

	return bytes.TrimSpace(append([]byte(nil), line...)), nil
}

// writePump writes messages to the socket connection
func (c *Client) writePump() {
	defer func() {
		c.Stop()
		c.conn.Close()
	}()

	for message := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(consts.Timeout10Seconds)); err != nil {
			logger.Debug("Failed to set write deadline for client %s: %v", c.ID, err)
			return
		}

		data, err := json.Marshal(message)
		if err != nil {
			logger.Error("Failed to marshal message for client %s: %v", c.ID, err)
			continue
		}

		if _, err := fmt.Fprintf(c.conn, "%s\n", data); err != nil {
			logger.Debug("Failed to write message to client %s: %v", c.ID, err)
			return
		}
	}
}

// Send sends a message to the client
func (c *Client) Send(msg *BaseMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- msg:
	default:
		logger.Warn("Send buffer full for client %s, message dropped", c.ID)
	}
}

// SendError sends an error message to the client
func (c *Client) SendError(requestID string, code string, message string, details string) {
	c.Send(NewError(requestID, code, message, details))
}
