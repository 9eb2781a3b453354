package socketclient

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDaemon answers each request with whatever respond returns.
func fakeDaemon(t *testing.T, respond func(req *Message) *Message) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "tempo")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "d.sock")

	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				reader := bufio.NewReader(conn)
				for {
					line, err := reader.ReadBytes('\n')
					if err != nil {
						return
					}
					req, err := ParseMessage(line)
					if err != nil {
						return
					}
					resp := respond(req)
					if resp == nil {
						continue
					}
					data, _ := json.Marshal(resp)
					conn.Write(append(data, '\n'))
				}
			}(conn)
		}
	}()
	return path
}

func reply(req *Message, msgType string, data interface{}) *Message {
	raw, _ := json.Marshal(data)
	return &Message{Type: msgType, RequestID: req.RequestID, Data: raw}
}

func TestStatusRoundTrip(t *testing.T) {
	path := fakeDaemon(t, func(req *Message) *Message {
		return reply(req, "status_response", map[string]interface{}{
			"state":          "active",
			"project_path":   "/src/api",
			"active_seconds": 120,
		})
	})

	client, err := Dial(context.Background(), path)
	require.NoError(t, err)
	defer client.Close()

	status, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "active", status.State)
	assert.Equal(t, "/src/api", status.ProjectPath)
	assert.Equal(t, int64(120), status.ActiveSeconds)
}

func TestActivitySendsPayload(t *testing.T) {
	received := make(chan ActivityRequest, 1)
	path := fakeDaemon(t, func(req *Message) *Message {
		var ar ActivityRequest
		_ = req.Decode(&ar)
		received <- ar
		return reply(req, "ack", map[string]interface{}{"accepted": false, "reason": "rate_limited"})
	})

	client, err := Dial(context.Background(), path)
	require.NoError(t, err)
	defer client.Close()

	ack, err := client.Activity(context.Background(), "ide", "/src/web", "save")
	require.NoError(t, err)
	assert.False(t, ack.Accepted)
	assert.Equal(t, "rate_limited", ack.Reason)

	ar := <-received
	assert.Equal(t, "ide", ar.Source)
	assert.Equal(t, "/src/web", ar.ProjectPath)
	assert.Equal(t, "save", ar.ActivityType)
	assert.NotEmpty(t, ar.Timestamp)
}

func TestErrorResponseBecomesSocketError(t *testing.T) {
	path := fakeDaemon(t, func(req *Message) *Message {
		return &Message{Type: "error", RequestID: req.RequestID, Error: &ErrorInfo{Code: "NO_ACTIVE_SESSION", Message: "no active session"}}
	})

	client, err := Dial(context.Background(), path)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Pause(context.Background())
	require.Error(t, err)
	assert.Equal(t, "NO_ACTIVE_SESSION", ErrorCode(err))
}

func TestArchiveSendsFlag(t *testing.T) {
	received := make(chan ControlRequest, 1)
	path := fakeDaemon(t, func(req *Message) *Message {
		var cr ControlRequest
		_ = req.Decode(&cr)
		received <- cr
		return reply(req, "ack", map[string]interface{}{"state": "idle"})
	})

	client, err := Dial(context.Background(), path)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Archive(context.Background(), "/src/old", false)
	require.NoError(t, err)
	cr := <-received
	require.NotNil(t, cr.Archived)
	assert.False(t, *cr.Archived)
}

func TestRequestTimeout(t *testing.T) {
	path := fakeDaemon(t, func(req *Message) *Message { return nil })

	client, err := NewClientWithConfig(&Config{SocketPath: path, RequestTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	_, err = client.Ping(context.Background())
	assert.Equal(t, CodeTimeout, ErrorCode(err))
}

func TestClosedNoticeAndDisconnect(t *testing.T) {
	path := fakeDaemon(t, func(req *Message) *Message {
		return &Message{Type: "closed", Data: json.RawMessage(`{"reason":"daemon shutting down"}`)}
	})

	client, err := NewClient(path)
	require.NoError(t, err)
	reasons := make(chan string, 1)
	client.SetClosedCallback(func(reason string) { reasons <- reason })
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	go client.Ping(context.Background())
	select {
	case r := <-reasons:
		assert.Equal(t, "daemon shutting down", r)
	case <-time.After(2 * time.Second):
		t.Fatal("closed notice not delivered")
	}
}

func TestDialMissingSocket(t *testing.T) {
	_, err := Dial(context.Background(), filepath.Join(t.TempDir(), "missing.sock"))
	assert.Error(t, err)
}

func TestNotConnected(t *testing.T) {
	client, err := NewClient("/tmp/unused.sock")
	require.NoError(t, err)
	_, err = client.Status(context.Background())
	assert.Equal(t, CodeNotConnected, ErrorCode(err))
	assert.NoError(t, client.Close())
}
