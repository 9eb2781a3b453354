package socketserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/tempo/internal/actor"
	"github.com/codefionn/tempo/internal/project"
	"github.com/codefionn/tempo/internal/ratelimit"
	"github.com/codefionn/tempo/internal/session"
	"github.com/codefionn/tempo/internal/tracker"
)

type fakeBackend struct {
	mu       sync.Mutex
	signals  []session.Signal
	targets  []tracker.Target
	commands []tracker.Command
	err      error
}

func (b *fakeBackend) Activity(ctx context.Context, sig session.Signal, target tracker.Target) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signals = append(b.signals, sig)
	b.targets = append(b.targets, target)
	return b.err
}

func (b *fakeBackend) Control(ctx context.Context, cmd tracker.Command) (tracker.Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = append(b.commands, cmd)
	if b.err != nil {
		return tracker.Status{}, b.err
	}
	st := tracker.Status{State: "active"}
	if cmd.Target != nil {
		st.ProjectPath = cmd.Target.Path
	}
	return st, nil
}

func (b *fakeBackend) Health() actor.HealthReport {
	return actor.HealthReport{Status: actor.HealthStatusHealthy}
}

func (b *fakeBackend) signalCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.signals)
}

type fakeResolver struct{}

func (fakeResolver) Resolve(raw string) (project.Resolution, error) {
	if raw == "/nowhere" {
		return project.Resolution{}, project.ErrNotFound
	}
	return project.Resolution{Key: raw, Path: raw, Name: filepath.Base(raw)}, nil
}

type testConn struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func (c *testConn) send(raw string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(raw + "\n"))
	require.NoError(c.t, err)
}

func (c *testConn) request(msgType string, data map[string]interface{}) *BaseMessage {
	c.t.Helper()
	raw, err := json.Marshal(&BaseMessage{Type: msgType, RequestID: "req-" + msgType, Data: data})
	require.NoError(c.t, err)
	c.send(string(raw))
	return c.read()
}

func (c *testConn) read() *BaseMessage {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := c.reader.ReadBytes('\n')
	require.NoError(c.t, err)
	var msg BaseMessage
	require.NoError(c.t, json.Unmarshal(line, &msg))
	return &msg
}

func startServer(t *testing.T, backend Backend, opts Options) *Server {
	t.Helper()
	// Keep the path short; unix socket paths are limited to ~104 bytes.
	dir, err := os.MkdirTemp("", "tempo")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	opts.Path = filepath.Join(dir, "d.sock")

	srv := NewServer(backend, fakeResolver{}, opts)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func dial(t *testing.T, srv *Server) *testConn {
	t.Helper()
	conn, err := net.Dial("unix", srv.Path())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testConn{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func TestSocketPermissions(t *testing.T) {
	srv := startServer(t, &fakeBackend{}, Options{})
	info, err := os.Stat(srv.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestPingPong(t *testing.T) {
	srv := startServer(t, &fakeBackend{}, Options{})
	c := dial(t, srv)

	resp := c.request(MessageTypePing, nil)
	assert.Equal(t, MessageTypePong, resp.Type)
	assert.Equal(t, "req-ping", resp.RequestID)
}

func TestActivityIsResolvedAndForwarded(t *testing.T) {
	backend := &fakeBackend{}
	srv := startServer(t, backend, Options{})
	c := dial(t, srv)

	resp := c.request(MessageTypeActivity, map[string]interface{}{
		"source":       "terminal",
		"project_path": "/src/api",
	})
	require.Equal(t, MessageTypeAck, resp.Type, "%+v", resp.Error)
	assert.Equal(t, true, resp.Data["accepted"])
	require.Equal(t, 1, backend.signalCount())
	assert.Equal(t, session.SourceTerminal, backend.signals[0].Source)
	assert.Equal(t, "/src/api", backend.targets[0].Key)
}

func TestMalformedLineKeepsConnection(t *testing.T) {
	srv := startServer(t, &fakeBackend{}, Options{})
	c := dial(t, srv)

	c.send("{not json")
	resp := c.read()
	assert.Equal(t, MessageTypeError, resp.Type)
	assert.Equal(t, ErrorCodeInvalidRequest, resp.Error.Code)

	resp = c.request(MessageTypePing, nil)
	assert.Equal(t, MessageTypePong, resp.Type)
}

func TestInvalidRequests(t *testing.T) {
	srv := startServer(t, &fakeBackend{}, Options{})
	c := dial(t, srv)

	resp := c.request(MessageTypeActivity, map[string]interface{}{"source": "carrier-pigeon", "project_path": "/src/api"})
	assert.Equal(t, ErrorCodeInvalidRequest, resp.Error.Code)

	resp = c.request(MessageTypeActivity, map[string]interface{}{"source": "ide"})
	assert.Equal(t, ErrorCodeInvalidRequest, resp.Error.Code)

	resp = c.request(MessageTypeSwitch, nil)
	assert.Equal(t, ErrorCodeInvalidRequest, resp.Error.Code)

	resp = c.request("teleport", nil)
	assert.Equal(t, ErrorCodeInvalidRequest, resp.Error.Code)

	resp = c.request(MessageTypeActivity, map[string]interface{}{"source": "ide", "project_path": "/nowhere"})
	assert.Equal(t, ErrorCodeResolutionFailed, resp.Error.Code)
}

func TestRateLimitedSignalsAreAcked(t *testing.T) {
	backend := &fakeBackend{}
	limiter := ratelimit.New(ratelimit.Limits{
		Window:    time.Minute,
		PerSource: map[session.Source]int{session.SourceTerminal: 2},
	})
	srv := startServer(t, backend, Options{Limiter: limiter})
	c := dial(t, srv)

	data := map[string]interface{}{"source": "terminal", "project_path": "/src/api"}
	for i := 0; i < 4; i++ {
		resp := c.request(MessageTypeActivity, data)
		require.Equal(t, MessageTypeAck, resp.Type)
	}
	assert.Equal(t, 2, backend.signalCount())

	status := c.request(MessageTypeStatus, nil)
	require.Equal(t, MessageTypeStatusResponse, status.Type)
	dropped, ok := status.Data["dropped"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(2), dropped["terminal"])
}

func TestDroppedSignalsAreNotAccepted(t *testing.T) {
	cases := map[string]error{
		"archived":   tracker.ErrProjectArchived,
		"superseded": tracker.ErrSuperseded,
	}
	for reason, err := range cases {
		t.Run(reason, func(t *testing.T) {
			srv := startServer(t, &fakeBackend{err: err}, Options{})
			c := dial(t, srv)

			resp := c.request(MessageTypeActivity, map[string]interface{}{"source": "ide", "project_path": "/src/old"})
			require.Equal(t, MessageTypeAck, resp.Type)
			assert.Equal(t, false, resp.Data["accepted"])
			assert.Equal(t, reason, resp.Data["reason"])
		})
	}
}

func TestControlErrorsAreMapped(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{tracker.ErrNoActiveSession, ErrorCodeNoActiveSession},
		{&tracker.InvalidTransitionError{Op: "pause", State: session.Paused}, ErrorCodeInvalidTransition},
		{tracker.ErrProjectArchived, ErrorCodeProjectArchived},
		{tracker.ErrStoreUnavailable, ErrorCodeStoreUnavailable},
		{context.DeadlineExceeded, ErrorCodeBusy},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			srv := startServer(t, &fakeBackend{err: tc.err}, Options{})
			c := dial(t, srv)
			resp := c.request(MessageTypePause, nil)
			require.Equal(t, MessageTypeError, resp.Type)
			assert.Equal(t, tc.code, resp.Error.Code)
			assert.Equal(t, "req-pause", resp.RequestID)
		})
	}
}

func TestStartReturnsStatus(t *testing.T) {
	backend := &fakeBackend{}
	srv := startServer(t, backend, Options{})
	c := dial(t, srv)

	resp := c.request(MessageTypeStart, map[string]interface{}{"project_path": "/src/api", "context": "terminal"})
	require.Equal(t, MessageTypeStatusResponse, resp.Type)
	assert.Equal(t, "active", resp.Data["state"])
	assert.Equal(t, "/src/api", resp.Data["project_path"])
	assert.Equal(t, "healthy", resp.Data["health"])

	require.Len(t, backend.commands, 1)
	assert.Equal(t, tracker.OpStart, backend.commands[0].Op)
	assert.Equal(t, session.ContextTerminal, backend.commands[0].Context)
}

func TestShutdownRequest(t *testing.T) {
	called := make(chan struct{})
	srv := startServer(t, &fakeBackend{}, Options{OnShutdown: func() { close(called) }})
	c := dial(t, srv)

	resp := c.request(MessageTypeShutdown, nil)
	assert.Equal(t, MessageTypeAck, resp.Type)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback not invoked")
	}
}

func TestStopNotifiesClientsAndRemovesSocket(t *testing.T) {
	srv := startServer(t, &fakeBackend{}, Options{})
	c := dial(t, srv)
	require.Equal(t, MessageTypePong, c.request(MessageTypePing, nil).Type)

	require.NoError(t, srv.Stop())
	msg := c.read()
	assert.Equal(t, MessageTypeClosed, msg.Type)

	_, err := os.Stat(srv.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestConnectionLimit(t *testing.T) {
	srv := startServer(t, &fakeBackend{}, Options{MaxConnections: 1})
	first := dial(t, srv)
	require.Equal(t, MessageTypePong, first.request(MessageTypePing, nil).Type)

	second := dial(t, srv)
	msg := second.read()
	require.NotNil(t, msg.Error)
	assert.Equal(t, ErrorCodeBusy, msg.Error.Code)
}
