//go:build linux || darwin

package socketutil

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/tempo/internal/config"
	"github.com/codefionn/tempo/internal/socketclient"
)

func TestDetectSocketServer(t *testing.T) {
	dir, err := os.MkdirTemp("", "tempo")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	assert.False(t, DetectSocketServer(""))
	assert.False(t, DetectSocketServer(filepath.Join(dir, "missing.sock")))

	regular := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(regular, nil, 0o600))
	assert.False(t, DetectSocketServer(regular))

	path := filepath.Join(dir, "d.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				line, err := bufio.NewReader(conn).ReadBytes('\n')
				if err != nil {
					return
				}
				req, err := socketclient.ParseMessage(line)
				if err != nil {
					return
				}
				data, _ := json.Marshal(&socketclient.Message{Type: "pong", RequestID: req.RequestID})
				conn.Write(append(data, '\n'))
			}(conn)
		}
	}()

	assert.True(t, DetectSocketServer(path))

	cfg := config.DefaultConfig()
	cfg.Socket.Path = path
	assert.Contains(t, GetSocketDetectionInfo(cfg), "daemon running")
}
