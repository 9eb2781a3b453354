// Package socketutil provides shared utilities for daemon detection and connection.
package socketutil

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/codefionn/tempo/internal/config"
	"github.com/codefionn/tempo/internal/socketclient"
)

// SocketDetectionTimeout is how long to wait for socket detection
const SocketDetectionTimeout = 1 * time.Second

// DetectSocketServer checks if a daemon is answering at socketPath.
// On Linux and other Unix-like systems, it performs the following checks:
//  1. Verifies the socket path is set
//  2. Checks if the socket file exists and is actually a socket
//  3. Connects and pings to verify the daemon is responding
//
// On non-Unix platforms this function always returns false as Unix domain
// sockets are not supported.
func DetectSocketServer(socketPath string) bool {
	return detectSocketServer(socketPath)
}

// GetSocketDetectionInfo returns a human-readable description of the socket
// configuration and detection status.
func GetSocketDetectionInfo(cfg *config.Config) string {
	socketPath := cfg.Socket.Path
	info := fmt.Sprintf("Socket path: %s", socketPath)

	if socketPath == "" {
		return info + " (not configured)"
	}

	if _, err := os.Stat(socketPath); err != nil {
		if os.IsNotExist(err) {
			info += " (not found)"
		} else {
			info += fmt.Sprintf(" (error: %v)", err)
		}
	} else if DetectSocketServer(socketPath) {
		info += " (daemon running)"
	} else {
		info += " (exists but daemon not responding)"
	}

	return info
}

// ConnectToSocket connects to the daemon at the configured path.
func ConnectToSocket(ctx context.Context, cfg *config.Config) (*socketclient.Client, error) {
	socketPath := cfg.Socket.Path
	if socketPath == "" {
		return nil, fmt.Errorf("socket path not configured")
	}

	client, err := socketclient.Dial(ctx, socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon (is `tempo daemon` running?): %w", err)
	}
	return client, nil
}
