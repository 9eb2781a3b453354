//go:build linux || darwin

package socketutil

import (
	"context"
	"os"

	"github.com/codefionn/tempo/internal/logger"
	"github.com/codefionn/tempo/internal/socketclient"
)

// detectSocketServer is the platform-specific implementation for Unix-like systems.
func detectSocketServer(socketPath string) bool {
	if socketPath == "" {
		logger.Debug("No socket path configured, skipping detection")
		return false
	}

	stat, err := os.Stat(socketPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("Socket file does not exist: %s", socketPath)
		} else {
			logger.Debug("Error checking socket file: %v", err)
		}
		return false
	}

	if stat.Mode()&os.ModeSocket == 0 {
		logger.Debug("File exists but is not a socket: %s", socketPath)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), SocketDetectionTimeout)
	defer cancel()

	client, err := socketclient.Dial(ctx, socketPath)
	if err != nil {
		logger.Debug("Socket exists but connection failed: %v", err)
		return false
	}
	defer client.Close()

	if _, err := client.Ping(ctx); err != nil {
		logger.Debug("Socket exists but daemon did not answer ping: %v", err)
		return false
	}

	logger.Debug("Detected running daemon at: %s", socketPath)
	return true
}
