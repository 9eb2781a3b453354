//go:build !linux && !darwin

package socketutil

import "github.com/codefionn/tempo/internal/logger"

// detectSocketServer is the platform-specific implementation for non-Unix systems.
// Unix sockets are not supported there, so this always returns false.
func detectSocketServer(socketPath string) bool {
	logger.Debug("Daemon detection skipped: Unix sockets not supported on this platform")
	return false
}
