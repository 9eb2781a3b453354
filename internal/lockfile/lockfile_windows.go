//go:build windows

package lockfile

import (
	"fmt"
	"os"
	"syscall"
)

// acquire creates path exclusively. A leftover file whose owner is gone is
// treated as stale and replaced.
func acquire(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_EXCL, 0o600)
	if err == nil {
		return file, nil
	}
	if !os.IsExist(err) {
		return nil, fmt.Errorf("failed to create lockfile: %w", err)
	}

	if pid, perr := Owner(path); perr == nil && isProcessRunning(pid) {
		return nil, fmt.Errorf("%w: held by PID %d", ErrLocked, pid)
	}
	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("failed to remove stale lockfile: %w", err)
	}
	file, err = os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create lockfile after removing stale one: %w", err)
	}
	return file, nil
}

func release(file *os.File) error {
	return file.Close()
}

func isProcessRunning(pid int) bool {
	handle, err := syscall.OpenProcess(syscall.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	syscall.CloseHandle(handle)
	return true
}
