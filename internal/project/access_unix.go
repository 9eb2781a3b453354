//go:build !windows

package project

import "golang.org/x/sys/unix"

// writable asks the kernel whether the current user may write to path.
func writable(path string) bool {
	return unix.Access(path, unix.W_OK) == nil
}
