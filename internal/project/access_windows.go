//go:build windows

package project

import "os"

// writable treats a directory as writable unless its read-only bit is set.
func writable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0o200 != 0
}
