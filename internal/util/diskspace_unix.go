//go:build unix

package util

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FreeBytes returns the bytes available to unprivileged users on the
// filesystem holding path.
func FreeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("failed to stat filesystem %s: %w", path, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}
