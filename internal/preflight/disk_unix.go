//go:build !windows

package preflight

import (
	"golang.org/x/sys/unix"
)

// FreeSpace returns the bytes available to unprivileged users at path.
func FreeSpace(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return uint64(stat.Bavail) * uint64(stat.Bsize), nil
}
