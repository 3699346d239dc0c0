package preflight

import (
	"fmt"

	ierrors "github.com/Aman-CERP/chatindex/internal/errors"
)

// MinDiskSpaceBytes is the minimum free space expected before indexing.
const MinDiskSpaceBytes uint64 = 300_000_000

// CheckDiskSpace returns a disk-full error when path has less than min
// bytes available.
func CheckDiskSpace(path string, min uint64) error {
	free, err := FreeSpace(path)
	if err != nil {
		return ierrors.New(ierrors.ErrCodeFileNotFound, "failed to check disk space", err).
			WithDetail("path", path)
	}
	if free < min {
		return ierrors.New(ierrors.ErrCodeDiskFull,
			fmt.Sprintf("%s free (minimum: %s)", formatBytes(free), formatBytes(min)), nil).
			WithDetail("path", path).
			WithSuggestion("free up disk space before indexing more messages")
	}
	return nil
}

// CheckDiskSpace reports free space at path against the checker's minimum.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	result := CheckResult{
		Name:     "disk_space",
		Required: true,
	}

	free, err := FreeSpace(path)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%s free (minimum: %s)", formatBytes(free), formatBytes(c.minDiskSpace))
	if free < c.minDiskSpace {
		result.Status = StatusFail
		return result
	}
	result.Status = StatusPass
	return result
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(bytes uint64) string {
	const (
		KB = 1000
		MB = 1000 * KB
		GB = 1000 * MB
		TB = 1000 * GB
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
