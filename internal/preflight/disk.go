package preflight

import (
	"fmt"
	"syscall"
)

const (
	// MinDiskSpaceBytes is the free space required even for a tiny corpus.
	MinDiskSpaceBytes = 100 << 20

	// IndexSizeFactor estimates index size from source size: clean and raw
	// page text, chunk text with overlap, FTS5 tables and vectors.
	IndexSizeFactor = 4
)

// CheckDiskSpace checks that the file system holding dataDir has room for
// the index.
func (c *Checker) CheckDiskSpace(dataDir string) CheckResult {
	result := CheckResult{
		Name:     "disk_space",
		Required: true,
		Details:  existingDir(dataDir),
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(result.Details, &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}

	free := stat.Bavail * uint64(stat.Bsize)
	result.Message = fmt.Sprintf("%s free (minimum: %s)", formatBytes(free), formatBytes(c.minDiskBytes))
	if free < c.minDiskBytes {
		result.Status = StatusFail
		return result
	}
	result.Status = StatusPass
	return result
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d bytes", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit && exp < 3; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}
