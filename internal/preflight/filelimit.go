package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors is the open-file minimum when the backend is unknown.
// Bleve keeps its BoltDB store and every scorch segment open.
const MinFileDescriptors = 1024

// minFileDescriptorsSQLite covers the database, its WAL and shared memory
// files, the vector file and the log.
const minFileDescriptorsSQLite = 256

// MinFileDescriptorsFor returns the open-file minimum for a lexical backend.
func MinFileDescriptorsFor(backend string) uint64 {
	if backend == "sqlite" {
		return minFileDescriptorsSQLite
	}
	return MinFileDescriptors
}

// CheckFileDescriptors checks the soft open-file limit.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{
		Name:     "file_descriptors",
		Required: true,
	}

	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check file descriptor limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d (minimum: %d)", limit.Cur, c.minFDs)
	if limit.Cur < c.minFDs {
		result.Status = StatusFail
		result.Details = fmt.Sprintf("Run 'ulimit -n %d' to raise the limit", max(c.minFDs, 4096))
		return result
	}
	result.Status = StatusPass
	return result
}
