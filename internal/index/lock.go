package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	caserrors "github.com/JCHanratty/CASearch/internal/errors"
	"github.com/JCHanratty/CASearch/internal/store"
)

// DirLock is a cross-process lock on a data directory, held for the
// duration of an indexing run so two indexers never write the same stores.
type DirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDirLock creates a lock for dataDir. The lock file is
// <dataDir>/.index.lock.
func NewDirLock(dataDir string) *DirLock {
	path := filepath.Join(dataDir, store.LockFile)
	return &DirLock{
		path:  path,
		flock: flock.New(path),
	}
}

// TryLock acquires the lock without blocking. If another process holds it,
// the error carries ErrCodeIndexLocked.
func (l *DirLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return caserrors.New(caserrors.ErrCodeIndexLocked, "index is being updated by another process", nil).
			WithDetail("lock", l.path).
			WithSuggestion("Wait for the other 'casearch index' to finish and retry")
	}

	l.locked = true
	return nil
}

// Unlock releases the lock. Calling it on an unlocked DirLock is a no-op.
func (l *DirLock) Unlock() error {
	if !l.locked {
		return nil
	}

	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DirLock) Path() string {
	return l.path
}

// IsLocked reports whether this DirLock holds the lock.
func (l *DirLock) IsLocked() bool {
	return l.locked
}
