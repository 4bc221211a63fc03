// Package lock implements the single-instance file lock. Only one process
// may operate on a data directory's database and worktree set.
package lock

import (
	"fmt"
	"os"

	apperrors "github.com/loomdev/loom/internal/errors"
	"github.com/loomdev/loom/internal/paths"
)

// InstanceLock is a held single-instance lock.
type InstanceLock struct {
	path string
	file *os.File
}

// Acquire takes the instance lock for the data directory. It fails with
// KindFatal when another process already holds it.
func Acquire(dataDir string) (*InstanceLock, error) {
	const op = apperrors.Op("lock.Acquire")
	fp := paths.LockPath(dataDir)

	f, err := os.OpenFile(fp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			pid, readErr := os.ReadFile(fp)
			if readErr == nil && len(pid) > 0 {
				return nil, apperrors.E(op, apperrors.KindFatal,
					fmt.Sprintf("another instance is running (PID %s); remove %s if it is not", pid, fp), err)
			}
			return nil, apperrors.E(op, apperrors.KindFatal,
				fmt.Sprintf("another instance is running; remove %s if it is not", fp), err)
		}
		return nil, apperrors.E(op, apperrors.KindFatal, "failed to create lock file", err)
	}

	fmt.Fprintf(f, "%d", os.Getpid())
	return &InstanceLock{path: fp, file: f}, nil
}

// Release drops the lock and removes the lock file.
func (l *InstanceLock) Release() error {
	if l.file != nil {
		l.file.Close()
	}
	return os.Remove(l.path)
}

// Path returns the lock file location.
func (l *InstanceLock) Path() string {
	return l.path
}
