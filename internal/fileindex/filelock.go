package fileindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockTimeout indicates the lock acquisition timed out
var ErrLockTimeout = errors.New("lock acquisition timed out")

// FileLock provides exclusive cross-process locking of a lock file.
// The lock is released by the OS when the owning process exits or crashes,
// so a lock file that exists but can be acquired was left by a dead process.
type FileLock struct {
	path  string
	flock *flock.Flock
}

// NewFileLock creates a new file lock at the given path.
// The lock file and its parent directories are created on first use.
func NewFileLock(path string) *FileLock {
	return &FileLock{
		path:  path,
		flock: flock.New(path),
	}
}

// TryLock attempts to acquire the exclusive lock without blocking.
// Returns true if the lock was acquired, false if another process holds it.
func (l *FileLock) TryLock() (bool, error) {
	if err := l.ensureDir(); err != nil {
		return false, err
	}

	locked, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("flock failed: %w", err)
	}
	return locked, nil
}

// Lock acquires the exclusive lock, blocking until it's available or timeout expires.
// Returns ErrLockTimeout if the timeout expires before the lock is acquired.
func (l *FileLock) Lock(timeout time.Duration) error {
	return l.LockWithContext(context.Background(), timeout)
}

// LockWithContext acquires the exclusive lock, blocking until it's available,
// timeout expires, or the context is canceled.
func (l *FileLock) LockWithContext(ctx context.Context, timeout time.Duration) error {
	if err := l.ensureDir(); err != nil {
		return err
	}

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	locked, err := l.flock.TryLockContext(lockCtx, 10*time.Millisecond)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrLockTimeout
		}
		return fmt.Errorf("flock failed: %w", err)
	}
	if !locked {
		return ErrLockTimeout
	}
	return nil
}

// Unlock releases the lock.
// It is safe to call Unlock on an unlocked FileLock (no-op).
func (l *FileLock) Unlock() error {
	if !l.flock.Locked() {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("flock unlock failed: %w", err)
	}
	return nil
}

// IsLocked returns true if the lock is currently held by this instance.
func (l *FileLock) IsLocked() bool {
	return l.flock.Locked()
}

// Path returns the path to the lock file.
func (l *FileLock) Path() string {
	return l.path
}

func (l *FileLock) ensureDir() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	return nil
}
