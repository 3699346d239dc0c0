// Package lockfile provides cross-process file locks. chatindex uses them
// around the users settings file and the guardian's session registry,
// which separate processes (the app and the OS-scheduled sweep) may touch
// at the same time.
package lockfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// retryDelay is how often LockContext retries a held lock.
const retryDelay = 50 * time.Millisecond

// FileLock is an exclusive lock on a file path. It excludes other
// processes through flock and other goroutines through sem.
type FileLock struct {
	path   string
	flock  *flock.Flock
	sem    chan struct{}
	locked bool
}

// New creates a lock at path. The file is created on first lock.
func New(path string) *FileLock {
	return &FileLock{
		path:  path,
		flock: flock.New(path),
		sem:   make(chan struct{}, 1),
	}
}

// For returns a lock guarding target, stored next to it as <target>.lock.
func For(target string) *FileLock {
	return New(target + ".lock")
}

// Lock blocks until the lock is acquired.
func (l *FileLock) Lock() error {
	return l.LockContext(context.Background())
}

// LockContext retries until the lock is acquired or ctx is done.
func (l *FileLock) LockContext(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("failed to acquire lock %s: %w", l.path, ctx.Err())
	}
	if err := l.ensureDir(); err != nil {
		<-l.sem
		return err
	}
	ok, err := l.flock.TryLockContext(ctx, retryDelay)
	if err != nil {
		<-l.sem
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		<-l.sem
		return fmt.Errorf("failed to acquire lock %s", l.path)
	}
	l.locked = true
	return nil
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false if another holder has it.
func (l *FileLock) TryLock() (bool, error) {
	select {
	case l.sem <- struct{}{}:
	default:
		return false, nil
	}
	if err := l.ensureDir(); err != nil {
		<-l.sem
		return false, err
	}
	acquired, err := l.flock.TryLock()
	if err != nil || !acquired {
		<-l.sem
		if err != nil {
			return false, fmt.Errorf("failed to acquire lock: %w", err)
		}
		return false, nil
	}
	l.locked = true
	return true, nil
}

// Unlock releases the lock. Unlocking an unlocked FileLock is a no-op.
func (l *FileLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	defer func() { <-l.sem }()
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the path to the lock file.
func (l *FileLock) Path() string {
	return l.path
}

// IsLocked returns true if the lock is currently held.
func (l *FileLock) IsLocked() bool {
	return l.locked
}

func (l *FileLock) ensureDir() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	return nil
}
