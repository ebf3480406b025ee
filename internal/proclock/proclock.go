// Package proclock provides cross-process mutual exclusion for the
// orchestrator using flock(2). Exactly one loop may drive a work unit's
// state directory at a time; a second invocation fails fast rather than
// queuing.
//
// The lock only coordinates processes on one machine. Multi-machine
// coordination would need a lease stored alongside the task graph.
package proclock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

const lockFileName = "orbiter.lock"

// ErrLockHeld is returned when another process already holds the lock.
var ErrLockHeld = errors.New("another orbiter process holds the lock")

// Lock is an exclusive flock(2)-based process lock over a state directory.
type Lock struct {
	path string
	file *os.File
}

// New creates a Lock for the given state directory. The lock file is
// created inside dir as "orbiter.lock".
func New(dir string) *Lock {
	return &Lock{path: filepath.Join(dir, lockFileName)}
}

// Acquire attempts to take the lock without blocking. It returns
// ErrLockHeld if another process owns it. On success the holder's pid is
// written to the lock file for diagnostics.
func (l *Lock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return ErrLockHeld
		}
		return fmt.Errorf("flock: %w", err)
	}

	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)

	l.file = f
	return nil
}

// Release drops the lock and closes the lock file. Releasing an
// unacquired lock is a no-op.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}

	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		l.file = nil
		return fmt.Errorf("funlock: %w", err)
	}

	err := l.file.Close()
	l.file = nil
	return err
}
