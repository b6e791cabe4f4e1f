// Package lock provides an advisory file lock used to serialize whole
// scheduler passes against the same state file.
package lock

import (
	"fmt"
	"os"
	"syscall"

	"github.com/google/uuid"
)

// FileLock holds an exclusive, non-blocking advisory lock on a file.
type FileLock struct {
	f     *os.File
	token string
}

// Acquire takes an exclusive non-blocking lock on path, creating it if
// necessary. It fails immediately (rather than blocking) if another
// process already holds the lock, per the single-writer deployment
// assumption — this turns a silent concurrent invocation into a clear
// startup error instead of corrupting the state store.
func Acquire(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock file %s is held by another scheduler invocation: %w", path, err)
	}

	token := uuid.NewString()
	if _, err := f.WriteString(token); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing lock token: %w", err)
	}

	return &FileLock{f: f, token: token}, nil
}

// Release drops the lock and removes the lock file.
func (l *FileLock) Release() error {
	defer l.f.Close()
	if err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN); err != nil {
		return fmt.Errorf("unlocking: %w", err)
	}
	if err := os.Remove(l.f.Name()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}
