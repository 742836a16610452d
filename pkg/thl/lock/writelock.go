// Package lock provides the file-system visible write lock that keeps two
// processes from writing to the same log directory.
package lock

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

// WriteLock is an exclusive, advisory lock on a file. Acquire and Release
// are idempotent within one WriteLock; a second WriteLock on the same path,
// in this process or another, fails to acquire while the first holds it.
type WriteLock struct {
	path  string
	owner string

	mu     sync.Mutex
	file   *os.File
	locked bool
}

// New returns an unlocked WriteLock for path. The file is created on the
// first Acquire.
func New(path string) *WriteLock {
	return &WriteLock{
		path:  path,
		owner: fmt.Sprintf("%s pid=%d", uuid.NewString(), os.Getpid()),
	}
}

// Path returns the lock file path.
func (l *WriteLock) Path() string {
	return l.path
}

// Owner returns the token written into the lock file while held.
func (l *WriteLock) Owner() string {
	return l.owner
}

// Acquire tries to take the lock without blocking. It returns false, and no
// error, when someone else holds it.
func (l *WriteLock) Acquire() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.locked {
		return true, nil
	}

	f, ok, err := tryLock(l.path)
	if err != nil || !ok {
		return false, err
	}

	// The owner token is informational; failing to write it does not
	// release the lock.
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(l.owner+"\n"), 0)
	}

	l.file = f
	l.locked = true
	return true, nil
}

// Release drops the lock. Releasing an unlocked WriteLock is a no-op.
func (l *WriteLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.locked {
		return nil
	}
	err := unlock(l.file)
	l.file = nil
	l.locked = false
	return err
}

// IsLocked reports whether this WriteLock currently holds the lock.
func (l *WriteLock) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

// ReadOwner returns the owner token recorded in a lock file, for
// diagnosing who holds a log.
func ReadOwner(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	for i, c := range data {
		if c == '\n' {
			return string(data[:i]), nil
		}
	}
	return string(data), nil
}
