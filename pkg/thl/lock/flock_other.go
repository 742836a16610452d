//go:build !unix

package lock

import (
	"errors"
	"fmt"
	"os"
)

// tryLock falls back to exclusive creation where flock is unavailable. A
// stale lock file left by a crashed writer has to be removed by hand.
func tryLock(path string) (*os.File, bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err == nil {
		return f, true, nil
	}
	if errors.Is(err, os.ErrExist) {
		return nil, false, nil
	}
	return nil, false, fmt.Errorf("create lock file %s: %w", path, err)
}

func unlock(f *os.File) error {
	name := f.Name()
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}
