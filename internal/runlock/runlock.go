// Package runlock guards the persistent-state directory with an
// exclusive, non-blocking advisory file lock. Only one cycle may ever
// run against a given state directory; a second invocation must exit
// immediately without touching any state file.
package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrHeld is returned when another instance already holds the lock.
var ErrHeld = errors.New("runlock: another instance is running")

type Lock struct {
	fl *flock.Flock
}

// Acquire takes the lock or fails fast. It never blocks waiting.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("runlock: mkdir: %w", err)
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("runlock: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}
