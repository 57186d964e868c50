// Package lock provides the advisory run lock that keeps two runs from
// writing to the same destination at once.
package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/withObsrvr/retail-sync/internal/storage"
)

// ErrBusy is returned when another holder owns the lock.
var ErrBusy = errors.New("run lock held by another process")

// RunLock is a non-blocking, non-queuing lock file for one destination.
type RunLock struct {
	fl   *flock.Flock
	path string
}

// Path returns the lock file used for destination inside dir. Every
// spelling of the same destination maps to the same file.
func Path(dir, destination string) string {
	if canonical, err := storage.CanonicalDestination(destination); err == nil {
		destination = canonical
	}
	sum := sha256.Sum256([]byte(destination))
	return filepath.Join(dir, "retail-sync-"+hex.EncodeToString(sum[:8])+".lock")
}

// TryAcquire takes the lock for destination or returns ErrBusy at once.
func TryAcquire(dir, destination string) (*RunLock, error) {
	if _, err := storage.CanonicalDestination(destination); err != nil {
		return nil, err
	}
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create lock directory %s: %w", dir, err)
	}

	p := Path(dir, destination)
	fl := flock.New(p)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", p, err)
	}
	if !ok {
		return nil, ErrBusy
	}
	return &RunLock{fl: fl, path: p}, nil
}

// Path returns the lock file path.
func (l *RunLock) Path() string {
	return l.path
}

// Release unlocks. The lock file itself is left in place so that a waiting
// process never races on its creation.
func (l *RunLock) Release() error {
	return l.fl.Unlock()
}
