// Package lock guards an experiment directory against concurrent pipeline runs.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"
)

// FileName is the lock file created inside the experiment directory.
const FileName = ".cbdistill.lock"

// ErrBusy is returned when another run holds the lock past the timeout.
var ErrBusy = errors.New("experiment directory is in use by another run")

// Lock is a held experiment-directory lock.
type Lock struct {
	fl *flock.Flock
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.fl.Path() }

// Release unlocks the experiment directory. The lock file is left in place.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}

// Acquire takes the exclusive lock of dir, polling until timeout elapses.
// A timeout of zero or less tries once and fails with ErrBusy if the lock is
// held.
func Acquire(dir string, timeout time.Duration) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName)
	fl := flock.New(path)

	var bo backoff.BackOff = &backoff.StopBackOff{}
	if timeout > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 100 * time.Millisecond
		exp.MaxInterval = time.Second
		exp.MaxElapsedTime = timeout
		bo = exp
	}

	op := func() error {
		locked, err := fl.TryLock()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("cannot acquire lock %s: %w", path, err))
		}
		if !locked {
			return ErrBusy
		}
		return nil
	}
	if err := backoff.Retry(op, bo); err != nil {
		if errors.Is(err, ErrBusy) {
			return nil, fmt.Errorf("%w (lock: %s)", ErrBusy, path)
		}
		return nil, err
	}
	return &Lock{fl: fl}, nil
}
