// Package lockhelper serializes purge runs across processes with a lock file.
package lockhelper

import (
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/nightlyone/lockfile"
	"github.com/pkg/errors"
)

// ErrBusy is returned when another process holds the run lock.
var ErrBusy = errors.New("another purge run holds the lock")

// FilePath resolves name to the absolute path lockfile requires.
func FilePath(name string) (string, error) {
	if filepath.IsAbs(name) {
		return name, nil
	}
	abs, err := filepath.Abs(name)
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve lock path %s", name)
	}
	return abs, nil
}

// Acquire takes the lock at path without waiting.
func Acquire(path string) (lockfile.Lockfile, error) {
	abs, err := FilePath(path)
	if err != nil {
		return "", err
	}
	mutex, err := lockfile.New(abs)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create lock %s", abs)
	}
	if err := mutex.TryLock(); err != nil {
		if errors.Is(err, lockfile.ErrBusy) {
			return "", errors.Wrapf(ErrBusy, "lock %s", abs)
		}
		return "", errors.Wrapf(err, "failed to acquire lock %s", abs)
	}
	return mutex, nil
}

// MutexUnlock releases mutex and folds any release failure into err.
func MutexUnlock(mutex lockfile.Lockfile, err error) error {
	mxErr := mutex.Unlock()
	if mxErr != nil {
		mxErr = errors.Wrapf(mxErr, "failed to release run lock")
	}
	if err == nil {
		return mxErr
	}
	if mxErr == nil {
		return err
	}
	return multierror.Flatten(multierror.Append(err, mxErr))
}
