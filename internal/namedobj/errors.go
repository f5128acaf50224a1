package namedobj

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

var (
	// ErrNotFound indicates the named object does not exist or has no live holders.
	ErrNotFound = errors.New("named object not found")
	// ErrExists indicates an exclusive create found a live object under the name.
	ErrExists = errors.New("named object already exists")
	// ErrPermission indicates the caller lacks rights on the named object.
	ErrPermission = errors.New("named object access denied")
	// ErrTimeout indicates a bounded wait elapsed before the object was granted or signaled.
	ErrTimeout = errors.New("named object wait timed out")
	// ErrClosed indicates the handle was already released.
	ErrClosed = errors.New("named object handle closed")
	// ErrInvalidName indicates the name contains characters outside [A-Za-z0-9._-].
	ErrInvalidName = errors.New("invalid named object name")
)

// classify maps filesystem errors onto the package sentinels while keeping the
// original error in the chain.
func classify(op, name string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s %s: %w: %w", op, name, ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EPERM):
		return fmt.Errorf("%s %s: %w: %w", op, name, ErrPermission, err)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%s %s: %w: %w", op, name, ErrExists, err)
	}
	return fmt.Errorf("%s %s: %w", op, name, err)
}
