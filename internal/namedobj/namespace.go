package namedobj

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/gofrs/flock"
)

const (
	namespaceLockName = ".namespace.lock"
	// stateLockSuffix names the sidecar lock serializing an object's state changes.
	stateLockSuffix = ".lock"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Namespace is a directory of named objects shared by every process that opens it.
type Namespace struct {
	dir      string
	lockPath string
}

// OpenNamespace prepares dir as a namespace, creating it with owner-only
// permissions when it does not exist.
func OpenNamespace(dir string) (*Namespace, error) {
	if dir == "" {
		return nil, errors.New("namespace directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve namespace directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, classify("create namespace", abs, err)
	}
	return &Namespace{dir: abs, lockPath: filepath.Join(abs, namespaceLockName)}, nil
}

// Dir returns the absolute namespace directory.
func (ns *Namespace) Dir() string {
	return ns.dir
}

func (ns *Namespace) objectPath(name, ext string) (string, error) {
	if !validName.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(ns.dir, name+ext), nil
}

// locked runs fn while holding the namespace metadata lock. A fresh flock is
// used per call so goroutines of one process exclude each other as well.
func (ns *Namespace) locked(fn func() error) error {
	lock := flock.New(ns.lockPath, flock.SetPermissions(0o600))
	if err := lock.Lock(); err != nil {
		return classify("lock namespace", ns.dir, err)
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}

// attach returns a shared holder lock on the object file at path. Stale files
// (no live holder) are removed first. When create is set and the object is
// absent, initialize populates a freshly created file. Must be called under
// the namespace lock.
func (ns *Namespace) attach(path string, create, exclusive bool, initialize func(*os.File) error) (*flock.Flock, bool, error) {
	name := filepath.Base(path)
	exists, err := ns.live(path)
	if err != nil {
		return nil, false, err
	}
	if exists && exclusive {
		return nil, false, fmt.Errorf("create %s: %w", name, ErrExists)
	}
	created := false
	if !exists {
		if !create {
			return nil, false, fmt.Errorf("open %s: %w", name, ErrNotFound)
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
		if err != nil {
			return nil, false, classify("create", name, err)
		}
		if initialize != nil {
			if err := initialize(file); err != nil {
				_ = file.Close()
				_ = os.Remove(path)
				return nil, false, fmt.Errorf("initialize %s: %w", name, err)
			}
		}
		if err := file.Close(); err != nil {
			_ = os.Remove(path)
			return nil, false, classify("create", name, err)
		}
		created = true
	}

	holder := flock.New(path, flock.SetFlag(os.O_RDWR))
	ok, err := holder.TryRLock()
	if err != nil {
		if created {
			_ = os.Remove(path)
		}
		return nil, false, classify("hold", name, err)
	}
	if !ok {
		if created {
			_ = os.Remove(path)
		}
		return nil, false, fmt.Errorf("hold %s: object is being reclaimed", name)
	}
	return holder, created, nil
}

// live reports whether the object file exists and at least one handle holds
// it. Files left behind by crashed holders are reclaimed.
func (ns *Namespace) live(path string) (bool, error) {
	name := filepath.Base(path)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, classify("stat", name, err)
	}
	probe := flock.New(path, flock.SetFlag(os.O_RDWR))
	ok, err := probe.TryLock()
	if err != nil {
		return false, classify("probe", name, err)
	}
	if !ok {
		return true, nil
	}
	_ = os.Remove(path)
	_ = os.Remove(path + stateLockSuffix)
	_ = probe.Unlock()
	return false, nil
}

// detach releases a holder lock and removes the object file when no other
// handle still holds it.
func (ns *Namespace) detach(path string, holder *flock.Flock) error {
	return ns.locked(func() error {
		if err := holder.Unlock(); err != nil {
			return classify("release", filepath.Base(path), err)
		}
		_, err := ns.live(path)
		return err
	})
}

// Exists reports whether a live object with the given name and kind is present.
// Mutex files persist once created, so for KindMutex this only reports that
// the name has been used.
func (ns *Namespace) Exists(name string, kind Kind) (bool, error) {
	path, err := ns.objectPath(name, kind.ext())
	if err != nil {
		return false, err
	}
	if kind == KindMutex {
		_, statErr := os.Stat(path)
		if errors.Is(statErr, fs.ErrNotExist) {
			return false, nil
		}
		return statErr == nil, classify("stat", name, statErr)
	}
	var exists bool
	err = ns.locked(func() error {
		var liveErr error
		exists, liveErr = ns.live(path)
		return liveErr
	})
	return exists, err
}

// Kind identifies the type of a named object.
type Kind int

const (
	KindRegion Kind = iota
	KindEvent
	KindMutex
)

func (k Kind) ext() string {
	switch k {
	case KindEvent:
		return ".evt"
	case KindMutex:
		return ".mutex"
	default:
		return ".shm"
	}
}

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindMutex:
		return "mutex"
	default:
		return "region"
	}
}
