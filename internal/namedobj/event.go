package namedobj

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
)

// ResetMode selects how a signaled event returns to the unsignaled state.
type ResetMode byte

const (
	// ManualReset events stay signaled until Reset is called.
	ManualReset ResetMode = 'm'
	// AutoReset events are reset by the first waiter that observes the signal.
	AutoReset ResetMode = 'a'
)

const (
	eventUnsignaled byte = '0'
	eventSignaled   byte = '1'

	eventStateOffset = 0
	eventModeOffset  = 1
)

// Event is a named notification object: settable, waitable and resettable.
type Event struct {
	ns       *Namespace
	name     string
	path     string
	lockPath string
	holder   *flock.Flock
	created  bool
	mode     ResetMode

	mu   sync.Mutex
	file *os.File
}

// CreateEvent creates the named event in the unsignaled state, or opens it
// when a live event already exists. An existing event keeps its creator's mode.
func (ns *Namespace) CreateEvent(name string, mode ResetMode) (*Event, error) {
	return ns.createEvent(name, mode, false)
}

// CreateNewEvent creates the named event and fails with ErrExists when a live
// event already exists.
func (ns *Namespace) CreateNewEvent(name string, mode ResetMode) (*Event, error) {
	return ns.createEvent(name, mode, true)
}

// OpenEvent opens an existing live event.
func (ns *Namespace) OpenEvent(name string) (*Event, error) {
	path, err := ns.objectPath(name, KindEvent.ext())
	if err != nil {
		return nil, err
	}
	var event *Event
	err = ns.locked(func() error {
		holder, _, attachErr := ns.attach(path, false, false, nil)
		if attachErr != nil {
			return attachErr
		}
		event, attachErr = ns.openEventFile(name, path, holder, false)
		return attachErr
	})
	return event, err
}

func (ns *Namespace) createEvent(name string, mode ResetMode, exclusive bool) (*Event, error) {
	if mode != ManualReset && mode != AutoReset {
		return nil, fmt.Errorf("event %s: unknown reset mode %q", name, mode)
	}
	path, err := ns.objectPath(name, KindEvent.ext())
	if err != nil {
		return nil, err
	}
	var event *Event
	err = ns.locked(func() error {
		holder, created, attachErr := ns.attach(path, true, exclusive, func(f *os.File) error {
			_, writeErr := f.Write([]byte{eventUnsignaled, byte(mode)})
			return writeErr
		})
		if attachErr != nil {
			return attachErr
		}
		event, attachErr = ns.openEventFile(name, path, holder, created)
		return attachErr
	})
	return event, err
}

func (ns *Namespace) openEventFile(name, path string, holder *flock.Flock, created bool) (*Event, error) {
	fail := func(err error) (*Event, error) {
		_ = holder.Unlock()
		_, _ = ns.live(path)
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fail(classify("open event", name, err))
	}
	header := make([]byte, 2)
	if _, err := file.ReadAt(header, 0); err != nil {
		_ = file.Close()
		return fail(fmt.Errorf("read event %s header: %w", name, err))
	}
	mode := ResetMode(header[eventModeOffset])
	if mode != ManualReset && mode != AutoReset {
		_ = file.Close()
		return fail(fmt.Errorf("event %s: corrupt reset mode %q", name, mode))
	}
	return &Event{
		ns:       ns,
		name:     name,
		path:     path,
		lockPath: path + stateLockSuffix,
		holder:   holder,
		created:  created,
		mode:     mode,
		file:     file,
	}, nil
}

// Name returns the event's well-known name.
func (e *Event) Name() string { return e.name }

// Created reports whether this handle created the event.
func (e *Event) Created() bool { return e.created }

// Mode returns the reset mode chosen by the event's creator.
func (e *Event) Mode() ResetMode { return e.mode }

// Set signals the event.
func (e *Event) Set() error {
	return e.transition(func(byte) (byte, bool) { return eventSignaled, true })
}

// Reset returns the event to the unsignaled state.
func (e *Event) Reset() error {
	return e.transition(func(byte) (byte, bool) { return eventUnsignaled, true })
}

// IsSet reports the current state without consuming an auto-reset signal.
func (e *Event) IsSet() (bool, error) {
	var signaled bool
	err := e.transition(func(state byte) (byte, bool) {
		signaled = state == eventSignaled
		return state, false
	})
	return signaled, err
}

// consume reports whether the event is signaled, resetting it first when the
// event is auto-reset.
func (e *Event) consume() (bool, error) {
	var signaled bool
	err := e.transition(func(state byte) (byte, bool) {
		signaled = state == eventSignaled
		if signaled && e.mode == AutoReset {
			return eventUnsignaled, true
		}
		return state, false
	})
	return signaled, err
}

// transition applies fn to the state byte under the per-event state lock.
func (e *Event) transition(fn func(state byte) (next byte, write bool)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.file == nil {
		return ErrClosed
	}
	lock := flock.New(e.lockPath, flock.SetPermissions(0o600))
	if err := lock.Lock(); err != nil {
		return classify("lock event", e.name, err)
	}
	defer func() { _ = lock.Unlock() }()

	state := make([]byte, 1)
	if _, err := e.file.ReadAt(state, eventStateOffset); err != nil {
		return fmt.Errorf("read event %s: %w", e.name, err)
	}
	next, write := fn(state[0])
	if !write {
		return nil
	}
	if _, err := e.file.WriteAt([]byte{next}, eventStateOffset); err != nil {
		return fmt.Errorf("write event %s: %w", e.name, err)
	}
	return nil
}

// Wait blocks until the event is signaled, the timeout elapses (ErrTimeout) or
// ctx is done. A timeout <= 0 waits without a bound. Waiters block on inotify
// write notifications for the event file rather than polling.
func (e *Event) Wait(ctx context.Context, timeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch event %s: %w", e.name, err)
	}
	defer watcher.Close()
	if err := watcher.Add(e.path); err != nil {
		return classify("watch event", e.name, err)
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		signaled, err := e.consume()
		if err != nil {
			return err
		}
		if signaled {
			return nil
		}
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watch event %s: watcher closed", e.name)
			}
			if evt.Has(fsnotify.Remove) {
				return fmt.Errorf("wait event %s: %w", e.name, ErrNotFound)
			}
		case watchErr, ok := <-watcher.Errors:
			if ok && watchErr != nil && !errors.Is(watchErr, fsnotify.ErrEventOverflow) {
				return fmt.Errorf("watch event %s: %w", e.name, watchErr)
			}
		case <-deadline:
			return fmt.Errorf("wait event %s: %w", e.name, ErrTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close releases this handle. The event is reclaimed once every handle across
// all processes is closed.
func (e *Event) Close() error {
	e.mu.Lock()
	file := e.file
	e.file = nil
	e.mu.Unlock()
	if file == nil {
		return nil
	}
	closeErr := file.Close()
	detachErr := e.ns.detach(e.path, e.holder)
	if closeErr != nil {
		return classify("close event", e.name, closeErr)
	}
	return detachErr
}
