package namedobj

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// mutexRetryDelay is the interval between non-blocking lock attempts while a
// bounded acquisition waits.
const mutexRetryDelay = 5 * time.Millisecond

// Acquisition describes how a mutex was granted.
type Acquisition int

const (
	// Acquired means the previous holder released the mutex normally.
	Acquired Acquisition = iota + 1
	// Abandoned means the previous holder exited while holding the mutex; the
	// mutex is granted but state it protected may be inconsistent.
	Abandoned
)

func (a Acquisition) String() string {
	switch a {
	case Acquired:
		return "acquired"
	case Abandoned:
		return "abandoned"
	default:
		return "none"
	}
}

// Mutex is a named exclusion object. One handle across all processes holds it
// at a time, and the kernel drops the hold when the holder exits.
type Mutex struct {
	name string
	path string

	mu   sync.Mutex
	lock *flock.Flock
	file *os.File
}

// CreateMutex creates or opens the named mutex. The handle starts unowned.
func (ns *Namespace) CreateMutex(name string) (*Mutex, error) {
	path, err := ns.objectPath(name, KindMutex.ext())
	if err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, classify("create mutex", name, err)
	}
	if err := file.Close(); err != nil {
		return nil, classify("create mutex", name, err)
	}
	return &Mutex{name: name, path: path}, nil
}

// Name returns the mutex's well-known name.
func (m *Mutex) Name() string { return m.name }

// Acquire waits up to timeout for ownership. A timeout <= 0 only tries once.
// Both a normal and an abandoned grant return a nil error; any other outcome
// (ErrTimeout, ctx cancellation, I/O failure) leaves the mutex unowned.
func (m *Mutex) Acquire(ctx context.Context, timeout time.Duration) (Acquisition, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lock != nil {
		return 0, fmt.Errorf("acquire mutex %s: already held by this handle", m.name)
	}

	lock := flock.New(m.path, flock.SetFlag(os.O_RDWR))
	var (
		ok  bool
		err error
	)
	if timeout <= 0 {
		ok, err = lock.TryLock()
	} else {
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		ok, err = lock.TryLockContext(waitCtx, mutexRetryDelay)
		cancel()
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = nil
		}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, classify("acquire mutex", m.name, err)
	}
	if !ok {
		return 0, fmt.Errorf("acquire mutex %s: %w", m.name, ErrTimeout)
	}

	file, err := os.OpenFile(m.path, os.O_RDWR, 0)
	if err != nil {
		_ = lock.Unlock()
		return 0, classify("open mutex", m.name, err)
	}
	previous, err := readOwner(file)
	if err != nil {
		_ = file.Close()
		_ = lock.Unlock()
		return 0, fmt.Errorf("read mutex %s owner: %w", m.name, err)
	}
	if err := writeOwner(file, strconv.Itoa(os.Getpid())); err != nil {
		_ = file.Close()
		_ = lock.Unlock()
		return 0, fmt.Errorf("record mutex %s owner: %w", m.name, err)
	}

	m.lock = lock
	m.file = file
	if previous != "" {
		return Abandoned, nil
	}
	return Acquired, nil
}

// Held reports whether this handle owns the mutex.
func (m *Mutex) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lock != nil
}

// Release clears the owner record and gives up ownership.
func (m *Mutex) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lock == nil {
		return fmt.Errorf("release mutex %s: not held", m.name)
	}
	recordErr := writeOwner(m.file, "")
	closeErr := m.file.Close()
	unlockErr := m.lock.Unlock()
	m.lock = nil
	m.file = nil
	return errors.Join(recordErr, closeErr, unlockErr)
}

// Close releases ownership if held. The mutex name stays valid.
func (m *Mutex) Close() error {
	if m.Held() {
		return m.Release()
	}
	return nil
}

func readOwner(file *os.File) (string, error) {
	buf := make([]byte, 32)
	n, err := file.ReadAt(buf, 0)
	if err != nil && n == 0 && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(string(buf[:n])), nil
}

func writeOwner(file *os.File, owner string) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if owner == "" {
		return file.Sync()
	}
	if _, err := file.WriteAt([]byte(owner+"\n"), 0); err != nil {
		return err
	}
	return file.Sync()
}
