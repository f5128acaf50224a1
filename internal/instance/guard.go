// Package instance enforces a single primary per namespace and lets later
// launches wake it.
//
// The guard is a manual-reset named event. Whoever creates it is the primary
// and keeps the handle for its lifetime; a later launch that can open it
// signals it and exits. The primary's watcher goroutine turns each signal into
// a "bring to foreground" action posted onto the dispatcher.
package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"padbridge/internal/logging"
	"padbridge/internal/namedobj"
)

// SignalName is the well-known guard event.
const SignalName = "instance.signal"

// Role is the outcome of Acquire.
type Role int

const (
	// RolePrimary means this process owns the guard and must serve commands.
	RolePrimary Role = iota + 1
	// RoleSecondary means another primary was running and has been signaled.
	RoleSecondary
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleSecondary:
		return "secondary"
	default:
		return "unknown"
	}
}

// Guard is the primary's hold on the instance signal.
type Guard struct {
	logger *slog.Logger
	event  *namedobj.Event

	stopping atomic.Bool
	wakes    atomic.Int64

	mu       sync.Mutex
	watching bool
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool
}

// Acquire determines this process's role. A secondary launch signals the
// running primary exactly once and returns a nil Guard. A primary receives a
// Guard that must be closed on shutdown.
//
// Permission errors fail open: the process runs as primary, accepting that a
// second primary may start alongside one it cannot see.
func Acquire(ns *namedobj.Namespace, logger *slog.Logger) (*Guard, Role, error) {
	logger = logging.NewComponentLogger(logger, "instance")

	role, err := signalExisting(ns, logger)
	if err != nil || role == RoleSecondary {
		return nil, role, err
	}

	event, err := ns.CreateNewEvent(SignalName, namedobj.ManualReset)
	switch {
	case err == nil:
		logger.Debug("instance guard created", logging.String(logging.FieldRole, RolePrimary.String()))
		return &Guard{logger: logger, event: event}, RolePrimary, nil
	case errors.Is(err, namedobj.ErrExists):
		// Another launch created the guard between our open and create.
		role, err := signalExisting(ns, logger)
		if err != nil {
			return nil, 0, err
		}
		if role == RoleSecondary {
			return nil, RoleSecondary, nil
		}
		return nil, 0, errors.New("instance guard vanished while starting")
	case errors.Is(err, namedobj.ErrPermission):
		logging.WarnWithContext(logger, "instance guard unavailable; running without single-instance protection", "instance_guard_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "a second primary could start alongside this one"),
			logging.String(logging.FieldErrorHint, "Check ownership of the runtime directory"))
		return &Guard{logger: logger}, RolePrimary, nil
	default:
		return nil, 0, fmt.Errorf("create instance guard: %w", err)
	}
}

// signalExisting opens and signals a live guard. It returns RolePrimary when
// there is no guard to signal.
func signalExisting(ns *namedobj.Namespace, logger *slog.Logger) (Role, error) {
	event, err := ns.OpenEvent(SignalName)
	switch {
	case err == nil:
	case errors.Is(err, namedobj.ErrNotFound):
		return RolePrimary, nil
	case errors.Is(err, namedobj.ErrPermission):
		logging.WarnWithContext(logger, "instance guard not readable; assuming no primary", "instance_guard_denied",
			logging.Error(err),
			logging.String(logging.FieldImpact, "a second primary could start alongside an existing one"),
			logging.String(logging.FieldErrorHint, "Check ownership of the runtime directory"))
		return RolePrimary, nil
	default:
		return 0, fmt.Errorf("open instance guard: %w", err)
	}
	defer event.Close()
	if err := event.Set(); err != nil {
		return 0, fmt.Errorf("signal running primary: %w", err)
	}
	logger.Info("primary already running; signaled it to come forward",
		logging.String(logging.FieldRole, RoleSecondary.String()))
	return RoleSecondary, nil
}

// Protected reports whether the guard holds the named event. A fail-open
// guard does not.
func (g *Guard) Protected() bool {
	return g != nil && g.event != nil
}

// Wakes counts signals the watcher has turned into foreground actions.
func (g *Guard) Wakes() int64 {
	if g == nil {
		return 0
	}
	return g.wakes.Load()
}

// Watch starts the watcher goroutine. Each time a later launch signals the
// guard, the watcher resets it and hands action to post, unless the guard is
// stopping. Watch is a no-op for an unprotected guard.
func (g *Guard) Watch(post func(func()) error, action func()) error {
	if post == nil || action == nil {
		return errors.New("instance watch requires post and action")
	}
	if !g.Protected() {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return namedobj.ErrClosed
	}
	if g.watching {
		return errors.New("instance guard already watched")
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.watching = true
	g.cancel = cancel
	g.done = make(chan struct{})
	go g.watch(ctx, post, action)
	return nil
}

func (g *Guard) watch(ctx context.Context, post func(func()) error, action func()) {
	defer close(g.done)
	for {
		if err := g.event.Wait(ctx, 0); err != nil {
			if g.stopping.Load() || ctx.Err() != nil {
				return
			}
			logging.ErrorWithContext(g.logger, "instance watcher stopped", "instance_watch_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "Restart padbridge to restore foreground activation"))
			return
		}
		if err := g.event.Reset(); err != nil {
			logging.WarnWithContext(g.logger, "failed to reset instance guard", "instance_reset_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "the next launch may not wake the primary"))
		}
		if g.stopping.Load() {
			return
		}
		g.wakes.Add(1)
		g.logger.Debug("secondary launch signaled primary")
		if err := post(action); err != nil {
			logging.WarnWithContext(g.logger, "foreground action not queued", "instance_post_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "the interface was not brought forward"))
		}
	}
}

// Close stops the watcher and releases the guard: it raises the stop flag,
// signals the event so the watcher wakes, joins it, then closes the handle.
func (g *Guard) Close() error {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	watching, cancel, done := g.watching, g.cancel, g.done
	g.mu.Unlock()

	g.stopping.Store(true)
	if watching {
		if err := g.event.Set(); err != nil {
			cancel()
		}
		<-done
		cancel()
	}
	if g.event == nil {
		return nil
	}
	return g.event.Close()
}
