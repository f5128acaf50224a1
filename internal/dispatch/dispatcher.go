// Package dispatch runs command handlers and foreground actions on a single
// goroutine, in the order they were posted.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"padbridge/internal/logging"
)

// ErrStopped is returned when work is offered to a dispatcher that is not running.
var ErrStopped = errors.New("dispatcher stopped")

// Dispatcher serializes closures onto one worker goroutine.
type Dispatcher struct {
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	pending []func()
	wake    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// New constructs an idle dispatcher; call Start before posting work.
func New(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logging.NewComponentLogger(logger, "dispatch"),
	}
}

// Start launches the worker goroutine. The worker exits when Stop is called
// or ctx is canceled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("dispatcher already running")
	}
	d.running = true
	d.pending = nil
	d.wake = make(chan struct{}, 1)
	d.done = make(chan struct{})
	d.wg.Add(1)
	wake, done := d.wake, d.done
	d.mu.Unlock()

	go d.run(ctx, wake, done)
	return nil
}

// Stop halts the worker and waits for the in-flight closure to return.
// Closures still queued are discarded.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	dropped := len(d.pending)
	d.pending = nil
	close(d.done)
	d.mu.Unlock()

	d.wg.Wait()
	if dropped > 0 {
		d.logger.Debug("dispatcher stopped with queued work", logging.Int("dropped", dropped))
	}
}

// Running reports whether the worker accepts new work.
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Post queues fn without waiting for it to run. It never blocks; it returns
// ErrStopped when the dispatcher is not running.
func (d *Dispatcher) Post(fn func()) error {
	if fn == nil {
		return errors.New("dispatch: nil closure")
	}
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ErrStopped
	}
	d.pending = append(d.pending, fn)
	wake := d.wake
	d.mu.Unlock()

	select {
	case wake <- struct{}{}:
	default:
	}
	return nil
}

// Do queues fn and blocks until it has run, ctx is done, or the dispatcher
// stops. It must not be called from inside a dispatched closure.
func (d *Dispatcher) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if err := d.Post(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		// The closure may have completed just before shutdown.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, wake <-chan struct{}, done <-chan struct{}) {
	defer d.wg.Done()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			d.mu.Lock()
			if d.done == done && d.running {
				d.running = false
				d.pending = nil
				close(d.done)
			}
			d.mu.Unlock()
			return
		case <-wake:
		}

		for {
			fn, ok := d.next(done)
			if !ok {
				break
			}
			d.invoke(fn)
		}
	}
}

func (d *Dispatcher) next(done <-chan struct{}) (func(), bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-done:
		return nil, false
	default:
	}
	if len(d.pending) == 0 {
		return nil, false
	}
	fn := d.pending[0]
	d.pending[0] = nil
	d.pending = d.pending[1:]
	return fn, true
}

func (d *Dispatcher) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(d.logger, "dispatched handler panicked", "dispatch_panic",
				logging.Error(fmt.Errorf("panic: %v", r)),
				logging.String(logging.FieldErrorHint, "inspect the handler named in preceding log lines"),
			)
		}
	}()
	fn()
}
