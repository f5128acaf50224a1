// Package exchange carries a query answer from the primary back to the
// client that asked.
//
// A query holds the global result mutex for its whole round trip, so at most
// one query is ever in flight. Inside that window the client creates the
// result region and an auto-reset ready event, sends "query.<resource>" over
// the command channel and waits for the primary's Responder to fill the region
// and signal. Every step is bounded; a missing or slow primary yields an empty
// answer, never a hang.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"padbridge/internal/ipc"
	"padbridge/internal/logging"
	"padbridge/internal/namedobj"
)

// Well-known result object names.
const (
	MutexName  = "result.mutex"
	RegionName = "result.data"
	EventName  = "result.ready"
	// ResultSize is the result region capacity, including the NUL terminator.
	ResultSize = 256
)

// Default bounds for each blocking step of a query.
const (
	DefaultExclusionTimeout = 10 * time.Second
	DefaultNotifyTimeout    = 10 * time.Second
)

var (
	// ErrBusy reports that the result mutex could not be acquired in time.
	ErrBusy = errors.New("another query is in progress")
	// ErrNoAnswer reports that the primary did not signal an answer in time.
	ErrNoAnswer = errors.New("no answer from primary")
)

// Sender delivers a command payload to the primary.
type Sender interface {
	Send(ctx context.Context, command string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, command string) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, command string) error {
	return f(ctx, command)
}

// Options bounds the blocking steps of a query.
type Options struct {
	ExclusionTimeout time.Duration
	NotifyTimeout    time.Duration
}

// Result describes one completed query.
type Result struct {
	Answer string
	// Abandoned is set when the previous mutex holder died mid-query.
	Abandoned bool
}

// Client issues queries against the primary.
type Client struct {
	ns     *namedobj.Namespace
	sender Sender
	opts   Options
	logger *slog.Logger
}

// NewClient builds a query client. Zero timeouts select the defaults.
func NewClient(ns *namedobj.Namespace, sender Sender, opts Options, logger *slog.Logger) *Client {
	if opts.ExclusionTimeout <= 0 {
		opts.ExclusionTimeout = DefaultExclusionTimeout
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = DefaultNotifyTimeout
	}
	return &Client{
		ns:     ns,
		sender: sender,
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "exchange"),
	}
}

// Query returns the primary's answer for resource, or "" when the query
// could not complete for any reason.
func (c *Client) Query(ctx context.Context, resource string) string {
	res, err := c.Ask(ctx, resource)
	if err != nil {
		c.logger.Debug("query returned no answer",
			logging.String(logging.FieldResource, resource),
			logging.Error(err))
		return ""
	}
	return res.Answer
}

// queryToken is every handle one query owns; release closes all of them.
type queryToken struct {
	mutex  *namedobj.Mutex
	region *namedobj.Region
	event  *namedobj.Event
}

func (t *queryToken) release() error {
	var errs []error
	if t.region != nil {
		errs = append(errs, t.region.Close())
	}
	if t.event != nil {
		errs = append(errs, t.event.Close())
	}
	if t.mutex != nil {
		errs = append(errs, t.mutex.Close())
	}
	return errors.Join(errs...)
}

// Ask performs one query round trip and reports why it failed when it does.
func (c *Client) Ask(ctx context.Context, resource string) (Result, error) {
	if resource == "" {
		return Result{}, errors.New("query resource is required")
	}
	payload := ipc.QueryPrefix + resource

	token := &queryToken{}
	defer func() {
		if err := token.release(); err != nil {
			logging.WarnWithContext(c.logger, "failed to release query handles", "query_release_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "result objects linger until this process exits"))
		}
	}()

	mutex, err := c.ns.CreateMutex(MutexName)
	if err != nil {
		return Result{}, fmt.Errorf("open result mutex: %w", err)
	}
	token.mutex = mutex

	acq, err := mutex.Acquire(ctx, c.opts.ExclusionTimeout)
	if err != nil {
		if errors.Is(err, namedobj.ErrTimeout) {
			return Result{}, fmt.Errorf("%w: waited %s", ErrBusy, c.opts.ExclusionTimeout)
		}
		return Result{}, fmt.Errorf("acquire result mutex: %w", err)
	}
	var res Result
	if acq == namedobj.Abandoned {
		res.Abandoned = true
		logging.WarnWithContext(c.logger, "previous query holder exited without releasing", "query_mutex_abandoned",
			logging.String(logging.FieldImpact, "the earlier query was lost; this one proceeds"),
			logging.String(logging.FieldErrorHint, "Check for crashed padbridge client processes"))
	}

	region, err := c.ns.CreateRegion(RegionName, ResultSize)
	if err != nil {
		return Result{}, fmt.Errorf("create result region: %w", err)
	}
	token.region = region
	event, err := c.ns.CreateEvent(EventName, namedobj.AutoReset)
	if err != nil {
		return Result{}, fmt.Errorf("create result event: %w", err)
	}
	token.event = event
	if !region.Created() || !event.Created() {
		// A responder from an earlier, timed-out query may still hold them.
		_, _ = region.Write(nil)
		_ = event.Reset()
	}

	// Delivery and the wait for the answer share one notification budget.
	answerCtx, cancel := context.WithTimeout(ctx, c.opts.NotifyTimeout)
	defer cancel()
	answerDeadline, _ := answerCtx.Deadline()
	noAnswer := func(err error) bool {
		if errors.Is(err, namedobj.ErrTimeout) {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		return answerCtx.Err() != nil || !time.Now().Before(answerDeadline)
	}

	if err := c.sender.Send(answerCtx, payload); err != nil {
		if noAnswer(err) {
			return Result{}, fmt.Errorf("%w: delivery exceeded %s: %v", ErrNoAnswer, c.opts.NotifyTimeout, err)
		}
		return Result{}, fmt.Errorf("send query: %w", err)
	}

	if err := event.Wait(answerCtx, 0); err != nil {
		if noAnswer(err) {
			return Result{}, fmt.Errorf("%w: waited %s", ErrNoAnswer, c.opts.NotifyTimeout)
		}
		return Result{}, fmt.Errorf("wait for answer: %w", err)
	}

	buf := make([]byte, min(region.Size(), ResultSize))
	n, err := region.Read(buf)
	if err != nil {
		return Result{}, fmt.Errorf("read result: %w", err)
	}
	res.Answer = Decode(buf[:n])
	return res, nil
}

// Responder publishes answers for the client currently holding the result mutex.
type Responder struct {
	ns     *namedobj.Namespace
	logger *slog.Logger
}

// NewResponder returns a Responder for the namespace.
func NewResponder(ns *namedobj.Namespace, logger *slog.Logger) *Responder {
	return &Responder{ns: ns, logger: logging.NewComponentLogger(logger, "exchange")}
}

// Respond writes answer into the client's result region (at most
// ResultSize-1 bytes plus a NUL) and signals the ready event once. A client
// that has already gone away makes this a silent no-op.
func (r *Responder) Respond(answer string) error {
	region, err := r.ns.OpenRegion(RegionName)
	if err != nil && !absent(err) {
		return fmt.Errorf("open result region: %w", err)
	}
	event, evErr := r.ns.OpenEvent(EventName)
	if evErr != nil && !absent(evErr) {
		if region != nil {
			_ = region.Close()
		}
		return fmt.Errorf("open result event: %w", evErr)
	}

	var errs []error
	if region != nil {
		if _, err := region.Write(Encode(answer, min(region.Size(), ResultSize))); err != nil {
			errs = append(errs, fmt.Errorf("write result: %w", err))
		}
		errs = append(errs, region.Close())
	}
	if event != nil {
		if err := event.Set(); err != nil {
			errs = append(errs, fmt.Errorf("signal result: %w", err))
		}
		errs = append(errs, event.Close())
	}
	if region == nil && event == nil {
		r.logger.Debug("query client gone; answer dropped")
	}
	return errors.Join(errs...)
}

func absent(err error) bool {
	return errors.Is(err, namedobj.ErrNotFound) || errors.Is(err, namedobj.ErrPermission)
}
