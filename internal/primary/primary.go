package primary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"padbridge/internal/config"
	"padbridge/internal/devicemon"
	"padbridge/internal/dispatch"
	"padbridge/internal/exchange"
	"padbridge/internal/instance"
	"padbridge/internal/ipc"
	"padbridge/internal/locator"
	"padbridge/internal/logging"
	"padbridge/internal/namedobj"
	"padbridge/internal/slotstore"
)

// Options configures optional collaborators.
type Options struct {
	// Foreground runs on the dispatch goroutine for "show" and for every
	// later launch that signals the instance guard.
	Foreground func()
	// Store persists slot assignments and the command journal. Nil keeps
	// state in memory only.
	Store *slotstore.Store
	// RunID tags every log record of this primary.
	RunID string
}

// Primary owns the slot table and services the command channel.
type Primary struct {
	cfg    *config.Config
	ns     *namedobj.Namespace
	guard  *instance.Guard
	logger *slog.Logger
	opts   Options

	dispatcher *dispatch.Dispatcher
	publisher  *locator.Publisher
	responder  *exchange.Responder
	server     *ipc.Server
	devices    *devicemon.Monitor

	// Owned by the dispatch goroutine.
	slots  *SlotTable
	active bool

	startedAt   time.Time
	handled     atomic.Int64
	foregrounds atomic.Int64

	mu       sync.Mutex
	started  bool
	closed   bool
	done     chan struct{}
	doneOnce sync.Once
}

// New builds a primary around an acquired guard; the primary takes
// ownership of guard and closes it in Close.
func New(cfg *config.Config, ns *namedobj.Namespace, guard *instance.Guard, logger *slog.Logger, opts Options) (*Primary, error) {
	if cfg == nil || ns == nil {
		return nil, errors.New("primary requires config and namespace")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.RunID != "" {
		logger = logging.WithRunID(logger, opts.RunID)
	}
	logger = logger.With(logging.String(logging.FieldRole, instance.RolePrimary.String()))

	p := &Primary{
		cfg:        cfg,
		ns:         ns,
		guard:      guard,
		logger:     logging.NewComponentLogger(logger, "primary"),
		opts:       opts,
		dispatcher: dispatch.New(logger),
		publisher:  locator.NewPublisher(ns, cfg.IPC.DisplayLabel, logger),
		responder:  exchange.NewResponder(ns, logger),
		slots:      NewSlotTable(cfg.Slots.Count, cfg.Slots.DefaultProfile, cfg.Slots.Profiles),
		active:     true,
		done:       make(chan struct{}),
	}
	p.devices = devicemon.New(cfg, logger, p.dispatcher.Post, p.onDevice)
	return p, nil
}

// Start brings the primary online. On failure everything already started is
// torn down again.
func (p *Primary) Start(ctx context.Context) (err error) {
	p.mu.Lock()
	if p.started || p.closed {
		p.mu.Unlock()
		return errors.New("primary already started")
	}
	p.started = true
	p.mu.Unlock()

	defer func() {
		if err != nil {
			_ = p.Close()
		}
	}()

	p.startedAt = time.Now()
	if err := p.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	if err := p.dispatcher.Do(ctx, func() { p.restoreSlots(ctx) }); err != nil {
		return fmt.Errorf("restore slots: %w", err)
	}

	if err := p.guard.Watch(p.dispatcher.Post, p.foreground); err != nil {
		return fmt.Errorf("watch instance guard: %w", err)
	}
	if !p.guard.Protected() {
		logging.WarnWithContext(p.logger, "running without instance protection", "instance_unprotected",
			logging.String(logging.FieldImpact, "later launches cannot wake this primary"))
	}

	token := locator.NewToken()
	socketPath := filepath.Join(p.ns.Dir(), locator.SocketName(p.cfg.IPC.DisplayLabel, token))
	server, err := ipc.NewServer(ctx, socketPath, p, p.dispatcher, p.logger, ipc.ServerOptions{
		MaxCommandLength: p.cfg.IPC.MaxCommandLength,
	})
	if err != nil {
		return fmt.Errorf("start command channel: %w", err)
	}
	p.mu.Lock()
	p.server = server
	p.mu.Unlock()
	server.Serve()

	if err := p.publisher.Publish(token); err != nil {
		return fmt.Errorf("publish endpoint: %w", err)
	}

	if err := p.devices.Start(ctx); err != nil {
		return fmt.Errorf("start device monitor: %w", err)
	}

	logging.CleanupOldLogs(p.logger, p.cfg.Logging.RetentionDays, logging.RetentionTarget{
		Dir:     p.cfg.Paths.LogDir,
		Pattern: "padbridge*.log",
		Keep:    []string{filepath.Join(p.cfg.Paths.LogDir, logging.LogFileName)},
	})
	if p.opts.Store != nil {
		if _, err := p.opts.Store.PruneJournal(ctx, 0); err != nil {
			logging.WarnWithContext(p.logger, "command journal prune failed", "journal_prune_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "the journal keeps growing until the next start"))
		}
	}

	p.logger.Info("primary ready",
		logging.String(logging.FieldEventType, "primary_ready"),
		logging.String("socket", socketPath),
		logging.Int("slots", p.slots.Len()),
		logging.Bool("protected", p.guard.Protected()),
		logging.Bool("hotplug", p.devices.Running()),
	)
	return nil
}

// Done is closed once a shutdown command has been handled.
func (p *Primary) Done() <-chan struct{} {
	return p.done
}

// Endpoint returns the published endpoint token.
func (p *Primary) Endpoint() string {
	return p.publisher.Token()
}

// Foregrounds counts foreground actions performed.
func (p *Primary) Foregrounds() int64 {
	return p.foregrounds.Load()
}

// Handled counts commands and queries handled.
func (p *Primary) Handled() int64 {
	return p.handled.Load()
}

// Slots returns a snapshot of the slot table, read on the dispatch goroutine.
func (p *Primary) Slots(ctx context.Context) ([]Slot, error) {
	var out []Slot
	if err := p.dispatcher.Do(ctx, func() { out = p.slots.All() }); err != nil {
		return nil, err
	}
	return out, nil
}

// Close stops the guard watcher, unpublishes the endpoint, closes the command
// channel and finally stops the dispatch goroutine. It is safe to call more
// than once.
func (p *Primary) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	server := p.server
	p.mu.Unlock()

	var errs []error
	if err := p.guard.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close instance guard: %w", err))
	}
	if err := p.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("unpublish endpoint: %w", err))
	}
	if server != nil {
		server.Close()
	}
	p.devices.Stop()
	p.dispatcher.Stop()
	p.requestShutdown()

	p.logger.Info("primary stopped",
		logging.String(logging.FieldEventType, "primary_stopped"),
		logging.Int("handled", int(p.handled.Load())),
		logging.Duration("uptime", time.Since(p.startedAt).Round(time.Millisecond)),
	)
	return errors.Join(errs...)
}

func (p *Primary) requestShutdown() {
	p.doneOnce.Do(func() { close(p.done) })
}

// foreground runs on the dispatch goroutine.
func (p *Primary) foreground() {
	p.foregrounds.Add(1)
	p.logger.Info("bringing primary to the foreground",
		logging.String(logging.FieldEventType, "primary_foreground"))
	if p.opts.Foreground != nil {
		p.opts.Foreground()
	}
}

// restoreSlots applies stored assignments over the configured profiles.
func (p *Primary) restoreSlots(ctx context.Context) {
	if p.opts.Store == nil {
		return
	}
	assignments, err := p.opts.Store.Assignments(ctx)
	if err != nil {
		logging.WarnWithContext(p.logger, "failed to restore slot assignments", "slot_restore_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "slots start with configured profiles"),
			logging.String(logging.FieldErrorHint, "Delete slots.db in state_dir if it is corrupt"))
		return
	}
	restored := 0
	for _, a := range assignments {
		if err := p.slots.LoadProfile(a.Slot, a.Profile); err != nil {
			p.logger.Debug("skipping stored assignment", logging.Slot(a.Slot), logging.Error(err))
			continue
		}
		restored++
	}
	if restored > 0 {
		p.logger.Info("slot assignments restored", logging.Int("count", restored))
	}
}

func (p *Primary) persist(ctx context.Context, slots ...Slot) {
	if p.opts.Store == nil {
		return
	}
	for _, s := range slots {
		if err := p.opts.Store.SaveAssignment(ctx, s.Index, s.Profile); err != nil {
			logging.WarnWithContext(p.logger, "failed to persist slot assignment", "slot_persist_failed",
				logging.Slot(s.Index),
				logging.Error(err),
				logging.String(logging.FieldImpact, "the assignment is lost on restart"))
		}
	}
}

func (p *Primary) journal(ctx context.Context, cmd ipc.Command, outcome slotstore.Outcome, detail string) {
	if p.opts.Store == nil {
		return
	}
	entry := slotstore.JournalEntry{Verb: cmd.Verb, Payload: cmd.Raw, Outcome: outcome, Detail: detail}
	if err := p.opts.Store.RecordCommand(ctx, entry); err != nil {
		p.logger.Debug("command journal write failed", logging.Error(err))
	}
}
