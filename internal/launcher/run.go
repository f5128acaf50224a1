package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"padbridge/internal/config"
	"padbridge/internal/instance"
	"padbridge/internal/logging"
	"padbridge/internal/namedobj"
	"padbridge/internal/preflight"
	"padbridge/internal/primary"
	"padbridge/internal/slotstore"
)

// RunOptions configures a plain launch.
type RunOptions struct {
	// Foreground is the primary's "come forward" action.
	Foreground func()
	// Ready, when set, receives the primary once it is serving.
	Ready func(*primary.Primary)
}

// RunResult describes what a plain launch did.
type RunResult struct {
	Role  instance.Role
	RunID string
}

// Run performs a plain launch: become the primary and serve until shutdown
// (a shutdown command, SIGINT/SIGTERM or ctx), or signal the running primary
// and return at once.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts RunOptions) (RunResult, error) {
	if cfg == nil {
		return RunResult{}, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return RunResult{}, err
	}
	if check := preflight.CheckRuntimeDir(cfg); !check.Passed {
		return RunResult{}, fmt.Errorf("runtime directory unusable: %s", check.Detail)
	}

	ns, err := namedobj.OpenNamespace(cfg.Paths.RuntimeDir)
	if err != nil {
		return RunResult{}, fmt.Errorf("open namespace: %w", err)
	}
	guard, role, err := instance.Acquire(ns, logger)
	if err != nil {
		return RunResult{}, err
	}
	if role == instance.RoleSecondary {
		return RunResult{Role: role}, nil
	}

	runID := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	signalCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := openStore(cfg, logger)
	if store != nil {
		defer store.Close()
	}

	p, err := primary.New(cfg, ns, guard, logger, primary.Options{
		Foreground: opts.Foreground,
		Store:      store,
		RunID:      runID,
	})
	if err != nil {
		_ = guard.Close()
		return RunResult{}, fmt.Errorf("create primary: %w", err)
	}
	if err := p.Start(signalCtx); err != nil {
		return RunResult{}, err
	}
	if opts.Ready != nil {
		opts.Ready(p)
	}

	select {
	case <-signalCtx.Done():
		logger.Info("padbridge primary shutting down", logging.String("reason", "signal"))
	case <-p.Done():
		logger.Info("padbridge primary shutting down", logging.String("reason", "shutdown command"))
	}
	if err := p.Close(); err != nil {
		logging.WarnWithContext(logger, "primary shutdown incomplete", "primary_close_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "named objects linger until no process holds them"))
	}
	return RunResult{Role: instance.RolePrimary, RunID: runID}, nil
}

func openStore(cfg *config.Config, logger *slog.Logger) *slotstore.Store {
	if !cfg.Slots.Persist {
		return nil
	}
	store, err := slotstore.Open(cfg.SlotStorePath())
	if err != nil {
		logging.WarnWithContext(logger, "slot store unavailable; assignments kept in memory", "slot_store_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "profile changes are lost on restart"),
			logging.String(logging.FieldErrorHint, "Check state_dir permissions or delete slots.db"))
		return nil
	}
	return store
}
