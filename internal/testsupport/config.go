package testsupport

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"padbridge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The runtime directory lives directly under the system temp dir so socket
// paths stay under the kernel's sun_path limit.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	runtimeDir, err := os.MkdirTemp("", "pb-")
	if err != nil {
		t.Fatalf("create runtime dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(runtimeDir) })

	cfgVal := config.Default()
	cfgVal.Paths.RuntimeDir = runtimeDir
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.IPC.ExclusionTimeoutMS = 2000
	cfgVal.IPC.NotifyTimeoutMS = 2000
	cfgVal.Slots.Persist = false
	cfgVal.Logging.RetentionDays = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithTimeouts overrides the exclusion and notification bounds.
func WithTimeouts(exclusion, notify time.Duration) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.IPC.ExclusionTimeoutMS = int(exclusion / time.Millisecond)
		b.cfg.IPC.NotifyTimeoutMS = int(notify / time.Millisecond)
	}
}

// WithProfiles seeds the initial slot profile assignment.
func WithProfiles(names ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Slots.Profiles = append([]string(nil), names...)
	}
}

// WithPersistence enables the SQLite slot store under the test state dir.
func WithPersistence() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Slots.Persist = true
	}
}

// WithLabel overrides the endpoint display label.
func WithLabel(label string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.IPC.DisplayLabel = label
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
