package testsupport

import (
	"testing"

	"padbridge/internal/config"
	"padbridge/internal/slotstore"
)

// MustOpenSlotStore opens the slot store for tests and registers cleanup.
func MustOpenSlotStore(t testing.TB, cfg *config.Config) *slotstore.Store {
	t.Helper()

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store, err := slotstore.Open(cfg.SlotStorePath())
	if err != nil {
		t.Fatalf("slotstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
