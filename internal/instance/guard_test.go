package instance_test

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"padbridge/internal/instance"
	"padbridge/internal/logging"
	"padbridge/internal/namedobj"
)

func newNamespace(t *testing.T) *namedobj.Namespace {
	t.Helper()
	ns, err := namedobj.OpenNamespace(t.TempDir())
	if err != nil {
		t.Fatalf("OpenNamespace: %v", err)
	}
	return ns
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func syncPost(fn func()) error {
	fn()
	return nil
}

func TestFirstLaunchBecomesPrimary(t *testing.T) {
	ns := newNamespace(t)
	guard, role, err := instance.Acquire(ns, logging.NewNop())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer guard.Close()
	if role != instance.RolePrimary || !guard.Protected() {
		t.Fatalf("role = %v protected = %v", role, guard.Protected())
	}
	if exists, _ := ns.Exists(instance.SignalName, namedobj.KindEvent); !exists {
		t.Fatal("expected guard event to exist")
	}
}

func TestSecondLaunchSignalsPrimaryOnce(t *testing.T) {
	ns := newNamespace(t)
	guard, _, err := instance.Acquire(ns, nil)
	if err != nil {
		t.Fatalf("Acquire primary: %v", err)
	}
	defer guard.Close()

	var actions atomic.Int32
	if err := guard.Watch(syncPost, func() { actions.Add(1) }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	second, role, err := instance.Acquire(ns, nil)
	if err != nil {
		t.Fatalf("Acquire secondary: %v", err)
	}
	if role != instance.RoleSecondary || second != nil {
		t.Fatalf("second launch role = %v guard = %v", role, second)
	}

	eventually(t, func() bool { return actions.Load() == 1 })
	time.Sleep(100 * time.Millisecond)
	if got := actions.Load(); got != 1 {
		t.Fatalf("foreground action ran %d times, want exactly 1", got)
	}
	if guard.Wakes() != 1 {
		t.Fatalf("wakes = %d, want 1", guard.Wakes())
	}

	for _, name := range []string{"result.data", "result.ready"} {
		for _, kind := range []namedobj.Kind{namedobj.KindRegion, namedobj.KindEvent} {
			if exists, _ := ns.Exists(name, kind); exists {
				t.Fatalf("second launch created query resource %s (%s)", name, kind)
			}
		}
	}
	entries, err := os.ReadDir(ns.Dir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	guards := 0
	for _, e := range entries {
		if e.Name() == instance.SignalName+".evt" {
			guards++
		}
	}
	if guards != 1 {
		t.Fatalf("found %d guard objects, want 1", guards)
	}
}

func TestRepeatedLaunchesEachWakeOnce(t *testing.T) {
	ns := newNamespace(t)
	guard, _, err := instance.Acquire(ns, nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer guard.Close()
	var actions atomic.Int32
	if err := guard.Watch(syncPost, func() { actions.Add(1) }); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	for i := 1; i <= 3; i++ {
		if _, role, err := instance.Acquire(ns, nil); err != nil || role != instance.RoleSecondary {
			t.Fatalf("launch %d: role %v err %v", i, role, err)
		}
		want := int32(i)
		eventually(t, func() bool { return actions.Load() == want })
	}
}

func TestConcurrentLaunchesElectOnePrimary(t *testing.T) {
	ns := newNamespace(t)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var guards []*instance.Guard
	primaries := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			guard, role, err := instance.Acquire(ns, nil)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if role == instance.RolePrimary {
				primaries++
				guards = append(guards, guard)
			}
		}()
	}
	wg.Wait()
	for _, g := range guards {
		g.Close()
	}
	if primaries != 1 {
		t.Fatalf("%d primaries elected, want 1", primaries)
	}
}

func TestCloseJoinsWatcherAndReleasesGuard(t *testing.T) {
	ns := newNamespace(t)
	guard, _, err := instance.Acquire(ns, nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	var actions atomic.Int32
	if err := guard.Watch(syncPost, func() { actions.Add(1) }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- guard.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not join the watcher")
	}
	if actions.Load() != 0 {
		t.Fatal("shutdown signal must not trigger the foreground action")
	}
	if err := guard.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := guard.Watch(syncPost, func() {}); !errors.Is(err, namedobj.ErrClosed) {
		t.Fatalf("Watch after Close error = %v", err)
	}

	next, role, err := instance.Acquire(ns, nil)
	if err != nil {
		t.Fatalf("Acquire after close: %v", err)
	}
	defer next.Close()
	if role != instance.RolePrimary {
		t.Fatalf("role after previous primary exited = %v, want primary", role)
	}
}

func TestNilGuardIsSafe(t *testing.T) {
	var g *instance.Guard
	if g.Protected() || g.Wakes() != 0 || g.Close() != nil {
		t.Fatal("nil guard should be inert")
	}
}

func TestUnreadableGuardFailsOpen(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores file permissions")
	}
	ns := newNamespace(t)
	path := filepath.Join(ns.Dir(), instance.SignalName+".evt")
	if err := os.WriteFile(path, []byte("0m"), 0o000); err != nil {
		t.Fatalf("write guard file: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(path, 0o600) })

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	guard, role, err := instance.Acquire(ns, logger)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if role != instance.RolePrimary {
		t.Fatalf("role = %v, want primary", role)
	}
	if guard == nil || guard.Protected() {
		t.Fatalf("guard = %v, want an unprotected guard", guard)
	}
	for _, eventType := range []string{"instance_guard_denied", "instance_guard_unavailable"} {
		if !strings.Contains(logs.String(), eventType) {
			t.Fatalf("logs missing %s:\n%s", eventType, logs.String())
		}
	}

	var actions atomic.Int32
	if err := guard.Watch(syncPost, func() { actions.Add(1) }); err != nil {
		t.Fatalf("Watch on unprotected guard: %v", err)
	}
	if guard.Wakes() != 0 || actions.Load() != 0 {
		t.Fatal("unprotected guard must not watch")
	}
	if err := guard.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := guard.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if info, err := os.Stat(path); err != nil || info.Mode().Perm() != 0 {
		t.Fatalf("foreign guard file was disturbed: %v %v", info, err)
	}
}
