package namedobj_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

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

func TestOpenNamespaceRequiresDir(t *testing.T) {
	if _, err := namedobj.OpenNamespace(""); err == nil {
		t.Fatal("expected error for empty namespace dir")
	}
}

func TestInvalidNamesRejected(t *testing.T) {
	ns := newNamespace(t)
	for _, name := range []string{"", "../escape", "with space", ".hidden", "a/b"} {
		if _, err := ns.CreateRegion(name, 8); !errors.Is(err, namedobj.ErrInvalidName) {
			t.Errorf("CreateRegion(%q) error = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestRegionCreateOpenAndShare(t *testing.T) {
	ns := newNamespace(t)
	owner, err := ns.CreateRegion("shared.data", 128)
	if err != nil {
		t.Fatalf("CreateRegion: %v", err)
	}
	defer owner.Close()
	if !owner.Created() {
		t.Fatal("expected first handle to report creation")
	}
	if owner.Size() != 128 {
		t.Fatalf("size = %d, want 128", owner.Size())
	}

	reader, err := ns.OpenRegion("shared.data")
	if err != nil {
		t.Fatalf("OpenRegion: %v", err)
	}
	defer reader.Close()
	if reader.Created() {
		t.Fatal("opened handle must not report creation")
	}

	if _, err := owner.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := reader.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("reader saw %q, want hello", buf)
	}
}

func TestRegionWriteTruncatesAndZeroes(t *testing.T) {
	ns := newNamespace(t)
	region, err := ns.CreateRegion("small", 4)
	if err != nil {
		t.Fatalf("CreateRegion: %v", err)
	}
	defer region.Close()

	n, err := region.Write([]byte("abcdef"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 4 {
		t.Fatalf("stored %d bytes, want 4", n)
	}
	if _, err := region.Write([]byte("z")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := region.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if string(got) != "z\x00\x00\x00" {
		t.Fatalf("content = %q, want z followed by zeros", got)
	}
}

func TestRegionReclaimedAfterLastClose(t *testing.T) {
	ns := newNamespace(t)
	first, err := ns.CreateRegion("transient", 16)
	if err != nil {
		t.Fatalf("CreateRegion: %v", err)
	}
	second, err := ns.OpenRegion("transient")
	if err != nil {
		t.Fatalf("OpenRegion: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close first: %v", err)
	}
	if exists, _ := ns.Exists("transient", namedobj.KindRegion); !exists {
		t.Fatal("region must survive while another handle is open")
	}
	if err := second.Close(); err != nil {
		t.Fatalf("Close second: %v", err)
	}
	if exists, _ := ns.Exists("transient", namedobj.KindRegion); exists {
		t.Fatal("region must be reclaimed after the last close")
	}
	if _, err := ns.OpenRegion("transient"); !errors.Is(err, namedobj.ErrNotFound) {
		t.Fatalf("OpenRegion after reclaim error = %v, want ErrNotFound", err)
	}
}

func TestRegionCloseIsIdempotent(t *testing.T) {
	ns := newNamespace(t)
	region, err := ns.CreateRegion("twice", 8)
	if err != nil {
		t.Fatalf("CreateRegion: %v", err)
	}
	if err := region.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := region.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := region.Read(make([]byte, 1)); !errors.Is(err, namedobj.ErrClosed) {
		t.Fatalf("Read after close error = %v, want ErrClosed", err)
	}
}

func TestCreateNewRegionRejectsLiveName(t *testing.T) {
	ns := newNamespace(t)
	region, err := ns.CreateNewRegion("exclusive", 8)
	if err != nil {
		t.Fatalf("CreateNewRegion: %v", err)
	}
	defer region.Close()
	if _, err := ns.CreateNewRegion("exclusive", 8); !errors.Is(err, namedobj.ErrExists) {
		t.Fatalf("second CreateNewRegion error = %v, want ErrExists", err)
	}
}

func TestStaleRegionFileIsReclaimed(t *testing.T) {
	ns := newNamespace(t)
	stale := filepath.Join(ns.Dir(), "orphan.shm")
	if err := os.WriteFile(stale, make([]byte, 16), 0o600); err != nil {
		t.Fatalf("write stale file: %v", err)
	}
	if _, err := ns.OpenRegion("orphan"); !errors.Is(err, namedobj.ErrNotFound) {
		t.Fatalf("OpenRegion on stale file error = %v, want ErrNotFound", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale file removed, stat err = %v", err)
	}
}

func TestOpenMissingEventIsNotFound(t *testing.T) {
	ns := newNamespace(t)
	if _, err := ns.OpenEvent("missing"); !errors.Is(err, namedobj.ErrNotFound) {
		t.Fatalf("OpenEvent error = %v, want ErrNotFound", err)
	}
}

func TestManualResetEventStaysSignaled(t *testing.T) {
	ns := newNamespace(t)
	event, err := ns.CreateEvent("manual", namedobj.ManualReset)
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	defer event.Close()

	if err := event.Set(); err != nil {
		t.Fatalf("Set: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := event.Wait(context.Background(), time.Second); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
	if err := event.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if set, _ := event.IsSet(); set {
		t.Fatal("expected event unsignaled after Reset")
	}
}

func TestAutoResetEventReleasesOneWaiter(t *testing.T) {
	ns := newNamespace(t)
	event, err := ns.CreateEvent("auto", namedobj.AutoReset)
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	defer event.Close()

	if err := event.Set(); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := event.Wait(context.Background(), time.Second); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	err = event.Wait(context.Background(), 50*time.Millisecond)
	if !errors.Is(err, namedobj.ErrTimeout) {
		t.Fatalf("second Wait error = %v, want ErrTimeout", err)
	}
}

func TestEventWaitWakesOnSetFromOtherHandle(t *testing.T) {
	ns := newNamespace(t)
	waiter, err := ns.CreateEvent("wake", namedobj.AutoReset)
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	defer waiter.Close()
	setter, err := ns.OpenEvent("wake")
	if err != nil {
		t.Fatalf("OpenEvent: %v", err)
	}
	defer setter.Close()
	if setter.Mode() != namedobj.AutoReset {
		t.Fatalf("opened mode = %q, want creator's auto reset", setter.Mode())
	}

	done := make(chan error, 1)
	go func() { done <- waiter.Wait(context.Background(), 5*time.Second) }()
	time.Sleep(50 * time.Millisecond)
	if err := setter.Set(); err != nil {
		t.Fatalf("Set: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestEventWaitHonorsContext(t *testing.T) {
	ns := newNamespace(t)
	event, err := ns.CreateEvent("ctx", namedobj.ManualReset)
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	defer event.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := event.Wait(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait error = %v, want context.Canceled", err)
	}
}

func TestMutexExcludesSecondHandle(t *testing.T) {
	ns := newNamespace(t)
	first, err := ns.CreateMutex("serial")
	if err != nil {
		t.Fatalf("CreateMutex: %v", err)
	}
	second, err := ns.CreateMutex("serial")
	if err != nil {
		t.Fatalf("CreateMutex: %v", err)
	}

	got, err := first.Acquire(context.Background(), time.Second)
	if err != nil || got != namedobj.Acquired {
		t.Fatalf("first Acquire = %v, %v; want Acquired", got, err)
	}
	if _, err := second.Acquire(context.Background(), 50*time.Millisecond); !errors.Is(err, namedobj.ErrTimeout) {
		t.Fatalf("second Acquire error = %v, want ErrTimeout", err)
	}
	if second.Held() {
		t.Fatal("timed out handle must not hold the mutex")
	}
	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	got, err = second.Acquire(context.Background(), time.Second)
	if err != nil || got != namedobj.Acquired {
		t.Fatalf("second Acquire after release = %v, %v; want Acquired", got, err)
	}
	if err := second.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestMutexSerializesGoroutines(t *testing.T) {
	ns := newNamespace(t)
	var inside atomic.Int32
	var overlap atomic.Bool
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := ns.CreateMutex("critical")
			if err != nil {
				t.Errorf("CreateMutex: %v", err)
				return
			}
			if _, err := m.Acquire(context.Background(), 5*time.Second); err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(10 * time.Millisecond)
			inside.Add(-1)
			_ = m.Release()
		}()
	}
	wg.Wait()
	if overlap.Load() {
		t.Fatal("two holders were inside the critical section at once")
	}
}

const helperEnv = "NAMEDOBJ_HELPER_DIR"

// TestHelperProcessAbandonsMutex is re-executed as a child process by
// TestMutexAbandonedByCrashedHolder; it exits while holding the mutex.
func TestHelperProcessAbandonsMutex(t *testing.T) {
	dir := os.Getenv(helperEnv)
	if dir == "" {
		t.Skip("helper process only")
	}
	ns, err := namedobj.OpenNamespace(dir)
	if err != nil {
		os.Exit(2)
	}
	m, err := ns.CreateMutex("crashy")
	if err != nil {
		os.Exit(2)
	}
	if _, err := m.Acquire(context.Background(), time.Second); err != nil {
		os.Exit(2)
	}
	os.Exit(3)
}

func TestMutexAbandonedByCrashedHolder(t *testing.T) {
	dir := t.TempDir()
	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperProcessAbandonsMutex$")
	cmd.Env = append(os.Environ(), helperEnv+"="+dir)
	err := cmd.Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Fatalf("helper exit = %v, want code 3", err)
	}

	ns, err := namedobj.OpenNamespace(dir)
	if err != nil {
		t.Fatalf("OpenNamespace: %v", err)
	}
	m, err := ns.CreateMutex("crashy")
	if err != nil {
		t.Fatalf("CreateMutex: %v", err)
	}
	got, err := m.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Acquire after crash: %v", err)
	}
	if got != namedobj.Abandoned {
		t.Fatalf("acquisition = %v, want Abandoned", got)
	}
	if err := m.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	got, err = m.Acquire(context.Background(), time.Second)
	if err != nil || got != namedobj.Acquired {
		t.Fatalf("clean re-acquire = %v, %v; want Acquired", got, err)
	}
	_ = m.Release()
}
