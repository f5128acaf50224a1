package ipc_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"padbridge/internal/dispatch"
	"padbridge/internal/ipc"
	"padbridge/internal/logging"
)

type recordingHandler struct {
	mu       sync.Mutex
	queries  []string
	commands []ipc.Command
	delay    time.Duration
}

func (h *recordingHandler) HandleQuery(_ context.Context, cmd ipc.Command) {
	time.Sleep(h.delay)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queries = append(h.queries, cmd.Resource)
}

func (h *recordingHandler) HandleCommand(_ context.Context, cmd ipc.Command) {
	time.Sleep(h.delay)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, cmd)
}

func (h *recordingHandler) snapshot() ([]string, []ipc.Command) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.queries...), append([]ipc.Command(nil), h.commands...)
}

func startServer(t *testing.T, handler ipc.Handler) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "pb-ipc-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	d := dispatch.New(logging.NewNop())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("dispatcher Start: %v", err)
	}
	t.Cleanup(d.Stop)

	socket := filepath.Join(dir, "bridge.sock")
	srv, err := ipc.NewServer(ctx, socket, handler, d, logging.NewNop(), ipc.ServerOptions{MaxCommandLength: 64})
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)
	return socket
}

func TestSendDeliversBeforeReturning(t *testing.T) {
	handler := &recordingHandler{delay: 30 * time.Millisecond}
	socket := startServer(t, handler)
	sender := ipc.NewSender(64, time.Second)

	processed, err := sender.Send(context.Background(), socket, "loadprofile.2.Racing")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !processed {
		t.Fatal("expected command processed")
	}
	_, commands := handler.snapshot()
	if len(commands) != 1 || commands[0].Verb != ipc.VerbLoadProfile || commands[0].Args[1] != "Racing" {
		t.Fatalf("handler saw %+v", commands)
	}
}

func TestQueryRoutedToQueryHandler(t *testing.T) {
	handler := &recordingHandler{}
	socket := startServer(t, handler)
	sender := ipc.NewSender(64, time.Second)

	for _, payload := range []string{"QUERY.7", "query.7"} {
		if _, err := sender.Send(context.Background(), socket, payload); err != nil {
			t.Fatalf("Send %q: %v", payload, err)
		}
	}
	queries, commands := handler.snapshot()
	if len(commands) != 0 {
		t.Fatalf("queries leaked to command handler: %+v", commands)
	}
	if len(queries) != 2 || queries[0] != "7" || queries[1] != "7" {
		t.Fatalf("query handler saw %q", queries)
	}
}

func TestMalformedPayloadDroppedWithoutError(t *testing.T) {
	handler := &recordingHandler{}
	socket := startServer(t, handler)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	for _, payload := range []string{"reboot", "", strings.Repeat("x", 65), "café"} {
		resp, err := client.Deliver(context.Background(), payload)
		if err != nil {
			t.Fatalf("Deliver %q returned error: %v", payload, err)
		}
		if resp.Processed {
			t.Fatalf("Deliver %q reported processed", payload)
		}
	}
	queries, commands := handler.snapshot()
	if len(queries)+len(commands) != 0 {
		t.Fatalf("malformed payloads reached handlers: %q %+v", queries, commands)
	}

	resp, err := client.Deliver(context.Background(), "ping")
	if err != nil || !resp.Processed {
		t.Fatalf("server unusable after malformed input: %v %+v", err, resp)
	}
}

func TestConcurrentSendsAreSerialized(t *testing.T) {
	handler := &recordingHandler{delay: 5 * time.Millisecond}
	socket := startServer(t, handler)
	sender := ipc.NewSender(64, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sender.Send(context.Background(), socket, "cycle"); err != nil {
				t.Errorf("Send: %v", err)
			}
		}()
	}
	wg.Wait()
	_, commands := handler.snapshot()
	if len(commands) != 8 {
		t.Fatalf("handler ran %d times, want 8", len(commands))
	}
}

func TestSenderRejectsInvalidPayloadBeforeDialing(t *testing.T) {
	sender := ipc.NewSender(8, time.Second)
	if _, err := sender.Send(context.Background(), "/nonexistent/socket", "loadprofile.1.x"); err == nil {
		t.Fatal("expected oversize payload error")
	}
	if _, err := sender.Send(context.Background(), "/nonexistent/socket", "ping"); err == nil {
		t.Fatal("expected dial error for missing socket")
	}
}

func TestDeliverHonorsContext(t *testing.T) {
	release := make(chan struct{})
	handler := &blockingHandler{release: release}
	socket := startServer(t, handler)
	defer close(release)

	sender := ipc.NewSender(64, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := sender.Send(ctx, socket, "show"); err == nil {
		t.Fatal("expected deadline error while handler blocks")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Send blocked for %v", elapsed)
	}
}

type blockingHandler struct{ release chan struct{} }

func (h *blockingHandler) HandleQuery(context.Context, ipc.Command) { <-h.release }

func (h *blockingHandler) HandleCommand(context.Context, ipc.Command) { <-h.release }
