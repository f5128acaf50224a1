package launcher_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"padbridge/internal/config"
	"padbridge/internal/instance"
	"padbridge/internal/ipc"
	"padbridge/internal/launcher"
	"padbridge/internal/locator"
	"padbridge/internal/primary"
	"padbridge/internal/testsupport"
)

type runOutcome struct {
	res launcher.RunResult
	err error
}

func launchPrimary(t *testing.T, cfg *config.Config, foreground func()) (*primary.Primary, <-chan runOutcome) {
	t.Helper()
	ready := make(chan *primary.Primary, 1)
	out := make(chan runOutcome, 1)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		res, err := launcher.Run(ctx, cfg, nil, launcher.RunOptions{
			Foreground: foreground,
			Ready:      func(p *primary.Primary) { ready <- p },
		})
		out <- runOutcome{res, err}
	}()
	select {
	case p := <-ready:
		return p, out
	case o := <-out:
		t.Fatalf("Run returned before ready: %+v", o)
	case <-time.After(5 * time.Second):
		t.Fatal("primary did not become ready")
	}
	return nil, nil
}

func newClient(t *testing.T, cfg *config.Config) *launcher.Client {
	t.Helper()
	return launcher.NewClient(cfg, testsupport.MustOpenNamespace(t, cfg), nil)
}

func TestPlainLaunchesElectOnePrimary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	var shown atomic.Int32
	p, out := launchPrimary(t, cfg, func() { shown.Add(1) })

	for i := 0; i < 3; i++ {
		res, err := launcher.Run(context.Background(), cfg, nil, launcher.RunOptions{})
		if err != nil {
			t.Fatalf("second Run: %v", err)
		}
		if res.Role != instance.RoleSecondary {
			t.Fatalf("second Run role = %v", res.Role)
		}
	}
	deadline := time.Now().Add(3 * time.Second)
	for shown.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if shown.Load() == 0 {
		t.Fatal("secondary launches never reached the primary")
	}

	client := newClient(t, cfg)
	d, err := client.Deliver(context.Background(), "shutdown")
	if err != nil || !d.Processed {
		t.Fatalf("shutdown delivery = %+v, %v", d, err)
	}
	select {
	case o := <-out:
		if o.err != nil || o.res.Role != instance.RolePrimary || o.res.RunID == "" {
			t.Fatalf("primary Run = %+v", o)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("primary did not exit after shutdown")
	}
	if p.Handled() != 1 {
		t.Fatalf("handled = %d, want 1", p.Handled())
	}
}

func TestDeliverRoutesQueriesAndCommands(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithProfiles("Racing"))
	launchPrimary(t, cfg, nil)
	client := newClient(t, cfg)
	ctx := context.Background()

	d, err := client.Deliver(ctx, "QUERY.1")
	if err != nil {
		t.Fatalf("Deliver query: %v", err)
	}
	if d.Command.Kind != ipc.KindQuery || d.Answer != "Racing" {
		t.Fatalf("query delivery = %+v", d)
	}

	if d, err := client.Deliver(ctx, "loadprofile.1.Flight"); err != nil || !d.Processed || d.Answer != "" {
		t.Fatalf("command delivery = %+v, %v", d, err)
	}
	if d, _ := client.Query(ctx, "1"); d.Answer != "Flight" {
		t.Fatalf("answer after loadprofile = %q", d.Answer)
	}
	if _, err := client.Deliver(ctx, "loadprofile.1"); !errors.Is(err, ipc.ErrMalformed) {
		t.Fatalf("malformed command error = %v", err)
	}
	_, _ = client.Deliver(ctx, "shutdown")
}

func TestDeliverWithoutPrimary(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTimeouts(200*time.Millisecond, 200*time.Millisecond))
	client := newClient(t, cfg)

	if _, err := client.Deliver(context.Background(), "ping"); !errors.Is(err, locator.ErrNoPrimary) {
		t.Fatalf("command error = %v, want ErrNoPrimary", err)
	}
	start := time.Now()
	d, err := client.Deliver(context.Background(), "query.1")
	if err == nil || d.Answer != "" {
		t.Fatalf("query without primary = %+v, %v", d, err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("query without primary took %v", time.Since(start))
	}
}
