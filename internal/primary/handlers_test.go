package primary

import (
	"context"
	"testing"

	"padbridge/internal/devicemon"
	"padbridge/internal/ipc"
	"padbridge/internal/testsupport"
)

func newIdlePrimary(t *testing.T) *Primary {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithProfiles("Racing"))
	p, err := New(cfg, testsupport.MustOpenNamespace(t, cfg), nil, nil, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func mustParse(t *testing.T, payload string) ipc.Command {
	t.Helper()
	cmd, err := ipc.Parse(payload, 0)
	if err != nil {
		t.Fatalf("Parse(%q): %v", payload, err)
	}
	return cmd
}

func TestAnswerResources(t *testing.T) {
	p := newIdlePrimary(t)
	ctx := context.Background()
	p.HandleCommand(ctx, mustParse(t, "loadtempprofile.1.Party"))
	p.onDevice(devicemon.Event{Action: devicemon.Added, Device: "/dev/hidraw0"})

	tests := []struct {
		resource string
		want     string
	}{
		{"1", "Party"},
		{"1.profilename", "Racing"},
		{"1.ProfileName", "Racing"},
		{"1.activeprofile", "Party"},
		{"1.tempprofile", "Party"},
		{"1.connected", "true"},
		{"2", "Default"},
		{"2.tempprofile", ""},
		{"2.connected", "false"},
		{"9", ""},
		{"1.bogus", ""},
		{"abc", ""},
		{"endpoint", ""},
	}
	for _, tt := range tests {
		t.Run(tt.resource, func(t *testing.T) {
			if got := p.answer(tt.resource); got != tt.want {
				t.Fatalf("answer(%q) = %q, want %q", tt.resource, got, tt.want)
			}
		})
	}
	if got := p.answer("STATUS"); got != "running slots=4 connected=1 handled=1" {
		t.Fatalf("status = %q", got)
	}
}

func TestServiceStopDisconnectsAndIgnoresHotplug(t *testing.T) {
	p := newIdlePrimary(t)
	ctx := context.Background()
	p.onDevice(devicemon.Event{Action: devicemon.Added, Device: "/dev/hidraw0"})

	p.HandleCommand(ctx, mustParse(t, "stop"))
	if p.slots.Connected() != 0 {
		t.Fatal("stop must disconnect every slot")
	}
	p.onDevice(devicemon.Event{Action: devicemon.Added, Device: "/dev/hidraw1"})
	if p.slots.Connected() != 0 {
		t.Fatal("hotplug must be ignored while stopped")
	}

	p.HandleCommand(ctx, mustParse(t, "START"))
	p.onDevice(devicemon.Event{Action: devicemon.Added, Device: "/dev/hidraw1"})
	if p.slots.Connected() != 1 {
		t.Fatal("hotplug must attach after start")
	}
	p.onDevice(devicemon.Event{Action: devicemon.Removed, Device: "/dev/hidraw1"})
	if p.slots.Connected() != 0 {
		t.Fatal("remove must detach")
	}
}

func TestRejectedCommandsLeaveStateAlone(t *testing.T) {
	p := newIdlePrimary(t)
	ctx := context.Background()
	p.HandleCommand(ctx, mustParse(t, "loadprofile.9.Racing"))
	p.HandleCommand(ctx, mustParse(t, "loadprofile.x.Racing"))
	p.HandleCommand(ctx, mustParse(t, "disconnect.0"))
	for _, s := range p.slots.All() {
		if s.Index == 1 && s.Profile != "Racing" || s.Index != 1 && s.Profile != "Default" {
			t.Fatalf("slot changed by rejected command: %#v", s)
		}
	}
	if p.Handled() != 3 {
		t.Fatalf("handled = %d, want 3", p.Handled())
	}
}

func TestShowAndShutdown(t *testing.T) {
	p := newIdlePrimary(t)
	shown := 0
	p.opts.Foreground = func() { shown++ }
	p.HandleCommand(context.Background(), mustParse(t, "show"))
	if shown != 1 || p.Foregrounds() != 1 {
		t.Fatalf("show ran foreground %d times", shown)
	}
	p.HandleCommand(context.Background(), mustParse(t, "shutdown"))
	select {
	case <-p.Done():
	default:
		t.Fatal("shutdown must close Done")
	}
}
