package devicemon

import (
	"context"
	"errors"
	"testing"

	"github.com/pilebones/go-udev/netlink"

	"padbridge/internal/config"
)

func monitorConfig(subsystem string) *config.Config {
	cfg := config.Default()
	cfg.Devices.Monitor = true
	cfg.Devices.Subsystem = subsystem
	return &cfg
}

func TestNewDisabled(t *testing.T) {
	if New(nil, nil, nil, nil) != nil {
		t.Error("expected nil monitor for nil config")
	}
	cfg := monitorConfig("hidraw")
	cfg.Devices.Monitor = false
	if New(cfg, nil, nil, nil) != nil {
		t.Error("expected nil monitor when monitoring is disabled")
	}
	if New(monitorConfig(" "), nil, nil, nil) != nil {
		t.Error("expected nil monitor for blank subsystem")
	}
	if m := New(monitorConfig("hidraw"), nil, nil, nil); m == nil || m.subsystem != "hidraw" {
		t.Fatalf("unexpected monitor %#v", m)
	}
}

func TestNilMonitorIsSafe(t *testing.T) {
	var m *Monitor
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start on nil monitor: %v", err)
	}
	m.Stop()
	if m.Running() {
		t.Error("nil monitor reports running")
	}
}

func TestStopUnstartedIsSafe(t *testing.T) {
	m := New(monitorConfig("hidraw"), nil, nil, nil)
	m.Stop()
	m.Stop()
	if m.Running() {
		t.Error("expected stopped monitor")
	}
}

func TestBuildMatcher(t *testing.T) {
	m := New(monitorConfig("hidraw"), nil, nil, nil)
	matcher := m.buildMatcher()

	tests := []struct {
		name  string
		event netlink.UEvent
		want  bool
	}{
		{"add", netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "hidraw"}}, true},
		{"remove", netlink.UEvent{Action: netlink.REMOVE, Env: map[string]string{"SUBSYSTEM": "hidraw"}}, true},
		{"change", netlink.UEvent{Action: netlink.CHANGE, Env: map[string]string{"SUBSYSTEM": "hidraw"}}, false},
		{"other subsystem", netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "block"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matcher.Evaluate(tt.event); got != tt.want {
				t.Fatalf("Evaluate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandleEventPostsToDispatcher(t *testing.T) {
	var posted []func()
	post := func(fn func()) error {
		posted = append(posted, fn)
		return nil
	}
	var got []Event
	m := New(monitorConfig("hidraw"), nil, post, func(e Event) { got = append(got, e) })

	m.handleEvent(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"DEVNAME": "hidraw3"}})
	m.handleEvent(netlink.UEvent{Action: netlink.REMOVE, Env: map[string]string{"DEVPATH": "/devices/usb1/hidraw/hidraw3"}})
	m.handleEvent(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{}})

	if len(got) != 0 {
		t.Fatal("handler ran outside the posted closure")
	}
	if len(posted) != 2 {
		t.Fatalf("posted %d closures, want 2", len(posted))
	}
	for _, fn := range posted {
		fn()
	}
	want := []Event{{Added, "/dev/hidraw3"}, {Removed, "/dev/hidraw3"}}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %#v, want %#v", i, got[i], want[i])
		}
	}
}

func TestHandleEventPostFailure(t *testing.T) {
	called := false
	m := New(monitorConfig("hidraw"), nil,
		func(func()) error { return errors.New("stopped") },
		func(Event) { called = true })
	m.handleEvent(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"DEVNAME": "/dev/hidraw0"}})
	if called {
		t.Fatal("handler must not run when post fails")
	}
}
