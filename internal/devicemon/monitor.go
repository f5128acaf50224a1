// Package devicemon watches udev for controller hotplug events and hands them
// to the primary's dispatcher.
package devicemon

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"padbridge/internal/config"
	"padbridge/internal/logging"
)

// Action is the kind of hotplug change.
type Action string

const (
	Added   Action = "add"
	Removed Action = "remove"
)

// Event describes one controller appearing or disappearing.
type Event struct {
	Action Action
	Device string
}

// Monitor listens for udev netlink events in one device subsystem.
type Monitor struct {
	logger    *slog.Logger
	subsystem string
	post      func(func()) error
	handler   func(Event)

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	done    chan struct{}
	running bool
}

// New returns a monitor, or nil when hotplug monitoring is disabled. Matched
// events are delivered by calling handler inside post, so handlers run on the
// caller's dispatch goroutine.
func New(cfg *config.Config, logger *slog.Logger, post func(func()) error, handler func(Event)) *Monitor {
	if cfg == nil || !cfg.Devices.Monitor {
		return nil
	}
	subsystem := strings.TrimSpace(cfg.Devices.Subsystem)
	if subsystem == "" {
		return nil
	}
	return &Monitor{
		logger:    logging.NewComponentLogger(logger, "device-monitor"),
		subsystem: subsystem,
		post:      post,
		handler:   handler,
	}
}

// Start begins listening. Failing to open the netlink socket is logged and
// leaves the monitor stopped; slots then only change through commands.
func (m *Monitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(m.logger, "failed to connect to netlink socket; controller hotplug disabled", "netlink_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure the primary may open NETLINK_KOBJECT_UEVENT sockets"),
			logging.String(logging.FieldImpact, "slot connection state changes only through commands"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.done = make(chan struct{})
	m.running = true
	go m.monitorLoop(ctx, conn, m.quit, m.done)

	m.logger.Info("device monitor started",
		logging.String(logging.FieldEventType, "device_monitor_started"),
		logging.String("subsystem", m.subsystem),
	)
	return nil
}

// Stop shuts down the monitor and waits for its loop to exit.
func (m *Monitor) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	close(m.quit)
	done := m.done
	conn := m.conn
	m.quit, m.done, m.conn = nil, nil, nil
	m.running = false
	m.mu.Unlock()

	<-done
	_ = conn.Close()
	m.logger.Info("device monitor stopped",
		logging.String(logging.FieldEventType, "device_monitor_stopped"),
	)
}

// Running reports whether the monitor is active.
func (m *Monitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, m.buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			m.handleEvent(uevent)
		case err := <-errs:
			logging.WarnWithContext(m.logger, "netlink monitor error", "netlink_monitor_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "a controller hotplug may have been missed"),
			)
		}
	}
}

// buildMatcher matches add and remove events in the configured subsystem.
func (m *Monitor) buildMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": m.subsystem,
		},
	})
	return rules
}

func (m *Monitor) handleEvent(uevent netlink.UEvent) {
	device := deviceName(uevent)
	if device == "" {
		m.logger.Debug("ignoring event without device name",
			logging.String("action", string(uevent.Action)),
			logging.String("kobj", uevent.KObj),
		)
		return
	}
	var action Action
	switch uevent.Action {
	case netlink.ADD:
		action = Added
	case netlink.REMOVE:
		action = Removed
	default:
		return
	}

	m.logger.Debug("controller hotplug",
		logging.String("device", device),
		logging.String("action", string(action)),
	)
	if m.handler == nil || m.post == nil {
		return
	}
	evt := Event{Action: action, Device: device}
	if err := m.post(func() { m.handler(evt) }); err != nil {
		logging.WarnWithContext(m.logger, "dropping hotplug event", "hotplug_dropped",
			logging.Error(err),
			logging.String("device", device),
			logging.String(logging.FieldImpact, "slot connection state may be stale"),
		)
	}
}

// deviceName gets the device node from a uevent.
func deviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		if !strings.HasPrefix(devname, "/") {
			devname = "/dev/" + devname
		}
		return devname
	}
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	parts := strings.Split(devpath, "/")
	return "/dev/" + parts[len(parts)-1]
}
