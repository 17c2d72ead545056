package scanner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"folio/internal/logging"
)

// HotplugMonitor listens for USB add/remove uevents and calls onChange so the
// device catalog can be refreshed.
type HotplugMonitor struct {
	logger   *slog.Logger
	onChange func(action string)

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewHotplugMonitor creates a monitor that invokes onChange for every USB
// device added or removed.
func NewHotplugMonitor(logger *slog.Logger, onChange func(action string)) *HotplugMonitor {
	return &HotplugMonitor{
		logger:   logging.NewComponentLogger(logger, "hotplug"),
		onChange: onChange,
	}
}

// Start begins listening. Failure to open the netlink socket is logged and
// not returned: scanning still works, the device list just needs a manual refresh.
func (m *HotplugMonitor) Start(ctx context.Context) error {
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
		logging.WarnWithContext(m.logger, "netlink connect failed; scanner list will not refresh automatically", "hotplug_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permission to open netlink sockets"),
			logging.String(logging.FieldImpact, "newly plugged scanners appear only after a manual refresh"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true
	go m.loop(ctx, conn, m.quit)

	m.logger.Info("hotplug monitor started", logging.String(logging.FieldEventType, "hotplug_started"))
	return nil
}

// Stop shuts the monitor down. It is safe to call more than once.
func (m *HotplugMonitor) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.quit)
	m.quit = nil
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false
	m.logger.Info("hotplug monitor stopped", logging.String(logging.FieldEventType, "hotplug_stopped"))
}

// Running reports whether the monitor is active.
func (m *HotplugMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *HotplugMonitor) loop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, usbMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case ev := <-queue:
			m.handle(ev)
		case err := <-errs:
			logging.WarnWithContext(m.logger, "netlink monitor error", "hotplug_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "scanner list may be stale"),
			)
		}
	}
}

func (m *HotplugMonitor) handle(ev netlink.UEvent) {
	action := string(ev.Action)
	m.logger.Debug("usb device event",
		logging.String("action", action),
		logging.String("kobj", ev.KObj),
		logging.String(logging.FieldEventType, "hotplug_event"),
	)
	if m.onChange != nil {
		m.onChange(action)
	}
}

// usbMatcher selects whole USB devices (not interfaces) being added or removed.
func usbMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "usb",
			"DEVTYPE":   "usb_device",
		},
	})
	return rules
}
