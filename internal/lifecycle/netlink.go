package lifecycle

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"crease/internal/logging"
)

// NetlinkMonitor listens for udev network interface events and publishes
// inactive when an interface goes away and active when one appears.
type NetlinkMonitor struct {
	hub    *Hub
	logger *slog.Logger

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewNetlinkMonitor creates a monitor feeding hub.
func NewNetlinkMonitor(hub *Hub, logger *slog.Logger) *NetlinkMonitor {
	if hub == nil {
		return nil
	}
	return &NetlinkMonitor{
		hub:    hub,
		logger: logging.NewComponentLogger(logger, "netlink-monitor"),
	}
}

// Start begins listening for udev netlink events. Failing to open the socket
// is logged and otherwise ignored.
func (m *NetlinkMonitor) Start(ctx context.Context) error {
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
		logging.WarnWithContext(m.logger, "failed to connect to netlink socket; lifecycle relies on signals", "netlink_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure the process may open netlink sockets"),
			logging.String(logging.FieldImpact, "network changes will not move uploads to polling"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, conn, quit)

	m.logger.Info("netlink monitor started",
		logging.String(logging.FieldEventType, "netlink_monitor_started"),
	)
	return nil
}

// Stop shuts down the monitor.
func (m *NetlinkMonitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false

	m.logger.Info("netlink monitor stopped",
		logging.String(logging.FieldEventType, "netlink_monitor_stopped"),
	)
}

// Running reports whether the monitor is active.
func (m *NetlinkMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *NetlinkMonitor) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, buildMatcher())

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
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "network changes may be missed"),
			)
		}
	}
}

// buildMatcher matches SUBSYSTEM=net interface add/remove/online/offline events.
func buildMatcher() netlink.Matcher {
	action := "add|remove|online|offline"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "net",
		},
	})
	return rules
}

func (m *NetlinkMonitor) handleEvent(uevent netlink.UEvent) {
	state, ok := stateForEvent(uevent)
	if !ok {
		return
	}
	iface := uevent.Env["INTERFACE"]
	if iface == "lo" {
		return
	}
	m.logger.Info("network interface event",
		logging.String("interface", iface),
		logging.String("action", string(uevent.Action)),
		logging.String("state", string(state)),
		logging.String(logging.FieldEventType, "netlink_net_event"),
	)
	m.hub.Publish(state)
}

func stateForEvent(uevent netlink.UEvent) (State, bool) {
	if uevent.Env["SUBSYSTEM"] != "net" {
		return "", false
	}
	switch uevent.Action {
	case netlink.REMOVE, netlink.OFFLINE:
		return StateInactive, true
	case netlink.ADD, netlink.ONLINE:
		return StateActive, true
	default:
		return "", false
	}
}
