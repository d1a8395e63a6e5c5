package node

import (
	"log/slog"
	"net/url"
	"time"

	"github.com/mbocsi/meshswitch/proto"
)

// drive writes the relay and indicator outputs for the current relay state.
// Work mode inverts the relay contact only; the indicator always shows the
// logical state.
func (n *Node) drive() {
	r := n.record
	if r.RelayPin != 0 {
		contact := r.RelayStatus != r.WorkMode
		if err := n.board.SetOutput(r.RelayPin, contact == r.RelayPinType); err != nil {
			slog.Error("Failed to drive relay", "pin", r.RelayPin, "error", err)
		}
	}
	if r.LedPin != 0 {
		if err := n.board.SetOutput(r.LedPin, r.RelayStatus == r.LedPinType); err != nil {
			slog.Error("Failed to drive indicator", "pin", r.LedPin, "error", err)
		}
	}
}

func (n *Node) persist() {
	if n.store == nil {
		return
	}
	if err := n.store.Save(n.record); err != nil {
		slog.Error("Failed to persist device record", "error", err)
	}
}

// SetRelay applies a relay state: outputs, persisted record, status report.
// Setting the current state again still reports it.
func (n *Node) SetRelay(on bool) {
	n.record.RelayStatus = on
	n.drive()
	n.persist()
	n.sendSwitchStatus()
	slog.Info("Relay switched", "state", proto.StateString(on))
}

func (n *Node) toggle() {
	n.SetRelay(!n.record.RelayStatus)
}

// UpdateRecord applies portal settings and persists them. Button pins take
// effect after a restart.
func (n *Node) UpdateRecord(values url.Values) ([]string, error) {
	applied, err := n.record.ApplyValues(values)
	if err != nil {
		return nil, err
	}
	n.drive()
	n.persist()
	slog.Info("Device settings changed", "fields", applied)
	return applied, nil
}

func (n *Node) handleUnicast(data []byte, sender proto.Addr) {
	env, err := proto.Decode(data)
	if err != nil {
		slog.Debug("Dropping unicast", "sender", sender, "error", err)
		return
	}
	if env.DeviceType != proto.DeviceGateway || !n.presence.IsGateway(sender) {
		slog.Debug("Ignoring command from non-gateway peer", "sender", sender, "device", env.DeviceType, "payload", env.PayloadType)
		return
	}

	switch env.PayloadType {
	case proto.PayloadSet:
		var cmd proto.SetCommand
		if err := env.Unmarshal(&cmd); err != nil {
			slog.Warn("Malformed set command, switching off", "sender", sender, "error", err)
		}
		n.SetRelay(cmd.On())
	case proto.PayloadUpdate:
		slog.Info("Update requested by gateway", "window", n.timing.PortalWindow)
		n.openPortal(n.now)
	case proto.PayloadRestart:
		n.RequestRestart()
	default:
		slog.Debug("Ignoring gateway frame", "payload", env.PayloadType)
	}
}

// openPortal starts the configuration server, or extends its window if already open.
func (n *Node) openPortal(now time.Time) {
	if n.portal == nil {
		return
	}
	if !n.portalOpen {
		if err := n.portal.Open(); err != nil {
			slog.Error("Failed to open portal", "error", err)
			return
		}
		n.portalOpen = true
		slog.Info("Portal opened", "window", n.timing.PortalWindow)
	}
	n.portalWindow.once(now, n.timing.PortalWindow)
}

func (n *Node) closePortal() {
	n.portalWindow.stop()
	if !n.portalOpen {
		return
	}
	if err := n.portal.Close(); err != nil {
		slog.Warn("Failed to close portal", "error", err)
	}
	n.portalOpen = false
	slog.Info("Portal closed")
}

func (n *Node) PortalOpen() bool {
	return n.portalOpen
}
