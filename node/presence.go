package node

import (
	"log/slog"
	"time"

	"github.com/mbocsi/meshswitch/proto"
)

// Presence tracks the single gateway a device reports to. The gateway is adopted
// from the first keep-alive heard while none is recorded and held for as long as
// its keep-alives keep arriving within the timeout.
type Presence struct {
	addr         proto.Addr
	available    bool
	bridgeOnline bool

	timeout  time.Duration
	liveness timer
	tracker  *Tracker

	onBridgeOnline func()
}

func NewPresence(timeout time.Duration, tracker *Tracker) *Presence {
	return &Presence{timeout: timeout, tracker: tracker}
}

// OnBridgeOnline sets the callback for the gateway's MQTT bridge coming up.
func (p *Presence) OnBridgeOnline(fn func()) {
	p.onBridgeOnline = fn
}

func (p *Presence) Gateway() proto.Addr { return p.addr }

func (p *Presence) Available() bool { return p.available }

func (p *Presence) BridgeOnline() bool { return p.bridgeOnline }

// IsGateway reports whether sender is the recorded gateway.
func (p *Presence) IsGateway(sender proto.Addr) bool {
	return !p.addr.IsZero() && sender == p.addr
}

// Accepts reports whether a unicast to target may go out now.
func (p *Presence) Accepts(target proto.Addr) bool {
	return p.available && p.IsGateway(target)
}

func (p *Presence) HandleBroadcast(env proto.Envelope, sender proto.Addr, now time.Time) {
	if env.DeviceType != proto.DeviceGateway || env.PayloadType != proto.PayloadKeepAlive {
		return
	}

	if p.addr.IsZero() {
		p.addr = sender
		slog.Info("Gateway adopted", "gateway", sender)
	}
	if sender != p.addr {
		slog.Debug("Ignoring keep-alive from other gateway", "sender", sender, "gateway", p.addr)
		return
	}

	if !p.available {
		slog.Info("Gateway available", "gateway", p.addr)
	}
	p.available = true

	var ka proto.KeepAlive
	online := env.Unmarshal(&ka) == nil && ka.MQTT == proto.BridgeOnline
	if online != p.bridgeOnline {
		p.bridgeOnline = online
		slog.Info("Gateway bridge state changed", "gateway", p.addr, "online", online)
		if online && p.onBridgeOnline != nil {
			p.onBridgeOnline()
		}
	}

	p.liveness.once(now, p.timeout)
}

// Check fires the liveness timeout once its deadline has passed.
func (p *Presence) Check(now time.Time) {
	if p.liveness.fired(now) {
		p.OnLivenessTimeout()
	}
}

func (p *Presence) OnLivenessTimeout() {
	slog.Warn("Gateway lost", "gateway", p.addr, "pending", p.tracker.Len())
	p.available = false
	p.bridgeOnline = false
	p.addr = proto.Addr{}
	p.liveness.stop()
	p.tracker.Clear()
}
