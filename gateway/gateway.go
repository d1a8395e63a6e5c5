package gateway

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mbocsi/meshswitch/config"
	"github.com/mbocsi/meshswitch/node"
	"github.com/mbocsi/meshswitch/proto"
	"github.com/mbocsi/meshswitch/transport"
)

// Device is what the gateway knows about one mesh device.
type Device struct {
	Addr     proto.Addr
	Type     proto.DeviceType
	LastSeen time.Time
	Online   bool
	Entities map[int]proto.EntityConfig
}

type command struct {
	target  proto.Addr
	payload proto.PayloadType
	body    any
}

type Options struct {
	Mesh            transport.Mesh
	Bridge          Bridge
	Prefix          string
	DiscoveryPrefix string
	KeepAlive       time.Duration
	DeviceTimeout   time.Duration
	Tick            time.Duration
}

func OptionsFrom(cfg *config.Settings, mesh transport.Mesh, bridge Bridge) Options {
	return Options{
		Mesh:            mesh,
		Bridge:          bridge,
		Prefix:          cfg.Gateway.Prefix,
		DiscoveryPrefix: cfg.Gateway.DiscoveryPrefix,
		KeepAlive:       cfg.Timing.KeepAlive,
		DeviceTimeout:   cfg.Gateway.DeviceTimeout,
		Tick:            cfg.Timing.Tick,
	}
}

// Gateway bridges mesh devices to MQTT. Like the device node it runs a single
// loop; mesh events arrive through Maintenance and MQTT commands through a
// channel, so device state is only touched in Tick.
type Gateway struct {
	mesh            transport.Mesh
	bridge          Bridge
	tracker         *node.Tracker
	prefix          string
	discoveryPrefix string
	keepAlive       time.Duration
	deviceTimeout   time.Duration
	tick            time.Duration

	devices       map[proto.Addr]*Device
	commands      chan command
	nextKeepAlive time.Time
	bridgeUp      bool
	now           time.Time
	started       bool
}

func New(opts Options) *Gateway {
	g := &Gateway{
		mesh:            opts.Mesh,
		bridge:          opts.Bridge,
		prefix:          opts.Prefix,
		discoveryPrefix: opts.DiscoveryPrefix,
		keepAlive:       opts.KeepAlive,
		deviceTimeout:   opts.DeviceTimeout,
		tick:            opts.Tick,
		devices:         make(map[proto.Addr]*Device),
		commands:        make(chan command, 32),
	}
	if g.deviceTimeout <= 0 {
		g.deviceTimeout = 3 * g.keepAlive
	}
	if g.tick <= 0 {
		g.tick = 10 * time.Millisecond
	}
	g.tracker = node.NewTracker(g.mesh, g.reachable)
	return g
}

func (g *Gateway) reachable(target proto.Addr) bool {
	d, ok := g.devices[target]
	return ok && d.Online
}

// Start hooks up the mesh and the MQTT command topics and sends the first keep-alive.
func (g *Gateway) Start(now time.Time) error {
	if g.started {
		return nil
	}
	g.now = now

	g.mesh.OnBroadcast(g.handleBroadcast)
	g.mesh.OnUnicast(g.handleUnicast)
	g.mesh.OnConfirm(g.tracker.OnConfirm)

	for _, topic := range []string{
		g.prefix + "/+/switch/set",
		g.prefix + "/+/update",
		g.prefix + "/+/restart",
	} {
		if err := g.bridge.Subscribe(topic, g.handleCommand); err != nil {
			return err
		}
	}

	g.sendKeepAlive(now)
	g.started = true
	slog.Info("Gateway started", "addr", g.mesh.Addr(), "prefix", g.prefix)
	return nil
}

func (g *Gateway) Tick(now time.Time) {
	g.now = now

	for drained := false; !drained; {
		select {
		case cmd := <-g.commands:
			g.dispatch(cmd)
		default:
			drained = true
		}
	}

	g.mesh.Maintenance()

	if up := g.bridge.Connected(); up != g.bridgeUp || !now.Before(g.nextKeepAlive) {
		g.sendKeepAlive(now)
	}

	g.expire(now)
}

func (g *Gateway) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			g.Tick(now)
		}
	}
}

// Devices returns a copy of the device table.
func (g *Gateway) Devices() []Device {
	out := make([]Device, 0, len(g.devices))
	for _, d := range g.devices {
		out = append(out, *d)
	}
	return out
}

func (g *Gateway) Tracker() *node.Tracker { return g.tracker }

func (g *Gateway) sendKeepAlive(now time.Time) {
	g.bridgeUp = g.bridge.Connected()
	g.nextKeepAlive = now.Add(g.keepAlive)

	state := proto.BridgeOffline
	if g.bridgeUp {
		state = proto.BridgeOnline
	}
	frame, err := proto.Frame(proto.DeviceGateway, proto.PayloadKeepAlive, proto.KeepAlive{MQTT: state})
	if err != nil {
		slog.Error("Cannot encode keep-alive", "error", err)
		return
	}
	if err := g.mesh.Broadcast(frame); err != nil {
		slog.Warn("Keep-alive broadcast failed", "error", err)
		return
	}
	slog.Debug("Keep-alive sent", "mqtt", state)
}

func (g *Gateway) expire(now time.Time) {
	for _, d := range g.devices {
		if d.Online && now.Sub(d.LastSeen) > g.deviceTimeout {
			d.Online = false
			slog.Info("Device timed out", "addr", d.Addr)
			g.publish(g.availabilityTopic(d.Addr), true, []byte("offline"))
		}
	}
}

func (g *Gateway) handleBroadcast(data []byte, sender proto.Addr) {
	env, err := proto.Decode(data)
	if err != nil {
		return
	}
	if env.DeviceType == proto.DeviceGateway {
		slog.Debug("Another gateway on the mesh", "addr", sender)
	}
}

func (g *Gateway) touch(addr proto.Addr, device proto.DeviceType) *Device {
	d, ok := g.devices[addr]
	if !ok {
		d = &Device{Addr: addr, Type: device, Entities: make(map[int]proto.EntityConfig)}
		g.devices[addr] = d
		slog.Info("New device", "addr", addr, "type", device)
	}
	d.LastSeen = g.now
	if device != proto.DeviceSensor {
		d.Type = device
	}
	if !d.Online {
		d.Online = true
		g.publish(g.availabilityTopic(addr), true, []byte("online"))
	}
	return d
}

func (g *Gateway) handleUnicast(data []byte, sender proto.Addr) {
	env, err := proto.Decode(data)
	if err != nil {
		slog.Debug("Dropping unicast", "sender", sender, "error", err)
		return
	}
	if env.DeviceType == proto.DeviceGateway {
		slog.Debug("Ignoring gateway frame", "sender", sender, "payload", env.PayloadType)
		return
	}

	d := g.touch(sender, env.DeviceType)

	switch env.PayloadType {
	case proto.PayloadKeepAlive:
	case proto.PayloadState:
		g.publish(g.stateTopic(sender, env.DeviceType), true, env.Message)
	case proto.PayloadAttributes:
		g.publish(g.attributesTopic(sender, env.DeviceType), true, env.Message)
	case proto.PayloadConfig:
		var e proto.EntityConfig
		if err := env.Unmarshal(&e); err != nil {
			slog.Warn("Malformed entity config", "sender", sender, "error", err)
			return
		}
		doc, err := g.discoveryPayload(sender, env.DeviceType, d.deviceName(e), e)
		if err != nil {
			slog.Warn("Cannot announce entity", "sender", sender, "unit", e.Unit, "error", err)
			return
		}
		d.Entities[e.Unit] = e
		g.publish(g.discoveryTopic(sender, e), true, doc)
	default:
		slog.Debug("Unexpected payload from device", "sender", sender, "payload", env.PayloadType)
	}
}

func (g *Gateway) publish(topic string, retained bool, payload []byte) {
	if !g.bridge.Connected() {
		slog.Debug("MQTT down, not publishing", "topic", topic)
		return
	}
	if err := g.bridge.Publish(topic, retained, payload); err != nil {
		slog.Warn("MQTT publish failed", "topic", topic, "error", err)
	}
}

// handleCommand runs on the bridge's goroutine; it only parses and queues.
func (g *Gateway) handleCommand(topic string, payload []byte) {
	cmd, ok := g.parseCommand(topic, payload)
	if !ok {
		slog.Warn("Unrecognised command topic", "topic", topic)
		return
	}
	select {
	case g.commands <- cmd:
	default:
		slog.Warn("Command queue full, dropping", "topic", topic)
	}
}

func (g *Gateway) parseCommand(topic string, payload []byte) (command, bool) {
	rest, found := strings.CutPrefix(topic, g.prefix+"/")
	if !found {
		return command{}, false
	}
	mac, action, found := strings.Cut(rest, "/")
	if !found {
		return command{}, false
	}
	addr, err := proto.ParseAddr(mac)
	if err != nil {
		return command{}, false
	}

	switch action {
	case "switch/set":
		state := strings.ToUpper(strings.TrimSpace(string(payload)))
		return command{target: addr, payload: proto.PayloadSet, body: proto.SetCommand{Set: state}}, true
	case "update":
		return command{target: addr, payload: proto.PayloadUpdate}, true
	case "restart":
		return command{target: addr, payload: proto.PayloadRestart}, true
	}
	return command{}, false
}

func (g *Gateway) dispatch(cmd command) {
	if !g.reachable(cmd.target) {
		slog.Warn("Command for unknown or offline device", "target", cmd.target, "payload", cmd.payload)
		return
	}
	frame, err := proto.Frame(proto.DeviceGateway, cmd.payload, cmd.body)
	if err != nil {
		slog.Warn("Cannot encode command", "payload", cmd.payload, "error", err)
		return
	}
	id := g.tracker.Send(cmd.target, frame)
	slog.Info("Command sent", "target", cmd.target, "payload", cmd.payload, "id", id)
}
