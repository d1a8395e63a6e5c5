package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbocsi/meshswitch/config"
	"github.com/mbocsi/meshswitch/hardware"
	"github.com/mbocsi/meshswitch/proto"
	"github.com/mbocsi/meshswitch/transport"
)

// ErrRestart is returned by Run when a restart was requested.
var ErrRestart = errors.New("restart requested")

type Store interface {
	Save(config.Device) error
}

// Portal is the configuration web server exposed for a limited window.
type Portal interface {
	Open() error
	Close() error
}

// Updater is the over-the-air update hook. Handle is called on every tick.
type Updater interface {
	Begin() error
	Handle()
}

type NopUpdater struct{}

func (NopUpdater) Begin() error { return nil }
func (NopUpdater) Handle()      {}

type Options struct {
	Mesh     transport.Mesh
	Board    hardware.Board
	Sensor   hardware.Sensor
	Store    Store
	Portal   Portal
	Updater  Updater
	Timing   config.TimingConfig
	Firmware string
}

// Node is the device context of a switch. Everything except Interrupt and Do
// must be called from the goroutine running the loop.
type Node struct {
	mesh    transport.Mesh
	board   hardware.Board
	sensor  hardware.Sensor
	store   Store
	portal  Portal
	updater Updater
	timing  config.TimingConfig

	record   config.Device
	presence *Presence
	tracker  *Tracker
	reporter reporter

	booted  time.Time
	now     time.Time
	started bool

	buttonArmed  atomic.Bool
	edges        chan struct{}
	debounce     timer
	portalWindow timer
	portalOpen   bool

	work    chan func()
	restart bool
}

func New(record config.Device, opts Options) *Node {
	n := &Node{
		mesh:    opts.Mesh,
		board:   opts.Board,
		sensor:  opts.Sensor,
		store:   opts.Store,
		portal:  opts.Portal,
		updater: opts.Updater,
		timing:  opts.Timing,
		record:  record,
		edges:   make(chan struct{}, 1),
		work:    make(chan func(), 16),
	}
	if n.board == nil {
		n.board = hardware.NewMemoryBoard()
	}
	if n.updater == nil {
		n.updater = NopUpdater{}
	}
	if opts.Firmware != "" {
		n.record.Firmware = opts.Firmware
	}

	n.tracker = NewTracker(n.mesh, func(target proto.Addr) bool { return n.presence.Accepts(target) })
	n.presence = NewPresence(n.timing.GatewayTimeout, n.tracker)
	n.presence.OnBridgeOnline(n.announce)
	return n
}

// Start restores the persisted relay state, hooks up buttons and the mesh, and
// opens the portal for the boot window.
func (n *Node) Start(now time.Time) error {
	if n.started {
		return nil
	}
	n.booted = now
	n.now = now

	n.drive()

	for _, b := range []struct {
		pin    int
		rising bool
	}{
		{n.record.ButtonPin, n.record.ButtonPinType},
		{n.record.ExtButtonPin, n.record.ExtButtonPinType},
	} {
		if b.pin == 0 {
			continue
		}
		if err := n.board.WatchButton(b.pin, b.rising, n.Interrupt); err != nil {
			return fmt.Errorf("watch button: %w", err)
		}
	}

	n.mesh.OnBroadcast(n.handleBroadcast)
	n.mesh.OnUnicast(n.handleUnicast)
	n.mesh.OnConfirm(n.tracker.OnConfirm)

	if err := n.updater.Begin(); err != nil {
		slog.Warn("OTA updater unavailable", "error", err)
	}

	n.reporter.start(now, n.timing)
	n.openPortal(now)
	n.buttonArmed.Store(true)
	n.started = true

	slog.Info("Device started", "name", n.record.DeviceName, "addr", n.mesh.Addr(), "net", n.record.NetName, "relay", n.record.RelayStatus)
	return nil
}

// Tick runs one pass of the cooperative loop.
func (n *Node) Tick(now time.Time) {
	n.now = now

	for drained := false; !drained; {
		select {
		case fn := <-n.work:
			fn()
		default:
			drained = true
		}
	}

	n.mesh.Maintenance()
	n.presence.Check(now)

	select {
	case <-n.edges:
		n.debounce.once(now, n.timing.Debounce)
	default:
	}
	if n.debounce.fired(now) {
		n.toggle()
		n.buttonArmed.Store(true)
	}

	if n.portalWindow.fired(now) {
		n.closePortal()
	}

	n.reporter.poll(now)
	n.report()

	n.updater.Handle()
}

// Run ticks until ctx is done or a restart is requested. Start must have been called.
func (n *Node) Run(ctx context.Context) error {
	if !n.started {
		return errors.New("node not started")
	}

	ticker := time.NewTicker(n.timing.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n.shutdown()
			return ctx.Err()
		case now := <-ticker.C:
			n.Tick(now)
			if n.restart {
				n.shutdown()
				return ErrRestart
			}
		}
	}
}

func (n *Node) shutdown() {
	if n.portalOpen {
		n.closePortal()
	}
}

// Interrupt is the button edge handler. It may run on any goroutine: it disables
// the button until the debounced toggle has run and hands the edge to the loop.
func (n *Node) Interrupt() {
	if !n.buttonArmed.CompareAndSwap(true, false) {
		return
	}
	select {
	case n.edges <- struct{}{}:
	default:
	}
}

// Do runs fn on the loop goroutine and waits for it to finish.
func (n *Node) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case n.work <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Node) RequestRestart() {
	slog.Info("Restart requested")
	n.restart = true
}

func (n *Node) RestartRequested() bool {
	return n.restart
}

func (n *Node) Presence() *Presence { return n.presence }

func (n *Node) Tracker() *Tracker { return n.tracker }

func (n *Node) Record() config.Device { return n.record }

// Status is a point-in-time view of the node for diagnostics.
type Status struct {
	Name             string        `json:"name"`
	Addr             string        `json:"addr"`
	Net              string        `json:"net"`
	Relay            string        `json:"relay"`
	Gateway          string        `json:"gateway,omitempty"`
	GatewayAvailable bool          `json:"gateway_available"`
	BridgeOnline     bool          `json:"bridge_online"`
	Pending          int           `json:"pending"`
	PortalOpen       bool          `json:"portal_open"`
	Uptime           time.Duration `json:"uptime"`
}

func (n *Node) Status() Status {
	s := Status{
		Name:             n.record.DeviceName,
		Addr:             n.mesh.Addr().String(),
		Net:              n.record.NetName,
		Relay:            proto.StateString(n.record.RelayStatus),
		GatewayAvailable: n.presence.Available(),
		BridgeOnline:     n.presence.BridgeOnline(),
		Pending:          n.tracker.Len(),
		PortalOpen:       n.portalOpen,
		Uptime:           n.now.Sub(n.booted),
	}
	if gw := n.presence.Gateway(); !gw.IsZero() {
		s.Gateway = gw.String()
	}
	return s
}

func (n *Node) handleBroadcast(data []byte, sender proto.Addr) {
	env, err := proto.Decode(data)
	if err != nil {
		slog.Debug("Dropping broadcast", "sender", sender, "error", err)
		return
	}
	n.presence.HandleBroadcast(env, sender, n.now)
}

// send reports to the gateway. Nothing is sent while no gateway is available.
func (n *Node) send(device proto.DeviceType, payload proto.PayloadType, body any) uint16 {
	if !n.presence.Available() {
		return 0
	}
	frame, err := proto.Frame(device, payload, body)
	if err != nil {
		slog.Warn("Cannot encode report", "payload", payload, "error", err)
		return 0
	}
	id := n.tracker.Send(n.presence.Gateway(), frame)
	slog.Debug("Report sent", "payload", payload, "device", device, "id", id)
	return id
}
