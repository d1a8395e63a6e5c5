package node

import (
	"errors"
	"testing"
	"time"

	"github.com/mbocsi/meshswitch/config"
	"github.com/mbocsi/meshswitch/hardware"
	"github.com/mbocsi/meshswitch/proto"
)

var (
	selfAddr    = proto.Addr{0x02, 0x00, 0x00, 0x0a, 0x0b, 0x0c}
	gatewayAddr = proto.Addr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	otherAddr   = proto.Addr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

const (
	relayPin  = 17
	ledPin    = 27
	buttonPin = 22
)

type sentFrame struct {
	id     uint16
	target proto.Addr
	frame  []byte
}

func (s sentFrame) envelope(t *testing.T) proto.Envelope {
	t.Helper()
	env, err := proto.Decode(s.frame)
	if err != nil {
		t.Fatalf("sent frame does not decode: %v", err)
	}
	return env
}

// fakeMesh records unicasts and queues inbound events until Maintenance.
type fakeMesh struct {
	addr   proto.Addr
	nextID uint16
	reject bool
	sent   []sentFrame
	queue  []func()

	onBroadcast func([]byte, proto.Addr)
	onUnicast   func([]byte, proto.Addr)
	onConfirm   func(uint16, bool)
}

func (f *fakeMesh) Addr() proto.Addr            { return f.addr }
func (f *fakeMesh) Broadcast(data []byte) error { return nil }
func (f *fakeMesh) Close() error                { return nil }

func (f *fakeMesh) Unicast(data []byte, target proto.Addr) (uint16, error) {
	if f.reject {
		return 0, errors.New("rejected")
	}
	f.nextID++
	if f.nextID == 0 {
		f.nextID++
	}
	f.sent = append(f.sent, sentFrame{id: f.nextID, target: target, frame: data})
	return f.nextID, nil
}

func (f *fakeMesh) OnBroadcast(fn func([]byte, proto.Addr)) { f.onBroadcast = fn }
func (f *fakeMesh) OnUnicast(fn func([]byte, proto.Addr))   { f.onUnicast = fn }
func (f *fakeMesh) OnConfirm(fn func(uint16, bool))         { f.onConfirm = fn }

func (f *fakeMesh) Maintenance() {
	queue := f.queue
	f.queue = nil
	for _, fn := range queue {
		fn()
	}
}

func (f *fakeMesh) deliverBroadcast(frame []byte, sender proto.Addr) {
	f.queue = append(f.queue, func() { f.onBroadcast(frame, sender) })
}

func (f *fakeMesh) deliverUnicast(frame []byte, sender proto.Addr) {
	f.queue = append(f.queue, func() { f.onUnicast(frame, sender) })
}

func (f *fakeMesh) deliverConfirm(id uint16, ok bool) {
	f.queue = append(f.queue, func() { f.onConfirm(id, ok) })
}

func (f *fakeMesh) count(t *testing.T, payload proto.PayloadType) int {
	t.Helper()
	n := 0
	for _, s := range f.sent {
		if s.envelope(t).PayloadType == payload {
			n++
		}
	}
	return n
}

func (f *fakeMesh) reset() {
	f.sent = nil
}

type memStore struct {
	saved []config.Device
	err   error
}

func (s *memStore) Save(d config.Device) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, d)
	return nil
}

func (s *memStore) last() (config.Device, bool) {
	if len(s.saved) == 0 {
		return config.Device{}, false
	}
	return s.saved[len(s.saved)-1], true
}

type fakePortal struct {
	open   bool
	opens  int
	closes int
}

func (p *fakePortal) Open() error  { p.open = true; p.opens++; return nil }
func (p *fakePortal) Close() error { p.open = false; p.closes++; return nil }

type fakeSensor struct {
	reading hardware.Reading
	err     error
}

func (s *fakeSensor) Read() (hardware.Reading, error) { return s.reading, s.err }

type harness struct {
	t      *testing.T
	mesh   *fakeMesh
	board  *hardware.MemoryBoard
	store  *memStore
	portal *fakePortal
	node   *Node
	now    time.Time
}

func testRecord() config.Device {
	d := config.DefaultDevice("1.0.0", "DEFAULT", "0A0B0C")
	d.RelayPin = relayPin
	d.LedPin = ledPin
	d.LedPinType = true
	d.ButtonPin = buttonPin
	return d
}

func newHarness(t *testing.T, record config.Device, opts ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		mesh:   &fakeMesh{addr: selfAddr},
		board:  hardware.NewMemoryBoard(),
		store:  &memStore{},
		portal: &fakePortal{},
		now:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	o := Options{
		Mesh:   h.mesh,
		Board:  h.board,
		Store:  h.store,
		Portal: h.portal,
		Timing: config.Default().Timing,
	}
	for _, fn := range opts {
		fn(&o)
	}
	h.node = New(record, o)
	if err := h.node.Start(h.now); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return h
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
	h.node.Tick(h.now)
}

func (h *harness) frame(device proto.DeviceType, payload proto.PayloadType, body any) []byte {
	h.t.Helper()
	frame, err := proto.Frame(device, payload, body)
	if err != nil {
		h.t.Fatalf("Frame failed: %v", err)
	}
	return frame
}

func (h *harness) keepAlive(from proto.Addr, bridge string) {
	h.mesh.deliverBroadcast(h.frame(proto.DeviceGateway, proto.PayloadKeepAlive, proto.KeepAlive{MQTT: bridge}), from)
}

func (h *harness) command(from proto.Addr, device proto.DeviceType, payload proto.PayloadType, body any) {
	h.mesh.deliverUnicast(h.frame(device, payload, body), from)
}

// join adopts gatewayAddr and flushes the reports that were due since boot.
func (h *harness) join(bridge string) {
	h.keepAlive(gatewayAddr, bridge)
	h.advance(10 * time.Millisecond)
	if !h.node.Presence().Available() {
		h.t.Fatal("Expected gateway to be available after keep-alive")
	}
	h.mesh.reset()
}

func (h *harness) relay() bool {
	high, _ := h.board.Level(relayPin)
	return high
}
