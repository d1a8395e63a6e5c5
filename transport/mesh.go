package transport

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mbocsi/meshswitch/proto"
)

var (
	ErrClosed       = errors.New("mesh transport closed")
	ErrNotConnected = errors.New("mesh transport not connected")
)

// Mesh is a connectionless link between peers. Unicast returns a correlation id
// that is later reported through OnConfirm. Received frames and confirmations are
// queued by the implementation and only delivered from Maintenance, so handlers
// run on the goroutine that calls it.
type Mesh interface {
	Addr() proto.Addr
	Broadcast(data []byte) error
	Unicast(data []byte, target proto.Addr) (uint16, error)
	OnBroadcast(fn func(data []byte, sender proto.Addr))
	OnUnicast(fn func(data []byte, sender proto.Addr))
	OnConfirm(fn func(id uint16, ok bool))
	Maintenance()
	Close() error
}

type eventKind uint8

const (
	eventBroadcast eventKind = iota
	eventUnicast
	eventConfirm
)

type event struct {
	kind   eventKind
	data   []byte
	sender proto.Addr
	id     uint16
	ok     bool
}

const inboxLimit = 256

// inbox buffers events between reader goroutines and Maintenance.
type inbox struct {
	mu     sync.Mutex
	events []event

	onBroadcast func([]byte, proto.Addr)
	onUnicast   func([]byte, proto.Addr)
	onConfirm   func(uint16, bool)
}

func (b *inbox) push(ev event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// confirmations are always queued
	if len(b.events) >= inboxLimit && ev.kind != eventConfirm {
		slog.Warn("Mesh inbox full, dropping frame", "sender", ev.sender, "size", len(ev.data))
		return
	}
	b.events = append(b.events, ev)
}

func (b *inbox) OnBroadcast(fn func(data []byte, sender proto.Addr)) {
	b.mu.Lock()
	b.onBroadcast = fn
	b.mu.Unlock()
}

func (b *inbox) OnUnicast(fn func(data []byte, sender proto.Addr)) {
	b.mu.Lock()
	b.onUnicast = fn
	b.mu.Unlock()
}

func (b *inbox) OnConfirm(fn func(id uint16, ok bool)) {
	b.mu.Lock()
	b.onConfirm = fn
	b.mu.Unlock()
}

// Maintenance delivers every queued event to the registered handlers.
func (b *inbox) Maintenance() {
	b.mu.Lock()
	events := b.events
	b.events = nil
	onBroadcast, onUnicast, onConfirm := b.onBroadcast, b.onUnicast, b.onConfirm
	b.mu.Unlock()

	for _, ev := range events {
		switch ev.kind {
		case eventBroadcast:
			if onBroadcast != nil {
				onBroadcast(ev.data, ev.sender)
			}
		case eventUnicast:
			if onUnicast != nil {
				onUnicast(ev.data, ev.sender)
			}
		case eventConfirm:
			if onConfirm != nil {
				onConfirm(ev.id, ev.ok)
			}
		}
	}
}

// idSource hands out unicast correlation ids. 0 is reserved for "not sent".
type idSource struct {
	n atomic.Uint32
}

func (s *idSource) next() uint16 {
	for {
		if id := uint16(s.n.Add(1)); id != 0 {
			return id
		}
	}
}
