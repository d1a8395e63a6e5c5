package transport

import (
	"slices"
	"sync"

	"github.com/mbocsi/meshswitch/proto"
)

// MemoryNetwork connects MemoryMesh peers inside one process.
type MemoryNetwork struct {
	mu    sync.Mutex
	peers map[proto.Addr]*MemoryMesh
	drop  func(from, to proto.Addr) bool
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{peers: make(map[proto.Addr]*MemoryMesh)}
}

// SetLoss installs a predicate deciding which frames are lost. Lost unicasts are
// confirmed as failed.
func (n *MemoryNetwork) SetLoss(drop func(from, to proto.Addr) bool) {
	n.mu.Lock()
	n.drop = drop
	n.mu.Unlock()
}

func (n *MemoryNetwork) Join(addr proto.Addr) *MemoryMesh {
	m := &MemoryMesh{network: n, addr: addr}
	n.mu.Lock()
	n.peers[addr] = m
	n.mu.Unlock()
	return m
}

func (n *MemoryNetwork) route(from, to proto.Addr) (*MemoryMesh, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	peer, ok := n.peers[to]
	if !ok || (n.drop != nil && n.drop(from, to)) {
		return nil, false
	}
	return peer, true
}

func (n *MemoryNetwork) others(from proto.Addr) []*MemoryMesh {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*MemoryMesh, 0, len(n.peers))
	for addr, peer := range n.peers {
		if addr == from || (n.drop != nil && n.drop(from, addr)) {
			continue
		}
		out = append(out, peer)
	}
	return out
}

type MemoryMesh struct {
	inbox
	network *MemoryNetwork
	addr    proto.Addr
	ids     idSource

	mu     sync.Mutex
	closed bool
}

func (m *MemoryMesh) Addr() proto.Addr {
	return m.addr
}

func (m *MemoryMesh) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MemoryMesh) Broadcast(data []byte) error {
	if m.isClosed() {
		return ErrClosed
	}
	for _, peer := range m.network.others(m.addr) {
		peer.push(event{kind: eventBroadcast, data: slices.Clone(data), sender: m.addr})
	}
	return nil
}

func (m *MemoryMesh) Unicast(data []byte, target proto.Addr) (uint16, error) {
	if m.isClosed() {
		return 0, ErrClosed
	}
	id := m.ids.next()
	peer, ok := m.network.route(m.addr, target)
	if ok {
		peer.push(event{kind: eventUnicast, data: slices.Clone(data), sender: m.addr})
	}
	m.push(event{kind: eventConfirm, id: id, ok: ok})
	return id, nil
}

func (m *MemoryMesh) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.network.mu.Lock()
	if m.network.peers[m.addr] == m {
		delete(m.network.peers, m.addr)
	}
	m.network.mu.Unlock()
	return nil
}
