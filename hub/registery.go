package hub

import (
	"sync"

	"github.com/mbocsi/meshswitch/proto"
)

type PeerRegistry struct {
	mu    sync.RWMutex
	store map[proto.Addr]*Peer
}

func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{store: make(map[proto.Addr]*Peer)}
}

// Store registers peer under its address and returns the session it replaced.
func (r *PeerRegistry) Store(peer *Peer) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.store[peer.Addr]
	r.store[peer.Addr] = peer
	return old
}

func (r *PeerRegistry) Get(addr proto.Addr) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peer, ok := r.store[addr]
	return peer, ok
}

// Delete removes peer unless a newer session has taken its address.
func (r *PeerRegistry) Delete(peer *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store[peer.Addr] == peer {
		delete(r.store, peer.Addr)
	}
}

func (r *PeerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store)
}

// List returns the peers of one mesh network, or all peers when net is empty.
func (r *PeerRegistry) List(net string) []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]*Peer, 0, len(r.store))
	for _, peer := range r.store {
		if net == "" || peer.Net == net {
			peers = append(peers, peer)
		}
	}
	return peers
}
