package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/mdns"
	"github.com/mbocsi/meshswitch/transport"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const helloTimeout = 10 * time.Second

// Hub relays mesh frames between websocket peers. Broadcasts reach every other
// peer of the sender's network; unicasts reach the addressed peer and are
// answered with a delivery confirmation.
type Hub struct {
	Addr     string
	registry *PeerRegistry
	server   *http.Server
	mdns     *mdns.Server

	maxPeers int
}

func New(addr string, maxPeers int) *Hub {
	h := &Hub{
		Addr:     addr,
		registry: NewPeerRegistry(),
		maxPeers: maxPeers,
	}
	h.server = &http.Server{
		Addr:              addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return h
}

func (h *Hub) Registry() *PeerRegistry {
	return h.registry
}

func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mesh", h.handleWebSocket)
	return mux
}

// Start serves until Shutdown is called.
func (h *Hub) Start() error {
	slog.Info("Starting mesh hub", "addr", h.Addr)

	err := h.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Advertise announces the hub over mDNS so nodes can find it without a URL.
// The record names no network since the hub relays all of them.
func (h *Hub) Advertise(instance string, port int) error {
	service, err := mdns.NewMDNSService(instance, transport.ServiceType, "", "", port, nil, nil)
	if err != nil {
		return fmt.Errorf("mdns service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("mdns server: %w", err)
	}
	h.mdns = server
	slog.Info("Advertising mesh hub", "service", transport.ServiceType, "instance", instance, "port", port)
	return nil
}

func (h *Hub) Shutdown() error {
	slog.Info("Shutting down mesh hub", "addr", h.Addr)
	if h.mdns != nil {
		h.mdns.Shutdown()
	}
	for _, peer := range h.registry.List("") {
		peer.Close()
	}
	return h.server.Close()
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return
	}

	if h.registry.Len() >= h.maxPeers {
		slog.Warn("Max peers reached, rejecting connection", "remote_addr", r.RemoteAddr)
		conn.Close()
		return
	}

	go h.handleConnection(conn, r.RemoteAddr)
}

func (h *Hub) readHello(conn *websocket.Conn) (transport.Packet, error) {
	var hello transport.Packet
	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	if err := conn.ReadJSON(&hello); err != nil {
		return hello, err
	}
	conn.SetReadDeadline(time.Time{})

	if hello.Kind != transport.KindHello {
		return hello, fmt.Errorf("expected hello, got %q", hello.Kind)
	}
	if hello.Src.IsZero() {
		return hello, errors.New("hello without address")
	}
	return hello, nil
}

func (h *Hub) handleConnection(conn *websocket.Conn, remoteAddr string) {
	hello, err := h.readHello(conn)
	if err != nil {
		slog.Warn("Mesh peer failed to join", "remote_addr", remoteAddr, "error", err)
		conn.Close()
		return
	}

	peer := NewPeer(conn, hello, remoteAddr)
	if old := h.registry.Store(peer); old != nil {
		slog.Info("Replacing stale mesh session", "addr", peer.Addr, "old", old.ID)
		old.Close()
	}
	slog.Info("Mesh peer joined", "addr", peer.Addr, "net", peer.Net, "remote_addr", remoteAddr, "id", peer.ID)

	defer func() {
		h.registry.Delete(peer)
		conn.Close()
		slog.Info("Mesh peer left", "addr", peer.Addr, "id", peer.ID)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("Mesh connection error", "addr", peer.Addr, "error", err)
			}
			return
		}

		var pkt transport.Packet
		if err := json.Unmarshal(raw, &pkt); err != nil {
			slog.Warn("Invalid mesh packet", "addr", peer.Addr, "error", err)
			continue
		}

		// the session identity wins over whatever the packet claims
		pkt.Src = peer.Addr
		pkt.Net = peer.Net
		h.route(peer, pkt)
	}
}

func (h *Hub) route(from *Peer, pkt transport.Packet) {
	switch pkt.Kind {
	case transport.KindBroadcast:
		for _, peer := range h.registry.List(from.Net) {
			if peer == from {
				continue
			}
			if err := peer.Send(pkt); err != nil {
				slog.Debug("Broadcast not delivered", "to", peer.Addr, "error", err)
			}
		}

	case transport.KindUnicast:
		ok := false
		if target, found := h.registry.Get(pkt.Dst); found && target.Net == from.Net {
			if err := target.Send(pkt); err != nil {
				slog.Debug("Unicast not delivered", "to", target.Addr, "error", err)
			} else {
				ok = true
			}
		}
		confirm := transport.Packet{Kind: transport.KindConfirm, Net: from.Net, Src: pkt.Dst, Dst: from.Addr, ID: pkt.ID, OK: ok}
		if err := from.Send(confirm); err != nil {
			slog.Debug("Confirmation not delivered", "to", from.Addr, "id", pkt.ID, "error", err)
		}

	default:
		slog.Warn("Unexpected mesh packet kind", "addr", from.Addr, "kind", pkt.Kind)
	}
}
