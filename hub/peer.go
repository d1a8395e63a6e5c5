package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mbocsi/meshswitch/proto"
	"github.com/mbocsi/meshswitch/transport"
)

// Peer is one websocket session of a mesh node.
type Peer struct {
	ID         string
	Addr       proto.Addr
	Net        string
	RemoteAddr string
	Joined     time.Time

	conn *websocket.Conn
	wmu  sync.Mutex
}

func generatePeerId() string {
	return "peer-" + uuid.NewString()
}

func NewPeer(conn *websocket.Conn, hello transport.Packet, remoteAddr string) *Peer {
	return &Peer{
		ID:         generatePeerId(),
		Addr:       hello.Src,
		Net:        hello.Net,
		RemoteAddr: remoteAddr,
		Joined:     time.Now(),
		conn:       conn,
	}
}

func (p *Peer) Send(pkt transport.Packet) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()

	if err := p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	if err := p.conn.WriteJSON(pkt); err != nil {
		return err
	}
	slog.Debug("Sent mesh packet", "to", p.Addr, "kind", pkt.Kind, "id", pkt.ID, "size", len(pkt.Data))
	return nil
}

func (p *Peer) Close() error {
	return p.conn.Close()
}
