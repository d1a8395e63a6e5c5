package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/meshswitch/proto"
)

type WSMeshOptions struct {
	URL        string
	Addr       proto.Addr
	Net        string
	Cipher     *Cipher
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// WriteTimeout bounds every write; a write that times out drops the connection.
	WriteTimeout time.Duration
}

// WSMesh joins a hub over a websocket and reconnects whenever the link drops.
type WSMesh struct {
	inbox
	opts WSMeshOptions
	url  string
	ids  idSource

	wmu  sync.Mutex
	conn *websocket.Conn

	cancel context.CancelFunc
	done   chan struct{}
}

func hubURL(addr string) (string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("invalid hub URL: %w", err)
	}
	if u.Scheme == "" || u.Scheme == "tcp" {
		u.Scheme = "ws"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/mesh"
	}
	return u.String(), nil
}

// NewWSMesh starts connecting in the background and returns immediately.
func NewWSMesh(opts WSMeshOptions) (*WSMesh, error) {
	u, err := hubURL(opts.URL)
	if err != nil {
		return nil, err
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &WSMesh{opts: opts, url: u, cancel: cancel, done: make(chan struct{})}
	go m.run(ctx)
	return m, nil
}

func (m *WSMesh) Addr() proto.Addr {
	return m.opts.Addr
}

func (m *WSMesh) Connected() bool {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	return m.conn != nil
}

func (m *WSMesh) run(ctx context.Context) {
	defer close(m.done)
	backoff := m.opts.MinBackoff

	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("Failed to reach mesh hub", "url", m.url, "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, m.opts.MaxBackoff)
			continue
		}

		hello := Packet{Kind: KindHello, Net: m.opts.Net, Src: m.opts.Addr}
		conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
		if err := conn.WriteJSON(hello); err != nil {
			slog.Warn("Mesh hello failed", "url", m.url, "error", err)
			conn.Close()
			continue
		}

		m.wmu.Lock()
		if ctx.Err() != nil {
			m.wmu.Unlock()
			conn.Close()
			return
		}
		m.conn = conn
		m.wmu.Unlock()
		backoff = m.opts.MinBackoff
		slog.Info("Joined mesh hub", "url", m.url, "addr", m.opts.Addr, "net", m.opts.Net)

		m.readLoop(conn)

		m.wmu.Lock()
		m.conn = nil
		m.wmu.Unlock()
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		slog.Warn("Lost mesh hub connection", "url", m.url)
	}
}

func (m *WSMesh) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Mesh connection error", "error", err)
			}
			return
		}

		var pkt Packet
		if err := json.Unmarshal(raw, &pkt); err != nil {
			slog.Warn("Invalid mesh packet", "error", err, "size", len(raw))
			continue
		}
		m.receive(pkt)
	}
}

func (m *WSMesh) receive(pkt Packet) {
	switch pkt.Kind {
	case KindConfirm:
		m.push(event{kind: eventConfirm, id: pkt.ID, ok: pkt.OK})
	case KindBroadcast, KindUnicast:
		if pkt.Net != m.opts.Net {
			slog.Debug("Ignoring frame from other mesh", "net", pkt.Net, "sender", pkt.Src)
			return
		}
		data, err := m.opts.Cipher.Open(pkt.Data)
		if err != nil {
			slog.Warn("Dropping frame", "sender", pkt.Src, "error", err)
			return
		}
		kind := eventUnicast
		if pkt.Kind == KindBroadcast {
			kind = eventBroadcast
		}
		m.push(event{kind: kind, data: data, sender: pkt.Src})
	default:
		slog.Warn("Unknown mesh packet kind", "kind", pkt.Kind)
	}
}

func (m *WSMesh) write(pkt Packet) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	if m.conn == nil {
		return ErrNotConnected
	}
	if err := m.conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout)); err != nil {
		return err
	}
	if err := m.conn.WriteJSON(pkt); err != nil {
		// the read loop sees the closed socket and reconnects
		slog.Warn("Mesh write failed, dropping connection", "error", err)
		m.conn.Close()
		m.conn = nil
		return err
	}
	return nil
}

func (m *WSMesh) Broadcast(data []byte) error {
	sealed, err := m.opts.Cipher.Seal(data)
	if err != nil {
		return err
	}
	return m.write(Packet{Kind: KindBroadcast, Net: m.opts.Net, Src: m.opts.Addr, Dst: proto.Broadcast, Data: sealed})
}

// Unicast never fails for link problems: a frame that cannot be written is
// reported as a failed confirmation on the next Maintenance.
func (m *WSMesh) Unicast(data []byte, target proto.Addr) (uint16, error) {
	sealed, err := m.opts.Cipher.Seal(data)
	if err != nil {
		return 0, err
	}

	id := m.ids.next()
	pkt := Packet{Kind: KindUnicast, Net: m.opts.Net, Src: m.opts.Addr, Dst: target, ID: id, Data: sealed}
	if err := m.write(pkt); err != nil {
		slog.Debug("Unicast not written", "id", id, "target", target, "error", err)
		m.push(event{kind: eventConfirm, id: id, ok: false})
	}
	return id, nil
}

func (m *WSMesh) Close() error {
	m.cancel()

	m.wmu.Lock()
	if m.conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		err := m.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(m.opts.WriteTimeout))
		if err != nil {
			slog.Warn("Failed to send close message", "error", err)
		}
		m.conn.Close()
	}
	m.wmu.Unlock()

	<-m.done
	return nil
}
