package transport

import "github.com/mbocsi/meshswitch/proto"

// Packet kinds exchanged with the hub over the websocket link.
const (
	KindHello     = "hello"
	KindBroadcast = "broadcast"
	KindUnicast   = "unicast"
	KindConfirm   = "confirm"
)

type Packet struct {
	Kind string     `json:"kind"`
	Net  string     `json:"net,omitempty"`
	Src  proto.Addr `json:"src"`
	Dst  proto.Addr `json:"dst"`
	ID   uint16     `json:"id,omitempty"`
	OK   bool       `json:"ok,omitempty"`
	Data []byte     `json:"data,omitempty"`
}
