package node

import (
	"log/slog"
	"slices"

	"github.com/mbocsi/meshswitch/proto"
	"github.com/mbocsi/meshswitch/transport"
)

// Pending is a unicast frame waiting for its delivery confirmation.
type Pending struct {
	ID     uint16
	Target proto.Addr
	Frame  []byte
}

// Tracker keeps every unconfirmed unicast keyed by the transport's correlation id
// and re-sends failed ones until they are confirmed or the table is cleared.
// It is not safe for concurrent use; all calls come from the owner's loop.
type Tracker struct {
	mesh    transport.Mesh
	pending []Pending
	allow   func(target proto.Addr) bool
}

// NewTracker returns a tracker sending through mesh. allow, when set, is asked
// before every send and re-send; a refused re-send drops the entry.
func NewTracker(mesh transport.Mesh, allow func(target proto.Addr) bool) *Tracker {
	return &Tracker{mesh: mesh, allow: allow}
}

func (t *Tracker) permitted(target proto.Addr) bool {
	if target.IsZero() {
		return false
	}
	return t.allow == nil || t.allow(target)
}

// Send unicasts frame to target and records it. It returns 0 when nothing was sent.
func (t *Tracker) Send(target proto.Addr, frame []byte) uint16 {
	if !t.permitted(target) {
		slog.Debug("Send skipped, target unavailable", "target", target)
		return 0
	}

	id, err := t.mesh.Unicast(frame, target)
	if err != nil || id == 0 {
		slog.Warn("Unicast rejected by transport", "target", target, "error", err)
		return 0
	}

	if i := t.index(id); i >= 0 {
		slog.Warn("Correlation id reused while pending, replacing entry", "id", id, "target", t.pending[i].Target)
		t.pending[i] = Pending{ID: id, Target: target, Frame: frame}
		return id
	}
	t.pending = append(t.pending, Pending{ID: id, Target: target, Frame: frame})
	return id
}

// OnConfirm handles a delivery report. Unknown ids are ignored.
func (t *Tracker) OnConfirm(id uint16, ok bool) {
	i := t.index(id)
	if i < 0 {
		slog.Debug("Confirmation for unknown id", "id", id, "ok", ok)
		return
	}

	if ok {
		t.pending = slices.Delete(t.pending, i, i+1)
		return
	}

	p := t.pending[i]
	if !t.permitted(p.Target) {
		slog.Debug("Dropping undelivered frame, target gone", "id", id, "target", p.Target)
		t.pending = slices.Delete(t.pending, i, i+1)
		return
	}

	newID, err := t.mesh.Unicast(p.Frame, p.Target)
	if err != nil || newID == 0 {
		slog.Warn("Re-send rejected by transport, dropping frame", "id", id, "target", p.Target, "error", err)
		t.pending = slices.Delete(t.pending, i, i+1)
		return
	}

	if j := t.index(newID); j >= 0 && j != i {
		slog.Warn("Correlation id reused while pending, replacing entry", "id", newID, "target", t.pending[j].Target)
		t.pending = slices.Delete(t.pending, j, j+1)
		if j < i {
			i--
		}
	}
	t.pending[i].ID = newID
	slog.Debug("Re-sent undelivered frame", "old_id", id, "new_id", newID, "target", p.Target)
}

func (t *Tracker) Clear() {
	if len(t.pending) > 0 {
		slog.Debug("Discarding pending sends", "count", len(t.pending))
	}
	t.pending = nil
}

func (t *Tracker) Len() int {
	return len(t.pending)
}

// Pending returns a copy of the table in send order.
func (t *Tracker) Pending() []Pending {
	return slices.Clone(t.pending)
}

func (t *Tracker) index(id uint16) int {
	return slices.IndexFunc(t.pending, func(p Pending) bool { return p.ID == id })
}
