package replication

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/l1jgo/tilegrid/internal/core/timing"
	"github.com/l1jgo/tilegrid/internal/geom"
	"github.com/l1jgo/tilegrid/internal/mapping"
	"github.com/l1jgo/tilegrid/internal/net/packet"
)

var ErrUnknownPeer = errors.New("replication: unknown peer")

// Sender is the outbound half of a client connection.
type Sender interface {
	Send(data []byte)
}

type placement struct {
	transform geom.Transform
	tileSize  float64
}

type peer struct {
	id    uint64
	out   Sender
	state packet.SessionState
	mapID mapping.MapID

	// grids the client holds, with the placement it was last told
	known map[mapping.GridID]placement

	// next tick to pull deltas from
	nextSince timing.Tick
	// highest tick the client confirmed applying
	acked timing.Tick
}

// Hub streams grid state to subscribed clients. Each client first receives
// the full state of every grid on its map, then per-tick deltas. It is
// driven from the tick loop and is not safe for concurrent use.
type Hub struct {
	m         *mapping.Manager
	reg       *packet.Registry
	peers     map[uint64]*peer
	chunkSize uint16 // advertised in HELLO; each delta carries its grid's own
	log       *zap.Logger
}

func NewHub(m *mapping.Manager, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		m:         m,
		reg:       packet.NewRegistry(log),
		peers:     make(map[uint64]*peer),
		chunkSize: mapping.DefaultChunkSize,
		log:       log,
	}
	h.reg.Register(packet.C_OPCODE_SUBSCRIBE,
		[]packet.SessionState{packet.StateHandshake, packet.StateSubscribed}, h.handleSubscribe)
	h.reg.Register(packet.C_OPCODE_ACK,
		[]packet.SessionState{packet.StateSubscribed}, h.handleAck)
	h.reg.Register(packet.C_OPCODE_RESYNC,
		[]packet.SessionState{packet.StateSubscribed}, h.handleResync)
	return h
}

// SetChunkSize sets the default chunk size announced to new subscribers.
func (h *Hub) SetChunkSize(n uint16) { h.chunkSize = n }

func (h *Hub) Connect(id uint64, out Sender) {
	h.peers[id] = &peer{id: id, out: out, state: packet.StateHandshake}
}

func (h *Hub) Disconnect(id uint64) { delete(h.peers, id) }

func (h *Hub) PeerCount() int { return len(h.peers) }

// State reports a peer's protocol state.
func (h *Hub) State(id uint64) (packet.SessionState, bool) {
	p, ok := h.peers[id]
	if !ok {
		return packet.StateDisconnecting, false
	}
	return p.state, true
}

// Handle dispatches one client packet.
func (h *Hub) Handle(id uint64, data []byte) error {
	p, ok := h.peers[id]
	if !ok {
		return fmt.Errorf("session %d: %w", id, ErrUnknownPeer)
	}
	return h.reg.Dispatch(p, p.state, data)
}

func (h *Hub) handleSubscribe(sess any, r *packet.Reader) error {
	p := sess.(*peer)
	mapID := mapping.MapID(r.ReadD())
	if r.Err() != nil {
		return r.Err()
	}
	if !h.m.MapExists(mapID) {
		return fmt.Errorf("subscribe to map %d: %w", mapID, mapping.ErrNoSuchMap)
	}
	for _, gid := range slices.Sorted(maps.Keys(p.known)) {
		p.out.Send(packet.EncodeGridRemoved(gid))
	}
	p.state = packet.StateSubscribed
	p.mapID = mapID
	p.known = make(map[mapping.GridID]placement)
	p.acked = 0
	p.out.Send(packet.EncodeHello(h.m.Clock().CurTick(), h.chunkSize))
	h.log.Debug("peer subscribed", zap.Uint64("session", p.id), zap.Int32("map", int32(mapID)))
	return nil
}

func (h *Hub) handleAck(sess any, r *packet.Reader) error {
	p := sess.(*peer)
	tick := timing.Tick(r.ReadDU())
	if r.Err() != nil {
		return r.Err()
	}
	// acks beyond what was sent are ignored
	if tick > p.acked && tick < p.nextSince {
		p.acked = tick
	}
	return nil
}

func (h *Hub) handleResync(sess any, _ *packet.Reader) error {
	p := sess.(*peer)
	clear(p.known)
	return nil
}

// Broadcast sends every subscribed peer what changed on its map since its
// last update. Grids new to a peer are sent in full.
func (h *Hub) Broadcast() {
	now := h.m.Clock().CurTick()
	for _, id := range slices.Sorted(maps.Keys(h.peers)) {
		p := h.peers[id]
		if p.state != packet.StateSubscribed {
			continue
		}
		h.update(p)
		p.nextSince = now + 1
	}
}

func (h *Hub) update(p *peer) {
	live := make(map[mapping.GridID]bool)
	for _, g := range h.m.GridsOnMap(p.mapID) {
		live[g.ID()] = true
		cur := placement{transform: g.Transform(), tileSize: g.TileSize()}
		prev, known := p.known[g.ID()]
		if !known || prev != cur {
			p.out.Send(packet.EncodeGridPlace(g))
			p.known[g.ID()] = cur
		}
		var d mapping.GridDelta
		if known {
			d = g.GetDeltaSince(p.nextSince)
		} else {
			d = g.FullState()
		}
		if !d.Empty() {
			for _, data := range packet.EncodeGridDeltas(d) {
				p.out.Send(data)
			}
		}
	}
	for _, gid := range slices.Sorted(maps.Keys(p.known)) {
		if !live[gid] {
			p.out.Send(packet.EncodeGridRemoved(gid))
			delete(p.known, gid)
		}
	}
}

// OldestUnacked is the oldest tick whose deletions a subscribed peer may
// still need. ok is false when no peer is subscribed.
func (h *Hub) OldestUnacked() (tick timing.Tick, ok bool) {
	for _, p := range h.peers {
		if p.state != packet.StateSubscribed {
			continue
		}
		need := p.acked + 1
		if !ok || need < tick {
			tick, ok = need, true
		}
	}
	return tick, ok
}
