package replication

import (
	"errors"
	"testing"

	"github.com/l1jgo/tilegrid/internal/core/event"
	"github.com/l1jgo/tilegrid/internal/core/timing"
	"github.com/l1jgo/tilegrid/internal/geom"
	"github.com/l1jgo/tilegrid/internal/mapping"
	"github.com/l1jgo/tilegrid/internal/net/packet"
	"github.com/l1jgo/tilegrid/internal/world"
)

type recorder struct {
	packets [][]byte
}

func (r *recorder) Send(data []byte) { r.packets = append(r.packets, data) }

func (r *recorder) opcodes() []byte {
	var ops []byte
	for _, p := range r.packets {
		ops = append(ops, p[0])
	}
	return ops
}

func (r *recorder) take() [][]byte {
	out := r.packets
	r.packets = nil
	return out
}

type env struct {
	m     *mapping.Manager
	clock *timing.Clock
	hub   *Hub
	mapID mapping.MapID
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := timing.NewClock(1)
	m := mapping.NewManager(clock, world.NewEntities(), event.NewBus(), nil)
	mapID, err := m.CreateMap(mapping.NullMap)
	if err != nil {
		t.Fatalf("create map: %v", err)
	}
	return &env{m: m, clock: clock, hub: NewHub(m, nil), mapID: mapID}
}

func subscribePacket(id mapping.MapID) []byte {
	w := packet.NewWriterWithOpcode(packet.C_OPCODE_SUBSCRIBE)
	w.WriteD(int32(id))
	return w.Bytes()
}

func ackPacket(tick timing.Tick) []byte {
	w := packet.NewWriterWithOpcode(packet.C_OPCODE_ACK)
	w.WriteDU(uint32(tick))
	return w.Bytes()
}

func TestSubscribeThenStream(t *testing.T) {
	e := newEnv(t)
	g, _ := e.m.CreateGrid(e.mapID, mapping.DefaultChunkSize)
	g.SetTile(geom.V2i(0, 0), mapping.NewTile(1))

	rec := &recorder{}
	e.hub.Connect(1, rec)
	if err := e.hub.Handle(1, subscribePacket(e.mapID)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	e.hub.Broadcast()
	ops := rec.opcodes()
	want := []byte{packet.S_OPCODE_HELLO, packet.S_OPCODE_GRID_PLACE, packet.S_OPCODE_GRID_DELTA}
	if string(ops) != string(want) {
		t.Fatalf("expected %v, got %v", want, ops)
	}
	rec.take()

	// nothing changed
	e.clock.Advance()
	e.hub.Broadcast()
	if len(rec.packets) != 0 {
		t.Fatalf("expected a quiet tick to send nothing, got %v", rec.opcodes())
	}

	e.clock.Advance()
	g.SetTile(geom.V2i(17, 0), mapping.NewTile(2))
	e.hub.Broadcast()
	pkts := rec.take()
	if len(pkts) != 1 {
		t.Fatalf("expected 1 delta, got %d packets", len(pkts))
	}
	d, err := packet.DecodeGridDelta(pkts[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(d.Chunks) != 1 || d.Chunks[0].Indices != geom.V2i(1, 0) {
		t.Fatalf("expected only chunk (1, 0), got %+v", d.Chunks)
	}

	e.clock.Advance()
	e.m.DeleteGrid(g.ID())
	e.hub.Broadcast()
	if ops := rec.opcodes(); len(ops) != 1 || ops[0] != packet.S_OPCODE_GRID_REMOVED {
		t.Fatalf("expected grid removal, got %v", ops)
	}
}

func TestPlacementChangesAreSent(t *testing.T) {
	e := newEnv(t)
	g, _ := e.m.CreateGrid(e.mapID, mapping.DefaultChunkSize)
	rec := &recorder{}
	e.hub.Connect(1, rec)
	e.hub.Handle(1, subscribePacket(e.mapID))
	e.hub.Broadcast()
	rec.take()

	e.clock.Advance()
	e.m.SetGridTransform(g.ID(), geom.Transform{Position: geom.Vec2{5, 0}})
	e.hub.Broadcast()
	pkts := rec.take()
	if len(pkts) != 1 || pkts[0][0] != packet.S_OPCODE_GRID_PLACE {
		t.Fatalf("expected one placement packet, got %d", len(pkts))
	}
	r := packet.NewReader(pkts[0])
	r.ReadD()
	r.ReadD()
	if x := r.ReadF(); x != 5 {
		t.Fatalf("expected x 5, got %v", x)
	}
}

func TestResyncResendsFullState(t *testing.T) {
	e := newEnv(t)
	g, _ := e.m.CreateGrid(e.mapID, mapping.DefaultChunkSize)
	g.SetTile(geom.V2i(0, 0), mapping.NewTile(1))
	rec := &recorder{}
	e.hub.Connect(1, rec)
	e.hub.Handle(1, subscribePacket(e.mapID))
	e.hub.Broadcast()
	rec.take()

	e.clock.Advance()
	if err := e.hub.Handle(1, []byte{packet.C_OPCODE_RESYNC}); err != nil {
		t.Fatalf("resync: %v", err)
	}
	e.hub.Broadcast()
	if ops := rec.opcodes(); len(ops) != 2 || ops[1] != packet.S_OPCODE_GRID_DELTA {
		t.Fatalf("expected placement and full state, got %v", ops)
	}
}

func TestAcksBoundHistory(t *testing.T) {
	e := newEnv(t)
	if _, ok := e.hub.OldestUnacked(); ok {
		t.Fatalf("expected no requirement without peers")
	}
	a, b := &recorder{}, &recorder{}
	e.hub.Connect(1, a)
	e.hub.Connect(2, b)
	e.hub.Handle(1, subscribePacket(e.mapID))
	e.hub.Handle(2, subscribePacket(e.mapID))
	e.clock.Set(5)
	e.hub.Broadcast()

	e.hub.Handle(1, ackPacket(5))
	e.hub.Handle(2, ackPacket(3))
	if tick, _ := e.hub.OldestUnacked(); tick != 4 {
		t.Fatalf("expected 4, got %d", tick)
	}
	// acks for ticks never sent are ignored
	e.hub.Handle(2, ackPacket(50))
	if tick, _ := e.hub.OldestUnacked(); tick != 4 {
		t.Fatalf("expected 4, got %d", tick)
	}
	e.hub.Disconnect(2)
	if tick, _ := e.hub.OldestUnacked(); tick != 6 {
		t.Fatalf("expected 6, got %d", tick)
	}
}

func TestHandleErrors(t *testing.T) {
	e := newEnv(t)
	if err := e.hub.Handle(9, ackPacket(1)); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("expected ErrUnknownPeer, got %v", err)
	}
	e.hub.Connect(1, &recorder{})
	if err := e.hub.Handle(1, ackPacket(1)); err == nil {
		t.Fatalf("expected ack before subscribe to be rejected")
	}
	if err := e.hub.Handle(1, subscribePacket(99)); !errors.Is(err, mapping.ErrNoSuchMap) {
		t.Fatalf("expected ErrNoSuchMap, got %v", err)
	}
	if st, _ := e.hub.State(1); st != packet.StateHandshake {
		t.Fatalf("expected handshake state, got %s", st)
	}
}
