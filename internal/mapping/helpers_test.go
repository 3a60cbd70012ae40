package mapping

import (
	"testing"

	"github.com/l1jgo/tilegrid/internal/core/event"
	"github.com/l1jgo/tilegrid/internal/core/timing"
	"github.com/l1jgo/tilegrid/internal/geom"
	"github.com/l1jgo/tilegrid/internal/world"
)

type recordingSink struct {
	registered map[GridID]map[geom.Vec2i][]geom.Polygon
	registers  int
	clears     int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{registered: make(map[GridID]map[geom.Vec2i][]geom.Polygon)}
}

func (s *recordingSink) RegisterFixtures(grid GridID, chunk geom.Vec2i, polys []geom.Polygon) {
	if s.registered[grid] == nil {
		s.registered[grid] = make(map[geom.Vec2i][]geom.Polygon)
	}
	s.registered[grid][chunk] = polys
	s.registers++
}

func (s *recordingSink) ClearFixtures(grid GridID, chunk geom.Vec2i) {
	delete(s.registered[grid], chunk)
	s.clears++
}

type testEnv struct {
	m        *Manager
	clock    *timing.Clock
	bus      *event.Bus
	sink     *recordingSink
	entities *world.Entities
	mapID    MapID
}

func newTestManager(t *testing.T) *testEnv {
	t.Helper()
	clock := timing.NewClock(1)
	bus := event.NewBus()
	ents := world.NewEntities()
	sink := newRecordingSink()
	m := NewManager(clock, ents, bus, nil)
	m.SetFixtureSink(sink)
	id, err := m.CreateMap(NullMap)
	if err != nil {
		t.Fatalf("create map: %v", err)
	}
	bus.Discard()
	return &testEnv{m: m, clock: clock, bus: bus, sink: sink, entities: ents, mapID: id}
}

func (e *testEnv) newGrid(t *testing.T) *Grid {
	t.Helper()
	g, err := e.m.CreateGrid(e.mapID, DefaultChunkSize)
	if err != nil {
		t.Fatalf("create grid: %v", err)
	}
	return g
}

func newTestChunk() (*Chunk, *timing.Clock) {
	clock := timing.NewClock(11)
	return NewChunk(geom.V2i(7, 9), 8, clock), clock
}

func fillChunk(c *Chunk, filled func(x, y int32) bool) {
	release := c.SuppressRegeneration()
	defer release()
	n := int32(c.ChunkSize())
	for x := int32(0); x < n; x++ {
		for y := int32(0); y < n; y++ {
			if filled(x, y) {
				c.SetTile(x, y, NewTile(1))
			}
		}
	}
}

func vertsEqual(got []geom.Vec2, want ...geom.Vec2) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if !geom.VecClose(got[i], want[i]) {
			return false
		}
	}
	return true
}
