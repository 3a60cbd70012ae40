package physics

import (
	"testing"

	"github.com/l1jgo/tilegrid/internal/core/event"
	"github.com/l1jgo/tilegrid/internal/core/timing"
	"github.com/l1jgo/tilegrid/internal/geom"
	"github.com/l1jgo/tilegrid/internal/mapping"
	"github.com/l1jgo/tilegrid/internal/world"
)

func newManager(t *testing.T) (*mapping.Manager, *FixtureStore, *mapping.Grid) {
	t.Helper()
	store := NewFixtureStore(nil)
	m := mapping.NewManager(timing.NewClock(1), world.NewEntities(), event.NewBus(), nil)
	m.SetFixtureSink(store)
	mapID, err := m.CreateMap(mapping.NullMap)
	if err != nil {
		t.Fatalf("create map: %v", err)
	}
	g, err := m.CreateGrid(mapID, mapping.DefaultChunkSize)
	if err != nil {
		t.Fatalf("create grid: %v", err)
	}
	return m, store, g
}

func TestFixturesFollowChunkRegeneration(t *testing.T) {
	_, store, g := newManager(t)

	g.SetTile(geom.V2i(0, 0), mapping.NewTile(1))
	g.SetTile(geom.V2i(1, 0), mapping.NewTile(1))
	g.SetTile(geom.V2i(20, 3), mapping.NewTile(1))

	if store.Count() != 2 {
		t.Fatalf("expected 2 fixtures, got %d", store.Count())
	}
	fs := store.ChunkFixtures(g.ID(), geom.V2i(0, 0))
	if len(fs) != 1 || fs[0].ID != "grid_chunk-0-0-0" {
		t.Fatalf("unexpected fixtures %+v", fs)
	}
	if fs[0].Bounds != geom.NewBox2(0, 0, 2, 1) {
		t.Fatalf("expected merged 2x1 fixture, got %s", fs[0].Bounds)
	}

	g.SetTile(geom.V2i(20, 3), mapping.EmptyTile)
	if store.Count() != 1 {
		t.Fatalf("expected removed chunk to drop its fixture, got %d", store.Count())
	}
	if len(store.ChunkFixtures(g.ID(), geom.V2i(1, 0))) != 0 {
		t.Fatalf("expected no fixtures for removed chunk")
	}
}

func TestFixtureQueries(t *testing.T) {
	_, store, g := newManager(t)
	g.SetTile(geom.V2i(-1, -1), mapping.NewTile(1))
	g.SetTile(geom.V2i(4, 4), mapping.NewTile(1))

	if !store.PointCollides(g.ID(), geom.Vec2{-0.5, -0.5}) {
		t.Fatalf("expected point inside tile (-1, -1) to collide")
	}
	if store.PointCollides(g.ID(), geom.Vec2{2, 2}) {
		t.Fatalf("expected open floor not to collide")
	}

	probe := geom.NewRectPolygon(geom.NewBox2(3.5, 3.5, 4.2, 4.2))
	n := 0
	for f := range store.Overlapping(g.ID(), probe) {
		if f.Chunk != geom.V2i(0, 0) {
			t.Fatalf("unexpected chunk %s", f.Chunk)
		}
		n++
	}
	if n != 1 {
		t.Fatalf("expected 1 overlapping fixture, got %d", n)
	}

	if _, ok := store.Lookup(g.ID(), FixtureID(geom.V2i(-1, -1), 0)); !ok {
		t.Fatalf("expected fixture of chunk (-1, -1) to be found")
	}
}

func TestDeleteGridClearsFixtures(t *testing.T) {
	m, store, g := newManager(t)
	g.SetTile(geom.V2i(0, 0), mapping.NewTile(1))
	g.SetTile(geom.V2i(40, 40), mapping.NewTile(1))
	m.DeleteGrid(g.ID())
	if store.Count() != 0 {
		t.Fatalf("expected no fixtures after delete, got %d", store.Count())
	}
}
