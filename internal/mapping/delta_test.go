package mapping

import (
	"bytes"
	"errors"
	"testing"

	"github.com/l1jgo/tilegrid/internal/core/event"
	"github.com/l1jgo/tilegrid/internal/core/timing"
	"github.com/l1jgo/tilegrid/internal/geom"
)

func gridTiles(g *Grid) map[geom.Vec2i]Tile {
	out := make(map[geom.Vec2i]Tile)
	for r := range g.AllTiles(true) {
		out[r.Indices] = r.Tile
	}
	return out
}

func TestDeltaSinceSelectsModifiedChunks(t *testing.T) {
	env := newTestManager(t)
	g := env.newGrid(t)
	g.SetTile(geom.V2i(0, 0), NewTile(1))
	g.SetTile(geom.V2i(20, 0), NewTile(1))
	g.SetTile(geom.V2i(40, 0), NewTile(1))

	mark := env.clock.Advance()
	g.SetTile(geom.V2i(21, 0), Tile{TypeID: 2, Flags: 1, Variant: 3})
	env.clock.Advance()
	g.SetTile(geom.V2i(40, 0), EmptyTile)

	d := g.GetDeltaSince(mark)
	if d.ChunkSize != 16 || d.Grid != g.ID() {
		t.Fatalf("unexpected header %+v", d)
	}
	if len(d.Chunks) != 2 {
		t.Fatalf("expected a deletion and a modified chunk, got %d entries", len(d.Chunks))
	}
	if !d.Chunks[0].Deleted() || d.Chunks[0].Indices != geom.V2i(2, 0) {
		t.Fatalf("expected deletion of chunk (2, 0) first, got %+v", d.Chunks[0].Indices)
	}
	if d.Chunks[1].Deleted() || d.Chunks[1].Indices != geom.V2i(1, 0) || len(d.Chunks[1].Tiles) != 256 {
		t.Fatalf("expected full payload for chunk (1, 0)")
	}
	// x-outer, y-inner: local (5, 0) sits at 5*16
	if d.Chunks[1].Tiles[5*16] != (Tile{TypeID: 2, Flags: 1, Variant: 3}) {
		t.Fatalf("unexpected tile in payload: %s", d.Chunks[1].Tiles[5*16])
	}

	if later := g.GetDeltaSince(env.clock.CurTick() + 1); !later.Empty() {
		t.Fatalf("expected nothing newer than the last change")
	}
}

func TestDeltaRoundTrip(t *testing.T) {
	src := newTestManager(t)
	a := src.newGrid(t)
	start := src.clock.CurTick()
	var batch []TileUpdate
	for i := int32(-20); i < 20; i++ {
		batch = append(batch, TileUpdate{Indices: geom.V2i(i, i/2), Tile: Tile{TypeID: i + 100, Variant: uint8(i & 3)}})
	}
	a.SetTiles(batch)
	src.clock.Advance()
	a.SetTile(geom.V2i(-20, -10), EmptyTile)

	dst := newTestManager(t)
	b := dst.newGrid(t)
	changed := 0
	event.Subscribe(dst.bus, func(TileChanged) { changed++ })

	if err := dst.m.ApplyDelta(b.ID(), a.GetDeltaSince(start)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	dst.bus.Flush()
	if changed != 0 {
		t.Fatalf("expected TileChanged to be muted while applying, got %d", changed)
	}

	want, got := gridTiles(a), gridTiles(b)
	if len(want) != len(got) {
		t.Fatalf("expected %d tiles, got %d", len(want), len(got))
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("tile %s: expected %s, got %s", k, v, got[k])
		}
	}
	if a.LocalAABB() != b.LocalAABB() {
		t.Fatalf("expected equal bounds, got %s and %s", a.LocalAABB(), b.LocalAABB())
	}
	for c := range a.Chunks() {
		bc, ok := b.Chunk(c.Indices())
		if !ok {
			t.Fatalf("missing chunk %s", c.Indices())
		}
		pa, pb := c.Polygons(), bc.Polygons()
		if len(pa) != len(pb) {
			t.Fatalf("chunk %s: polygon count %d vs %d", c.Indices(), len(pa), len(pb))
		}
	}
}

func TestApplyDeltaDeletesAndRegeneratesOnce(t *testing.T) {
	env := newTestManager(t)
	g := env.newGrid(t)
	g.SetTile(geom.V2i(0, 0), NewTile(1))
	g.SetTile(geom.V2i(16, 0), NewTile(1))
	env.bus.Flush()

	regens := 0
	event.Subscribe(env.bus, func(ChunkCollisionRegenerated) { regens++ })

	env.clock.Advance()
	tiles := make([]Tile, 256)
	tiles[0] = NewTile(3)
	tiles[1] = NewTile(3)
	d := GridDelta{
		Grid:      g.ID(),
		ChunkSize: 16,
		Chunks: []ChunkDelta{
			{Indices: geom.V2i(1, 0)},
			{Indices: geom.V2i(0, 0), Tiles: tiles},
		},
	}
	if err := env.m.ApplyDelta(g.ID(), d); err != nil {
		t.Fatalf("apply: %v", err)
	}
	env.bus.Flush()

	if g.HasChunk(geom.V2i(1, 0)) {
		t.Fatalf("expected deleted chunk to be gone")
	}
	if regens != 1 {
		t.Fatalf("expected 1 regeneration, got %d", regens)
	}
	if ref := g.GetTileRef(geom.V2i(0, 1)); ref.Tile.TypeID != 3 {
		t.Fatalf("expected applied tile, got %s", ref)
	}

	// reapplying the same payload changes nothing
	regens = 0
	env.m.ApplyDelta(g.ID(), GridDelta{Grid: g.ID(), ChunkSize: 16, Chunks: d.Chunks[1:]})
	env.bus.Flush()
	if regens != 0 {
		t.Fatalf("expected no regeneration for an identical payload, got %d", regens)
	}
}

func TestApplyDeltaRejectsBadInput(t *testing.T) {
	env := newTestManager(t)
	g := env.newGrid(t)

	err := env.m.ApplyDelta(g.ID(), GridDelta{ChunkSize: 8})
	if !errors.Is(err, ErrChunkSizeMismatch) {
		t.Fatalf("expected ErrChunkSizeMismatch, got %v", err)
	}
	err = env.m.ApplyDelta(g.ID(), GridDelta{ChunkSize: 16, Chunks: []ChunkDelta{{Tiles: make([]Tile, 3)}}})
	if !errors.Is(err, ErrMalformedDelta) {
		t.Fatalf("expected ErrMalformedDelta, got %v", err)
	}
	if g.ChunkCount() != 0 {
		t.Fatalf("expected a rejected delta to write nothing")
	}
	if err := env.m.ApplyDelta(999, GridDelta{}); !errors.Is(err, ErrNoSuchGrid) {
		t.Fatalf("expected ErrNoSuchGrid, got %v", err)
	}
}

func TestDeltasSinceSkipsQuietGrids(t *testing.T) {
	env := newTestManager(t)
	quiet := env.newGrid(t)
	busy := env.newGrid(t)
	quiet.SetTile(geom.V2i(0, 0), NewTile(1))
	mark := env.clock.Advance()
	busy.SetTile(geom.V2i(0, 0), NewTile(1))

	ds := env.m.DeltasSince(mark)
	if len(ds) != 1 || ds[0].Grid != busy.ID() {
		t.Fatalf("expected only the busy grid, got %v", ds)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := newTestManager(t)
	g := src.newGrid(t)
	src.m.SetGridTransform(g.ID(), geom.Transform{Position: geom.Vec2{3, 4}, Rotation: 0.5})
	g.SetTiles([]TileUpdate{
		{Indices: geom.V2i(0, 0), Tile: NewTile(1)},
		{Indices: geom.V2i(-5, 7), Tile: Tile{TypeID: 9, Flags: 2}},
	})

	var buf bytes.Buffer
	if err := WriteSnapshotFile(&buf, []GridSnapshot{g.Snapshot()}); err != nil {
		t.Fatalf("write: %v", err)
	}
	snaps, err := ReadSnapshotFile(&buf)
	if err != nil || len(snaps) != 1 {
		t.Fatalf("read: %v", err)
	}

	dst := newTestManager(t)
	loaded, err := dst.m.LoadSnapshot(dst.mapID, snaps[0])
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ID() != g.ID() {
		t.Fatalf("expected id %d, got %d", g.ID(), loaded.ID())
	}
	if tr := loaded.Transform(); !geom.VecClose(tr.Position, geom.Vec2{3, 4}) || tr.Rotation != 0.5 {
		t.Fatalf("unexpected transform %+v", tr)
	}
	if ref := loaded.GetTileRef(geom.V2i(-5, 7)); ref.Tile != (Tile{TypeID: 9, Flags: 2}) {
		t.Fatalf("unexpected tile %s", ref)
	}
	next, _ := dst.m.CreateGrid(dst.mapID, 16)
	if next.ID() <= loaded.ID() {
		t.Fatalf("expected new ids above loaded ones, got %d", next.ID())
	}
}

func TestGridModifiedTickGatesDelta(t *testing.T) {
	env := newTestManager(t)
	g := env.newGrid(t)
	g.SetTile(geom.V2i(0, 0), NewTile(1))
	if g.LastTileModifiedTick() != timing.Tick(1) {
		t.Fatalf("expected tick 1, got %d", g.LastTileModifiedTick())
	}
	env.clock.Advance()
	if d := g.GetDeltaSince(2); !d.Empty() {
		t.Fatalf("expected a quiet grid to contribute nothing")
	}
	if d := g.GetDeltaSince(1); len(d.Chunks) != 1 {
		t.Fatalf("expected 1 chunk since tick 1, got %d", len(d.Chunks))
	}
}
