package mapping

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/l1jgo/tilegrid/internal/core/ecs"
	"github.com/l1jgo/tilegrid/internal/core/event"
	"github.com/l1jgo/tilegrid/internal/geom"
)

func TestGridTileToChunkResolution(t *testing.T) {
	env := newTestManager(t)
	g := env.newGrid(t)

	g.SetTile(geom.V2i(17, 0), NewTile(1))
	c, ok := g.Chunk(geom.V2i(1, 0))
	if !ok {
		t.Fatalf("expected chunk (1, 0) to exist")
	}
	if local := c.GridTileToChunkTile(geom.V2i(17, 0)); local != geom.V2i(1, 0) {
		t.Fatalf("expected chunk-local (1, 0), got %s", local)
	}
	if tile, _ := c.GetTile(1, 0); tile.TypeID != 1 {
		t.Fatalf("expected tile type 1, got %s", tile)
	}

	g.SetTile(geom.V2i(-1, -1), NewTile(2))
	c, ok = g.Chunk(geom.V2i(-1, -1))
	if !ok {
		t.Fatalf("expected chunk (-1, -1) to exist")
	}
	if tile, _ := c.GetTile(15, 15); tile.TypeID != 2 {
		t.Fatalf("expected tile type 2 at (15, 15), got %s", tile)
	}
}

func TestGridMissingChunkIsSpace(t *testing.T) {
	env := newTestManager(t)
	g := env.newGrid(t)

	ref := g.GetTileRef(geom.V2i(100, -100))
	if !ref.Tile.IsEmpty() || ref.GridID != g.ID() || ref.MapID != env.mapID {
		t.Fatalf("unexpected ref %s", ref)
	}
	if _, ok := g.TryGetTileRef(geom.V2i(100, -100)); ok {
		t.Fatalf("expected TryGetTileRef to report space")
	}
	g.SetTile(geom.V2i(100, -100), EmptyTile)
	if g.ChunkCount() != 0 {
		t.Fatalf("expected writing space to allocate nothing")
	}
}

func TestGridClearChunkRecordsDeletion(t *testing.T) {
	env := newTestManager(t)
	g := env.newGrid(t)
	emptied := 0
	event.Subscribe(env.bus, func(EmptyGrid) { emptied++ })

	var all []TileUpdate
	for x := int32(0); x < 16; x++ {
		for y := int32(0); y < 16; y++ {
			all = append(all, TileUpdate{Indices: geom.V2i(x, y), Tile: NewTile(1)})
		}
	}
	g.SetTiles(all)
	if c, _ := g.Chunk(geom.V2i(0, 0)); c.FilledTiles() != 256 {
		t.Fatalf("expected a full chunk")
	}

	var last uint32
	for _, u := range all {
		last = uint32(env.clock.Advance())
		g.SetTile(u.Indices, EmptyTile)
	}
	if g.HasChunk(geom.V2i(0, 0)) {
		t.Fatalf("expected the emptied chunk to be removed")
	}
	hist := g.DeletionHistory()
	if len(hist) != 1 || hist[0].Indices != geom.V2i(0, 0) || uint32(hist[0].Tick) != last {
		t.Fatalf("expected one deletion at tick %d, got %v", last, hist)
	}
	if g.LocalAABB() != (geom.Box2{}) {
		t.Fatalf("expected empty local bounds, got %s", g.LocalAABB())
	}
	if len(env.sink.registered[g.ID()]) != 0 {
		t.Fatalf("expected fixtures to be cleared")
	}
	env.bus.Flush()
	if emptied != 1 {
		t.Fatalf("expected 1 EmptyGrid event, got %d", emptied)
	}

	if n := g.CullDeletionHistory(hist[0].Tick + 1); n != 1 || len(g.DeletionHistory()) != 0 {
		t.Fatalf("expected the deletion to be culled")
	}
}

func TestGridSetTilesRegeneratesOncePerChunk(t *testing.T) {
	env := newTestManager(t)
	g := env.newGrid(t)
	regens := 0
	changed := 0
	event.Subscribe(env.bus, func(ChunkCollisionRegenerated) { regens++ })
	event.Subscribe(env.bus, func(TileChanged) { changed++ })

	var batch []TileUpdate
	for x := int32(0); x < 20; x++ {
		batch = append(batch, TileUpdate{Indices: geom.V2i(x, 0), Tile: NewTile(1)})
	}
	g.SetTiles(batch)
	env.bus.Flush()

	if regens != 2 || env.sink.registers != 2 {
		t.Fatalf("expected 2 regenerations for 2 chunks, got %d events and %d registers", regens, env.sink.registers)
	}
	if changed != 20 {
		t.Fatalf("expected 20 tile changes, got %d", changed)
	}
	if g.LocalAABB() != geom.NewBox2(0, 0, 20, 1) {
		t.Fatalf("unexpected local bounds %s", g.LocalAABB())
	}
	c, _ := g.Chunk(geom.V2i(0, 0))
	if c.RegenerationSuppressed() {
		t.Fatalf("expected suppression to be released")
	}
}

func TestGridEventOrder(t *testing.T) {
	env := newTestManager(t)
	g := env.newGrid(t)
	env.bus.Flush()

	var order []string
	event.Subscribe(env.bus, func(ChunkCollisionRegenerated) { order = append(order, "regen") })
	event.Subscribe(env.bus, func(GridBoundsChanged) { order = append(order, "bounds") })
	event.Subscribe(env.bus, func(e TileChanged) {
		order = append(order, fmt.Sprintf("tile %s->%d", e.OldTile, e.NewTile.Tile.TypeID))
	})

	g.SetTile(geom.V2i(0, 0), NewTile(4))
	env.bus.Flush()
	want := []string{"regen", "bounds", "tile Tile(0, 0, 0)->4"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}

	order = nil
	g.SetTile(geom.V2i(0, 0), Tile{TypeID: 5})
	env.bus.Flush()
	if len(order) != 1 {
		t.Fatalf("expected only a tile change when occupancy is unchanged, got %v", order)
	}
}

func TestGridSuppressTileChanged(t *testing.T) {
	env := newTestManager(t)
	g := env.newGrid(t)
	changed := 0
	event.Subscribe(env.bus, func(TileChanged) { changed++ })

	release := env.m.SuppressTileChanged()
	g.SetTile(geom.V2i(0, 0), NewTile(1))
	release()
	g.SetTile(geom.V2i(1, 0), NewTile(1))
	env.bus.Flush()
	if changed != 1 {
		t.Fatalf("expected 1 tile change event, got %d", changed)
	}
	if g.LastTileModifiedTick() != env.clock.CurTick() {
		t.Fatalf("expected suppressed writes to still stamp the grid")
	}
}

func TestGridTransforms(t *testing.T) {
	env := newTestManager(t)
	g := env.newGrid(t)
	env.m.SetGridTransform(g.ID(), geom.Transform{Position: geom.Vec2{10, 5}, Rotation: math.Pi / 2})

	local := geom.Vec2{2.5, 0.5}
	w := g.LocalToWorld(local)
	if !geom.VecClose(w, geom.Vec2{9.5, 7.5}) {
		t.Fatalf("expected (9.5, 7.5), got %v", w)
	}
	if back := g.WorldToLocal(w); !geom.VecClose(back, local) {
		t.Fatalf("expected %v, got %v", local, back)
	}
	if tile := g.WorldToTile(w); tile != geom.V2i(2, 0) {
		t.Fatalf("expected tile (2, 0), got %s", tile)
	}

	tile, err := g.CoordinatesToTile(MapCoordinates{Map: env.mapID, Pos: w})
	if err != nil || tile != geom.V2i(2, 0) {
		t.Fatalf("unexpected %s %v", tile, err)
	}
	if _, err := g.CoordinatesToTile(MapCoordinates{Map: env.mapID + 1, Pos: w}); !errors.Is(err, ErrMapMismatch) {
		t.Fatalf("expected ErrMapMismatch, got %v", err)
	}
	if p := g.GridTileToWorldPos(geom.V2i(2, 0)); !geom.VecClose(p, w) {
		t.Fatalf("expected tile center %v, got %v", w, p)
	}
}

func TestGridTilesIntersecting(t *testing.T) {
	env := newTestManager(t)
	g := env.newGrid(t)
	g.SetTile(geom.V2i(1, 1), NewTile(1))
	g.SetTile(geom.V2i(2, 1), NewTile(1))

	tiles, err := g.TilesIntersecting(geom.NewBox2(0, 0, 3, 2), true, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	n := 0
	for range tiles {
		n++
	}
	if n != 2 {
		t.Fatalf("expected 2 solid tiles, got %d", n)
	}

	// right edge on an exact boundary excludes the next tile
	tiles, _ = g.TilesIntersecting(geom.NewBox2(0, 0, 2, 2), true, nil)
	n = 0
	for range tiles {
		n++
	}
	if n != 1 {
		t.Fatalf("expected 1 tile with exclusive edge, got %d", n)
	}

	// missing chunks report space when empties are wanted
	tiles, _ = g.TilesIntersecting(geom.NewBox2(-2, -2, 0, 0), false, nil)
	n = 0
	for r := range tiles {
		if !r.Tile.IsEmpty() {
			t.Fatalf("expected space, got %s", r)
		}
		n++
	}
	if n != 4 {
		t.Fatalf("expected 4 empty refs, got %d", n)
	}

	tiles, _ = g.TilesIntersecting(geom.NewBox2(0, 0, 3, 2), true, func(r TileRef) bool { return r.Indices.X == 2 })
	for r := range tiles {
		if r.Indices != geom.V2i(2, 1) {
			t.Fatalf("predicate ignored: %s", r)
		}
	}

	if _, err := g.TilesIntersecting(geom.NewBox2(1, 1, 0, 0), true, nil); !errors.Is(err, ErrInvalidArea) {
		t.Fatalf("expected ErrInvalidArea, got %v", err)
	}
}

func TestGridTilesIntersectingCircle(t *testing.T) {
	env := newTestManager(t)
	g := env.newGrid(t)
	var batch []TileUpdate
	for x := int32(-3); x <= 3; x++ {
		for y := int32(-3); y <= 3; y++ {
			batch = append(batch, TileUpdate{Indices: geom.V2i(x, y), Tile: NewTile(1)})
		}
	}
	g.SetTiles(batch)

	tiles, err := g.TilesIntersectingCircle(geom.Vec2{0.5, 0.5}, 1, true, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	n := 0
	for r := range tiles {
		if d := g.GridTileToLocal(r.Indices).Sub(geom.Vec2{0.5, 0.5}).Len(); d > 1 {
			t.Fatalf("tile %s outside radius", r.Indices)
		}
		n++
	}
	if n != 5 {
		t.Fatalf("expected the center and 4 neighbours, got %d", n)
	}
}

func TestGridChunksIntersecting(t *testing.T) {
	env := newTestManager(t)
	g := env.newGrid(t)
	g.SetTile(geom.V2i(0, 0), NewTile(1))
	g.SetTile(geom.V2i(40, 0), NewTile(1))

	chunks, err := g.ChunksIntersecting(geom.NewBox2(0, 0, 20, 5))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var got []geom.Vec2i
	for c := range chunks {
		got = append(got, c.Indices())
	}
	if len(got) != 1 || got[0] != geom.V2i(0, 0) {
		t.Fatalf("expected only chunk (0, 0), got %v", got)
	}
}

func TestGridAnchoring(t *testing.T) {
	env := newTestManager(t)
	g := env.newGrid(t)
	g.SetTile(geom.V2i(3, 3), NewTile(1))
	g.SetTile(geom.V2i(3, 4), NewTile(1))

	onGrid := env.entities.Spawn(g.Entity(), geom.Transform{Position: geom.Vec2{3.5, 3.5}})
	elsewhere := env.entities.Spawn(ecs.Invalid, geom.Identity)

	if g.AddToCell(geom.V2i(5, 5), onGrid) {
		t.Fatalf("expected anchoring onto space to fail")
	}
	if g.AddToCell(geom.V2i(3, 3), elsewhere) {
		t.Fatalf("expected anchoring an unparented entity to fail")
	}
	if g.AddToCell(geom.V2i(3, 3), ecs.NewEntityID(999, 0)) {
		t.Fatalf("expected anchoring a missing entity to fail")
	}
	if !g.AnchorEntity(onGrid) {
		t.Fatalf("expected anchoring to succeed")
	}
	if !g.IsAnchored(geom.V2i(3, 3), onGrid) || g.AnchoredEntityCount(geom.V2i(3, 3)) != 1 {
		t.Fatalf("expected entity anchored at (3, 3)")
	}

	below := g.GetInDir(geom.V2i(3, 4), South, 1)
	if len(below) != 1 || below[0] != onGrid {
		t.Fatalf("expected entity south of (3, 4), got %v", below)
	}
	if off := g.GetOffset(geom.V2i(2, 5), geom.V2i(1, -2)); len(off) != 1 || off[0] != onGrid {
		t.Fatalf("expected entity at offset (1, -2) from (2, 5), got %v", off)
	}
	if off := g.GetOffset(geom.V2i(3, 3), geom.V2i(0, 1)); len(off) != 0 {
		t.Fatalf("expected nothing at (3, 4), got %v", off)
	}
	n := 0
	for range g.GetCardinalNeighborCells(geom.V2i(3, 4)) {
		n++
	}
	if n != 1 {
		t.Fatalf("expected 1 neighbour, got %d", n)
	}
	n = 0
	for range g.GetCellsInSquareArea(geom.V2i(4, 4), 1) {
		n++
	}
	if n != 1 {
		t.Fatalf("expected 1 entity in square area, got %d", n)
	}
	if p := g.DirectionToGrid(geom.V2i(3, 3), North); !geom.VecClose(p, geom.Vec2{3.5, 4.5}) {
		t.Fatalf("expected (3.5, 4.5), got %v", p)
	}
	area, _ := g.GetAnchoredEntitiesInArea(geom.NewBox2(3, 3, 4, 4))
	n = 0
	for range area {
		n++
	}
	if n != 1 {
		t.Fatalf("expected 1 entity in area, got %d", n)
	}

	if !g.RemoveFromCell(geom.V2i(3, 3), onGrid) || g.IsAnchored(geom.V2i(3, 3), onGrid) {
		t.Fatalf("expected removal to succeed")
	}
}

func TestGridRayCast(t *testing.T) {
	env := newTestManager(t)
	g := env.newGrid(t)
	g.SetTile(geom.V2i(5, 0), NewTile(1))

	d, ok := g.RayCast(geom.NewRay(geom.Vec2{0, 0.5}, geom.Vec2{1, 0}), 100)
	if !ok || math.Abs(d-5) > 1e-9 {
		t.Fatalf("expected hit at 5, got %v %v", d, ok)
	}
	if _, ok := g.RayCast(geom.NewRay(geom.Vec2{0, 0.5}, geom.Vec2{-1, 0}), 100); ok {
		t.Fatalf("expected miss")
	}
}

func TestGridChunkWritesReachGrid(t *testing.T) {
	env := newTestManager(t)
	g := env.newGrid(t)
	g.SetTile(geom.V2i(0, 0), NewTile(1))
	env.bus.Flush()

	var changes []TileChanged
	event.Subscribe(env.bus, func(e TileChanged) { changes = append(changes, e) })

	env.clock.Set(5)
	c, ok := g.Chunk(geom.V2i(0, 0))
	if !ok {
		t.Fatalf("expected chunk (0, 0)")
	}
	if _, _, err := c.SetTile(1, 0, NewTile(2)); err != nil {
		t.Fatalf("set tile: %v", err)
	}
	env.bus.Flush()

	if g.LastTileModifiedTick() != 5 {
		t.Fatalf("expected grid stamped at 5, got %d", g.LastTileModifiedTick())
	}
	if d := g.GetDeltaSince(5); len(d.Chunks) != 1 || d.Chunks[0].Indices != geom.V2i(0, 0) {
		t.Fatalf("expected delta with chunk (0, 0), got %+v", d.Chunks)
	}
	if want := geom.NewBox2(0, 0, 2, 1); g.LocalAABB() != want {
		t.Fatalf("expected bounds %s, got %s", want, g.LocalAABB())
	}
	if len(changes) != 1 || changes[0].NewTile.Indices != geom.V2i(1, 0) || changes[0].NewTile.GridID != g.ID() {
		t.Fatalf("expected one TileChanged at (1, 0), got %+v", changes)
	}

	c.SetTile(0, 0, EmptyTile)
	c.SetTile(1, 0, EmptyTile)
	if g.HasChunk(geom.V2i(0, 0)) || g.ChunkCount() != 0 {
		t.Fatalf("expected emptied chunk to be removed")
	}
	if g.LocalAABB() != (geom.Box2{}) {
		t.Fatalf("expected empty bounds, got %s", g.LocalAABB())
	}

	// a removed chunk no longer writes through to the grid
	c.SetTile(3, 3, NewTile(1))
	if g.ChunkCount() != 0 || g.CollidesWithGrid(geom.V2i(3, 3)) {
		t.Fatalf("expected detached chunk to leave the grid alone")
	}
}

func TestGridRegenerateCollisionIgnoresForeignChunks(t *testing.T) {
	env := newTestManager(t)
	a := env.newGrid(t)
	b := env.newGrid(t)
	a.SetTile(geom.V2i(20, 0), NewTile(1))
	a.SetTile(geom.V2i(0, 0), NewTile(1))
	b.SetTile(geom.V2i(0, 0), NewTile(1))
	env.bus.Flush()

	regens := map[GridID]int{}
	event.Subscribe(env.bus, func(e ChunkCollisionRegenerated) { regens[e.Grid]++ })

	ca1, _ := a.Chunk(geom.V2i(1, 0))
	ca0, _ := a.Chunk(geom.V2i(0, 0))
	cb, _ := b.Chunk(geom.V2i(0, 0))
	chunks := []*Chunk{ca1, cb, ca0}
	a.RegenerateCollision(chunks)
	env.bus.Flush()

	if regens[a.ID()] != 2 || regens[b.ID()] != 0 {
		t.Fatalf("expected 2 regenerations on a and none on b, got %v", regens)
	}
	if chunks[0] != ca1 || chunks[1] != cb || chunks[2] != ca0 {
		t.Fatalf("expected caller's slice order to be kept")
	}
}
