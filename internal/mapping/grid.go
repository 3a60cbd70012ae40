package mapping

import (
	"cmp"
	"fmt"
	"iter"
	"maps"
	"slices"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/l1jgo/tilegrid/internal/broadphase"
	"github.com/l1jgo/tilegrid/internal/core/ecs"
	"github.com/l1jgo/tilegrid/internal/core/timing"
	"github.com/l1jgo/tilegrid/internal/geom"
)

// gridHost is the grid's weak link back to the manager that owns it. The grid
// calls it for its transform and every notification it raises.
type gridHost interface {
	gridTransform(g *Grid) geom.Transform
	tileChanged(g *Grid, ref TileRef, old Tile)
	chunkRegenerated(g *Grid, c *Chunk)
	chunkRemoved(g *Grid, c *Chunk)
	gridBoundsChanged(g *Grid)
	gridEmptied(g *Grid)
	entityView() Entities
}

// ChunkDeletion records a chunk removal for delta sync.
type ChunkDeletion struct {
	Tick    timing.Tick
	Indices geom.Vec2i
}

// Grid is one rigid, independently transformable tile surface. Tile indices
// map to chunks by floor division, so negative indices work.
type Grid struct {
	id        GridID
	mapID     MapID
	entity    ecs.EntityID
	chunkSize uint16
	tileSize  float64
	host      gridHost
	clock     timing.Source

	chunks    map[geom.Vec2i]*Chunk
	localAABB geom.Box2

	lastTileModified timing.Tick
	deletions        []ChunkDeletion

	// set while SetTiles runs; chunk notifications are collected, not raised
	inBatch bool
	batch   []tileChange

	proxy broadphase.Proxy
}

type tileChange struct {
	ref TileRef
	old Tile
}

func (g *Grid) ID() GridID                        { return g.id }
func (g *Grid) MapID() MapID                      { return g.mapID }
func (g *Grid) Entity() ecs.EntityID              { return g.entity }
func (g *Grid) ChunkSize() uint16                 { return g.chunkSize }
func (g *Grid) TileSize() float64                 { return g.tileSize }
func (g *Grid) ChunkCount() int                   { return len(g.chunks) }
func (g *Grid) LastTileModifiedTick() timing.Tick { return g.lastTileModified }

// LocalAABB is the tight union of chunk bounds in grid-local units, zero when
// the grid has no chunks.
func (g *Grid) LocalAABB() geom.Box2 { return g.localAABB }

// Bound reports whether the grid currently holds a broadphase proxy.
func (g *Grid) Bound() bool { return g.proxy != broadphase.FreeProxy }

func (g *Grid) String() string {
	return fmt.Sprintf("Grid %d (map %d)", g.id, g.mapID)
}

// Transform returns the grid's placement on its map.
func (g *Grid) Transform() geom.Transform { return g.host.gridTransform(g) }

func (g *Grid) WorldMatrix() mgl64.Mat3    { return g.Transform().Matrix() }
func (g *Grid) InvWorldMatrix() mgl64.Mat3 { return g.Transform().InvMatrix() }

// WorldAABB is the axis-aligned world box around the rotated local bounds.
func (g *Grid) WorldAABB() geom.Box2 {
	return geom.TransformBox(g.WorldMatrix(), g.localAABB)
}

func (g *Grid) WorldToLocal(p geom.Vec2) geom.Vec2 {
	return geom.TransformPoint(g.InvWorldMatrix(), p)
}

func (g *Grid) LocalToWorld(p geom.Vec2) geom.Vec2 {
	return geom.TransformPoint(g.WorldMatrix(), p)
}

// LocalToTile floors a grid-local position to tile indices.
func (g *Grid) LocalToTile(local geom.Vec2) geom.Vec2i {
	return geom.V2i(geom.FloorToInt(local.X()/g.tileSize), geom.FloorToInt(local.Y()/g.tileSize))
}

func (g *Grid) WorldToTile(p geom.Vec2) geom.Vec2i {
	return g.LocalToTile(g.WorldToLocal(p))
}

// CoordinatesToTile resolves map coordinates to tile indices on this grid.
func (g *Grid) CoordinatesToTile(c MapCoordinates) (geom.Vec2i, error) {
	if c.Map != g.mapID {
		return geom.Vec2i{}, fmt.Errorf("%s: map %d: %w", g, c.Map, ErrMapMismatch)
	}
	return g.WorldToTile(c.Pos), nil
}

func (g *Grid) GridTileToChunkIndices(tile geom.Vec2i) geom.Vec2i {
	return tile.FloorDiv(int32(g.chunkSize))
}

func (g *Grid) LocalToChunkIndices(local geom.Vec2) geom.Vec2i {
	return g.GridTileToChunkIndices(g.LocalToTile(local))
}

// GridTileToLocal returns the local position of the tile center.
func (g *Grid) GridTileToLocal(tile geom.Vec2i) geom.Vec2 {
	return geom.Vec2{
		(float64(tile.X) + 0.5) * g.tileSize,
		(float64(tile.Y) + 0.5) * g.tileSize,
	}
}

func (g *Grid) GridTileToWorldPos(tile geom.Vec2i) geom.Vec2 {
	return g.LocalToWorld(g.GridTileToLocal(tile))
}

func (g *Grid) GridTileToWorld(tile geom.Vec2i) MapCoordinates {
	return MapCoordinates{Map: g.mapID, Pos: g.GridTileToWorldPos(tile)}
}

func (g *Grid) HasChunk(indices geom.Vec2i) bool {
	_, ok := g.chunks[indices]
	return ok
}

func (g *Grid) Chunk(indices geom.Vec2i) (*Chunk, bool) {
	c, ok := g.chunks[indices]
	return c, ok
}

// Chunks yields live chunks ordered by index.
func (g *Grid) Chunks() iter.Seq[*Chunk] {
	return func(yield func(*Chunk) bool) {
		for _, k := range g.sortedChunkKeys() {
			c, ok := g.chunks[k]
			if !ok {
				continue
			}
			if !yield(c) {
				return
			}
		}
	}
}

func (g *Grid) sortedChunkKeys() []geom.Vec2i {
	return slices.SortedFunc(maps.Keys(g.chunks), compareIndices)
}

func compareIndices(a, b geom.Vec2i) int {
	if c := cmp.Compare(a.X, b.X); c != 0 {
		return c
	}
	return cmp.Compare(a.Y, b.Y)
}

func (g *Grid) getOrAddChunk(indices geom.Vec2i) *Chunk {
	if c, ok := g.chunks[indices]; ok {
		return c
	}
	c := NewChunk(indices, g.chunkSize, g.clock)
	c.owner = g
	g.chunks[indices] = c
	return c
}

// chunkAndOffset splits grid tile indices into a chunk key and chunk-local
// indices.
func (g *Grid) chunkAndOffset(tile geom.Vec2i) (geom.Vec2i, geom.Vec2i) {
	s := int32(g.chunkSize)
	return tile.FloorDiv(s), geom.V2i(geom.FloorMod(tile.X, s), geom.FloorMod(tile.Y, s))
}

func (g *Grid) ref(tile geom.Vec2i, t Tile) TileRef {
	return TileRef{MapID: g.mapID, GridID: g.id, Indices: tile, Tile: t}
}

// GetTileRef returns the tile at the given indices. A missing chunk reads as
// space.
func (g *Grid) GetTileRef(tile geom.Vec2i) TileRef {
	key, off := g.chunkAndOffset(tile)
	c, ok := g.chunks[key]
	if !ok {
		return g.ref(tile, EmptyTile)
	}
	t, _ := c.GetTile(off.X, off.Y)
	return g.ref(tile, t)
}

// TryGetTileRef is GetTileRef that reports false for space.
func (g *Grid) TryGetTileRef(tile geom.Vec2i) (TileRef, bool) {
	r := g.GetTileRef(tile)
	return r, !r.Tile.IsEmpty()
}

// TryGetTileRefAt looks up the tile under a world position.
func (g *Grid) TryGetTileRefAt(worldPos geom.Vec2) (TileRef, bool) {
	return g.TryGetTileRef(g.WorldToTile(worldPos))
}

// CollidesWithGrid reports whether the tile is solid.
func (g *Grid) CollidesWithGrid(tile geom.Vec2i) bool {
	_, ok := g.TryGetTileRef(tile)
	return ok
}

// SetTile writes one tile, allocating its chunk if needed. Collision is rebuilt
// and listeners are notified before it returns.
func (g *Grid) SetTile(tile geom.Vec2i, t Tile) {
	key, off := g.chunkAndOffset(tile)
	c, ok := g.chunks[key]
	if !ok {
		if t.IsEmpty() {
			return
		}
		c = g.getOrAddChunk(key)
	}
	if _, _, err := c.SetTile(off.X, off.Y, t); err != nil {
		panic(err)
	}
}

// chunkTileChanged receives every write to one of the grid's chunks.
func (g *Grid) chunkTileChanged(c *Chunk, local geom.Vec2i, tile, old Tile) {
	g.lastTileModified = g.clock.CurTick()
	ref := g.ref(c.ChunkTileToGridTile(local), tile)
	if g.inBatch {
		g.batch = append(g.batch, tileChange{ref: ref, old: old})
		return
	}
	if old.IsEmpty() != tile.IsEmpty() && !c.RegenerationSuppressed() {
		g.collisionRegenerated([]*Chunk{c})
	}
	g.host.tileChanged(g, ref, old)
}

func (g *Grid) chunkRepartitioned(c *Chunk) {
	if g.inBatch {
		return
	}
	g.collisionRegenerated([]*Chunk{c})
}

// SetTiles writes a batch. Each touched chunk is partitioned once after all
// writes land.
func (g *Grid) SetTiles(updates []TileUpdate) {
	if len(updates) == 0 {
		return
	}
	touched := make(map[geom.Vec2i]*Chunk)
	var releases []func()
	g.inBatch = true
	defer func() {
		for _, r := range releases {
			r()
		}
		g.inBatch = false
		g.batch = nil
	}()

	for _, u := range updates {
		key, off := g.chunkAndOffset(u.Indices)
		c, ok := touched[key]
		if !ok {
			if !g.HasChunk(key) && u.Tile.IsEmpty() {
				continue
			}
			c = g.getOrAddChunk(key)
			touched[key] = c
			releases = append(releases, c.SuppressRegeneration())
		}
		if _, _, err := c.SetTile(off.X, off.Y, u.Tile); err != nil {
			panic(err)
		}
	}
	for _, r := range releases {
		r()
	}
	releases = nil
	changes := g.batch
	g.inBatch = false
	g.batch = nil

	g.RegenerateCollision(slices.Collect(maps.Values(touched)))
	for _, ch := range changes {
		g.host.tileChanged(g, ch.ref, ch.old)
	}
}

// AllTiles yields every tile of every chunk, chunks in index order.
func (g *Grid) AllTiles(ignoreEmpty bool) iter.Seq[TileRef] {
	return func(yield func(TileRef) bool) {
		for c := range g.Chunks() {
			for r := range g.ChunkTiles(c, ignoreEmpty) {
				if !yield(r) {
					return
				}
			}
		}
	}
}

// ChunkTiles yields the tiles of one chunk as grid tile refs.
func (g *Grid) ChunkTiles(c *Chunk, ignoreEmpty bool) iter.Seq[TileRef] {
	return func(yield func(TileRef) bool) {
		for lt := range c.Tiles(ignoreEmpty) {
			if !yield(g.ref(c.ChunkTileToGridTile(lt.Pos), lt.Tile)) {
				return
			}
		}
	}
}

// RegenerateCollision re-partitions the given chunks, drops the ones left
// empty, recomputes the grid bounds and moves the broadphase proxy. Chunks
// not held by this grid are ignored; the caller's slice is not reordered.
func (g *Grid) RegenerateCollision(chunks []*Chunk) {
	own := make([]*Chunk, 0, len(chunks))
	for _, c := range chunks {
		if g.chunks[c.indices] != c {
			continue
		}
		c.repartition()
		own = append(own, c)
	}
	if len(own) == 0 {
		return
	}
	g.collisionRegenerated(own)
}

// collisionRegenerated runs the grid-level half of regeneration for chunks
// that are already partitioned.
func (g *Grid) collisionRegenerated(chunks []*Chunk) {
	slices.SortFunc(chunks, func(a, b *Chunk) int { return compareIndices(a.indices, b.indices) })
	removed := false
	for _, c := range chunks {
		if g.chunks[c.indices] != c {
			continue
		}
		if c.filled == 0 {
			g.removeChunk(c)
			removed = true
			continue
		}
		g.host.chunkRegenerated(g, c)
	}
	g.recalcLocalAABB()
	g.host.gridBoundsChanged(g)
	if removed && len(g.chunks) == 0 {
		g.host.gridEmptied(g)
	}
}

func (g *Grid) removeChunk(c *Chunk) {
	g.deletions = append(g.deletions, ChunkDeletion{Tick: g.clock.CurTick(), Indices: c.indices})
	c.clearCollision()
	c.owner = nil
	delete(g.chunks, c.indices)
	g.host.chunkRemoved(g, c)
}

func (g *Grid) recalcLocalAABB() {
	first := true
	g.localAABB = geom.Box2{}
	for _, c := range g.chunks {
		if c.bounds.IsEmpty() {
			continue
		}
		b := g.chunkLocalBounds(c)
		if first {
			g.localAABB = b
			first = false
		} else {
			g.localAABB = g.localAABB.Union(b)
		}
	}
}

func (g *Grid) chunkOrigin(c *Chunk) geom.Vec2 {
	return c.indices.Mul(int32(g.chunkSize)).ToVec2()
}

// chunkLocalBounds is the chunk's bounds in grid-local units.
func (g *Grid) chunkLocalBounds(c *Chunk) geom.Box2 {
	return c.bounds.Translated(g.chunkOrigin(c)).Scaled(g.tileSize)
}

// ChunkLocalPolygons returns the chunk's collision polygons in grid-local
// units.
func (g *Grid) ChunkLocalPolygons(c *Chunk) []geom.Polygon {
	origin := g.chunkOrigin(c)
	out := make([]geom.Polygon, len(c.polygons))
	for i, p := range c.polygons {
		out[i] = p.Translated(origin).Scaled(g.tileSize)
	}
	return out
}

// CalcChunkWorldAABB returns the world box around one chunk's geometry.
func (g *Grid) CalcChunkWorldAABB(c *Chunk) geom.Box2 {
	return geom.TransformBox(g.WorldMatrix(), g.chunkLocalBounds(c))
}

// DeletionHistory returns the retained chunk removals, oldest first.
func (g *Grid) DeletionHistory() []ChunkDeletion {
	return slices.Clone(g.deletions)
}

// CullDeletionHistory drops removals recorded before tick.
func (g *Grid) CullDeletionHistory(tick timing.Tick) int {
	n := len(g.deletions)
	g.deletions = slices.DeleteFunc(g.deletions, func(d ChunkDeletion) bool { return d.Tick < tick })
	return n - len(g.deletions)
}
