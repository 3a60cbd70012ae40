package mapping

import (
	"fmt"
	"iter"
	"slices"

	"github.com/l1jgo/tilegrid/internal/core/ecs"
	"github.com/l1jgo/tilegrid/internal/core/timing"
	"github.com/l1jgo/tilegrid/internal/geom"
)

// DefaultChunkSize is the edge length of a chunk in tiles.
const DefaultChunkSize uint16 = 16

// chunkOwner is the chunk's weak link back to the grid holding it. A chunk
// without an owner is standalone and notifies nobody.
type chunkOwner interface {
	chunkTileChanged(c *Chunk, local geom.Vec2i, tile, old Tile)
	chunkRepartitioned(c *Chunk)
}

// Chunk is a square of tiles plus the collision geometry derived from them.
// Tiles are stored x-outer, y-inner. Polygons and bounds are in chunk-local
// tile units.
type Chunk struct {
	indices geom.Vec2i
	size    uint16
	clock   timing.Source
	owner   chunkOwner

	tiles  []Tile
	filled int

	// sparse per-cell anchors keyed by x*size+y
	anchors map[int][]ecs.EntityID

	polygons []geom.Polygon
	bounds   geom.Box2

	lastTileModified   timing.Tick
	lastAnchorModified timing.Tick

	suppressRegen int
}

// NewChunk allocates an empty chunk. The creation tick counts as its first
// modification.
func NewChunk(indices geom.Vec2i, size uint16, clock timing.Source) *Chunk {
	now := clock.CurTick()
	return &Chunk{
		indices:            indices,
		size:               size,
		clock:              clock,
		tiles:              make([]Tile, int(size)*int(size)),
		lastTileModified:   now,
		lastAnchorModified: now,
	}
}

func (c *Chunk) Indices() geom.Vec2i { return c.indices }
func (c *Chunk) ChunkSize() uint16   { return c.size }
func (c *Chunk) FilledTiles() int    { return c.filled }

// Bounds is the union of the collision polygons, zero when the chunk is empty.
func (c *Chunk) Bounds() geom.Box2 { return c.bounds }

// Polygons returns the current collision polygons. The slice is shared; do not
// modify it.
func (c *Chunk) Polygons() []geom.Polygon { return c.polygons }

func (c *Chunk) LastTileModifiedTick() timing.Tick   { return c.lastTileModified }
func (c *Chunk) LastAnchorModifiedTick() timing.Tick { return c.lastAnchorModified }

func (c *Chunk) String() string {
	return fmt.Sprintf("Chunk %s", c.indices)
}

func (c *Chunk) index(x, y int32) (int, error) {
	if x < 0 || y < 0 || x >= int32(c.size) || y >= int32(c.size) {
		return 0, fmt.Errorf("%s: (%d, %d): %w", c, x, y, ErrIndexOutOfRange)
	}
	return int(x)*int(c.size) + int(y), nil
}

// GetTile returns the tile at chunk-local (x, y).
func (c *Chunk) GetTile(x, y int32) (Tile, error) {
	i, err := c.index(x, y)
	if err != nil {
		return EmptyTile, err
	}
	return c.tiles[i], nil
}

// SetTile stores tile at chunk-local (x, y) and returns the previous tile.
// Writing an identical tile changes nothing, including the modified tick.
// Unless regeneration is suppressed, the collision geometry is rebuilt
// before SetTile returns. A chunk held by a grid reports every change to it.
func (c *Chunk) SetTile(x, y int32, tile Tile) (old Tile, changed bool, err error) {
	i, err := c.index(x, y)
	if err != nil {
		return EmptyTile, false, err
	}
	old = c.tiles[i]
	if old == tile {
		return old, false, nil
	}
	switch {
	case old.IsEmpty() && !tile.IsEmpty():
		c.filled++
	case !old.IsEmpty() && tile.IsEmpty():
		c.filled--
	}
	c.tiles[i] = tile
	c.lastTileModified = c.clock.CurTick()

	if c.suppressRegen == 0 && old.IsEmpty() != tile.IsEmpty() {
		c.repartition()
	}
	if c.owner != nil {
		c.owner.chunkTileChanged(c, geom.V2i(x, y), tile, old)
	}
	return old, true, nil
}

// LocalTile is a tile with its chunk-local position.
type LocalTile struct {
	Pos  geom.Vec2i
	Tile Tile
}

// Tiles yields tiles in ascending x, then ascending y.
func (c *Chunk) Tiles(ignoreEmpty bool) iter.Seq[LocalTile] {
	return func(yield func(LocalTile) bool) {
		n := int32(c.size)
		for x := int32(0); x < n; x++ {
			for y := int32(0); y < n; y++ {
				t := c.tiles[int(x)*int(n)+int(y)]
				if ignoreEmpty && t.IsEmpty() {
					continue
				}
				if !yield(LocalTile{Pos: geom.V2i(x, y), Tile: t}) {
					return
				}
			}
		}
	}
}

// RawTiles copies the tile array in wire order.
func (c *Chunk) RawTiles() []Tile {
	return slices.Clone(c.tiles)
}

// SuppressRegeneration defers collision rebuilds until the returned release
// runs. The caller must call RegenerateCollision itself once released.
func (c *Chunk) SuppressRegeneration() (release func()) {
	c.suppressRegen++
	done := false
	return func() {
		if done {
			return
		}
		done = true
		c.suppressRegen--
	}
}

func (c *Chunk) RegenerationSuppressed() bool { return c.suppressRegen > 0 }

// RegenerateCollision re-partitions the chunk and lets its grid refresh
// bounds, fixtures and the broadphase.
func (c *Chunk) RegenerateCollision() {
	c.repartition()
	if c.owner != nil {
		c.owner.chunkRepartitioned(c)
	}
}

func (c *Chunk) repartition() {
	c.bounds, c.polygons = Partition(c)
}

// clearCollision drops derived geometry, used when the chunk is removed.
func (c *Chunk) clearCollision() {
	c.polygons = nil
	c.bounds = geom.Box2{}
}

// GridTileToChunkTile maps a grid tile inside this chunk to chunk-local
// coordinates.
func (c *Chunk) GridTileToChunkTile(gridTile geom.Vec2i) geom.Vec2i {
	s := int32(c.size)
	return geom.V2i(geom.FloorMod(gridTile.X, s), geom.FloorMod(gridTile.Y, s))
}

// ChunkTileToGridTile maps chunk-local coordinates to grid tile indices.
func (c *Chunk) ChunkTileToGridTile(local geom.Vec2i) geom.Vec2i {
	return c.indices.Mul(int32(c.size)).Add(local)
}

// AddToCell anchors ent at chunk-local (x, y). Adding an entity twice is a
// no-op.
func (c *Chunk) AddToCell(x, y int32, ent ecs.EntityID) error {
	i, err := c.index(x, y)
	if err != nil {
		return err
	}
	if c.anchors == nil {
		c.anchors = make(map[int][]ecs.EntityID)
	}
	if slices.Contains(c.anchors[i], ent) {
		return nil
	}
	c.anchors[i] = append(c.anchors[i], ent)
	c.lastAnchorModified = c.clock.CurTick()
	return nil
}

// RemoveFromCell reports whether ent was anchored at (x, y).
func (c *Chunk) RemoveFromCell(x, y int32, ent ecs.EntityID) (bool, error) {
	i, err := c.index(x, y)
	if err != nil {
		return false, err
	}
	cell := c.anchors[i]
	j := slices.Index(cell, ent)
	if j < 0 {
		return false, nil
	}
	cell = slices.Delete(cell, j, j+1)
	if len(cell) == 0 {
		delete(c.anchors, i)
	} else {
		c.anchors[i] = cell
	}
	c.lastAnchorModified = c.clock.CurTick()
	return true, nil
}

// Cell returns the entities anchored at (x, y). The slice is shared.
func (c *Chunk) Cell(x, y int32) ([]ecs.EntityID, error) {
	i, err := c.index(x, y)
	if err != nil {
		return nil, err
	}
	return c.anchors[i], nil
}

// AnchoredCount is the number of anchored entities over all cells.
func (c *Chunk) AnchoredCount() int {
	n := 0
	for _, cell := range c.anchors {
		n += len(cell)
	}
	return n
}

// loadTiles replaces the whole tile array without regenerating, used by delta
// and snapshot application. It reports whether anything changed.
func (c *Chunk) loadTiles(tiles []Tile) bool {
	changed := false
	for i, t := range tiles {
		if c.tiles[i] == t {
			continue
		}
		switch {
		case c.tiles[i].IsEmpty() && !t.IsEmpty():
			c.filled++
		case !c.tiles[i].IsEmpty() && t.IsEmpty():
			c.filled--
		}
		c.tiles[i] = t
		changed = true
	}
	if changed {
		c.lastTileModified = c.clock.CurTick()
	}
	return changed
}
