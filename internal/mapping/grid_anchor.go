package mapping

import (
	"fmt"
	"iter"
	"slices"

	"github.com/l1jgo/tilegrid/internal/core/ecs"
	"github.com/l1jgo/tilegrid/internal/geom"
)

// TileIndicesFor resolves map coordinates to the tile under them.
func (g *Grid) TileIndicesFor(c MapCoordinates) (geom.Vec2i, error) {
	return g.CoordinatesToTile(c)
}

// TileIndicesForEntity resolves the tile under an entity parented to this
// grid, using its grid-local position.
func (g *Grid) TileIndicesForEntity(ent ecs.EntityID) (geom.Vec2i, error) {
	es := g.host.entityView()
	if !es.EntityExists(ent) {
		return geom.Vec2i{}, fmt.Errorf("%s: entity %v: %w", g, ent, ErrNotAnchorable)
	}
	if p, ok := es.GetParent(ent); !ok || p != g.entity {
		return geom.Vec2i{}, fmt.Errorf("%s: entity %v is not on this grid: %w", g, ent, ErrNotAnchorable)
	}
	return g.LocalToTile(es.TransformOf(ent).Position), nil
}

// AddToCell anchors ent on a tile. It fails for space, for entities that do
// not exist and for entities parented elsewhere.
func (g *Grid) AddToCell(tile geom.Vec2i, ent ecs.EntityID) bool {
	es := g.host.entityView()
	if !es.EntityExists(ent) {
		return false
	}
	if p, ok := es.GetParent(ent); !ok || p != g.entity {
		return false
	}
	key, off := g.chunkAndOffset(tile)
	c, ok := g.chunks[key]
	if !ok {
		return false
	}
	if t, _ := c.GetTile(off.X, off.Y); t.IsEmpty() {
		return false
	}
	return c.AddToCell(off.X, off.Y, ent) == nil
}

// AnchorEntity anchors ent on the tile under its current position.
func (g *Grid) AnchorEntity(ent ecs.EntityID) bool {
	tile, err := g.TileIndicesForEntity(ent)
	if err != nil {
		return false
	}
	return g.AddToCell(tile, ent)
}

// RemoveFromCell reports whether ent was anchored on the tile.
func (g *Grid) RemoveFromCell(tile geom.Vec2i, ent ecs.EntityID) bool {
	key, off := g.chunkAndOffset(tile)
	c, ok := g.chunks[key]
	if !ok {
		return false
	}
	removed, _ := c.RemoveFromCell(off.X, off.Y, ent)
	return removed
}

// GetAnchored returns a copy of the entities anchored on a tile.
func (g *Grid) GetAnchored(tile geom.Vec2i) []ecs.EntityID {
	key, off := g.chunkAndOffset(tile)
	c, ok := g.chunks[key]
	if !ok {
		return nil
	}
	cell, _ := c.Cell(off.X, off.Y)
	return slices.Clone(cell)
}

func (g *Grid) AnchoredEntityCount(tile geom.Vec2i) int {
	key, off := g.chunkAndOffset(tile)
	c, ok := g.chunks[key]
	if !ok {
		return 0
	}
	cell, _ := c.Cell(off.X, off.Y)
	return len(cell)
}

func (g *Grid) IsAnchored(tile geom.Vec2i, ent ecs.EntityID) bool {
	return slices.Contains(g.GetAnchored(tile), ent)
}

// GetInDir returns the entities anchored dist tiles away in direction d.
func (g *Grid) GetInDir(tile geom.Vec2i, d Direction, dist int32) []ecs.EntityID {
	return g.GetAnchored(Step(tile, d, dist))
}

// GetOffset returns the entities anchored at tile+offset.
func (g *Grid) GetOffset(tile, offset geom.Vec2i) []ecs.EntityID {
	return g.GetAnchored(tile.Add(offset))
}

// DirectionToGrid returns the local center of the neighbouring tile.
func (g *Grid) DirectionToGrid(tile geom.Vec2i, d Direction) geom.Vec2 {
	return g.GridTileToLocal(Step(tile, d, 1))
}

// GetCardinalNeighborCells yields the entities on the tile itself, then north,
// south, east and west of it.
func (g *Grid) GetCardinalNeighborCells(tile geom.Vec2i) iter.Seq[ecs.EntityID] {
	offsets := [5]geom.Vec2i{{}, {X: 0, Y: 1}, {X: 0, Y: -1}, {X: 1, Y: 0}, {X: -1, Y: 0}}
	return func(yield func(ecs.EntityID) bool) {
		for _, o := range offsets {
			for _, e := range g.GetAnchored(tile.Add(o)) {
				if !yield(e) {
					return
				}
			}
		}
	}
}

// GetCellsInSquareArea yields the entities within n tiles on both axes,
// rows bottom to top.
func (g *Grid) GetCellsInSquareArea(tile geom.Vec2i, n int32) iter.Seq[ecs.EntityID] {
	return func(yield func(ecs.EntityID) bool) {
		for y := -n; y <= n; y++ {
			for x := -n; x <= n; x++ {
				for _, e := range g.GetAnchored(tile.Add(geom.V2i(x, y))) {
					if !yield(e) {
						return
					}
				}
			}
		}
	}
}

// GetAnchoredEntitiesInArea yields entities anchored on non-empty tiles under
// a world box.
func (g *Grid) GetAnchoredEntitiesInArea(worldArea geom.Box2) (iter.Seq[ecs.EntityID], error) {
	tiles, err := g.TilesIntersecting(worldArea, true, nil)
	if err != nil {
		return nil, err
	}
	return func(yield func(ecs.EntityID) bool) {
		for r := range tiles {
			for _, e := range g.GetAnchored(r.Indices) {
				if !yield(e) {
					return
				}
			}
		}
	}, nil
}
