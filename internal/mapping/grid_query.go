package mapping

import (
	"fmt"
	"iter"
	"math"

	"github.com/l1jgo/tilegrid/internal/geom"
)

func checkArea(b geom.Box2) error {
	if !b.Valid() {
		return fmt.Errorf("%s: %w", b, ErrInvalidArea)
	}
	return nil
}

// TilesIntersecting yields tiles under a world-space box. The box is taken
// into grid-local space and its bounding box enumerated, so a rotated grid may
// report a few tiles outside the box itself.
func (g *Grid) TilesIntersecting(worldArea geom.Box2, ignoreEmpty bool, pred func(TileRef) bool) (iter.Seq[TileRef], error) {
	if err := checkArea(worldArea); err != nil {
		return nil, err
	}
	local := geom.TransformBox(g.InvWorldMatrix(), worldArea)
	return g.localTilesIntersecting(local, ignoreEmpty, pred), nil
}

// TilesIntersectingRotated is TilesIntersecting for a rotated world box.
func (g *Grid) TilesIntersectingRotated(worldArea geom.Box2Rotated, ignoreEmpty bool, pred func(TileRef) bool) (iter.Seq[TileRef], error) {
	if err := checkArea(worldArea.Box); err != nil {
		return nil, err
	}
	local := geom.TransformRotatedBox(g.InvWorldMatrix(), worldArea)
	return g.localTilesIntersecting(local, ignoreEmpty, pred), nil
}

// LocalTilesIntersecting yields tiles under a grid-local box.
func (g *Grid) LocalTilesIntersecting(localArea geom.Box2, ignoreEmpty bool, pred func(TileRef) bool) (iter.Seq[TileRef], error) {
	if err := checkArea(localArea); err != nil {
		return nil, err
	}
	return g.localTilesIntersecting(localArea, ignoreEmpty, pred), nil
}

// localTilesIntersecting walks tiles from floor(min) up to, but excluding,
// ceil(max), so an edge at exactly 20 stops before tile 20 while 20.1
// includes it.
func (g *Grid) localTilesIntersecting(local geom.Box2, ignoreEmpty bool, pred func(TileRef) bool) iter.Seq[TileRef] {
	lbX := geom.FloorToInt(local.Left / g.tileSize)
	lbY := geom.FloorToInt(local.Bottom / g.tileSize)
	rtX := int32(math.Ceil(local.Right / g.tileSize))
	rtY := int32(math.Ceil(local.Top / g.tileSize))

	return func(yield func(TileRef) bool) {
		for x := lbX; x < rtX; x++ {
			for y := lbY; y < rtY; y++ {
				idx := geom.V2i(x, y)
				key, off := g.chunkAndOffset(idx)
				var r TileRef
				if c, ok := g.chunks[key]; ok {
					t, _ := c.GetTile(off.X, off.Y)
					if ignoreEmpty && t.IsEmpty() {
						continue
					}
					r = g.ref(idx, t)
				} else {
					if ignoreEmpty {
						continue
					}
					r = g.ref(idx, EmptyTile)
				}
				if pred != nil && !pred(r) {
					continue
				}
				if !yield(r) {
					return
				}
			}
		}
	}
}

// TilesIntersectingCircle yields tiles whose centers lie within radius of a
// world position.
func (g *Grid) TilesIntersectingCircle(center geom.Vec2, radius float64, ignoreEmpty bool, pred func(TileRef) bool) (iter.Seq[TileRef], error) {
	if radius < 0 || math.IsNaN(radius) {
		return nil, fmt.Errorf("radius %g: %w", radius, ErrInvalidArea)
	}
	aabb := geom.CenteredAround(center, 2*radius, 2*radius)
	tiles, err := g.TilesIntersecting(aabb, ignoreEmpty, pred)
	if err != nil {
		return nil, err
	}
	localCenter := g.WorldToLocal(center)
	return func(yield func(TileRef) bool) {
		for r := range tiles {
			if g.GridTileToLocal(r.Indices).Sub(localCenter).Len() > radius {
				continue
			}
			if !yield(r) {
				return
			}
		}
	}, nil
}

// ChunksIntersecting yields live chunks whose index range overlaps the world
// box.
func (g *Grid) ChunksIntersecting(worldArea geom.Box2) (iter.Seq[*Chunk], error) {
	if err := checkArea(worldArea); err != nil {
		return nil, err
	}
	return g.localChunksIntersecting(geom.TransformBox(g.InvWorldMatrix(), worldArea)), nil
}

// localChunksIntersecting enumerates the chunk-coordinate rectangle covering
// a local box, skipping missing chunks.
func (g *Grid) localChunksIntersecting(local geom.Box2) iter.Seq[*Chunk] {
	span := float64(g.chunkSize) * g.tileSize
	lbX := geom.FloorToInt(local.Left / span)
	lbY := geom.FloorToInt(local.Bottom / span)
	rtX := geom.FloorToInt(local.Right / span)
	rtY := geom.FloorToInt(local.Top / span)

	return func(yield func(*Chunk) bool) {
		// Iterate the smaller of the index rectangle and the chunk map.
		area := (int64(rtX) - int64(lbX) + 1) * (int64(rtY) - int64(lbY) + 1)
		if area > int64(len(g.chunks)) {
			for c := range g.Chunks() {
				i := c.indices
				if i.X < lbX || i.X > rtX || i.Y < lbY || i.Y > rtY {
					continue
				}
				if !yield(c) {
					return
				}
			}
			return
		}
		for x := lbX; x <= rtX; x++ {
			for y := lbY; y <= rtY; y++ {
				c, ok := g.chunks[geom.V2i(x, y)]
				if !ok {
					continue
				}
				if !yield(c) {
					return
				}
			}
		}
	}
}

// intersectsWorldPolygon tests a world-space convex polygon against the grid's
// collision polygons.
func (g *Grid) intersectsWorldPolygon(world geom.Polygon) bool {
	inv := g.InvWorldMatrix()
	local := geom.Polygon{Vertices: make([]geom.Vec2, len(world.Vertices))}
	for i, v := range world.Vertices {
		local.Vertices[i] = geom.TransformPoint(inv, v)
	}
	bounds := local.Bounds()
	for c := range g.localChunksIntersecting(bounds) {
		if !g.chunkLocalBounds(c).Intersects(bounds) {
			continue
		}
		for _, p := range g.ChunkLocalPolygons(c) {
			if p.Intersects(local) {
				return true
			}
		}
	}
	return false
}

// RayCast returns the distance to the first collision polygon hit by a
// world-space ray.
func (g *Grid) RayCast(ray geom.Ray, maxDist float64) (float64, bool) {
	inv := g.InvWorldMatrix()
	origin := geom.TransformPoint(inv, ray.Origin)
	dir := geom.RotateVec(ray.Direction, -g.Transform().Rotation)
	local := geom.Ray{Origin: origin, Direction: dir}

	best := maxDist
	hit := false
	for c := range g.Chunks() {
		if _, ok := g.chunkLocalBounds(c).RayIntersect(local, best); !ok {
			continue
		}
		for _, p := range g.ChunkLocalPolygons(c) {
			if d, ok := p.RayCast(local, best); ok && (!hit || d < best) {
				best = d
				hit = true
			}
		}
	}
	return best, hit
}
