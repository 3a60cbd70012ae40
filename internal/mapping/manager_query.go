package mapping

import (
	"slices"

	"github.com/l1jgo/tilegrid/internal/broadphase"
	"github.com/l1jgo/tilegrid/internal/geom"
)

// candidates collects the grids whose proxies overlap aabb, leaving out the
// map's default grid. Collecting first keeps callbacks free to mutate grids.
func (m *Manager) candidates(md *mapData, aabb geom.Box2) []*Grid {
	var out []*Grid
	md.tree.Query(aabb, func(_ broadphase.Proxy, id GridID) bool {
		if id == md.defaultGrid {
			return true
		}
		if g, ok := m.grids[id]; ok {
			out = append(out, g)
		}
		return true
	})
	slices.SortFunc(out, func(a, b *Grid) int { return int(a.id) - int(b.id) })
	return out
}

// FindGridsIntersecting calls fn for every grid on the map whose world AABB
// overlaps area. With approximate false each candidate is also tested
// against its collision polygons. includeMap adds the map's default grid.
// Returning false from fn stops the enumeration.
func (m *Manager) FindGridsIntersecting(mapID MapID, area geom.Box2, approximate, includeMap bool, fn func(*Grid) bool) error {
	if err := checkArea(area); err != nil {
		return err
	}
	md, ok := m.maps[mapID]
	if !ok {
		return nil
	}
	query := geom.NewRectPolygon(area)
	for _, g := range m.candidates(md, area) {
		if !g.WorldAABB().Intersects(area) {
			continue
		}
		if !approximate && !g.intersectsWorldPolygon(query) {
			continue
		}
		if !fn(g) {
			return nil
		}
	}
	if includeMap {
		if g, ok := m.MapDefaultGrid(mapID); ok {
			fn(g)
		}
	}
	return nil
}

// FindGridsIntersectingRotated is FindGridsIntersecting for a rotated box.
func (m *Manager) FindGridsIntersectingRotated(mapID MapID, area geom.Box2Rotated, approximate, includeMap bool, fn func(*Grid) bool) error {
	if err := checkArea(area.Box); err != nil {
		return err
	}
	md, ok := m.maps[mapID]
	if !ok {
		return nil
	}
	aabb := area.CalcBoundingBox()
	query := area.Polygon()
	for _, g := range m.candidates(md, aabb) {
		if !g.WorldAABB().Intersects(aabb) {
			continue
		}
		if !approximate && !g.intersectsWorldPolygon(query) {
			continue
		}
		if !fn(g) {
			return nil
		}
	}
	if includeMap {
		if g, ok := m.MapDefaultGrid(mapID); ok {
			fn(g)
		}
	}
	return nil
}

// GridsIntersecting collects FindGridsIntersecting results in id order.
func (m *Manager) GridsIntersecting(mapID MapID, area geom.Box2, approximate, includeMap bool) ([]*Grid, error) {
	var out []*Grid
	err := m.FindGridsIntersecting(mapID, area, approximate, includeMap, func(g *Grid) bool {
		out = append(out, g)
		return true
	})
	return out, err
}

// TryFindGridAt returns the grid with a solid tile under the position. When
// grids overlap, which one wins is unspecified. With no hit the map's default
// grid is returned, if any.
func (m *Manager) TryFindGridAt(c MapCoordinates) (*Grid, bool) {
	md, ok := m.maps[c.Map]
	if !ok {
		return nil, false
	}
	for _, g := range m.candidates(md, geom.PointBox(c.Pos)) {
		if _, solid := g.TryGetTileRefAt(c.Pos); solid {
			return g, true
		}
	}
	return m.MapDefaultGrid(c.Map)
}

// RayHit is the closest grid hit by IntersectRay.
type RayHit struct {
	Grid     *Grid
	Distance float64
	Point    geom.Vec2
}

// IntersectRay casts a world ray against every grid on the map and returns
// the nearest collision polygon hit.
func (m *Manager) IntersectRay(mapID MapID, ray geom.Ray, maxDist float64) (RayHit, bool) {
	md, ok := m.maps[mapID]
	if !ok {
		return RayHit{}, false
	}
	var best RayHit
	found := false
	md.tree.RayCast(ray, maxDist, func(_ broadphase.Proxy, id GridID, limit float64) float64 {
		g, ok := m.grids[id]
		if !ok || id == md.defaultGrid {
			return -1
		}
		d, hit := g.RayCast(ray, limit)
		if !hit {
			return -1
		}
		if !found || d < best.Distance {
			best = RayHit{Grid: g, Distance: d, Point: ray.At(d)}
			found = true
		}
		// clip, but never to zero which would end the cast
		return max(d, geom.Epsilon)
	})
	return best, found
}
