package mapping

import (
	"math"

	"github.com/l1jgo/tilegrid/internal/geom"
)

// Partition converts a chunk's occupancy into convex polygons in chunk-local
// tile units. Each row is scanned into runs of filled tiles, then polygons
// sharing an edge are merged while the merge stays convex, exact and within
// geom.MaxPolygonVertices. The output depends only on occupancy, so equal
// chunks partition identically.
func Partition(c *Chunk) (geom.Box2, []geom.Polygon) {
	bounds, polys, _ := partition(c)
	return bounds, polys
}

// partition also reports how many merge passes ran before reaching a fixed
// point.
func partition(c *Chunk) (geom.Box2, []geom.Polygon, int) {
	if c.filled == 0 {
		return geom.Box2{}, nil, 0
	}
	polys := scanRows(c)
	passes := mergePolygons(&polys)

	bounds := polys[0].Bounds()
	for _, p := range polys[1:] {
		bounds = bounds.Union(p.Bounds())
	}
	return bounds, polys, passes
}

// scanRows emits one rectangle per horizontal run of filled tiles, rows bottom
// to top and runs left to right.
func scanRows(c *Chunk) []geom.Polygon {
	n := int(c.size)
	var polys []geom.Polygon
	for y := 0; y < n; y++ {
		origin := -1
		for x := 0; x <= n; x++ {
			filled := x < n && !c.tiles[x*n+y].IsEmpty()
			switch {
			case filled && origin < 0:
				origin = x
			case !filled && origin >= 0:
				polys = append(polys, geom.NewRectPolygon(geom.NewBox2(
					float64(origin), float64(y), float64(x), float64(y+1))))
				origin = -1
			}
		}
	}
	return polys
}

// mergePolygons folds mergeable pairs in index order until a full pass merges
// nothing, and returns the number of passes.
func mergePolygons(polys *[]geom.Polygon) int {
	passes := 0
	for {
		passes++
		merged := false
		ps := *polys
		for i := 0; i < len(ps); i++ {
			for j := i + 1; j < len(ps); {
				m, ok := tryMerge(ps[i], ps[j])
				if !ok {
					j++
					continue
				}
				ps[i] = m
				ps = append(ps[:j], ps[j+1:]...)
				merged = true
			}
		}
		*polys = ps
		if !merged {
			return passes
		}
	}
}

func sharedVertices(a, b geom.Polygon) int {
	n := 0
	for _, va := range a.Vertices {
		for _, vb := range b.Vertices {
			if geom.VecClose(va, vb) {
				n++
				break
			}
		}
	}
	return n
}

// tryMerge returns the hull of a and b if it is a valid collision polygon
// that covers exactly the two inputs.
func tryMerge(a, b geom.Polygon) (geom.Polygon, bool) {
	if sharedVertices(a, b) < 2 {
		return geom.Polygon{}, false
	}
	points := make([]geom.Vec2, 0, len(a.Vertices)+len(b.Vertices))
	points = append(points, a.Vertices...)
	points = append(points, b.Vertices...)
	hull := geom.GiftWrap(points)
	if len(hull) < 3 || len(hull) > geom.MaxPolygonVertices {
		return geom.Polygon{}, false
	}
	if !geom.IsConvex(hull) {
		return geom.Polygon{}, false
	}
	merged := geom.Polygon{Vertices: hull}
	if math.Abs(merged.Area()-(math.Abs(a.Area())+math.Abs(b.Area()))) > geom.Epsilon {
		return geom.Polygon{}, false
	}
	return merged, true
}
