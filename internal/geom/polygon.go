package geom

import "math"

// MaxPolygonVertices caps the vertex count of a collision polygon.
const MaxPolygonVertices = 8

// Polygon is a convex polygon with counter-clockwise winding.
type Polygon struct {
	Vertices []Vec2
}

// NewRectPolygon returns the box as bottom-left, bottom-right, top-right,
// top-left.
func NewRectPolygon(b Box2) Polygon {
	c := b.Corners()
	return Polygon{Vertices: c[:]}
}

// Area is the signed shoelace area; positive for counter-clockwise winding.
func (p Polygon) Area() float64 {
	var sum float64
	n := len(p.Vertices)
	for i := 0; i < n; i++ {
		sum += Cross(p.Vertices[i], p.Vertices[(i+1)%n])
	}
	return sum / 2
}

// Bounds returns the axis-aligned bounds of the vertices.
func (p Polygon) Bounds() Box2 {
	if len(p.Vertices) == 0 {
		return Box2{}
	}
	out := PointBox(p.Vertices[0])
	for _, v := range p.Vertices[1:] {
		out = out.ExtendToInclude(v)
	}
	return out
}

func (p Polygon) mapVertices(fn func(Vec2) Vec2) Polygon {
	out := make([]Vec2, len(p.Vertices))
	for i, v := range p.Vertices {
		out[i] = fn(v)
	}
	return Polygon{Vertices: out}
}

func (p Polygon) Translated(v Vec2) Polygon {
	return p.mapVertices(func(x Vec2) Vec2 { return x.Add(v) })
}

func (p Polygon) Scaled(s float64) Polygon {
	return p.mapVertices(func(x Vec2) Vec2 { return x.Mul(s) })
}

// Transformed applies a rigid transform. Winding is preserved.
func (p Polygon) Transformed(t Transform) Polygon {
	m := t.Matrix()
	return p.mapVertices(func(x Vec2) Vec2 { return TransformPoint(m, x) })
}

// Equal compares vertex lists exactly, including order.
func (p Polygon) Equal(o Polygon) bool {
	if len(p.Vertices) != len(o.Vertices) {
		return false
	}
	for i := range p.Vertices {
		if p.Vertices[i] != o.Vertices[i] {
			return false
		}
	}
	return true
}

// ContainsPoint includes points on the boundary.
func (p Polygon) ContainsPoint(pt Vec2) bool {
	n := len(p.Vertices)
	if n < 3 {
		return false
	}
	sign := 1.0
	if p.Area() < 0 {
		sign = -1
	}
	for i := 0; i < n; i++ {
		a := p.Vertices[i]
		b := p.Vertices[(i+1)%n]
		if sign*Cross(b.Sub(a), pt.Sub(a)) < -Epsilon {
			return false
		}
	}
	return true
}

// Intersects runs a separating axis test between two convex polygons.
// Touching polygons intersect.
func (p Polygon) Intersects(o Polygon) bool {
	if len(p.Vertices) == 0 || len(o.Vertices) == 0 {
		return false
	}
	return !hasSeparatingAxis(p, o) && !hasSeparatingAxis(o, p)
}

func hasSeparatingAxis(a, b Polygon) bool {
	n := len(a.Vertices)
	for i := 0; i < n; i++ {
		edge := a.Vertices[(i+1)%n].Sub(a.Vertices[i])
		axis := Vec2{-edge.Y(), edge.X()}
		if axis.Len() < Epsilon {
			continue
		}
		minA, maxA := project(a, axis)
		minB, maxB := project(b, axis)
		if maxA < minB-Epsilon || maxB < minA-Epsilon {
			return true
		}
	}
	return false
}

func project(p Polygon, axis Vec2) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range p.Vertices {
		d := v.Dot(axis)
		lo = math.Min(lo, d)
		hi = math.Max(hi, d)
	}
	return lo, hi
}

// RayCast clips the ray against the polygon edges. It returns the entry
// distance, or zero when the origin is inside.
func (p Polygon) RayCast(r Ray, maxDist float64) (float64, bool) {
	n := len(p.Vertices)
	if n < 3 {
		return 0, false
	}
	sign := 1.0
	if p.Area() < 0 {
		sign = -1
	}
	lower, upper := 0.0, maxDist
	for i := 0; i < n; i++ {
		a := p.Vertices[i]
		b := p.Vertices[(i+1)%n]
		edge := b.Sub(a)
		// outward normal for counter-clockwise winding
		normal := Vec2{edge.Y(), -edge.X()}.Mul(sign)
		num := normal.Dot(a.Sub(r.Origin))
		den := normal.Dot(r.Direction)
		if math.Abs(den) < Epsilon {
			if num < -Epsilon {
				return 0, false
			}
			continue
		}
		t := num / den
		if den < 0 {
			lower = math.Max(lower, t)
		} else {
			upper = math.Min(upper, t)
		}
		if upper < lower {
			return 0, false
		}
	}
	return lower, true
}
