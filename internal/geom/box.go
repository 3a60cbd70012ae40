package geom

import (
	"fmt"
	"math"
)

// Box2 is an axis-aligned box. Left/Bottom is the minimum corner.
type Box2 struct {
	Left   float64
	Bottom float64
	Right  float64
	Top    float64
}

func NewBox2(left, bottom, right, top float64) Box2 {
	return Box2{Left: left, Bottom: bottom, Right: right, Top: top}
}

// BoxFromPoints returns the smallest box holding both points.
func BoxFromPoints(a, b Vec2) Box2 {
	return Box2{
		Left:   math.Min(a.X(), b.X()),
		Bottom: math.Min(a.Y(), b.Y()),
		Right:  math.Max(a.X(), b.X()),
		Top:    math.Max(a.Y(), b.Y()),
	}
}

// CenteredAround returns a box of the given size centered on c.
func CenteredAround(c Vec2, width, height float64) Box2 {
	return Box2{
		Left:   c.X() - width/2,
		Bottom: c.Y() - height/2,
		Right:  c.X() + width/2,
		Top:    c.Y() + height/2,
	}
}

// PointBox is the zero-area box at p.
func PointBox(p Vec2) Box2 {
	return Box2{Left: p.X(), Bottom: p.Y(), Right: p.X(), Top: p.Y()}
}

func (b Box2) Width() float64  { return b.Right - b.Left }
func (b Box2) Height() float64 { return b.Top - b.Bottom }
func (b Box2) Size() Vec2      { return Vec2{b.Width(), b.Height()} }
func (b Box2) Area() float64   { return b.Width() * b.Height() }

func (b Box2) BottomLeft() Vec2  { return Vec2{b.Left, b.Bottom} }
func (b Box2) BottomRight() Vec2 { return Vec2{b.Right, b.Bottom} }
func (b Box2) TopRight() Vec2    { return Vec2{b.Right, b.Top} }
func (b Box2) TopLeft() Vec2     { return Vec2{b.Left, b.Top} }

func (b Box2) Center() Vec2 {
	return Vec2{(b.Left + b.Right) / 2, (b.Bottom + b.Top) / 2}
}

// Perimeter is the surface-area heuristic used by the dynamic tree.
func (b Box2) Perimeter() float64 {
	return 2 * (b.Width() + b.Height())
}

// IsEmpty reports whether the box covers no area.
func (b Box2) IsEmpty() bool {
	return b.Width() <= 0 || b.Height() <= 0
}

// Valid reports whether the box is well formed: finite and not inverted.
// A zero-area box is valid.
func (b Box2) Valid() bool {
	for _, f := range [4]float64{b.Left, b.Bottom, b.Right, b.Top} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return b.Right >= b.Left && b.Top >= b.Bottom
}

func (b Box2) Union(o Box2) Box2 {
	return Box2{
		Left:   math.Min(b.Left, o.Left),
		Bottom: math.Min(b.Bottom, o.Bottom),
		Right:  math.Max(b.Right, o.Right),
		Top:    math.Max(b.Top, o.Top),
	}
}

// ExtendToInclude grows the box so p lies inside it.
func (b Box2) ExtendToInclude(p Vec2) Box2 {
	return b.Union(PointBox(p))
}

// Intersects treats touching edges as overlapping.
func (b Box2) Intersects(o Box2) bool {
	return b.Left <= o.Right && o.Left <= b.Right &&
		b.Bottom <= o.Top && o.Bottom <= b.Top
}

// Contains reports whether p lies inside or on the edge of the box.
func (b Box2) Contains(p Vec2) bool {
	return p.X() >= b.Left && p.X() <= b.Right &&
		p.Y() >= b.Bottom && p.Y() <= b.Top
}

// Encloses reports whether o lies fully inside b.
func (b Box2) Encloses(o Box2) bool {
	return b.Left <= o.Left && b.Bottom <= o.Bottom &&
		o.Right <= b.Right && o.Top <= b.Top
}

func (b Box2) Translated(v Vec2) Box2 {
	return Box2{
		Left:   b.Left + v.X(),
		Bottom: b.Bottom + v.Y(),
		Right:  b.Right + v.X(),
		Top:    b.Top + v.Y(),
	}
}

// Scaled multiplies every coordinate by s (scales about the origin).
func (b Box2) Scaled(s float64) Box2 {
	return Box2{Left: b.Left * s, Bottom: b.Bottom * s, Right: b.Right * s, Top: b.Top * s}
}

func (b Box2) Enlarged(margin float64) Box2 {
	return Box2{
		Left:   b.Left - margin,
		Bottom: b.Bottom - margin,
		Right:  b.Right + margin,
		Top:    b.Top + margin,
	}
}

// Corners returns bottom-left, bottom-right, top-right, top-left.
func (b Box2) Corners() [4]Vec2 {
	return [4]Vec2{b.BottomLeft(), b.BottomRight(), b.TopRight(), b.TopLeft()}
}

// RayIntersect runs a slab test. It returns the entry distance along the ray,
// clamped to zero when the origin is inside the box.
func (b Box2) RayIntersect(r Ray, maxDist float64) (float64, bool) {
	tMin := 0.0
	tMax := maxDist
	origin := [2]float64{r.Origin.X(), r.Origin.Y()}
	dir := [2]float64{r.Direction.X(), r.Direction.Y()}
	lo := [2]float64{b.Left, b.Bottom}
	hi := [2]float64{b.Right, b.Top}

	for i := 0; i < 2; i++ {
		if math.Abs(dir[i]) < Epsilon {
			if origin[i] < lo[i] || origin[i] > hi[i] {
				return 0, false
			}
			continue
		}
		inv := 1 / dir[i]
		t1 := (lo[i] - origin[i]) * inv
		t2 := (hi[i] - origin[i]) * inv
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tMin = math.Max(tMin, t1)
		tMax = math.Min(tMax, t2)
		if tMin > tMax {
			return 0, false
		}
	}
	return tMin, true
}

func (b Box2) String() string {
	return fmt.Sprintf("(%g, %g)-(%g, %g)", b.Left, b.Bottom, b.Right, b.Top)
}

// Box2Rotated is a box rotated by Rotation radians around Origin.
type Box2Rotated struct {
	Box      Box2
	Rotation float64
	Origin   Vec2
}

// NewBox2Rotated rotates box around its own center.
func NewBox2Rotated(box Box2, rotation float64) Box2Rotated {
	return Box2Rotated{Box: box, Rotation: rotation, Origin: box.Center()}
}

// Corners returns the four rotated corners in the same order as Box2.Corners.
func (r Box2Rotated) Corners() [4]Vec2 {
	corners := r.Box.Corners()
	if r.Rotation == 0 {
		return corners
	}
	for i, c := range corners {
		corners[i] = RotateVec(c.Sub(r.Origin), r.Rotation).Add(r.Origin)
	}
	return corners
}

// CalcBoundingBox returns the axis-aligned box enclosing the rotated box.
func (r Box2Rotated) CalcBoundingBox() Box2 {
	if r.Rotation == 0 {
		return r.Box
	}
	corners := r.Corners()
	out := PointBox(corners[0])
	for _, c := range corners[1:] {
		out = out.ExtendToInclude(c)
	}
	return out
}

func (r Box2Rotated) Contains(p Vec2) bool {
	local := RotateVec(p.Sub(r.Origin), -r.Rotation).Add(r.Origin)
	return r.Box.Contains(local)
}

// Polygon returns the rotated box as a convex polygon.
func (r Box2Rotated) Polygon() Polygon {
	corners := r.Corners()
	return Polygon{Vertices: corners[:]}
}
