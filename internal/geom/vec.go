// Package geom holds the 2D primitives shared by grids, chunks and the
// broadphase: integer tile indices, boxes, rotated boxes, convex polygons and
// affine transforms built on mgl64.
package geom

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Epsilon is the tolerance used for vertex and turn comparisons.
const Epsilon = 1e-7

// Vec2 is a position in world or grid-local space.
type Vec2 = mgl64.Vec2

// Vec2i indexes tiles and chunks. Both components may be negative.
type Vec2i struct {
	X int32
	Y int32
}

func V2i(x, y int32) Vec2i { return Vec2i{X: x, Y: y} }

func (v Vec2i) Add(o Vec2i) Vec2i { return Vec2i{X: v.X + o.X, Y: v.Y + o.Y} }
func (v Vec2i) Sub(o Vec2i) Vec2i { return Vec2i{X: v.X - o.X, Y: v.Y - o.Y} }
func (v Vec2i) Mul(s int32) Vec2i { return Vec2i{X: v.X * s, Y: v.Y * s} }
func (v Vec2i) ToVec2() Vec2 { return Vec2{float64(v.X), float64(v.Y)} }
func (v Vec2i) String() string { return fmt.Sprintf("(%d, %d)", v.X, v.Y) }
func (v Vec2i) Less(o Vec2i) bool { return v.X < o.X || (v.X == o.X && v.Y < o.Y) }
func (v Vec2i) FloorDiv(d int32) Vec2i { return Vec2i{X: FloorDiv(v.X, d), Y: FloorDiv(v.Y, d)} }

// FloorDiv divides rounding toward negative infinity, so -1/16 == -1.
func FloorDiv(a, b int32) int32 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// FloorMod is the remainder matching FloorDiv; the result has the sign of b.
func FloorMod(a, b int32) int32 {
	m := a % b
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	return m
}

// FloorToInt floors a float coordinate into tile space.
func FloorToInt(f float64) int32 {
	return int32(math.Floor(f))
}

// VecClose reports whether two vectors are equal within Epsilon.
func VecClose(a, b Vec2) bool {
	return mgl64.FloatEqualThreshold(a.X(), b.X(), Epsilon) &&
		mgl64.FloatEqualThreshold(a.Y(), b.Y(), Epsilon)
}

// Cross returns the z component of the 2D cross product a x b.
func Cross(a, b Vec2) float64 {
	return a.X()*b.Y() - a.Y()*b.X()
}

// RotateVec rotates v counter-clockwise by angle radians.
func RotateVec(v Vec2, angle float64) Vec2 {
	if angle == 0 {
		return v
	}
	return mgl64.Rotate2D(angle).Mul2x1(v)
}
