package geom

import "github.com/go-gl/mathgl/mgl64"

// Transform is a rigid 2D transform: rotate by Rotation, then translate.
type Transform struct {
	Position Vec2
	Rotation float64
}

// Identity is the transform of an unmoved grid.
var Identity = Transform{}

// Matrix maps local coordinates to world coordinates.
func (t Transform) Matrix() mgl64.Mat3 {
	return mgl64.Translate2D(t.Position.X(), t.Position.Y()).Mul3(mgl64.HomogRotate2D(t.Rotation))
}

// InvMatrix maps world coordinates to local coordinates.
func (t Transform) InvMatrix() mgl64.Mat3 {
	return mgl64.HomogRotate2D(-t.Rotation).Mul3(mgl64.Translate2D(-t.Position.X(), -t.Position.Y()))
}

// TransformPoint applies a homogeneous 2D matrix to p.
func TransformPoint(m mgl64.Mat3, p Vec2) Vec2 {
	return m.Mul3x1(p.Vec3(1)).Vec2()
}

// TransformBox returns the axis-aligned bounds of b after applying m.
func TransformBox(m mgl64.Mat3, b Box2) Box2 {
	corners := b.Corners()
	out := PointBox(TransformPoint(m, corners[0]))
	for _, c := range corners[1:] {
		out = out.ExtendToInclude(TransformPoint(m, c))
	}
	return out
}

// TransformRotatedBox returns the axis-aligned bounds of r after applying m.
func TransformRotatedBox(m mgl64.Mat3, r Box2Rotated) Box2 {
	corners := r.Corners()
	out := PointBox(TransformPoint(m, corners[0]))
	for _, c := range corners[1:] {
		out = out.ExtendToInclude(TransformPoint(m, c))
	}
	return out
}
