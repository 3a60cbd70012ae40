package geom

// Ray is a half-line. Direction is expected to be normalized.
type Ray struct {
	Origin    Vec2
	Direction Vec2
}

func NewRay(origin, direction Vec2) Ray {
	if l := direction.Len(); l > Epsilon {
		direction = direction.Mul(1 / l)
	}
	return Ray{Origin: origin, Direction: direction}
}

// At returns the point dist units along the ray.
func (r Ray) At(dist float64) Vec2 {
	return r.Origin.Add(r.Direction.Mul(dist))
}
