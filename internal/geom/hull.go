package geom

import "math"

// GiftWrap returns the convex hull of points using a Jarvis march. The hull
// starts at the bottom-most, then left-most point and winds counter-clockwise.
// Duplicate and collinear points are dropped.
func GiftWrap(points []Vec2) []Vec2 {
	pts := make([]Vec2, 0, len(points))
	for _, p := range points {
		dup := false
		for _, q := range pts {
			if VecClose(p, q) {
				dup = true
				break
			}
		}
		if !dup {
			pts = append(pts, p)
		}
	}
	if len(pts) < 3 {
		return pts
	}

	start := 0
	for i, p := range pts {
		s := pts[start]
		if p.Y() < s.Y() || (p.Y() == s.Y() && p.X() < s.X()) {
			start = i
		}
	}

	hull := make([]Vec2, 0, len(pts))
	cur := start
	for len(hull) <= len(pts) {
		hull = append(hull, pts[cur])
		next := (cur + 1) % len(pts)
		for i := range pts {
			if i == cur {
				continue
			}
			c := Cross(pts[next].Sub(pts[cur]), pts[i].Sub(pts[cur]))
			if c < -Epsilon {
				next = i
			} else if math.Abs(c) <= Epsilon &&
				distSq(pts[cur], pts[i]) > distSq(pts[cur], pts[next]) {
				next = i
			}
		}
		cur = next
		if cur == start {
			break
		}
	}
	return hull
}

// IsConvex reports whether the closed vertex loop turns the same way at every
// vertex and winds exactly once. Zero-length edges fail.
func IsConvex(vertices []Vec2) bool {
	n := len(vertices)
	if n < 3 {
		return false
	}
	var sign, total float64
	for i := 0; i < n; i++ {
		a := vertices[i]
		b := vertices[(i+1)%n]
		c := vertices[(i+2)%n]
		e1 := b.Sub(a)
		e2 := c.Sub(b)
		if e1.Len() < Epsilon || e2.Len() < Epsilon {
			return false
		}
		turn := math.Atan2(Cross(e1, e2), e1.Dot(e2))
		if math.Abs(turn) < Epsilon {
			return false
		}
		s := math.Copysign(1, turn)
		if sign == 0 {
			sign = s
		} else if s != sign {
			return false
		}
		total += turn
	}
	return math.Abs(math.Abs(total)-2*math.Pi) < 1e-6
}

func distSq(a, b Vec2) float64 {
	d := b.Sub(a)
	return d.Dot(d)
}
