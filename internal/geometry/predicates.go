package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

const epsilon = 1e-12

func containsPoint(polys []orb.Polygon, p orb.Point) bool {
	for _, poly := range polys {
		if len(poly) == 0 {
			continue
		}
		if !poly.Bound().Contains(p) {
			continue
		}
		if planar.PolygonContains(poly, p) || onPolygonBoundary(poly, p) {
			return true
		}
	}
	return false
}

func strictlyContainsPoint(polys []orb.Polygon, p orb.Point) bool {
	for _, poly := range polys {
		if onPolygonBoundary(poly, p) {
			return false
		}
	}
	return containsPoint(polys, p)
}

func onPolygonBoundary(poly orb.Polygon, p orb.Point) bool {
	for _, ring := range poly {
		for i := 0; i+1 < len(ring); i++ {
			if orientation(ring[i], ring[i+1], p) == 0 && onSegment(ring[i], ring[i+1], p) {
				return true
			}
		}
	}
	return false
}

func anyVertexIn(src, dst []orb.Polygon) bool {
	for _, poly := range src {
		if len(poly) == 0 {
			continue
		}
		for _, pt := range poly[0] {
			if containsPoint(dst, pt) {
				return true
			}
		}
	}
	return false
}

func anyVertexStrictlyIn(src, dst []orb.Polygon) bool {
	for _, poly := range src {
		if len(poly) == 0 {
			continue
		}
		for _, pt := range poly[0] {
			if strictlyContainsPoint(dst, pt) {
				return true
			}
		}
	}
	return false
}

// within: every outer vertex of inner is in outer and no edges cross properly.
func within(inner, outer []orb.Polygon) bool {
	for _, poly := range inner {
		if len(poly) == 0 {
			return false
		}
		for _, pt := range poly[0] {
			if !containsPoint(outer, pt) {
				return false
			}
		}
	}
	return !edgesTouch(inner, outer, true)
}

// edgesTouch reports whether any edge of a meets any edge of b. With
// properOnly set, only crossings through both segment interiors count.
func edgesTouch(a, b []orb.Polygon, properOnly bool) bool {
	for _, pa := range a {
		for _, ra := range pa {
			for i := 0; i+1 < len(ra); i++ {
				for _, pb := range b {
					for _, rb := range pb {
						for j := 0; j+1 < len(rb); j++ {
							if segmentsIntersect(ra[i], ra[i+1], rb[j], rb[j+1], properOnly) {
								return true
							}
						}
					}
				}
			}
		}
	}
	return false
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point, properOnly bool) bool {
	o1 := orientation(p1, p2, q1)
	o2 := orientation(p1, p2, q2)
	o3 := orientation(q1, q2, p1)
	o4 := orientation(q1, q2, p2)

	if o1*o2 < 0 && o3*o4 < 0 {
		return true
	}
	if properOnly {
		return false
	}
	switch {
	case o1 == 0 && onSegment(p1, p2, q1):
		return true
	case o2 == 0 && onSegment(p1, p2, q2):
		return true
	case o3 == 0 && onSegment(q1, q2, p1):
		return true
	case o4 == 0 && onSegment(q1, q2, p2):
		return true
	}
	return false
}

// orientation returns -1, 0 or 1 for clockwise, collinear, counter-clockwise.
func orientation(a, b, c orb.Point) int {
	v := (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
	switch {
	case v > epsilon:
		return 1
	case v < -epsilon:
		return -1
	default:
		return 0
	}
}

func onSegment(a, b, p orb.Point) bool {
	return p[0] >= math.Min(a[0], b[0])-epsilon && p[0] <= math.Max(a[0], b[0])+epsilon &&
		p[1] >= math.Min(a[1], b[1])-epsilon && p[1] <= math.Max(a[1], b[1])+epsilon
}

// offsetRing moves every vertex along the mitred edge normal. Outer rings
// grow, holes shrink; both mean moving away from the polygon interior.
func offsetRing(ring orb.Ring, d float64, outer bool) orb.Ring {
	pts := []orb.Point(ring)
	closed := len(pts) > 1 && pts[0] == pts[len(pts)-1]
	if closed {
		pts = pts[:len(pts)-1]
	}
	n := len(pts)
	if n < 3 {
		return ring
	}

	// CCW rings have their exterior on the right of each edge.
	sign := 1.0
	if signedArea(pts) < 0 {
		sign = -1.0
	}
	if !outer {
		sign = -sign
	}

	out := make(orb.Ring, 0, n+1)
	for i := 0; i < n; i++ {
		prev := pts[(i-1+n)%n]
		cur := pts[i]
		next := pts[(i+1)%n]

		n1, ok1 := edgeNormal(prev, cur, sign)
		n2, ok2 := edgeNormal(cur, next, sign)
		switch {
		case !ok1 && !ok2:
			out = append(out, cur)
			continue
		case !ok1:
			n1 = n2
		case !ok2:
			n2 = n1
		}

		mx, my := n1[0]+n2[0], n1[1]+n2[1]
		length := math.Hypot(mx, my)
		if length < epsilon {
			mx, my, length = n1[0], n1[1], 1
		}
		mx, my = mx/length, my/length

		dot := mx*n1[0] + my*n1[1]
		if dot < 0.25 {
			dot = 0.25
		}
		scale := d / dot
		out = append(out, orb.Point{cur[0] + mx*scale, cur[1] + my*scale})
	}
	out = append(out, out[0])
	return out
}

func edgeNormal(a, b orb.Point, sign float64) (orb.Point, bool) {
	dx, dy := b[0]-a[0], b[1]-a[1]
	length := math.Hypot(dx, dy)
	if length < epsilon {
		return orb.Point{}, false
	}
	return orb.Point{sign * dy / length, -sign * dx / length}, true
}

func signedArea(pts []orb.Point) float64 {
	var sum float64
	for i := range pts {
		j := (i + 1) % len(pts)
		sum += pts[i][0]*pts[j][1] - pts[j][0]*pts[i][1]
	}
	return sum / 2
}
