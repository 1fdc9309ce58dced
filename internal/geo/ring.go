// Package geo holds the planar geometry used by the rollup: polygon assembly
// from raw rings and the dissolve of adjacent polygons into one outline.
package geo

import (
	"math"
)

// SignedArea returns the shoelace area of a closed XY ring. Counter-clockwise
// rings are positive.
func SignedArea(flat []float64) float64 {
	n := len(flat) / 2
	if n < 3 {
		return 0
	}
	sum := 0.0
	for i := 0; i < n-1; i++ {
		x0, y0 := flat[2*i], flat[2*i+1]
		x1, y1 := flat[2*i+2], flat[2*i+3]
		sum += x0*y1 - x1*y0
	}
	// close implicitly if the ring is open
	x0, y0 := flat[2*(n-1)], flat[2*(n-1)+1]
	if x0 != flat[0] || y0 != flat[1] {
		sum += x0*flat[1] - flat[0]*y0
	}
	return sum / 2
}

// Closed returns flat with the first point appended when the ring is open.
func Closed(flat []float64) []float64 {
	n := len(flat)
	if n < 2 {
		return flat
	}
	if flat[0] == flat[n-2] && flat[1] == flat[n-1] {
		return flat
	}
	out := make([]float64, n, n+2)
	copy(out, flat)
	return append(out, flat[0], flat[1])
}

// Reversed returns a reversed copy of a closed XY ring.
func Reversed(flat []float64) []float64 {
	n := len(flat) / 2
	out := make([]float64, len(flat))
	for i := 0; i < n; i++ {
		out[2*i] = flat[2*(n-1-i)]
		out[2*i+1] = flat[2*(n-1-i)+1]
	}
	return out
}

// Oriented returns the ring wound counter-clockwise when ccw is true and
// clockwise otherwise.
func Oriented(flat []float64, ccw bool) []float64 {
	if (SignedArea(flat) > 0) == ccw {
		return flat
	}
	return Reversed(flat)
}

// Simplify drops repeated points and vertices that are collinear with their
// neighbours. The result is closed.
func Simplify(flat []float64, tol float64) []float64 {
	flat = Closed(flat)
	n := len(flat)/2 - 1 // distinct vertices
	if n < 3 {
		return flat
	}
	pts := make([][2]float64, 0, n)
	for i := 0; i < n; i++ {
		p := [2]float64{flat[2*i], flat[2*i+1]}
		if len(pts) > 0 && samePoint(pts[len(pts)-1], p, tol) {
			continue
		}
		pts = append(pts, p)
	}
	if len(pts) > 1 && samePoint(pts[0], pts[len(pts)-1], tol) {
		pts = pts[:len(pts)-1]
	}

	for changed := true; changed && len(pts) > 3; {
		changed = false
		for i := 0; i < len(pts) && len(pts) > 3; i++ {
			prev := pts[(i+len(pts)-1)%len(pts)]
			next := pts[(i+1)%len(pts)]
			if collinear(prev, pts[i], next, tol) {
				pts = append(pts[:i], pts[i+1:]...)
				changed = true
				i--
			}
		}
	}

	out := make([]float64, 0, 2*len(pts)+2)
	for _, p := range pts {
		out = append(out, p[0], p[1])
	}
	return append(out, pts[0][0], pts[0][1])
}

func samePoint(a, b [2]float64, tol float64) bool {
	return math.Abs(a[0]-b[0]) <= tol && math.Abs(a[1]-b[1]) <= tol
}

// collinear reports whether b lies on the straight line from a to c.
func collinear(a, b, c [2]float64, tol float64) bool {
	cross := (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
	scale := math.Max(math.Hypot(c[0]-a[0], c[1]-a[1]), 1)
	if math.Abs(cross) > tol*scale {
		return false
	}
	// b must lie between a and c, otherwise the ring doubles back
	dot := (b[0]-a[0])*(c[0]-a[0]) + (b[1]-a[1])*(c[1]-a[1])
	return dot >= 0 && dot <= (c[0]-a[0])*(c[0]-a[0])+(c[1]-a[1])*(c[1]-a[1])
}
