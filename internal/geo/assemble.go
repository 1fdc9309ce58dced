package geo

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// Assemble builds a MultiPolygon from closed XY rings using the shapefile
// winding convention: clockwise rings are shells, counter-clockwise rings are
// holes. A hole is attached to the smallest shell that contains it; a hole
// with no containing shell is promoted to a shell. Output shells are
// counter-clockwise and holes clockwise.
func Assemble(rings [][]float64, srid int) (*geom.MultiPolygon, error) {
	type shell struct {
		flat  []float64
		area  float64
		holes [][]float64
	}
	var shells []*shell
	var holes [][]float64

	for _, r := range rings {
		r = Closed(r)
		if len(r) < 8 {
			continue // fewer than 3 distinct vertices
		}
		a := SignedArea(r)
		switch {
		case a == 0:
			continue
		case a < 0:
			shells = append(shells, &shell{flat: Reversed(r), area: -a})
		default:
			holes = append(holes, r)
		}
	}

	// Writers that ignore the convention emit only counter-clockwise rings.
	if len(shells) == 0 {
		for _, h := range holes {
			shells = append(shells, &shell{flat: h, area: SignedArea(h)})
		}
		holes = nil
	}

	sort.SliceStable(shells, func(i, j int) bool { return shells[i].area < shells[j].area })
	for _, h := range holes {
		var owner *shell
		for _, s := range shells {
			if ringInside(h, s.flat) {
				owner = s
				break
			}
		}
		if owner == nil {
			shells = append(shells, &shell{flat: h, area: SignedArea(h)})
			continue
		}
		owner.holes = append(owner.holes, Reversed(h))
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(srid)
	for _, s := range shells {
		flat := append([]float64(nil), s.flat...)
		ends := []int{len(flat)}
		for _, h := range s.holes {
			flat = append(flat, h...)
			ends = append(ends, len(flat))
		}
		if err := mp.Push(geom.NewPolygonFlat(geom.XY, flat, ends)); err != nil {
			return nil, eris.Wrap(err, "geo: push polygon")
		}
	}
	return mp, nil
}

// ringInside reports whether inner lies inside outer, judged by the first
// inner vertex that is not on outer's boundary.
func ringInside(inner, outer []float64) bool {
	for i := 0; i+1 < len(inner); i += 2 {
		c := geom.Coord{inner[i], inner[i+1]}
		if onRing(c, outer) {
			continue
		}
		return xy.IsPointInRing(geom.XY, c, outer)
	}
	return false
}

func onRing(c geom.Coord, ring []float64) bool {
	for i := 0; i+3 < len(ring); i += 2 {
		a := [2]float64{ring[i], ring[i+1]}
		b := [2]float64{ring[i+2], ring[i+3]}
		if onSegment([2]float64{c[0], c[1]}, a, b, 1e-9) {
			return true
		}
	}
	return false
}

// onSegment reports whether p lies on segment ab within tol, endpoints included.
func onSegment(p, a, b [2]float64, tol float64) bool {
	dx, dy := b[0]-a[0], b[1]-a[1]
	l := math.Hypot(dx, dy)
	if l == 0 {
		return samePoint(p, a, tol)
	}
	cross := (p[0]-a[0])*dy - (p[1]-a[1])*dx
	if math.Abs(cross)/l > tol {
		return false
	}
	t := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / (l * l)
	return t >= -tol/l && t <= 1+tol/l
}

// Polygons returns every polygon of mp as rings of closed XY coordinates.
func Polygons(mp *geom.MultiPolygon) [][][]float64 {
	if mp == nil {
		return nil
	}
	stride := mp.Stride()
	out := make([][][]float64, 0, mp.NumPolygons())
	for i := 0; i < mp.NumPolygons(); i++ {
		p := mp.Polygon(i)
		rings := make([][]float64, 0, p.NumLinearRings())
		for j := 0; j < p.NumLinearRings(); j++ {
			rings = append(rings, toXY(p.LinearRing(j).FlatCoords(), stride))
		}
		out = append(out, rings)
	}
	return out
}

func toXY(flat []float64, stride int) []float64 {
	if stride == 2 {
		return append([]float64(nil), flat...)
	}
	out := make([]float64, 0, len(flat)/stride*2)
	for i := 0; i+1 < len(flat); i += stride {
		out = append(out, flat[i], flat[i+1])
	}
	return out
}

// Area returns the planar area of mp with holes subtracted.
func Area(mp *geom.MultiPolygon) float64 {
	total := 0.0
	for _, poly := range Polygons(mp) {
		for j, r := range poly {
			a := math.Abs(SignedArea(r))
			if j == 0 {
				total += a
			} else {
				total -= a
			}
		}
	}
	return total
}
