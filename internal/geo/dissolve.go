package geo

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// ErrTopology is returned when the boundary edges left after cancellation
// cannot be linked into closed rings.
var ErrTopology = eris.New("geo: boundary edges do not form closed rings")

type vertex struct {
	x, y float64
}

type edge struct {
	from, to int
}

// graph is the vertex and directed edge set of the input rings.
type graph struct {
	eps   float64 // snap grid
	tol   float64 // on-segment tolerance
	ids   map[[2]int64]int
	verts []vertex
	edges []edge
}

func newGraph(parts []*geom.MultiPolygon) *graph {
	maxAbs := 1.0
	for _, mp := range parts {
		if mp == nil {
			continue
		}
		for _, c := range mp.FlatCoords() {
			maxAbs = math.Max(maxAbs, math.Abs(c))
		}
	}
	return &graph{
		eps: maxAbs * 1e-12,
		tol: maxAbs * 1e-10,
		ids: make(map[[2]int64]int),
	}
}

func (g *graph) vertexID(x, y float64) int {
	k := [2]int64{int64(math.Round(x / g.eps)), int64(math.Round(y / g.eps))}
	if id, ok := g.ids[k]; ok {
		return id
	}
	id := len(g.verts)
	g.ids[k] = id
	g.verts = append(g.verts, vertex{x, y})
	return id
}

func (g *graph) addRing(flat []float64) {
	flat = Closed(flat)
	prev := -1
	for i := 0; i+1 < len(flat); i += 2 {
		id := g.vertexID(flat[i], flat[i+1])
		if prev >= 0 && prev != id {
			g.edges = append(g.edges, edge{prev, id})
		}
		prev = id
	}
}

// node splits every edge at the vertices lying on its interior so that
// shared boundaries with different vertex density still cancel.
func (g *graph) node() {
	if len(g.verts) == 0 {
		return
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, v := range g.verts {
		minX, maxX = math.Min(minX, v.x), math.Max(maxX, v.x)
		minY, maxY = math.Min(minY, v.y), math.Max(maxY, v.y)
	}
	n := math.Ceil(math.Sqrt(float64(len(g.verts))))
	cell := math.Max(maxX-minX, maxY-minY) / n
	if cell <= 0 {
		cell = 1
	}
	cellOf := func(x, y float64) (int, int) {
		return int(math.Floor((x - minX) / cell)), int(math.Floor((y - minY) / cell))
	}
	grid := make(map[[2]int][]int)
	for id, v := range g.verts {
		cx, cy := cellOf(v.x, v.y)
		grid[[2]int{cx, cy}] = append(grid[[2]int{cx, cy}], id)
	}

	var out []edge
	for _, e := range g.edges {
		a, b := g.verts[e.from], g.verts[e.to]
		x0, x1 := math.Min(a.x, b.x)-g.tol, math.Max(a.x, b.x)+g.tol
		y0, y1 := math.Min(a.y, b.y)-g.tol, math.Max(a.y, b.y)+g.tol
		cx0, cy0 := cellOf(x0, y0)
		cx1, cy1 := cellOf(x1, y1)

		type hit struct {
			id int
			t  float64
		}
		var hits []hit
		dx, dy := b.x-a.x, b.y-a.y
		ll := dx*dx + dy*dy
		for cx := cx0; cx <= cx1; cx++ {
			for cy := cy0; cy <= cy1; cy++ {
				for _, id := range grid[[2]int{cx, cy}] {
					if id == e.from || id == e.to {
						continue
					}
					v := g.verts[id]
					if v.x < x0 || v.x > x1 || v.y < y0 || v.y > y1 {
						continue
					}
					if !onSegment([2]float64{v.x, v.y}, [2]float64{a.x, a.y}, [2]float64{b.x, b.y}, g.tol) {
						continue
					}
					t := ((v.x-a.x)*dx + (v.y-a.y)*dy) / ll
					if t > 0 && t < 1 {
						hits = append(hits, hit{id, t})
					}
				}
			}
		}
		if len(hits) == 0 {
			out = append(out, e)
			continue
		}
		sort.Slice(hits, func(i, j int) bool { return hits[i].t < hits[j].t })
		prev := e.from
		for _, h := range hits {
			if h.id != prev {
				out = append(out, edge{prev, h.id})
				prev = h.id
			}
		}
		out = append(out, edge{prev, e.to})
	}
	g.edges = out
}

// boundary cancels each directed edge against its reverse and returns the
// remaining edges, one per direction, in a stable order.
func (g *graph) boundary() []edge {
	count := make(map[edge]int, len(g.edges))
	for _, e := range g.edges {
		count[e]++
	}
	var out []edge
	for e, c := range count {
		if c > count[edge{e.to, e.from}] {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].from != out[j].from {
			return out[i].from < out[j].from
		}
		return out[i].to < out[j].to
	})
	return out
}

// trace links boundary edges into rings. At a vertex with several outgoing
// edges it takes the first one clockwise from the way it came in, which keeps
// rings that touch at a single vertex apart.
func (g *graph) trace(edges []edge) ([][]float64, error) {
	outgoing := make(map[int][]int) // vertex -> edge indexes
	for i, e := range edges {
		outgoing[e.from] = append(outgoing[e.from], i)
	}
	angle := func(from, to int) float64 {
		a, b := g.verts[from], g.verts[to]
		return math.Atan2(b.y-a.y, b.x-a.x)
	}
	next := func(cur int) int {
		e := edges[cur]
		back := angle(e.to, e.from)
		best, bestTurn := -1, math.Inf(1)
		for _, cand := range outgoing[e.to] {
			turn := math.Mod(back-angle(e.to, edges[cand].to)+4*math.Pi, 2*math.Pi)
			if turn < 1e-12 {
				turn = 2 * math.Pi
			}
			if turn < bestTurn {
				best, bestTurn = cand, turn
			}
		}
		return best
	}

	used := make([]bool, len(edges))
	var rings [][]float64
	for start := range edges {
		if used[start] {
			continue
		}
		var flat []float64
		cur := start
		for steps := 0; ; steps++ {
			if steps > len(edges) {
				return nil, eris.Wrap(ErrTopology, "ring does not close")
			}
			used[cur] = true
			v := g.verts[edges[cur].from]
			flat = append(flat, v.x, v.y)
			cur = next(cur)
			if cur < 0 {
				return nil, eris.Wrap(ErrTopology, "dangling edge")
			}
			if cur == start {
				break
			}
			if used[cur] {
				return nil, eris.Wrap(ErrTopology, "edge reused")
			}
		}
		v := g.verts[edges[start].from]
		rings = append(rings, append(flat, v.x, v.y))
	}
	return rings, nil
}

// Dissolve unions the polygons of parts into one MultiPolygon by cancelling
// shared boundary edges. Parts are expected to tile without overlap, as
// tract polygons do; overlapping interiors are not merged.
func Dissolve(parts []*geom.MultiPolygon, srid int) (*geom.MultiPolygon, error) {
	g := newGraph(parts)
	for _, mp := range parts {
		for _, poly := range Polygons(mp) {
			for j, r := range poly {
				g.addRing(Oriented(Closed(r), j == 0))
			}
		}
	}
	g.node()

	rings, err := g.trace(g.boundary())
	if err != nil {
		return nil, err
	}

	type shell struct {
		flat  []float64
		area  float64
		holes [][]float64
	}
	var shells []*shell
	var holes [][]float64
	for _, r := range rings {
		r = Simplify(r, g.tol)
		a := SignedArea(r)
		switch {
		case math.Abs(a) <= g.tol:
			continue
		case a > 0:
			shells = append(shells, &shell{flat: r, area: a})
		default:
			holes = append(holes, r)
		}
	}

	sort.SliceStable(shells, func(i, j int) bool { return shells[i].area < shells[j].area })
	for _, h := range holes {
		attached := false
		for _, s := range shells {
			if ringInside(h, s.flat) {
				s.holes = append(s.holes, h)
				attached = true
				break
			}
		}
		if !attached {
			return nil, eris.Wrap(ErrTopology, "hole outside every shell")
		}
	}

	// largest first
	sort.SliceStable(shells, func(i, j int) bool { return shells[i].area > shells[j].area })
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
