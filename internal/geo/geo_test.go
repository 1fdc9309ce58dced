package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

// square returns a counter-clockwise closed square ring.
func square(x, y, size float64) []float64 {
	return []float64{x, y, x + size, y, x + size, y + size, x, y + size, x, y}
}

func poly(t *testing.T, rings ...[]float64) *geom.MultiPolygon {
	t.Helper()
	var flat []float64
	var ends []int
	for _, r := range rings {
		flat = append(flat, r...)
		ends = append(ends, len(flat))
	}
	mp := geom.NewMultiPolygon(geom.XY)
	require.NoError(t, mp.Push(geom.NewPolygonFlat(geom.XY, flat, ends)))
	return mp
}

func TestSignedArea(t *testing.T) {
	sq := square(0, 0, 2)
	assert.Equal(t, 4.0, SignedArea(sq))
	assert.Equal(t, -4.0, SignedArea(Reversed(sq)))
	assert.Equal(t, 4.0, SignedArea(sq[:8]), "open ring closes implicitly")
	assert.Equal(t, 0.0, SignedArea([]float64{0, 0, 1, 1}))
}

func TestOriented(t *testing.T) {
	sq := square(0, 0, 1)
	assert.Greater(t, SignedArea(Oriented(sq, true)), 0.0)
	assert.Less(t, SignedArea(Oriented(sq, false)), 0.0)
}

func TestSimplify(t *testing.T) {
	ring := []float64{0, 0, 1, 0, 2, 0, 2, 1, 2, 1, 0, 1, 0, 0}
	got := Simplify(ring, 1e-9)
	assert.Equal(t, []float64{0, 0, 2, 0, 2, 1, 0, 1, 0, 0}, got)
}

func TestAssemble_ShellsAndHoles(t *testing.T) {
	outer := Reversed(square(0, 0, 10)) // clockwise shell
	hole := square(2, 2, 2)             // counter-clockwise hole
	island := Reversed(square(20, 20, 1))

	mp, err := Assemble([][]float64{outer, hole, island}, 2263)
	require.NoError(t, err)
	assert.Equal(t, 2263, mp.SRID())
	require.Equal(t, 2, mp.NumPolygons())

	// smallest shell first
	assert.Equal(t, 1, mp.Polygon(0).NumLinearRings())
	assert.Equal(t, 2, mp.Polygon(1).NumLinearRings())
	assert.Greater(t, SignedArea(mp.Polygon(1).LinearRing(0).FlatCoords()), 0.0)
	assert.Less(t, SignedArea(mp.Polygon(1).LinearRing(1).FlatCoords()), 0.0)
	assert.InDelta(t, 100-4+1, Area(mp), 1e-9)
}

func TestAssemble_CounterClockwiseOnly(t *testing.T) {
	mp, err := Assemble([][]float64{square(0, 0, 1), square(5, 5, 1)}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, mp.NumPolygons())
}

func TestAssemble_SkipsDegenerate(t *testing.T) {
	mp, err := Assemble([][]float64{{0, 0, 1, 1, 0, 0}, {0, 0, 1, 0, 2, 0, 0, 0}}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, mp.NumPolygons())
}

func TestDissolve_AdjacentSquares(t *testing.T) {
	mp, err := Dissolve([]*geom.MultiPolygon{
		poly(t, square(0, 0, 1)),
		poly(t, square(1, 0, 1)),
	}, 4326)
	require.NoError(t, err)
	require.Equal(t, 1, mp.NumPolygons())
	require.Equal(t, 1, mp.Polygon(0).NumLinearRings())
	assert.Equal(t, []float64{0, 0, 2, 0, 2, 1, 0, 1, 0, 0}, mp.Polygon(0).LinearRing(0).FlatCoords())
	assert.Equal(t, 4326, mp.SRID())
}

func TestDissolve_DisjointSquares(t *testing.T) {
	mp, err := Dissolve([]*geom.MultiPolygon{
		poly(t, square(0, 0, 1)),
		poly(t, square(5, 5, 2)),
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, mp.NumPolygons())
	assert.InDelta(t, 5.0, Area(mp), 1e-12)
}

func TestDissolve_TouchingCorners(t *testing.T) {
	mp, err := Dissolve([]*geom.MultiPolygon{
		poly(t, square(0, 0, 1)),
		poly(t, square(1, 1, 1)),
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, mp.NumPolygons())
}

func TestDissolve_TJunction(t *testing.T) {
	left := []float64{0, 0, 1, 0, 1, 2, 0, 2, 0, 0}
	mp, err := Dissolve([]*geom.MultiPolygon{
		poly(t, left),
		poly(t, square(1, 0, 1)),
		poly(t, square(1, 1, 1)),
	}, 0)
	require.NoError(t, err)
	require.Equal(t, 1, mp.NumPolygons())
	assert.Len(t, mp.Polygon(0).LinearRing(0).FlatCoords(), 10)
	assert.InDelta(t, 4.0, Area(mp), 1e-12)
}

func TestDissolve_RingLeavesHole(t *testing.T) {
	var parts []*geom.MultiPolygon
	for x := 0.0; x < 3; x++ {
		for y := 0.0; y < 3; y++ {
			if x == 1 && y == 1 {
				continue
			}
			parts = append(parts, poly(t, square(x, y, 1)))
		}
	}
	mp, err := Dissolve(parts, 0)
	require.NoError(t, err)
	require.Equal(t, 1, mp.NumPolygons())
	require.Equal(t, 2, mp.Polygon(0).NumLinearRings())
	assert.InDelta(t, 8.0, Area(mp), 1e-12)
}

func TestDissolve_ClockwiseInputAndHoles(t *testing.T) {
	withHole := poly(t, Reversed(square(0, 0, 4)), square(1, 1, 1))
	mp, err := Dissolve([]*geom.MultiPolygon{withHole, poly(t, square(4, 0, 4))}, 0)
	require.NoError(t, err)
	require.Equal(t, 1, mp.NumPolygons())
	assert.Equal(t, 2, mp.Polygon(0).NumLinearRings())
	assert.InDelta(t, 31.0, Area(mp), 1e-12)
}

func TestDissolve_Empty(t *testing.T) {
	mp, err := Dissolve(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, mp.NumPolygons())

	mp, err = Dissolve([]*geom.MultiPolygon{nil}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, mp.NumPolygons())
}
