package aggregate

import (
	"context"
	"fmt"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/sells-group/tract-rollup/internal/classify"
	"github.com/sells-group/tract-rollup/internal/dataset"
	"github.com/sells-group/tract-rollup/internal/geo"
	"github.com/sells-group/tract-rollup/internal/reconcile"
)

func f(v float64) dataset.Float { return dataset.Some(v) }

func TestWeightedMean(t *testing.T) {
	got := WeightedMean(
		[]dataset.Float{f(10), f(20), dataset.Absent()},
		[]dataset.Float{f(1), f(3), f(5)},
	)
	require.True(t, got.Valid)
	assert.InDelta(t, 17.5, got.Value, 1e-12)

	assert.False(t, WeightedMean([]dataset.Float{f(10)}, []dataset.Float{f(0)}).Valid)
	assert.False(t, WeightedMean([]dataset.Float{dataset.Absent()}, []dataset.Float{f(2)}).Valid)
	assert.False(t, WeightedMean([]dataset.Float{f(3)}, []dataset.Float{dataset.Absent()}).Valid)
}

func TestSum(t *testing.T) {
	assert.False(t, Sum([]dataset.Float{dataset.Absent(), dataset.Absent()}).Valid)
	assert.Equal(t, f(0), Sum([]dataset.Float{f(0), dataset.Absent()}))
	assert.Equal(t, f(7), Sum([]dataset.Float{f(3), dataset.Absent(), f(4)}))
}

func TestSum_OrderIndependent(t *testing.T) {
	a := []dataset.Float{f(1e16), f(1), f(-1e16), f(1)}
	b := []dataset.Float{f(1), f(-1e16), f(1), f(1e16)}
	assert.Equal(t, Sum(a), Sum(b))
}

func joined(t *testing.T) *reconcile.Result {
	t.Helper()
	tbl := dataset.NewTable("GEOID", "pop_total_2023", "pct_white_2023", "hh_total_2023", "NTA2020")
	rows := [][]string{
		{"36005000100", "100", "10", "", "Z1"},
		{"36005000200", "300", "20", "", "Z1"},
		{"36005000300", "500", "", "", "Z1"},
		{"36047000100", "200", "50", "", "Z2"},
		{"36047000200", "", "40", "", "Z2"},
		{"36047000300", "400", "30", "", ""},
	}
	zones := make([]string, len(rows))
	for i, r := range rows {
		require.NoError(t, tbl.Append(r))
		zones[i] = r[4]
	}
	return &reconcile.Result{Table: tbl, Zones: zones, ZoneColumn: "NTA2020", IndicatorKey: "GEOID"}
}

func plan(t *testing.T, res *reconcile.Result) *classify.Plan {
	t.Helper()
	p, err := classify.DefaultRules().Plan(res.Table.Columns, []string{"GEOID", "NTA2020"})
	require.NoError(t, err)
	return p
}

func TestAggregate(t *testing.T) {
	res := joined(t)
	attrs, err := Aggregate(res, plan(t, res))
	require.NoError(t, err)

	assert.Equal(t, []string{"pop_total_2023", "hh_total_2023", "pct_white_2023"}, attrs.Columns)
	assert.Equal(t, []string{"Z1", "Z2"}, attrs.Zones)
	assert.Equal(t, 1, attrs.NullZone)
	assert.Equal(t, 3, attrs.Members["Z1"])

	z1 := attrs.Values["Z1"]
	assert.Equal(t, f(900), z1[0])
	assert.False(t, z1[1].Valid, "all-absent sum stays absent")
	assert.InDelta(t, (10*100+20*300)/400.0, z1[2].Value, 1e-12)

	z2 := attrs.Values["Z2"]
	assert.Equal(t, f(200), z2[0])
	assert.InDelta(t, 50.0, z2[2].Value, 1e-12)
}

func TestAggregate_RowOrderIndependent(t *testing.T) {
	res := joined(t)
	want, err := Aggregate(res, plan(t, res))
	require.NoError(t, err)

	rev := joined(t)
	for i, j := 0, len(rev.Table.Rows)-1; i < j; i, j = i+1, j-1 {
		rev.Table.Rows[i], rev.Table.Rows[j] = rev.Table.Rows[j], rev.Table.Rows[i]
		rev.Zones[i], rev.Zones[j] = rev.Zones[j], rev.Zones[i]
	}
	got, err := Aggregate(rev, plan(t, rev))
	require.NoError(t, err)
	assert.Equal(t, want.Values, got.Values)
}

func TestAggregate_MissingWeight(t *testing.T) {
	res := joined(t)
	p := plan(t, res)
	p.Weight = "pop_total_2099"
	_, err := Aggregate(res, p)
	require.Error(t, err)
}

func square(t *testing.T, x, y float64) *geom.MultiPolygon {
	t.Helper()
	mp := geom.NewMultiPolygon(geom.XY)
	ring := []float64{x, y, x + 1, y, x + 1, y + 1, x, y + 1, x, y}
	require.NoError(t, mp.Push(geom.NewPolygonFlat(geom.XY, ring, []int{len(ring)})))
	return mp
}

func boundaries(t *testing.T) *dataset.Layer {
	t.Helper()
	tbl := dataset.NewTable("GEOID", "NTA2020")
	require.NoError(t, tbl.Append([]string{"36005000100", "Z1"}))
	require.NoError(t, tbl.Append([]string{"36005000200", "Z1"}))
	require.NoError(t, tbl.Append([]string{"36047000100", "Z2"}))
	require.NoError(t, tbl.Append([]string{"36047000200", "Z3"}))
	require.NoError(t, tbl.Append([]string{"36047000300", ""}))
	l, err := dataset.NewLayer(tbl, []*geom.MultiPolygon{
		square(t, 0, 0), square(t, 1, 0), square(t, 5, 5), square(t, 8, 8), square(t, 20, 20),
	}, dataset.CRS{SRID: 2263})
	require.NoError(t, err)
	return l
}

func TestEdgeDissolver(t *testing.T) {
	zones, err := EdgeDissolver{}.Dissolve(context.Background(), boundaries(t), "NTA2020")
	require.NoError(t, err)
	require.Len(t, zones, 3)

	assert.Equal(t, "Z1", zones[0].Zone)
	assert.Equal(t, 2, zones[0].Members)
	assert.Equal(t, 1, zones[0].Geom.NumPolygons())
	assert.InDelta(t, 2.0, geo.Area(zones[0].Geom), 1e-9)
	assert.Equal(t, 2263, zones[0].Geom.SRID())
	assert.Equal(t, "Z3", zones[2].Zone)

	_, err = EdgeDissolver{}.Dissolve(context.Background(), boundaries(t), "BoroName")
	assert.Error(t, err)
}

func TestPostGISDissolver(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rect := geom.NewMultiPolygon(geom.XY)
	ring := []float64{0, 0, 2, 0, 2, 1, 0, 1, 0, 0}
	require.NoError(t, rect.Push(geom.NewPolygonFlat(geom.XY, ring, []int{len(ring)})))
	blob, err := wkb.Marshal(rect, wkb.NDR)
	require.NoError(t, err)
	sq, err := wkb.Marshal(square(t, 5, 5), wkb.NDR)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT zone, count\(\*\)::int, ST_AsBinary\(ST_Multi\(ST_Union`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"zone", "count", "st_asbinary"}).
			AddRow("Z1", 2, blob).
			AddRow("Z2", 1, sq).
			AddRow("Z3", 1, sq))

	zones, err := PostGISDissolver{Pool: mock}.Dissolve(context.Background(), boundaries(t), "NTA2020")
	require.NoError(t, err)
	require.Len(t, zones, 3)
	assert.Equal(t, 2, zones[0].Members)
	assert.Equal(t, 2263, zones[0].Geom.SRID())
	assert.InDelta(t, 2.0, geo.Area(zones[0].Geom), 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostGISDissolver_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT zone").WillReturnError(fmt.Errorf("function st_union does not exist"))
	_, err = PostGISDissolver{Pool: mock}.Dissolve(context.Background(), boundaries(t), "NTA2020")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgis union")
}

func TestMerge(t *testing.T) {
	res := joined(t)
	attrs, err := Aggregate(res, plan(t, res))
	require.NoError(t, err)
	geoms, err := EdgeDissolver{}.Dissolve(context.Background(), boundaries(t), "NTA2020")
	require.NoError(t, err)

	out := Merge("NTA2020", geoms, attrs)
	require.Len(t, out.Zones, 3)
	assert.Equal(t, []string{"Z1", "Z2", "Z3"}, []string{out.Zones[0].ID, out.Zones[1].ID, out.Zones[2].ID})
	for _, v := range out.Zones[2].Values {
		assert.False(t, v.Valid, "zone without rows gets absent values")
	}
	assert.Equal(t, []string{"column hh_total_2023 is missing for every zone"}, out.Warnings)
	assert.Equal(t, 1, out.NullZone)

	tbl := out.Table()
	assert.Equal(t, []string{"NTA2020", "tract_count", "pop_total_2023", "hh_total_2023", "pct_white_2023"}, tbl.Columns)
	assert.Equal(t, []string{"Z1", "3", "900", "", "17.5"}, tbl.Rows[0])
	assert.Equal(t, []string{"Z3", "0", "", "", ""}, tbl.Rows[2])

	layer, err := out.Layer(dataset.CRS{SRID: 2263})
	require.NoError(t, err)
	assert.Len(t, layer.Geoms, 3)
}
