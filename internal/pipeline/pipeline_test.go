package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/tract-rollup/internal/aggregate"
	"github.com/sells-group/tract-rollup/internal/config"
	"github.com/sells-group/tract-rollup/internal/dataset"
	"github.com/sells-group/tract-rollup/internal/emit"
	"github.com/sells-group/tract-rollup/internal/geo"
	"github.com/sells-group/tract-rollup/internal/reconcile"
	"github.com/sells-group/tract-rollup/internal/tiger"
)

// census fakes the ACS endpoint: 2 tracts per county, population and median
// income per tract. Population drops by 10 in 2022.
type census struct {
	calls atomic.Int32
	empty bool
}

var (
	pop2023 = map[string]int{"005/000100": 100, "005/000200": 300, "047/000100": 200, "047/000200": 200}
	income  = map[string]int{"005/000100": 50000, "005/000200": 70000, "047/000100": 40000, "047/000200": 60000}
)

func (c *census) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.calls.Add(1)
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	county := strings.TrimPrefix(strings.Fields(r.URL.Query().Get("in"))[1], "county:")

	out := [][]string{{"B01003_001E", "B19013_001E", "state", "county", "tract"}}
	if !c.empty {
		for _, tract := range []string{"000100", "000200"} {
			k := county + "/" + tract
			pop := pop2023[k] - (2023-year)*10
			out = append(out, []string{strconv.Itoa(pop), strconv.Itoa(income[k]), "36", county, tract})
		}
	}
	_ = json.NewEncoder(w).Encode(out)
}

func square(t *testing.T, x, y float64) *geom.MultiPolygon {
	t.Helper()
	mp := geom.NewMultiPolygon(geom.XY)
	ring := []float64{x, y, x + 1, y, x + 1, y + 1, x, y + 1, x, y}
	require.NoError(t, mp.Push(geom.NewPolygonFlat(geom.XY, ring, []int{len(ring)})))
	return mp
}

// writeBoundaries writes a tract shapefile. Z1 holds the Bronx tracts side by
// side, Z2 the Brooklyn tracts.
func writeBoundaries(t *testing.T, dir string, geoids ...string) string {
	t.Helper()
	zones := map[string]string{"36005000100": "Z1", "36005000200": "Z1", "36047000100": "Z2", "36047000200": "Z2"}
	origin := map[string][2]float64{"36005000100": {0, 0}, "36005000200": {1, 0}, "36047000100": {0, 5}, "36047000200": {1, 5}}

	tbl := dataset.NewTable("GEOID", "NTA2020")
	var geoms []*geom.MultiPolygon
	for _, id := range geoids {
		require.NoError(t, tbl.Append([]string{id, zones[id]}))
		o := origin[id]
		geoms = append(geoms, square(t, o[0], o[1]))
	}
	layer, err := dataset.NewLayer(tbl, geoms, dataset.CRS{SRID: 2263})
	require.NoError(t, err)

	path := filepath.Join(dir, "nyct2020.shp")
	require.NoError(t, tiger.WriteLayer(path, layer, map[string]bool{"GEOID": true, "NTA2020": true}))
	return path
}

func allTracts() []string {
	return []string{"36005000100", "36005000200", "36047000100", "36047000200"}
}

func testConfig(t *testing.T, srvURL, boundary string) *config.Config {
	t.Helper()
	return &config.Config{
		Census: config.CensusConfig{
			BaseURL:           srvURL,
			Dataset:           "acs/acs5",
			State:             "36",
			Counties:          []string{"005", "047"},
			Vintages:          []int{2022, 2023},
			TimeoutSecs:       5,
			Concurrency:       1,
			RequestsPerSecond: 100,
			Variables: []config.VariableConfig{
				{Code: "B01003_001E", Name: "pop_total"},
				{Code: "B19013_001E", Name: "median_income"},
			},
		},
		Retry:     config.RetryConfig{MaxAttempts: 1},
		Boundary:  config.BoundaryConfig{Path: boundary, IDCandidates: []string{"GEOID"}, ZoneField: "NTA2020"},
		Join:      config.JoinConfig{MaxFailureRate: 0.02},
		Aggregate: config.AggregateConfig{Dissolver: "edge"},
		Output:    config.OutputConfig{Dir: t.TempDir(), PreviewRows: 50},
		Metrics:   config.MetricsConfig{FetchFailureThreshold: 0.5},
	}
}

func newTestPipeline(t *testing.T, c *census, tracts ...string) (*Pipeline, *config.Config) {
	t.Helper()
	srv := httptest.NewServer(c)
	t.Cleanup(srv.Close)

	cfg := testConfig(t, srv.URL, writeBoundaries(t, t.TempDir(), tracts...))
	return New(cfg, NewHTTPFetcher(cfg.Census), nil, nil), cfg
}

func TestRun_EndToEnd(t *testing.T) {
	c := &census{}
	p, cfg := newTestPipeline(t, c, allTracts()...)
	m := emit.NewManifest("run")

	res, err := p.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, int32(4), c.calls.Load())

	// Wide table: 4 tracts, geography plus 2 metrics for 2 vintages.
	wide, err := dataset.ReadCSV(context.Background(), p.DefaultWidePath())
	require.NoError(t, err)
	assert.Len(t, wide.Rows, 4)
	assert.Equal(t, []string{"pop_total_2022", "median_income_2022", "pop_total_2023", "median_income_2023"}, wide.Columns[5:])
	assert.Equal(t, "36005000100", wide.Cell(0, "GEOID"))
	assert.Equal(t, "Bronx", wide.Cell(0, "borough"))

	// Zones.
	want := []string{"pop_total_2022", "pop_total_2023", "median_income_2022", "median_income_2023"}
	if diff := cmp.Diff(want, res.Columns); diff != "" {
		t.Errorf("zone columns mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, res.Zones, 2)

	z1, z2 := res.Zones[0], res.Zones[1]
	assert.Equal(t, "Z1", z1.ID)
	assert.Equal(t, 2, z1.Members)
	assert.InDelta(t, 380, z1.Values[0].Value, 1e-9)
	assert.InDelta(t, 400, z1.Values[1].Value, 1e-9)
	assert.InDelta(t, 65000, z1.Values[2].Value, 1e-9)
	assert.InDelta(t, 65000, z1.Values[3].Value, 1e-9)
	assert.Equal(t, 1, z1.Geom.NumPolygons())
	assert.InDelta(t, 2, geo.Area(z1.Geom), 1e-9)

	assert.Equal(t, "Z2", z2.ID)
	assert.InDelta(t, 400, z2.Values[1].Value, 1e-9)
	assert.InDelta(t, 50000, z2.Values[3].Value, 1e-9)
	assert.Equal(t, 1, z2.Geom.NumPolygons())

	// Outputs.
	out := cfg.Output.Dir
	for _, name := range []string{
		"acs_nyc_tract_2022.csv", "acs_nyc_tract_2023.csv",
		"acs_nyc_tract_2022_2023_long.csv", "acs_nyc_tract_2022_2023_wide.csv",
		"nyct2020_with_acs.gpkg", "nyc_acs_nta_agg.gpkg", "nyc_acs_nta_agg_preview.csv",
	} {
		assert.FileExists(t, filepath.Join(out, name))
	}

	gp, err := emit.OpenGeoPackage(p.Emitter().ZonesPath())
	require.NoError(t, err)
	defer gp.Close() //nolint:errcheck
	zones, err := gp.ReadLayer(context.Background(), emit.ZonesLayer)
	require.NoError(t, err)
	assert.Equal(t, 2, zones.Len())
	assert.Equal(t, "Z1", zones.Cell(0, "NTA2020"))
	assert.Equal(t, "400", zones.Cell(0, "pop_total_2023"))

	// Manifest and metrics.
	path := p.Finish(context.Background(), m, nil)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got emit.Manifest
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, []int{2022, 2023}, got.Vintages)
	assert.Equal(t, 8, got.Counts["records"])
	assert.Equal(t, 4, got.Counts["wide_rows"])
	assert.Equal(t, 4, got.Counts["joined_rows"])
	assert.Equal(t, 2, got.Counts["zones"])
	assert.Empty(t, got.Error)
	assert.Contains(t, got.Outputs, filepath.Join(out, "nyc_acs_nta_agg.gpkg"))

	snap := p.Metrics().Snapshot()
	assert.Equal(t, 4, snap.UnitsTotal)
	assert.Zero(t, snap.UnitsFailed)
	assert.Equal(t, map[int]int{2022: 4, 2023: 4}, snap.Records)
	assert.Equal(t, 2, snap.Zones)
}

func TestFetch_NoRecords(t *testing.T) {
	p, cfg := newTestPipeline(t, &census{empty: true}, allTracts()...)
	m := emit.NewManifest("fetch")

	_, _, err := p.Fetch(context.Background(), m)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNoRecords))
	assert.NoFileExists(t, filepath.Join(cfg.Output.Dir, "acs_nyc_tract_2022.csv"))
	assert.Equal(t, 0, m.Counts["records"])

	path := p.Finish(context.Background(), m, err)
	data, rerr := os.ReadFile(path)
	require.NoError(t, rerr)
	assert.Contains(t, string(data), "no records fetched")
}

func TestFetch_RecordsUnitFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Query().Get("in"), "047") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		(&census{}).ServeHTTP(w, r)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL, "")
	p := New(cfg, NewHTTPFetcher(cfg.Census), nil, nil)
	m := emit.NewManifest("fetch")

	res, wide, err := p.Fetch(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Len())
	assert.FileExists(t, wide)
	require.Len(t, m.Failures, 2)
	assert.Contains(t, m.Failures[0], "2022/047")
	assert.Contains(t, m.Failures[0], "permanent")

	snap := p.Metrics().Snapshot()
	assert.Equal(t, 2, snap.UnitsFailed)
	assert.InDelta(t, 0.5, snap.FetchFailRate, 1e-9)
}

func TestAggregate_CoverageFailure(t *testing.T) {
	// The Brooklyn tracts are missing from the boundary layer: 50% unmatched.
	p, _ := newTestPipeline(t, &census{}, "36005000100", "36005000200")
	m := emit.NewManifest("run")

	_, err := p.Run(context.Background(), m)
	require.Error(t, err)
	assert.True(t, eris.Is(err, reconcile.ErrCoverage))
	assert.Contains(t, err.Error(), "50.0%")
	assert.Equal(t, 2, m.Counts["unmatched"])
	assert.Equal(t, 2, p.Metrics().Snapshot().JoinUnmatched)
	assert.NoFileExists(t, p.Emitter().ZonesPath())
}

func TestAggregateFile(t *testing.T) {
	p, cfg := newTestPipeline(t, &census{}, allTracts()...)
	m := emit.NewManifest("fetch")
	_, wide, err := p.Fetch(context.Background(), m)
	require.NoError(t, err)

	res, err := p.AggregateFile(context.Background(), wide, emit.NewManifest("aggregate"))
	require.NoError(t, err)
	assert.Len(t, res.Zones, 2)
	assert.FileExists(t, filepath.Join(cfg.Output.Dir, "nyct2020_with_acs.gpkg"))

	_, err = p.AggregateFile(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), emit.NewManifest("aggregate"))
	assert.Error(t, err)
}

func TestAggregateFile_RejectsLongTable(t *testing.T) {
	p, _ := newTestPipeline(t, &census{}, allTracts()...)
	_, _, err := p.Fetch(context.Background(), emit.NewManifest("fetch"))
	require.NoError(t, err)

	long := p.Emitter().LongPath(2022, 2023)
	require.FileExists(t, long)

	_, err = p.AggregateFile(context.Background(), long, emit.NewManifest("aggregate"))
	require.Error(t, err)
	assert.True(t, eris.Is(err, reconcile.ErrRepeatedUnit))
	assert.Contains(t, err.Error(), "wide table")
	assert.NoFileExists(t, p.Emitter().JoinedPath())
	assert.NoFileExists(t, p.Emitter().ZonesPath())
}

func TestAggregate_RulesFile(t *testing.T) {
	p, cfg := newTestPipeline(t, &census{}, allTracts()...)
	rules := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(rules, []byte("classify:\n  sum: \"^pop_total_2023$\"\n  weighted_mean: \"^$\"\n"), 0o644))
	cfg.Aggregate.RulesFile = rules

	res, err := p.Run(context.Background(), emit.NewManifest("run"))
	require.NoError(t, err)
	assert.Equal(t, []string{"pop_total_2023"}, res.Columns)
}

func TestDissolver(t *testing.T) {
	cfg := testConfig(t, "http://localhost", "")
	p := New(cfg, NewHTTPFetcher(cfg.Census), nil, nil)

	d, err := p.Dissolver()
	require.NoError(t, err)
	assert.IsType(t, aggregate.EdgeDissolver{}, d)

	cfg.Aggregate.Dissolver = "postgis"
	_, err = p.Dissolver()
	assert.ErrorContains(t, err, "database_url")

	cfg.Aggregate.Dissolver = "qgis"
	_, err = p.Dissolver()
	assert.ErrorContains(t, err, "unknown dissolver")
}

func TestLoadBoundaries_NoSource(t *testing.T) {
	cfg := testConfig(t, "http://localhost", "")
	p := New(cfg, NewHTTPFetcher(cfg.Census), nil, nil)
	_, err := p.LoadBoundaries(context.Background())
	assert.ErrorContains(t, err, "no boundary")

	cfg.Boundary.TigerYear = 2023
	cfg.Census.State = "99"
	_, err = p.LoadBoundaries(context.Background())
	assert.ErrorContains(t, err, "unknown state FIPS")
}

func TestCatalog(t *testing.T) {
	cat, wide := Catalog(config.CensusConfig{})
	assert.Contains(t, cat.Columns, "pct_owner")
	assert.Contains(t, wide, "median_income")

	cat, wide = Catalog(config.CensusConfig{
		Variables:   []config.VariableConfig{{Code: "B01003_001E", Name: "pop_total"}},
		WideMetrics: []string{"pop_total"},
	})
	assert.Equal(t, []string{"B01003_001E"}, cat.Codes())
	assert.Empty(t, cat.Ratios)
	assert.Equal(t, []string{"pop_total"}, cat.Columns)
	assert.Equal(t, []string{"pop_total"}, wide)
}

func TestCounties(t *testing.T) {
	got := counties([]string{"005", "001"})
	assert.Equal(t, map[string]string{"005": "Bronx", "001": "001"}, got)
}

func TestRetryConfig(t *testing.T) {
	rc := RetryConfig(config.RetryConfig{MaxAttempts: 6, InitialBackoffMS: 1000, MaxBackoffMS: 30000, Multiplier: 1.6, Jitter: 0.1})
	assert.Equal(t, 6, rc.MaxAttempts)
	assert.Equal(t, "1s", rc.InitialBackoff.String())
	assert.Equal(t, "30s", rc.MaxBackoff.String())
	assert.InDelta(t, 1.6, rc.Multiplier, 1e-9)
	assert.InDelta(t, 0.1, rc.JitterFraction, 1e-9)
}

func TestDefaultWidePath(t *testing.T) {
	cfg := testConfig(t, "http://localhost", "")
	cfg.Census.Vintages = []int{2023, 2020, 2021}
	p := New(cfg, NewHTTPFetcher(cfg.Census), nil, nil)
	assert.Equal(t, filepath.Join(cfg.Output.Dir, fmt.Sprintf("acs_nyc_tract_%d_%d_wide.csv", 2020, 2023)), p.DefaultWidePath())
}
