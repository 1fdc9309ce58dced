package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/tract-rollup/internal/dataset"
	"github.com/sells-group/tract-rollup/internal/emit"
)

func square(t *testing.T, x, y float64) *geom.MultiPolygon {
	t.Helper()
	mp := geom.NewMultiPolygon(geom.XY)
	ring := []float64{x, y, x + 1, y, x + 1, y + 1, x, y + 1, x, y}
	require.NoError(t, mp.Push(geom.NewPolygonFlat(geom.XY, ring, []int{len(ring)})))
	return mp
}

// testServer writes a GeoPackage with a zones layer and a tract layer and
// serves it.
func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()

	zt := dataset.NewTable("NTA2020", "tract_count", "pop_total_2023")
	require.NoError(t, zt.Append([]string{"BX01", "2", "900"}))
	require.NoError(t, zt.Append([]string{"BK02", "1", ""}))
	zones, err := dataset.NewLayer(zt, []*geom.MultiPolygon{square(t, 0, 0), nil}, dataset.CRS{SRID: 2263})
	require.NoError(t, err)

	tt := dataset.NewTable("BoroName", "GEOID", "NTA2020")
	require.NoError(t, tt.Append([]string{"Bronx", "36005000100", "BX01"}))
	tracts, err := dataset.NewLayer(tt, []*geom.MultiPolygon{square(t, 0, 0)}, dataset.CRS{SRID: 2263})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.gpkg")
	require.NoError(t, emit.WriteGeoPackage(ctx, path,
		emit.GeoPackageLayer{Name: emit.ZonesLayer, Layer: zones, Text: map[string]bool{"NTA2020": true}},
		emit.GeoPackageLayer{Name: emit.JoinedLayer, Layer: tracts, Text: map[string]bool{"GEOID": true, "NTA2020": true}},
	))

	reader, err := emit.OpenGeoPackage(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.Close() })

	srv := httptest.NewServer(New(reader, []string{"https://maps.example.com"}))
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp
}

func TestHealthz(t *testing.T) {
	srv := testServer(t)
	var body map[string]string
	resp := getJSON(t, srv.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestListLayers(t *testing.T) {
	srv := testServer(t)
	var layers []emit.LayerInfo
	resp := getJSON(t, srv.URL+"/layers", &layers)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []emit.LayerInfo{
		{Name: emit.ZonesLayer, SRID: 2263, Features: 2},
		{Name: emit.JoinedLayer, SRID: 2263, Features: 1},
	}, layers)
}

type featureJSON struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Geometry   map[string]any `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

func TestGetLayer(t *testing.T) {
	srv := testServer(t)
	var fc struct {
		Type     string        `json:"type"`
		Features []featureJSON `json:"features"`
	}
	resp := getJSON(t, srv.URL+"/layers/"+emit.ZonesLayer, &fc)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 2)

	bx := fc.Features[0]
	assert.Equal(t, "Feature", bx.Type)
	assert.Equal(t, "BX01", bx.ID)
	assert.Equal(t, "MultiPolygon", bx.Geometry["type"])
	assert.Equal(t, "BX01", bx.Properties["NTA2020"])
	assert.InDelta(t, 900.0, bx.Properties["pop_total_2023"], 0)

	bk := fc.Features[1]
	assert.Equal(t, "BK02", bk.ID)
	assert.Nil(t, bk.Properties["pop_total_2023"])
	assert.Nil(t, bk.Geometry)
}

func TestGetFeature(t *testing.T) {
	srv := testServer(t)

	var f featureJSON
	resp := getJSON(t, srv.URL+"/layers/"+emit.JoinedLayer+"/36005000100", &f)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "36005000100", f.ID)
	assert.Equal(t, "Bronx", f.Properties["BoroName"])

	resp = getJSON(t, srv.URL+"/layers/"+emit.ZonesLayer+"/BX01", &f)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "BX01", f.ID)

	var e map[string]string
	resp = getJSON(t, srv.URL+"/layers/"+emit.ZonesLayer+"/QN99", &e)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, e["error"], "QN99")
}

func TestGetLayer_NotFound(t *testing.T) {
	srv := testServer(t)
	var e map[string]string
	resp := getJSON(t, srv.URL+"/layers/nope", &e)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, e["error"], "layer not found")
}

func TestCORS(t *testing.T) {
	srv := testServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/layers", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://maps.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "https://maps.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

type brokenReader struct{}

func (brokenReader) Layers(context.Context) ([]emit.LayerInfo, error) {
	return nil, errors.New("disk on fire")
}

func (brokenReader) ReadLayer(context.Context, string) (*emit.FeatureLayer, error) {
	return nil, errors.New("disk on fire")
}

func TestInternalError(t *testing.T) {
	srv := httptest.NewServer(New(brokenReader{}, nil))
	defer srv.Close()

	var e map[string]string
	resp := getJSON(t, srv.URL+"/layers", &e)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal error", e["error"])
	assert.NotContains(t, e["error"], "disk")
}
