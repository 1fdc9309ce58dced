package emit

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tract-rollup/internal/acs"
	"github.com/sells-group/tract-rollup/internal/dataset"
	"github.com/sells-group/tract-rollup/internal/db"
	"github.com/sells-group/tract-rollup/internal/tiger"
)

// Layer names inside the GeoPackages.
const (
	JoinedLayer = "tract_with_acs"
	ZonesLayer  = "nta_acs"
)

// Options configures an Emitter.
type Options struct {
	Dir         string
	Prefix      string
	JoinedName  string
	ZonesName   string
	PreviewRows int
	PreviewXLSX bool
	Shapefile   bool
	// Schema is the PostGIS schema; used only when a pool is given.
	Schema string
}

// Emitter writes outputs under Options.Dir and remembers their paths.
type Emitter struct {
	opts    Options
	pool    db.Pool
	outputs []string
	log     *zap.Logger
}

// New returns an Emitter. pool may be nil to skip PostGIS.
func New(opts Options, pool db.Pool) *Emitter {
	if opts.Prefix == "" {
		opts.Prefix = "acs_nyc_tract"
	}
	if opts.JoinedName == "" {
		opts.JoinedName = "nyct2020_with_acs"
	}
	if opts.ZonesName == "" {
		opts.ZonesName = "nyc_acs_nta_agg"
	}
	if opts.PreviewRows <= 0 {
		opts.PreviewRows = 50
	}
	if opts.Schema == "" {
		opts.Schema = "rollup"
	}
	return &Emitter{opts: opts, pool: pool, log: zap.L().With(zap.String("component", "emit"))}
}

// Outputs returns every path written so far, sorted.
func (e *Emitter) Outputs() []string {
	out := append([]string(nil), e.outputs...)
	sort.Strings(out)
	return out
}

func (e *Emitter) path(name string) string {
	return filepath.Join(e.opts.Dir, name)
}

func (e *Emitter) record(kind, path string) {
	e.outputs = append(e.outputs, path)
	e.log.Info("output written", zap.String("kind", kind), zap.String("path", path))
}

// VintagePath is the per-year CSV path.
func (e *Emitter) VintagePath(year int) string {
	return e.path(fmt.Sprintf("%s_%d.csv", e.opts.Prefix, year))
}

// LongPath is the stacked CSV path.
func (e *Emitter) LongPath(first, last int) string {
	return e.path(fmt.Sprintf("%s_%d_%d_long.csv", e.opts.Prefix, first, last))
}

// WidePath is the wide CSV path.
func (e *Emitter) WidePath(first, last int) string {
	return e.path(fmt.Sprintf("%s_%d_%d_wide.csv", e.opts.Prefix, first, last))
}

// JoinedPath is the joined GeoPackage path.
func (e *Emitter) JoinedPath() string { return e.path(e.opts.JoinedName + ".gpkg") }

// ZonesPath is the zone GeoPackage path.
func (e *Emitter) ZonesPath() string { return e.path(e.opts.ZonesName + ".gpkg") }

// WriteFetch writes the per-vintage, stacked and wide CSVs. It returns the
// wide table and its path.
func (e *Emitter) WriteFetch(res *acs.FetchResult) (*dataset.Table, string, error) {
	if len(res.Years) == 0 {
		return nil, "", eris.New("emit: fetch result has no vintages")
	}
	for _, y := range res.Years {
		p := e.VintagePath(y)
		if err := WriteCSV(p, res.Vintage(y)); err != nil {
			return nil, "", err
		}
		e.record("vintage", p)
	}

	first, last := res.Years[0], res.Years[len(res.Years)-1]
	long := e.LongPath(first, last)
	if err := WriteCSV(long, res.Stacked()); err != nil {
		return nil, "", err
	}
	e.record("long", long)

	wide := res.Wide()
	path := e.WidePath(first, last)
	if err := WriteCSV(path, wide); err != nil {
		return nil, "", err
	}
	e.record("wide", path)
	return wide, path, nil
}

// WriteJoined writes the joined tract layer as GeoPackage, and optionally as
// a Shapefile and a PostGIS table.
func (e *Emitter) WriteJoined(ctx context.Context, layer *dataset.Layer, text map[string]bool) error {
	p := e.JoinedPath()
	if err := WriteGeoPackage(ctx, p, GeoPackageLayer{Name: JoinedLayer, Layer: layer, Text: text}); err != nil {
		return err
	}
	e.record("gpkg", p)

	if e.opts.Shapefile {
		shp := e.path(e.opts.JoinedName + ".shp")
		if err := tiger.WriteLayer(shp, layer, text); err != nil {
			return err
		}
		e.record("shapefile", shp)
	}
	return e.writePostGIS(ctx, JoinedLayer, layer, text)
}

// WriteZones writes the zone layer as GeoPackage, the preview CSV (and XLSX
// when enabled) and optionally a PostGIS table.
func (e *Emitter) WriteZones(ctx context.Context, layer *dataset.Layer, text map[string]bool) error {
	p := e.ZonesPath()
	if err := WriteGeoPackage(ctx, p, GeoPackageLayer{Name: ZonesLayer, Layer: layer, Text: text}); err != nil {
		return err
	}
	e.record("gpkg", p)

	head := layer.Head(e.opts.PreviewRows)
	preview := e.path(e.opts.ZonesName + "_preview.csv")
	if err := WriteCSV(preview, head); err != nil {
		return err
	}
	e.record("preview", preview)

	if e.opts.PreviewXLSX {
		x := e.path(e.opts.ZonesName + "_preview.xlsx")
		if err := WriteXLSX(x, ZonesLayer, head, text); err != nil {
			return err
		}
		e.record("preview", x)
	}
	return e.writePostGIS(ctx, ZonesLayer, layer, text)
}

func (e *Emitter) writePostGIS(ctx context.Context, name string, layer *dataset.Layer, text map[string]bool) error {
	if e.pool == nil {
		return nil
	}
	if _, err := WritePostGIS(ctx, e.pool, e.opts.Schema, name, layer, text); err != nil {
		return err
	}
	e.outputs = append(e.outputs, "postgis:"+e.opts.Schema+"."+name)
	return nil
}

// WriteManifest writes manifest.json with the outputs recorded so far.
func (e *Emitter) WriteManifest(m *Manifest) (string, error) {
	m.Outputs = e.Outputs()
	p := e.path("manifest.json")
	if err := WriteManifest(p, m); err != nil {
		return "", err
	}
	e.log.Info("manifest written", zap.String("path", p), zap.String("run_id", m.RunID))
	return p, nil
}
