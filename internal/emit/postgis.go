package emit

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/tract-rollup/internal/dataset"
	"github.com/sells-group/tract-rollup/internal/db"
)

// PostGISSpec maps a layer onto a table: numeric columns become double
// precision, the rest text, plus a geom column holding EWKB.
func PostGISSpec(schema, name string, layer *dataset.Layer, text map[string]bool) db.TableSpec {
	spec := db.TableSpec{Schema: schema, Name: name}
	for _, c := range featureColumns(layer.Table, text) {
		typ := "text"
		if c.numeric {
			typ = "double precision"
		}
		spec.Columns = append(spec.Columns, db.Column{Name: c.name, Type: typ})
	}
	srid := layer.CRS.SRID
	geomType := "geometry(MultiPolygon)"
	if srid > 0 {
		geomType = fmt.Sprintf("geometry(MultiPolygon,%d)", srid)
	}
	spec.Columns = append(spec.Columns, db.Column{Name: geometryColumn, Type: geomType})
	return spec
}

// WritePostGIS replaces schema.name with the layer's rows.
func WritePostGIS(ctx context.Context, pool db.Pool, schema, name string, layer *dataset.Layer, text map[string]bool) (int64, error) {
	spec := PostGISSpec(schema, name, layer, text)
	numeric := make([]bool, len(layer.Columns))
	for i, c := range spec.Columns[:len(layer.Columns)] {
		numeric[i] = c.Type == "double precision"
	}

	rows := make([][]any, 0, layer.Len())
	for r, row := range layer.Rows {
		vals := make([]any, 0, len(row)+1)
		for i, v := range row {
			switch {
			case v == "":
				vals = append(vals, nil)
			case numeric[i]:
				vals = append(vals, dataset.ParseFloat(v).Value)
			default:
				vals = append(vals, v)
			}
		}
		if mp := layer.Geoms[r]; mp != nil {
			if layer.CRS.SRID > 0 {
				mp.SetSRID(layer.CRS.SRID)
			}
			b, err := ewkb.Marshal(mp, ewkb.NDR)
			if err != nil {
				return 0, eris.Wrapf(err, "emit: encode row %d", r+1)
			}
			vals = append(vals, b)
		} else {
			vals = append(vals, nil)
		}
		rows = append(rows, vals)
	}

	n, err := db.ReplaceTable(ctx, pool, spec, rows)
	if err != nil {
		return 0, err
	}
	zap.L().With(zap.String("component", "emit.postgis")).Info("table loaded",
		zap.String("table", spec.String()),
		zap.Int64("rows", n),
	)
	return n, nil
}
