package tiger

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/tract-rollup/internal/dataset"
)

// ReadOptions configures ReadBoundaries.
type ReadOptions struct {
	// SRID overrides the code guessed from the .prj sidecar.
	SRID int
}

// ReadBoundaries loads a polygon shapefile into a layer. Every DBF field
// becomes a text column; the .prj WKT is kept as the layer CRS and the .cpg
// sidecar selects the attribute text encoding.
func ReadBoundaries(shpPath string, opts ReadOptions) (*dataset.Layer, error) {
	log := zap.L().With(zap.String("component", "tiger.read"), zap.String("path", shpPath))

	// go-shp opens the table lazily and reports a missing one as zero fields.
	if _, err := os.Stat(strings.TrimSuffix(shpPath, filepath.Ext(shpPath)) + ".dbf"); err != nil {
		return nil, eris.Wrapf(err, "tiger: %s has no .dbf attribute table", shpPath)
	}

	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "tiger: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	crs := dataset.CRS{WKT: readPRJ(shpPath), SRID: opts.SRID}
	if crs.SRID == 0 {
		crs.SRID = GuessSRID(crs.WKT)
	}
	dec := decoderForCPG(readCPG(shpPath))

	fields := reader.Fields()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = dec.decode(f.String())
	}
	table := dataset.NewTable(columns...)

	var geoms []*geom.MultiPolygon
	var empty int
	for reader.Next() {
		n, shape := reader.Shape()

		row := make([]string, len(fields))
		for i := range fields {
			row[i] = dec.decode(reader.Attribute(i))
		}

		mp, err := shapeToMultiPolygon(shape, crs.SRID)
		if err != nil {
			return nil, eris.Wrapf(err, "tiger: record %d", n)
		}
		if mp == nil {
			empty++
		}
		table.Rows = append(table.Rows, row)
		geoms = append(geoms, mp)
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "tiger: read shapefile %s", shpPath)
	}

	if empty > 0 {
		log.Warn("records without polygon geometry", zap.Int("count", empty))
	}
	log.Info("boundaries loaded",
		zap.Int("records", table.Len()),
		zap.Int("fields", len(columns)),
		zap.Int("srid", crs.SRID),
	)
	return dataset.NewLayer(table, geoms, crs)
}
