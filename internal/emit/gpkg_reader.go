package emit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/tract-rollup/internal/dataset"
)

// ErrLayerNotFound is returned for a layer that is not a feature table of the package.
var ErrLayerNotFound = eris.New("gpkg: layer not found")

// LayerInfo describes one feature table.
type LayerInfo struct {
	Name     string `json:"name"`
	SRID     int    `json:"srid"`
	Features int    `json:"features"`
}

// FeatureLayer is a feature table read back into memory. Numeric marks the
// REAL columns; FIDs are parallel to the rows.
type FeatureLayer struct {
	*dataset.Layer
	Name    string
	Numeric map[string]bool
	FIDs    []int64
}

// GeoPackageReader reads feature tables written by WriteGeoPackage.
type GeoPackageReader struct {
	db *sql.DB
}

// OpenGeoPackage opens an existing GeoPackage.
func OpenGeoPackage(path string) (*GeoPackageReader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(err, "gpkg: open %s", path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "gpkg: open")
	}
	var appID int64
	if err := db.QueryRow("PRAGMA application_id").Scan(&appID); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "gpkg: read application_id")
	}
	if appID != gpkgApplicationID {
		_ = db.Close()
		return nil, eris.Errorf("gpkg: %s is not a GeoPackage (application_id %#x)", path, appID)
	}
	return &GeoPackageReader{db: db}, nil
}

// Close closes the database.
func (r *GeoPackageReader) Close() error {
	return r.db.Close()
}

// Layers lists the feature tables, sorted by name.
func (r *GeoPackageReader) Layers(ctx context.Context) ([]LayerInfo, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT table_name, COALESCE(srs_id, -1) FROM gpkg_contents WHERE data_type = 'features' ORDER BY table_name`)
	if err != nil {
		return nil, eris.Wrap(err, "gpkg: list layers")
	}
	var out []LayerInfo
	for rows.Next() {
		var li LayerInfo
		if err := rows.Scan(&li.Name, &li.SRID); err != nil {
			_ = rows.Close()
			return nil, eris.Wrap(err, "gpkg: scan layer")
		}
		out = append(out, li)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "gpkg: list layers iterate")
	}

	for i := range out {
		q := fmt.Sprintf("SELECT count(*) FROM %s", quoteIdent(out[i].Name))
		if err := r.db.QueryRowContext(ctx, q).Scan(&out[i].Features); err != nil {
			return nil, eris.Wrapf(err, "gpkg: count %s", out[i].Name)
		}
	}
	return out, nil
}

func (r *GeoPackageReader) layerInfo(ctx context.Context, name string) (LayerInfo, error) {
	layers, err := r.Layers(ctx)
	if err != nil {
		return LayerInfo{}, err
	}
	for _, l := range layers {
		if l.Name == name {
			return l, nil
		}
	}
	return LayerInfo{}, eris.Wrapf(ErrLayerNotFound, "%q", name)
}

// ReadLayer loads a feature table. Cells come back as text; absent values
// are empty.
func (r *GeoPackageReader) ReadLayer(ctx context.Context, name string) (*FeatureLayer, error) {
	info, err := r.layerInfo(ctx, name)
	if err != nil {
		return nil, err
	}

	crs := dataset.CRS{SRID: info.SRID}
	if info.SRID > 0 {
		var def string
		err := r.db.QueryRowContext(ctx, `SELECT definition FROM gpkg_spatial_ref_sys WHERE srs_id = ?`, info.SRID).Scan(&def)
		if err != nil && err != sql.ErrNoRows {
			return nil, eris.Wrap(err, "gpkg: read srs")
		}
		if def != "undefined" {
			crs.WKT = def
		}
	}

	var geomCol string
	if err := r.db.QueryRowContext(ctx,
		`SELECT column_name FROM gpkg_geometry_columns WHERE table_name = ?`, name).Scan(&geomCol); err != nil {
		return nil, eris.Wrapf(err, "gpkg: geometry column of %s", name)
	}

	cols, numeric, err := r.attributeColumns(ctx, name, geomCol)
	if err != nil {
		return nil, err
	}

	selectCols := []string{featureIDColumn, quoteIdent(geomCol)}
	for _, c := range cols {
		selectCols = append(selectCols, quoteIdent(c))
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(selectCols, ", "), quoteIdent(name), featureIDColumn))
	if err != nil {
		return nil, eris.Wrapf(err, "gpkg: read %s", name)
	}
	defer rows.Close() //nolint:errcheck

	table := dataset.NewTable(cols...)
	var geoms []*geom.MultiPolygon
	var fids []int64
	for rows.Next() {
		var fid int64
		var blob []byte
		cells := make([]any, len(cols))
		dest := []any{&fid, &blob}
		for i := range cells {
			dest = append(dest, &cells[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrapf(err, "gpkg: scan %s", name)
		}

		mp, err := blobToMultiPolygon(blob)
		if err != nil {
			return nil, eris.Wrapf(err, "gpkg: feature %d", fid)
		}
		row := make([]string, len(cols))
		for i, v := range cells {
			row[i] = cellText(v)
		}
		table.Rows = append(table.Rows, row)
		geoms = append(geoms, mp)
		fids = append(fids, fid)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "gpkg: read %s", name)
	}

	layer, err := dataset.NewLayer(table, geoms, crs)
	if err != nil {
		return nil, err
	}
	return &FeatureLayer{Layer: layer, Name: name, Numeric: numeric, FIDs: fids}, nil
}

func (r *GeoPackageReader) attributeColumns(ctx context.Context, table, geomCol string) ([]string, map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, nil, eris.Wrapf(err, "gpkg: table info %s", table)
	}
	defer rows.Close() //nolint:errcheck

	var cols []string
	numeric := make(map[string]bool)
	for rows.Next() {
		var (
			cid      int
			name     string
			typ      string
			notNull  int
			defValue sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defValue, &pk); err != nil {
			return nil, nil, eris.Wrap(err, "gpkg: scan table info")
		}
		if name == featureIDColumn || name == geomCol {
			continue
		}
		cols = append(cols, name)
		if strings.EqualFold(typ, "REAL") || strings.EqualFold(typ, "DOUBLE") || strings.EqualFold(typ, "INTEGER") {
			numeric[name] = true
		}
	}
	return cols, numeric, eris.Wrap(rows.Err(), "gpkg: table info iterate")
}

func blobToMultiPolygon(blob []byte) (*geom.MultiPolygon, error) {
	if blob == nil {
		return nil, nil
	}
	g, srid, err := decodeGeoPackageBinary(blob)
	if err != nil {
		return nil, err
	}
	switch g := g.(type) {
	case *geom.MultiPolygon:
		g.SetSRID(srid)
		return g, nil
	case *geom.Polygon:
		mp := geom.NewMultiPolygon(g.Layout()).SetSRID(srid)
		if err := mp.Push(g); err != nil {
			return nil, eris.Wrap(err, "gpkg: promote polygon")
		}
		return mp, nil
	default:
		return nil, eris.Errorf("gpkg: unsupported geometry %T", g)
	}
}

func cellText(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case []byte:
		return string(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
