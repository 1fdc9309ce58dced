package emit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/tract-rollup/internal/dataset"
)

// GeoPackage header values: "GPKG" and version 1.3.0.
const (
	gpkgApplicationID = 0x47504B47
	gpkgUserVersion   = 10300
	geometryColumn    = "geom"
	featureIDColumn   = "fid"
)

const gpkgSchema = `
CREATE TABLE gpkg_spatial_ref_sys (
	srs_name                 TEXT NOT NULL,
	srs_id                   INTEGER NOT NULL PRIMARY KEY,
	organization             TEXT NOT NULL,
	organization_coordsys_id INTEGER NOT NULL,
	definition               TEXT NOT NULL,
	description              TEXT
);

CREATE TABLE gpkg_contents (
	table_name  TEXT NOT NULL PRIMARY KEY,
	data_type   TEXT NOT NULL,
	identifier  TEXT UNIQUE,
	description TEXT DEFAULT '',
	last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	min_x       DOUBLE,
	min_y       DOUBLE,
	max_x       DOUBLE,
	max_y       DOUBLE,
	srs_id      INTEGER,
	CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
);

CREATE TABLE gpkg_geometry_columns (
	table_name         TEXT NOT NULL,
	column_name        TEXT NOT NULL,
	geometry_type_name TEXT NOT NULL,
	srs_id             INTEGER NOT NULL,
	z                  TINYINT NOT NULL,
	m                  TINYINT NOT NULL,
	CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name),
	CONSTRAINT fk_gc_tn FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
	CONSTRAINT fk_gc_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
);

INSERT INTO gpkg_spatial_ref_sys VALUES
	('Undefined cartesian SRS', -1, 'NONE', -1, 'undefined', 'undefined cartesian coordinate reference system'),
	('Undefined geographic SRS', 0, 'NONE', 0, 'undefined', 'undefined geographic coordinate reference system'),
	('WGS 84 geodetic', 4326, 'EPSG', 4326,
	 'GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]',
	 'longitude/latitude coordinates in decimal degrees on the WGS 84 spheroid');
`

// GeoPackageLayer is one feature table to write.
type GeoPackageLayer struct {
	Name  string
	Layer *dataset.Layer
	// Text lists columns stored as TEXT even when every value is numeric.
	Text map[string]bool
}

// WriteGeoPackage writes the layers into a new GeoPackage at path, replacing
// any existing file once the database is complete.
func WriteGeoPackage(ctx context.Context, path string, layers ...GeoPackageLayer) error {
	return replaceAtomic(path, func(tmp string) error {
		db, err := sql.Open("sqlite", tmp)
		if err != nil {
			return eris.Wrap(err, "gpkg: open")
		}
		defer db.Close() //nolint:errcheck
		db.SetMaxOpenConns(1)

		for _, stmt := range []string{
			fmt.Sprintf("PRAGMA application_id = %d", gpkgApplicationID),
			fmt.Sprintf("PRAGMA user_version = %d", gpkgUserVersion),
			gpkgSchema,
		} {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return eris.Wrap(err, "gpkg: create schema")
			}
		}

		for _, l := range layers {
			if err := writeFeatureTable(ctx, db, l); err != nil {
				return err
			}
		}
		return eris.Wrap(db.Close(), "gpkg: close")
	})
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

type gpkgColumn struct {
	name    string
	numeric bool
}

func featureColumns(t *dataset.Table, text map[string]bool) []gpkgColumn {
	cols := make([]gpkgColumn, len(t.Columns))
	for i, c := range t.Columns {
		name := c
		if strings.EqualFold(c, featureIDColumn) || strings.EqualFold(c, geometryColumn) {
			name = c + "_attr"
		}
		numeric := !text[c]
		seen := false
		for _, row := range t.Rows {
			if row[i] == "" {
				continue
			}
			seen = true
			if !dataset.IsNumeric(row[i]) {
				numeric = false
				break
			}
		}
		cols[i] = gpkgColumn{name: name, numeric: numeric && seen}
	}
	return cols
}

func writeFeatureTable(ctx context.Context, db *sql.DB, l GeoPackageLayer) error {
	log := zap.L().With(zap.String("component", "emit.gpkg"), zap.String("layer", l.Name))
	layer := l.Layer
	srid := layer.CRS.SRID

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "gpkg: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if srid > 0 {
		def := layer.CRS.WKT
		if def == "" {
			def = "undefined"
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO gpkg_spatial_ref_sys VALUES (?, ?, 'EPSG', ?, ?, NULL)`,
			fmt.Sprintf("EPSG:%d", srid), srid, srid, def); err != nil {
			return eris.Wrap(err, "gpkg: insert srs")
		}
	} else {
		srid = -1
	}

	cols := featureColumns(layer.Table, l.Text)
	defs := []string{featureIDColumn + " INTEGER PRIMARY KEY AUTOINCREMENT", geometryColumn + " MULTIPOLYGON"}
	names := []string{geometryColumn}
	for _, c := range cols {
		typ := "TEXT"
		if c.numeric {
			typ = "REAL"
		}
		defs = append(defs, quoteIdent(c.name)+" "+typ)
		names = append(names, quoteIdent(c.name))
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(l.Name), strings.Join(defs, ", "))); err != nil {
		return eris.Wrapf(err, "gpkg: create table %s", l.Name)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(l.Name), strings.Join(names, ", "), placeholders))
	if err != nil {
		return eris.Wrap(err, "gpkg: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	bounds := geom.NewBounds(geom.XY)
	for r, row := range layer.Rows {
		args := make([]any, 0, len(names))
		mp := layer.Geoms[r]
		if mp == nil {
			args = append(args, nil)
		} else {
			blob, err := encodeGeoPackageBinary(mp, srid)
			if err != nil {
				return eris.Wrapf(err, "gpkg: row %d", r+1)
			}
			args = append(args, blob)
			if !mp.Empty() {
				bounds.Extend(mp)
			}
		}
		for i, c := range cols {
			v := row[i]
			switch {
			case v == "":
				args = append(args, nil)
			case c.numeric:
				args = append(args, dataset.ParseFloat(v).Value)
			default:
				args = append(args, v)
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return eris.Wrapf(err, "gpkg: insert row %d", r+1)
		}
	}

	var minX, minY, maxX, maxY any
	if !bounds.IsEmpty() {
		minX, minY, maxX, maxY = bounds.Min(0), bounds.Min(1), bounds.Max(0), bounds.Max(1)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, min_x, min_y, max_x, max_y, srs_id)
		 VALUES (?, 'features', ?, ?, ?, ?, ?, ?)`,
		l.Name, l.Name, minX, minY, maxX, maxY, srid); err != nil {
		return eris.Wrap(err, "gpkg: insert contents")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gpkg_geometry_columns VALUES (?, ?, 'MULTIPOLYGON', ?, 0, 0)`,
		l.Name, geometryColumn, srid); err != nil {
		return eris.Wrap(err, "gpkg: insert geometry column")
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "gpkg: commit")
	}
	log.Info("layer written", zap.Int("features", layer.Len()), zap.Int("columns", len(cols)))
	return nil
}
