package tiger

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tract-rollup/internal/dataset"
)

// dbfNameLen is the longest field name a DBF header holds.
const dbfNameLen = 10

var sidecarExts = []string{".shp", ".shx", ".dbf", ".prj", ".cpg"}

// DBFFieldNames truncates column names to 10 characters and makes them unique
// by replacing the tail with a counter.
func DBFFieldNames(columns []string) []string {
	out := make([]string, len(columns))
	seen := make(map[string]bool, len(columns))
	for i, c := range columns {
		name := c
		if len(name) > dbfNameLen {
			name = name[:dbfNameLen]
		}
		for n := 1; seen[strings.ToUpper(name)]; n++ {
			suffix := strconv.Itoa(n)
			base := c
			if len(base) > dbfNameLen-len(suffix) {
				base = base[:dbfNameLen-len(suffix)]
			}
			name = base + suffix
		}
		seen[strings.ToUpper(name)] = true
		out[i] = name
	}
	return out
}

// dbfFields picks a numeric field for all-numeric columns not listed in text,
// and a character field sized to the longest value otherwise.
func dbfFields(t *dataset.Table, text map[string]bool) ([]shp.Field, []bool) {
	names := DBFFieldNames(t.Columns)
	fields := make([]shp.Field, len(t.Columns))
	numeric := make([]bool, len(t.Columns))
	for i, c := range t.Columns {
		isNum := !text[c]
		hasValue := false
		width := 1
		for _, row := range t.Rows {
			v := row[i]
			if len(v) > width {
				width = len(v)
			}
			if v == "" {
				continue
			}
			hasValue = true
			if isNum && !dataset.IsNumeric(v) {
				isNum = false
			}
		}
		if isNum && hasValue {
			fields[i] = shp.FloatField(names[i], 24, 6)
			numeric[i] = true
			continue
		}
		if width > 254 {
			width = 254
		}
		fields[i] = shp.StringField(names[i], uint8(width))
	}
	return fields, numeric
}

func writeAttributes(w *shp.Writer, row int32, t *dataset.Table, r int, numeric []bool) error {
	for i, v := range t.Rows[r] {
		if v == "" {
			continue
		}
		var value any = v
		if numeric[i] {
			value = dataset.ParseFloat(v).Value
		} else if len(v) > 254 {
			value = v[:254]
		}
		if err := w.WriteAttribute(int(row), i, value); err != nil {
			return eris.Wrapf(err, "tiger: write attribute %q", t.Columns[i])
		}
	}
	return nil
}

// WriteLayer writes a polygon layer as an ESRI shapefile with a .prj and a
// UTF-8 .cpg. Columns in text are always written as character fields.
func WriteLayer(path string, layer *dataset.Layer, text map[string]bool) error {
	return writeAtomic(path, layer.CRS, func(tmp string) error {
		w, err := shp.Create(tmp, shp.POLYGON)
		if err != nil {
			return eris.Wrap(err, "tiger: create shapefile")
		}
		defer w.Close()

		fields, numeric := dbfFields(layer.Table, text)
		if err := w.SetFields(fields); err != nil {
			return eris.Wrap(err, "tiger: set fields")
		}
		// go-shp cannot read null shapes back, so rows without a polygon
		// are left out of the export.
		var dropped int
		for r := range layer.Rows {
			mp := layer.Geoms[r]
			if mp == nil || mp.NumPolygons() == 0 {
				dropped++
				continue
			}
			row := w.Write(multiPolygonToShape(mp))
			if err := writeAttributes(w, row, layer.Table, r, numeric); err != nil {
				return err
			}
		}
		if dropped > 0 {
			zap.L().Warn("tiger: rows without geometry left out of shapefile",
				zap.String("path", path),
				zap.Int("dropped", dropped),
			)
		}
		return nil
	})
}

// WritePoints writes a point shapefile in WGS84 from longitude and latitude
// columns. Rows with unparsable coordinates are skipped and counted.
func WritePoints(path string, t *dataset.Table, lonCol, latCol string) (written, skipped int, err error) {
	if !t.Has(lonCol) || !t.Has(latCol) {
		return 0, 0, eris.Errorf("tiger: columns %q and %q are required", lonCol, latCol)
	}
	err = writeAtomic(path, dataset.WGS84, func(tmp string) error {
		w, err := shp.Create(tmp, shp.POINT)
		if err != nil {
			return eris.Wrap(err, "tiger: create shapefile")
		}
		defer w.Close()

		fields, numeric := dbfFields(t, map[string]bool{})
		if err := w.SetFields(fields); err != nil {
			return eris.Wrap(err, "tiger: set fields")
		}
		for r := range t.Rows {
			lon, lat := t.Float(r, lonCol), t.Float(r, latCol)
			if !lon.Valid || !lat.Valid || lon.Value < -180 || lon.Value > 180 || lat.Value < -90 || lat.Value > 90 {
				skipped++
				continue
			}
			row := w.Write(&shp.Point{X: lon.Value, Y: lat.Value})
			if err := writeAttributes(w, row, t, r, numeric); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if skipped > 0 {
		zap.L().Warn("tiger: skipped rows without valid coordinates", zap.Int("skipped", skipped))
	}
	return written, skipped, nil
}

// writeAtomic writes the shapefile set into a temp directory beside path and
// renames each member into place once fill succeeds.
func writeAtomic(path string, crs dataset.CRS, fill func(tmpShp string) error) error {
	if !strings.EqualFold(filepath.Ext(path), ".shp") {
		return eris.Errorf("tiger: output %q must end in .shp", path)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "tiger: create output dir")
	}
	tmpDir, err := os.MkdirTemp(dir, ".shp-*")
	if err != nil {
		return eris.Wrap(err, "tiger: create temp dir")
	}
	defer os.RemoveAll(tmpDir) //nolint:errcheck

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	tmpShp := filepath.Join(tmpDir, base+".shp")
	if err := fill(tmpShp); err != nil {
		return err
	}
	// go-shp names the attribute table "<base>dbf" without the dot.
	if err := os.Rename(filepath.Join(tmpDir, base+"dbf"), filepath.Join(tmpDir, base+".dbf")); err != nil {
		return eris.Wrap(err, "tiger: move dbf")
	}

	if crs.WKT != "" {
		if err := os.WriteFile(filepath.Join(tmpDir, base+".prj"), []byte(crs.WKT), 0o644); err != nil {
			return eris.Wrap(err, "tiger: write prj")
		}
	}
	if err := os.WriteFile(filepath.Join(tmpDir, base+".cpg"), []byte("UTF-8"), 0o644); err != nil {
		return eris.Wrap(err, "tiger: write cpg")
	}

	finalBase := strings.TrimSuffix(path, filepath.Ext(path))
	for _, ext := range sidecarExts {
		src := filepath.Join(tmpDir, base+ext)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, finalBase+ext); err != nil {
			return eris.Wrapf(err, "tiger: move %s", ext)
		}
	}
	return nil
}
