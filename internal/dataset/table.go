// Package dataset holds the in-memory tabular model shared by the pipeline
// stages: text tables, nullable numbers and geometry layers.
package dataset

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/tract-rollup/internal/fetcher"
)

// Table is an ordered set of named text columns. Numeric cells hold their
// formatted value and absent cells are "".
type Table struct {
	Columns []string
	Rows    [][]string

	index map[string]int
}

// NewTable returns an empty table with the given columns.
func NewTable(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Index returns the position of col, or -1.
func (t *Table) Index(col string) int {
	if t.index == nil || len(t.index) != len(t.Columns) {
		t.index = make(map[string]int, len(t.Columns))
		for i, c := range t.Columns {
			t.index[c] = i
		}
	}
	if i, ok := t.index[col]; ok {
		return i
	}
	return -1
}

// Has reports whether col exists.
func (t *Table) Has(col string) bool { return t.Index(col) >= 0 }

// Cell returns the text at row r, column col, or "" when the column is missing.
func (t *Table) Cell(r int, col string) string {
	i := t.Index(col)
	if i < 0 {
		return ""
	}
	return t.Rows[r][i]
}

// Float parses the cell at row r, column col.
func (t *Table) Float(r int, col string) Float {
	return ParseFloat(t.Cell(r, col))
}

// Column returns a copy of every value in col.
func (t *Table) Column(col string) []string {
	i := t.Index(col)
	if i < 0 {
		return nil
	}
	out := make([]string, len(t.Rows))
	for r, row := range t.Rows {
		out[r] = row[i]
	}
	return out
}

// Append adds a row. The row must match the column count.
func (t *Table) Append(row []string) error {
	if len(row) != len(t.Columns) {
		return eris.Errorf("dataset: row has %d cells, table has %d columns", len(row), len(t.Columns))
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// AddColumn appends a column with the given values, one per row. A column
// that already exists is overwritten.
func (t *Table) AddColumn(name string, values []string) error {
	if len(values) != len(t.Rows) {
		return eris.Errorf("dataset: column %q has %d values, table has %d rows", name, len(values), len(t.Rows))
	}
	if i := t.Index(name); i >= 0 {
		for r := range t.Rows {
			t.Rows[r][i] = values[r]
		}
		return nil
	}
	t.Columns = append(t.Columns, name)
	for r := range t.Rows {
		t.Rows[r] = append(t.Rows[r], values[r])
	}
	return nil
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := &Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([][]string, len(t.Rows)),
	}
	for i, row := range t.Rows {
		out.Rows[i] = append([]string(nil), row...)
	}
	return out
}

// Head returns a copy of the first n rows.
func (t *Table) Head(n int) *Table {
	out := NewTable(t.Columns...)
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	for _, row := range t.Rows[:n] {
		out.Rows = append(out.Rows, append([]string(nil), row...))
	}
	return out
}

// ReadCSV loads a CSV file with a header row.
func ReadCSV(ctx context.Context, path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	header, rows, err := fetcher.ReadCSVTable(ctx, f)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: read %s", path)
	}
	return &Table{Columns: header, Rows: rows}, nil
}

// ReadFile loads a tabular file by extension: .xlsx reads the first sheet,
// anything else is read as CSV. The first row is the header in both cases.
func ReadFile(ctx context.Context, path string) (*Table, error) {
	if !strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return ReadCSV(ctx, path)
	}
	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{})
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: read %s", path)
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("dataset: %s has no header row", path)
	}
	t := NewTable(rows[0]...)
	for _, r := range rows[1:] {
		row := make([]string, len(t.Columns))
		copy(row, r)
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// CRS identifies a coordinate reference system by EPSG code and/or WKT.
type CRS struct {
	SRID int
	WKT  string
}

// WGS84 is EPSG:4326.
var WGS84 = CRS{SRID: 4326, WKT: `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]]`}

// Layer is a Table with one multipolygon per row and a layer-wide CRS.
// A nil geometry is allowed.
type Layer struct {
	*Table
	Geoms []*geom.MultiPolygon
	CRS   CRS
}

// NewLayer pairs a table with its geometries.
func NewLayer(t *Table, geoms []*geom.MultiPolygon, crs CRS) (*Layer, error) {
	if len(geoms) != t.Len() {
		return nil, eris.Errorf("dataset: %d geometries for %d rows", len(geoms), t.Len())
	}
	return &Layer{Table: t, Geoms: geoms, CRS: crs}, nil
}
