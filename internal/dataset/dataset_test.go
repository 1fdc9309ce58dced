package dataset

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"github.com/twpayne/go-geom"
)

func TestParseFloat(t *testing.T) {
	tests := []struct {
		in   string
		want Float
	}{
		{"12", Some(12)},
		{" 3.5 ", Some(3.5)},
		{"0", Some(0)},
		{"", Absent()},
		{"NA", Absent()},
		{"nan", Absent()},
		{"abc", Absent()},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseFloat(tt.in), "input %q", tt.in)
	}
}

func TestFloat_StringAndJSON(t *testing.T) {
	assert.Equal(t, "", Absent().String())
	assert.Equal(t, "1200", Some(1200).String())
	assert.Equal(t, "45.123", Some(45.123).String())

	b, err := json.Marshal(map[string]Float{"a": Absent(), "b": Some(0)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":null,"b":0}`, string(b))

	assert.Nil(t, Absent().Ptr())
	assert.Equal(t, 2.0, *Some(2).Ptr())
}

func TestRound3(t *testing.T) {
	assert.Equal(t, 33.333, Round3(100.0/3))
	assert.Equal(t, 66.667, Round3(200.0/3))
	assert.Equal(t, 12.5, Round3(12.5))
}

func TestTable(t *testing.T) {
	tbl := NewTable("GEOID", "pop_total")
	require.NoError(t, tbl.Append([]string{"36005000100", "1200"}))
	require.NoError(t, tbl.Append([]string{"36005000200", ""}))
	assert.Error(t, tbl.Append([]string{"x"}))

	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, 1, tbl.Index("pop_total"))
	assert.Equal(t, -1, tbl.Index("missing"))
	assert.Equal(t, Some(1200), tbl.Float(0, "pop_total"))
	assert.False(t, tbl.Float(1, "pop_total").Valid)

	require.NoError(t, tbl.AddColumn("NTA2020", []string{"Z1", "Z2"}))
	assert.Equal(t, []string{"Z1", "Z2"}, tbl.Column("NTA2020"))
	require.NoError(t, tbl.AddColumn("NTA2020", []string{"Z3", "Z3"}))
	assert.Len(t, tbl.Columns, 3)
	assert.Equal(t, "Z3", tbl.Cell(0, "NTA2020"))
	assert.Error(t, tbl.AddColumn("bad", []string{"1"}))

	clone := tbl.Clone()
	clone.Rows[0][0] = "changed"
	assert.Equal(t, "36005000100", tbl.Rows[0][0])

	assert.Equal(t, 1, tbl.Head(1).Len())
	assert.Equal(t, 2, tbl.Head(10).Len())
}

func TestReadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.csv")
	require.NoError(t, os.WriteFile(path, []byte("GEOID,pop_total\n5000100,10\n"), 0o644))

	tbl, err := ReadCSV(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"GEOID", "pop_total"}, tbl.Columns)
	assert.Equal(t, "5000100", tbl.Cell(0, "GEOID"))

	_, err = ReadCSV(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestNewLayer(t *testing.T) {
	tbl := NewTable("id")
	require.NoError(t, tbl.Append([]string{"a"}))

	_, err := NewLayer(tbl, nil, WGS84)
	assert.Error(t, err)

	l, err := NewLayer(tbl, []*geom.MultiPolygon{nil}, WGS84)
	require.NoError(t, err)
	assert.Equal(t, 4326, l.CRS.SRID)
	assert.Equal(t, "a", l.Cell(0, "id"))
}

func TestReadFile_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.xlsx")
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("sites")
	require.NoError(t, err)
	for _, r := range [][]string{{"name", "longitude", "latitude"}, {"a", "-73.98", "40.75"}, {"b"}} {
		row := sheet.AddRow()
		for _, v := range r {
			row.AddCell().SetString(v)
		}
	}
	require.NoError(t, f.Save(path))

	tbl, err := ReadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "longitude", "latitude"}, tbl.Columns)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, []string{"b", "", ""}, tbl.Rows[1])
	assert.Equal(t, Some(-73.98), tbl.Float(0, "longitude"))
}

func TestReadFile_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644))
	tbl, err := ReadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tbl.Columns)
	assert.Equal(t, 1, tbl.Len())
}
