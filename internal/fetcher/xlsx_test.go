package fetcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, sheet string, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	s, err := f.AddSheet(sheet)
	require.NoError(t, err)
	for _, rowData := range rows {
		row := s.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadXLSX(t *testing.T) {
	path := createTestXLSX(t, "nta_acs", [][]string{
		{"NTA2020", "pop_total_2023"},
		{"BX0101", "2400"},
	})

	rows, err := ReadXLSX(path, XLSXOptions{SheetName: "nta_acs", SkipRows: 1})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"BX0101", "2400"}}, rows)

	rows, err = ReadXLSX(path, XLSXOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestReadXLSX_Errors(t *testing.T) {
	path := createTestXLSX(t, "a", [][]string{{"x"}})

	_, err := ReadXLSX(path, XLSXOptions{SheetName: "missing"})
	assert.Error(t, err)

	_, err = ReadXLSX(path, XLSXOptions{SheetIndex: 3})
	assert.Error(t, err)

	_, err = ReadXLSX(filepath.Join(t.TempDir(), "none.xlsx"), XLSXOptions{})
	assert.Error(t, err)
}
