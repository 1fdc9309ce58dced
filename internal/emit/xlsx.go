package emit

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/tract-rollup/internal/dataset"
)

// WriteXLSX writes t to a single sheet. Numeric cells outside text columns
// are stored as numbers.
func WriteXLSX(path, sheetName string, t *dataset.Table, text map[string]bool) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	header := sheet.AddRow()
	for _, c := range t.Columns {
		header.AddCell().SetString(c)
	}
	for _, r := range t.Rows {
		row := sheet.AddRow()
		for i, v := range r {
			cell := row.AddCell()
			if f := dataset.ParseFloat(v); f.Valid && !text[t.Columns[i]] {
				cell.SetFloat(f.Value)
				continue
			}
			cell.SetString(v)
		}
	}

	return writeFileAtomic(path, func(w io.Writer) error {
		return eris.Wrap(file.Write(w), "xlsx: write")
	})
}
