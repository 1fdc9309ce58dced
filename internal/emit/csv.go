package emit

import (
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tract-rollup/internal/dataset"
)

// WriteCSV writes t with a header row. Absent values are empty cells.
func WriteCSV(path string, t *dataset.Table) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(t.Columns); err != nil {
			return eris.Wrap(err, "emit: write csv header")
		}
		if err := cw.WriteAll(t.Rows); err != nil {
			return eris.Wrapf(err, "emit: write csv %s", path)
		}
		return nil
	})
}
