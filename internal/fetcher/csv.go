// Package fetcher downloads remote data and decodes the tabular formats the
// pipeline consumes: Census JSON tables, CSV, XLSX and ZIP archives.
package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune            // default ','
	HasHeader  bool            // if true, first row is skipped but sent to HeaderCh
	HeaderCh   chan<- []string // optional: receives the header row
	Comment    rune            // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
}

// StreamCSV reads a CSV file and sends rows to a channel.
// Caller must consume the returned row channel. Errors are sent on the error channel.
// Both channels are closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1 // allow variable fields

		first := true
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}

			if first {
				if len(record) > 0 {
					record[0] = strings.TrimPrefix(record[0], "\ufeff")
				}
				if opts.HasHeader {
					first = false
					if opts.HeaderCh != nil {
						select {
						case opts.HeaderCh <- record:
						case <-ctx.Done():
							errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled sending header")
							return
						}
					}
					continue
				}
			}
			first = false

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// ReadCSVTable reads a whole CSV with a header row. Every data row must have
// exactly as many fields as the header.
func ReadCSVTable(ctx context.Context, r io.Reader) ([]string, [][]string, error) {
	headerCh := make(chan []string, 1)
	rowCh, errCh := StreamCSV(ctx, r, CSVOptions{HasHeader: true, HeaderCh: headerCh})

	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, nil, err
	}

	var header []string
	select {
	case header = <-headerCh:
	default:
		return nil, nil, eris.New("csv: missing header row")
	}
	for i, row := range rows {
		if len(row) != len(header) {
			return nil, nil, eris.Errorf("csv: row %d has %d fields, header has %d", i+2, len(row), len(header))
		}
	}
	return header, rows, nil
}
