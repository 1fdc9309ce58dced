package fetcher

import (
	"context"
	"encoding/json"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
)

// DecodeJSONArray decodes a JSON array streaming, sending each element to a channel.
// Expects input in the form [{...},{...}].
// Both channels are closed when processing completes.
func DecodeJSONArray[T any](ctx context.Context, r io.Reader) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := json.NewDecoder(r)
		decoder.UseNumber()

		tok, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				return
			}
			errCh <- eris.Wrap(err, "json: read opening token")
			return
		}

		delim, ok := tok.(json.Delim)
		if !ok || delim != '[' {
			errCh <- eris.Errorf("json: expected '[', got %v", tok)
			return
		}

		for decoder.More() {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}

			var item T
			if err := decoder.Decode(&item); err != nil {
				errCh <- eris.Wrap(err, "json: decode element")
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
		}

		if _, err := decoder.Token(); err != nil && err != io.EOF {
			errCh <- eris.Wrap(err, "json: read closing token")
		}
	}()

	return outCh, errCh
}

// DecodeTable reads a JSON array of arrays whose first element is the header
// row, the layout used by the Census data API. Null cells become "" and
// numbers keep their literal text.
func DecodeTable(ctx context.Context, r io.Reader) ([]string, [][]string, error) {
	ch, errCh := DecodeJSONArray[[]any](ctx, r)

	var header []string
	var rows [][]string
	for raw := range ch {
		cells, err := tableCells(raw)
		if err != nil {
			// drain so the decoder goroutine can exit
			for range ch {
			}
			return nil, nil, err
		}
		if header == nil {
			header = cells
			continue
		}
		if len(cells) != len(header) {
			for range ch {
			}
			return nil, nil, eris.Errorf("json: row %d has %d cells, header has %d", len(rows)+1, len(cells), len(header))
		}
		rows = append(rows, cells)
	}
	if err := <-errCh; err != nil {
		return nil, nil, err
	}
	if header == nil {
		return nil, nil, eris.New("json: table has no header row")
	}
	return header, rows, nil
}

func tableCells(raw []any) ([]string, error) {
	cells := make([]string, len(raw))
	for i, v := range raw {
		switch x := v.(type) {
		case nil:
		case string:
			cells[i] = x
		case json.Number:
			cells[i] = x.String()
		case bool:
			cells[i] = strconv.FormatBool(x)
		default:
			return nil, eris.Errorf("json: unexpected cell type %T at column %d", v, i)
		}
	}
	return cells, nil
}
