// Package geoid normalizes census tract identifiers so indicator rows and
// boundary polygons can be joined on a common key.
package geoid

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tract-rollup/internal/dataset"
)

// Width is the length of a tract GEOID: state(2) + county(3) + tract(6).
const Width = 11

var (
	// ErrNoIdentifier is returned when none of the candidate columns exist.
	ErrNoIdentifier = eris.New("geoid: no identifier column")
	// ErrTooLong is returned for values longer than Width.
	ErrTooLong = eris.New("geoid: identifier longer than 11 characters")
)

// DefaultCandidates are the identifier columns tried in order.
var DefaultCandidates = []string{"GEOID", "GEOID10", "CT2020"}

// FindKey returns the first candidate column present in t.
func FindKey(t *dataset.Table, candidates []string) (string, error) {
	for _, c := range candidates {
		if t.Has(c) {
			return c, nil
		}
	}
	return "", eris.Wrapf(ErrNoIdentifier, "tried %s", strings.Join(candidates, ", "))
}

// Normalize trims s, drops a trailing ".0" and left-pads with zeros to Width.
// Empty input stays empty.
func Normalize(s string) (string, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".0")
	if s == "" {
		return "", nil
	}
	if len(s) > Width {
		return "", eris.Wrapf(ErrTooLong, "%q", s)
	}
	return strings.Repeat("0", Width-len(s)) + s, nil
}

// NormalizeTable returns a copy of t with col normalized.
func NormalizeTable(t *dataset.Table, col string) (*dataset.Table, error) {
	i := t.Index(col)
	if i < 0 {
		return nil, eris.Wrapf(ErrNoIdentifier, "column %q", col)
	}
	out := t.Clone()
	for r, row := range out.Rows {
		v, err := Normalize(row[i])
		if err != nil {
			return nil, eris.Wrapf(err, "row %d", r+1)
		}
		row[i] = v
	}
	return out, nil
}
