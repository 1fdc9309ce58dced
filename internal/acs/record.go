package acs

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tract-rollup/internal/dataset"
)

// Record is one tract in one vintage.
type Record struct {
	Year    int
	GEOID   string
	State   string
	County  string
	Borough string
	Tract   string
	Values  map[string]dataset.Float
}

// Get returns the named count or derived value.
func (r Record) Get(name string) dataset.Float {
	return r.Values[name]
}

// Row renders the record as text cells: year, geography columns, then columns.
func (r Record) Row(columns []string) []string {
	row := make([]string, 0, 1+len(GeoColumns)+len(columns))
	row = append(row, strconv.Itoa(r.Year), r.GEOID, r.State, r.County, r.Borough, r.Tract)
	for _, c := range columns {
		row = append(row, r.Values[c].String())
	}
	return row
}

// ParseCount parses an API cell as an integer count. Unparsable cells and
// ACS annotation sentinels are absent.
func ParseCount(s string) dataset.Float {
	s = strings.TrimSpace(s)
	if s == "" {
		return dataset.Absent()
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || Sentinels[v] {
		return dataset.Absent()
	}
	return dataset.Some(float64(v))
}

// Catalog describes which variables to request and how to derive metrics.
type Catalog struct {
	Variables  []Variable
	Composites []Composite
	Ratios     []Ratio
	// Columns is the per-vintage output order after the geography columns.
	Columns []string
}

// DefaultCatalog returns the NYC tract catalog.
func DefaultCatalog() Catalog {
	return Catalog{
		Variables:  DefaultVariables(),
		Composites: DefaultComposites(),
		Ratios:     DefaultRatios(),
		Columns:    DefaultColumns(),
	}
}

// Codes returns the API variable codes in catalog order.
func (c Catalog) Codes() []string {
	codes := make([]string, len(c.Variables))
	for i, v := range c.Variables {
		codes[i] = v.Code
	}
	return codes
}

// Derive fills composites and ratios into values. Composites are absent when
// any part is absent. Ratios need a present numerator and a positive
// denominator, are rounded to three decimals, and are absent outside [0,100].
func (c Catalog) Derive(values map[string]dataset.Float) {
	for _, comp := range c.Composites {
		sum := 0.0
		ok := true
		for _, p := range comp.Parts {
			v := values[p]
			if !v.Valid {
				ok = false
				break
			}
			sum += v.Value
		}
		if ok {
			values[comp.Name] = dataset.Some(sum)
		} else {
			values[comp.Name] = dataset.Absent()
		}
	}

	for _, r := range c.Ratios {
		values[r.Name] = Percent(values[r.Num], values[r.Den])
	}
}

// Percent returns num/den*100 rounded to three decimals, or absent.
func Percent(num, den dataset.Float) dataset.Float {
	if !num.Valid || !den.Valid || den.Value <= 0 {
		return dataset.Absent()
	}
	pct := dataset.Round3(num.Value / den.Value * 100)
	if pct < 0 || pct > 100 {
		return dataset.Absent()
	}
	return dataset.Some(pct)
}

// Build converts an API table into records. Variables missing from the
// header are absent for every row.
func (c Catalog) Build(t *Table, year int, boroughs map[string]string) ([]Record, error) {
	si, ci, ti := t.Index(ColState), t.Index(ColCounty), t.Index(ColTract)
	if si < 0 || ci < 0 || ti < 0 {
		return nil, eris.Errorf("acs: table for %d lacks state/county/tract columns", year)
	}

	idx := make([]int, len(c.Variables))
	for i, v := range c.Variables {
		idx[i] = t.Index(v.Code)
	}

	records := make([]Record, 0, len(t.Rows))
	for n, row := range t.Rows {
		if len(row) != len(t.Header) {
			return nil, eris.Errorf("acs: row %d has %d cells, header has %d", n+1, len(row), len(t.Header))
		}
		rec := Record{
			Year:    year,
			State:   row[si],
			County:  row[ci],
			Tract:   row[ti],
			Borough: boroughs[row[ci]],
			Values:  make(map[string]dataset.Float, len(c.Variables)+len(c.Composites)+len(c.Ratios)),
		}
		rec.GEOID = rec.State + rec.County + rec.Tract

		for i, v := range c.Variables {
			if idx[i] < 0 {
				rec.Values[v.Name] = dataset.Absent()
				continue
			}
			rec.Values[v.Name] = ParseCount(row[idx[i]])
		}
		c.Derive(rec.Values)
		records = append(records, rec)
	}
	return records, nil
}
