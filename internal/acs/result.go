package acs

import (
	"sort"
	"strconv"

	"github.com/sells-group/tract-rollup/internal/dataset"
)

// FetchResult holds everything a fetch produced.
type FetchResult struct {
	// Years are the vintages with at least one record, ascending.
	Years       []int
	ByVintage   map[int][]Record
	Failures    []FetchFailure
	Columns     []string
	WideMetrics []string
}

// Len returns the total number of records.
func (r *FetchResult) Len() int {
	n := 0
	for _, recs := range r.ByVintage {
		n += len(recs)
	}
	return n
}

func (r *FetchResult) finish() {
	r.Years = r.Years[:0]
	for y, recs := range r.ByVintage {
		if len(recs) == 0 {
			delete(r.ByVintage, y)
			continue
		}
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].GEOID < recs[j].GEOID })
		r.Years = append(r.Years, y)
	}
	sort.Ints(r.Years)
	sort.Slice(r.Failures, func(i, j int) bool {
		a, b := r.Failures[i].Unit, r.Failures[j].Unit
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.County < b.County
	})
}

// LongColumns is the header shared by the per-vintage and stacked tables.
func (r *FetchResult) LongColumns() []string {
	cols := append([]string{ColYear}, GeoColumns...)
	return append(cols, r.Columns...)
}

// Vintage returns the table for one year.
func (r *FetchResult) Vintage(year int) *dataset.Table {
	t := dataset.NewTable(r.LongColumns()...)
	for _, rec := range r.ByVintage[year] {
		t.Rows = append(t.Rows, rec.Row(r.Columns))
	}
	return t
}

// Stacked concatenates every vintage in year order.
func (r *FetchResult) Stacked() *dataset.Table {
	t := dataset.NewTable(r.LongColumns()...)
	for _, y := range r.Years {
		for _, rec := range r.ByVintage[y] {
			t.Rows = append(t.Rows, rec.Row(r.Columns))
		}
	}
	return t
}

// WideColumn names a metric for one vintage.
func WideColumn(metric string, year int) string {
	return metric + "_" + strconv.Itoa(year)
}

// Wide pivots to one row per GEOID: geography columns, then <metric>_<year>
// for each year and metric. Geography comes from the earliest vintage a
// GEOID appears in. Rows are sorted by GEOID.
func (r *FetchResult) Wide() *dataset.Table {
	cols := append([]string(nil), GeoColumns...)
	for _, y := range r.Years {
		for _, m := range r.WideMetrics {
			cols = append(cols, WideColumn(m, y))
		}
	}
	t := dataset.NewTable(cols...)

	rows := make(map[string][]string)
	var ids []string
	for yi, y := range r.Years {
		for _, rec := range r.ByVintage[y] {
			row, ok := rows[rec.GEOID]
			if !ok {
				row = make([]string, len(cols))
				row[0], row[1], row[2], row[3], row[4] = rec.GEOID, rec.State, rec.County, rec.Borough, rec.Tract
				rows[rec.GEOID] = row
				ids = append(ids, rec.GEOID)
			}
			base := len(GeoColumns) + yi*len(r.WideMetrics)
			for mi, m := range r.WideMetrics {
				row[base+mi] = rec.Get(m).String()
			}
		}
	}

	sort.Strings(ids)
	for _, id := range ids {
		t.Rows = append(t.Rows, rows[id])
	}
	return t
}
