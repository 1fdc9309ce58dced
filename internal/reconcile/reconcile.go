// Package reconcile joins indicator rows to boundary units on the tract
// identifier and checks the quality of the match.
package reconcile

import (
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tract-rollup/internal/dataset"
	"github.com/sells-group/tract-rollup/internal/geoid"
)

// DefaultMaxFailureRate is the largest tolerated share of unmatched indicator rows.
const DefaultMaxFailureRate = 0.02

var (
	// ErrCardinality is returned when a non-empty boundary key appears more than once.
	ErrCardinality = eris.New("reconcile: boundary key is not unique")
	// ErrCoverage is returned when too many indicator rows find no boundary unit.
	ErrCoverage = eris.New("reconcile: join coverage below threshold")
	// ErrNoZoneColumn is returned when the boundary layer lacks the zone column.
	ErrNoZoneColumn = eris.New("reconcile: zone column not found")
	// ErrRepeatedUnit is returned by RequireWide when an indicator key appears
	// more than once, as in a stacked table with one row per vintage.
	ErrRepeatedUnit = eris.New("reconcile: indicator key repeats")
)

// Options configures Join. Empty keys are detected from geoid.DefaultCandidates.
type Options struct {
	IndicatorKey   string
	BoundaryKey    string
	ZoneColumn     string
	MaxFailureRate float64
}

// Result is the left join of indicator rows onto boundary units. Table holds
// the indicator columns plus the zone column; Match and Zones are parallel to
// its rows.
type Result struct {
	Table        *dataset.Table
	Match        []int
	Zones        []string
	IndicatorKey string
	BoundaryKey  string
	ZoneColumn   string

	Unmatched    int
	EmptyZone    int
	FailureRate  float64
	Unreferenced []string
}

// Zone returns the zone of row r, "" when null.
func (r *Result) Zone(row int) string { return r.Zones[row] }

// Join left-joins indicators onto boundaries on the normalized identifier.
// Every indicator row is kept. Duplicate boundary keys, a missing zone column
// and a failure rate above MaxFailureRate are fatal.
func Join(indicators *dataset.Table, boundaries *dataset.Layer, opts Options) (*Result, error) {
	log := zap.L().With(zap.String("component", "reconcile"))

	if opts.MaxFailureRate == 0 {
		opts.MaxFailureRate = DefaultMaxFailureRate
	}
	if !boundaries.Has(opts.ZoneColumn) {
		return nil, eris.Wrapf(ErrNoZoneColumn, "%q", opts.ZoneColumn)
	}

	var err error
	if opts.IndicatorKey == "" {
		if opts.IndicatorKey, err = geoid.FindKey(indicators, geoid.DefaultCandidates); err != nil {
			return nil, eris.Wrap(err, "reconcile: indicator table")
		}
	}
	if opts.BoundaryKey == "" {
		if opts.BoundaryKey, err = geoid.FindKey(boundaries.Table, geoid.DefaultCandidates); err != nil {
			return nil, eris.Wrap(err, "reconcile: boundary layer")
		}
	}

	left, err := geoid.NormalizeTable(indicators, opts.IndicatorKey)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: indicator table")
	}
	right, err := geoid.NormalizeTable(boundaries.Table, opts.BoundaryKey)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: boundary layer")
	}

	index, err := keyIndex(right, opts.BoundaryKey)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Match:        make([]int, left.Len()),
		Zones:        make([]string, left.Len()),
		IndicatorKey: opts.IndicatorKey,
		BoundaryKey:  opts.BoundaryKey,
		ZoneColumn:   opts.ZoneColumn,
	}
	referenced := make([]bool, right.Len())
	ki := left.Index(opts.IndicatorKey)
	for r, row := range left.Rows {
		b, ok := index[row[ki]]
		if !ok || row[ki] == "" {
			res.Match[r] = -1
			res.Unmatched++
			continue
		}
		res.Match[r] = b
		referenced[b] = true
		res.Zones[r] = right.Cell(b, opts.ZoneColumn)
		if res.Zones[r] == "" {
			res.EmptyZone++
		}
	}
	for b, ok := range referenced {
		if !ok {
			res.Unreferenced = append(res.Unreferenced, right.Rows[b][right.Index(opts.BoundaryKey)])
		}
	}
	sort.Strings(res.Unreferenced)

	if err := left.AddColumn(opts.ZoneColumn, res.Zones); err != nil {
		return nil, eris.Wrap(err, "reconcile: add zone column")
	}
	res.Table = left

	if left.Len() > 0 {
		res.FailureRate = float64(res.Unmatched) / float64(left.Len())
	}
	log.Info("join complete",
		zap.Int("rows", left.Len()),
		zap.Int("unmatched", res.Unmatched),
		zap.Int("empty_zone", res.EmptyZone),
		zap.Int("unreferenced_boundaries", len(res.Unreferenced)),
		zap.Float64("failure_rate", res.FailureRate),
	)
	if res.EmptyZone > 0 {
		log.Warn("matched rows with empty zone", zap.Int("count", res.EmptyZone), zap.String("zone", opts.ZoneColumn))
	}

	if res.FailureRate > opts.MaxFailureRate {
		return res, eris.Wrapf(ErrCoverage, "%.1f%% of %d rows unmatched on %s (threshold %.1f%%)",
			res.FailureRate*100, left.Len(), opts.IndicatorKey, opts.MaxFailureRate*100)
	}
	return res, nil
}

// RequireWide checks that every non-empty normalized key occurs once.
// Aggregation sums and averages rows per zone, so a stacked table would mix
// vintages into one value.
func RequireWide(indicators *dataset.Table, key string) error {
	t, err := geoid.NormalizeTable(indicators, key)
	if err != nil {
		return eris.Wrap(err, "reconcile: indicator table")
	}
	ki := t.Index(key)
	seen := make(map[string]int, t.Len())
	for r, row := range t.Rows {
		k := row[ki]
		if k == "" {
			continue
		}
		if prev, dup := seen[k]; dup {
			return eris.Wrapf(ErrRepeatedUnit, "%s %q at rows %d and %d; aggregate expects one row per unit (wide table)",
				key, k, prev+1, r+1)
		}
		seen[k] = r
	}
	return nil
}

func keyIndex(t *dataset.Table, key string) (map[string]int, error) {
	ki := t.Index(key)
	index := make(map[string]int, t.Len())
	for r, row := range t.Rows {
		k := row[ki]
		if k == "" {
			continue
		}
		if prev, dup := index[k]; dup {
			return nil, eris.Wrapf(ErrCardinality, "%s %q at rows %d and %d", key, k, prev+1, r+1)
		}
		index[k] = r
	}
	return index, nil
}

// Layer returns the boundary-side join: every boundary unit with the matched
// indicator columns appended, geometry unchanged. Boundary units without an
// indicator row get empty cells. Indicator columns that clash with boundary
// columns are dropped.
func (r *Result) Layer(boundaries *dataset.Layer) (*dataset.Layer, error) {
	right, err := geoid.NormalizeTable(boundaries.Table, r.BoundaryKey)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: boundary layer")
	}

	byBoundary := make([]int, right.Len())
	for i := range byBoundary {
		byBoundary[i] = -1
	}
	for row, b := range r.Match {
		if b >= 0 && byBoundary[b] < 0 {
			byBoundary[b] = row
		}
	}

	var extra []int
	for i, c := range r.Table.Columns {
		if c == r.IndicatorKey || c == r.ZoneColumn || right.Has(c) {
			continue
		}
		extra = append(extra, i)
	}

	out := right.Clone()
	for _, ci := range extra {
		values := make([]string, out.Len())
		for b, row := range byBoundary {
			if row >= 0 {
				values[b] = r.Table.Rows[row][ci]
			}
		}
		if err := out.AddColumn(r.Table.Columns[ci], values); err != nil {
			return nil, eris.Wrap(err, "reconcile: add column")
		}
	}
	return dataset.NewLayer(out, boundaries.Geoms, boundaries.CRS)
}
