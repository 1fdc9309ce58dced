// Package aggregate rolls joined tract rows up to zones: attribute reduction
// per the classification plan, geometry dissolve, and the merge of the two.
package aggregate

import (
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tract-rollup/internal/classify"
	"github.com/sells-group/tract-rollup/internal/dataset"
	"github.com/sells-group/tract-rollup/internal/reconcile"
)

// Attributes is the per-zone reduction of the joined rows.
type Attributes struct {
	// Columns is the plan's output order: sums, then weighted means.
	Columns []string
	// Zones is sorted.
	Zones   []string
	Values  map[string][]dataset.Float
	Members map[string]int
	// NullZone counts rows excluded for having no zone.
	NullZone int
}

// Aggregate groups rows with a non-empty zone and reduces each planned column.
func Aggregate(joined *reconcile.Result, plan *classify.Plan) (*Attributes, error) {
	t := joined.Table
	cols := plan.Output()
	idx := make([]int, len(cols))
	for i, c := range cols {
		if idx[i] = t.Index(c); idx[i] < 0 {
			return nil, eris.Errorf("aggregate: column %q not in joined table", c)
		}
	}
	wi := -1
	if len(plan.WeightedMean) > 0 {
		if wi = t.Index(plan.Weight); wi < 0 {
			return nil, eris.Wrapf(classify.ErrNoWeightColumn, "aggregate: %q not in joined table", plan.Weight)
		}
	}

	groups := make(map[string][]int)
	attrs := &Attributes{
		Columns: cols,
		Values:  make(map[string][]dataset.Float),
		Members: make(map[string]int),
	}
	for r := range t.Rows {
		z := joined.Zone(r)
		if z == "" {
			attrs.NullZone++
			continue
		}
		if _, ok := groups[z]; !ok {
			attrs.Zones = append(attrs.Zones, z)
		}
		groups[z] = append(groups[z], r)
	}
	sort.Strings(attrs.Zones)

	nSum := len(plan.Sum)
	for _, z := range attrs.Zones {
		rows := groups[z]
		values := make([]dataset.Float, len(cols))
		for i, ci := range idx {
			if i < nSum {
				values[i] = sumOf(t, rows, ci)
			} else {
				values[i] = weightedMeanOf(t, rows, ci, wi)
			}
		}
		attrs.Values[z] = values
		attrs.Members[z] = len(rows)
	}

	log := zap.L().With(zap.String("component", "aggregate"))
	if attrs.NullZone > 0 {
		log.Warn("rows without zone excluded", zap.Int("rows", attrs.NullZone))
	}
	log.Info("attributes aggregated",
		zap.Int("zones", len(attrs.Zones)),
		zap.Int("columns", len(cols)),
	)
	return attrs, nil
}

// Sum adds the present values, smallest first. All absent gives absent.
func Sum(values []dataset.Float) dataset.Float {
	var present []float64
	for _, v := range values {
		if v.Valid {
			present = append(present, v.Value)
		}
	}
	if len(present) == 0 {
		return dataset.Absent()
	}
	sort.Float64s(present)
	total := 0.0
	for _, v := range present {
		total += v
	}
	return dataset.Some(total)
}

// WeightedMean returns Σ(v·w)/Σw over the pairs where both are present.
// No such pair, or Σw of zero, gives absent.
func WeightedMean(values, weights []dataset.Float) dataset.Float {
	type pair struct{ v, w float64 }
	var pairs []pair
	for i, v := range values {
		if v.Valid && weights[i].Valid {
			pairs = append(pairs, pair{v.Value, weights[i].Value})
		}
	}
	if len(pairs) == 0 {
		return dataset.Absent()
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].v != pairs[j].v {
			return pairs[i].v < pairs[j].v
		}
		return pairs[i].w < pairs[j].w
	})
	var num, den float64
	for _, p := range pairs {
		num += p.v * p.w
		den += p.w
	}
	if den == 0 {
		return dataset.Absent()
	}
	return dataset.Some(num / den)
}

func sumOf(t *dataset.Table, rows []int, col int) dataset.Float {
	values := make([]dataset.Float, len(rows))
	for i, r := range rows {
		values[i] = dataset.ParseFloat(t.Rows[r][col])
	}
	return Sum(values)
}

func weightedMeanOf(t *dataset.Table, rows []int, col, weight int) dataset.Float {
	values := make([]dataset.Float, len(rows))
	weights := make([]dataset.Float, len(rows))
	for i, r := range rows {
		values[i] = dataset.ParseFloat(t.Rows[r][col])
		weights[i] = dataset.ParseFloat(t.Rows[r][weight])
	}
	return WeightedMean(values, weights)
}
