package aggregate

import (
	"fmt"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/tract-rollup/internal/dataset"
)

// Zone is one output row: aggregated values aligned to Result.Columns and
// the dissolved outline.
type Zone struct {
	ID      string
	Values  []dataset.Float
	Geom    *geom.MultiPolygon
	Members int
}

// Result is the zone-level dataset.
type Result struct {
	ZoneColumn string
	Columns    []string
	Zones      []Zone
	NullZone   int
	Warnings   []string
}

// Merge joins dissolved geometry with the attribute aggregate by zone id.
// Rows come from the geometry side; a zone without attribute rows gets
// absent values. Columns absent for every zone are reported as warnings.
func Merge(zoneColumn string, geoms []ZoneGeometry, attrs *Attributes) *Result {
	log := zap.L().With(zap.String("component", "aggregate.merge"))

	res := &Result{
		ZoneColumn: zoneColumn,
		Columns:    attrs.Columns,
		NullZone:   attrs.NullZone,
		Zones:      make([]Zone, 0, len(geoms)),
	}
	seen := make(map[string]bool, len(geoms))
	for _, g := range geoms {
		seen[g.Zone] = true
		values, ok := attrs.Values[g.Zone]
		if !ok {
			values = make([]dataset.Float, len(attrs.Columns))
		}
		res.Zones = append(res.Zones, Zone{ID: g.Zone, Values: values, Geom: g.Geom, Members: attrs.Members[g.Zone]})
	}

	var orphan int
	for _, z := range attrs.Zones {
		if !seen[z] {
			orphan++
		}
	}
	if orphan > 0 {
		log.Warn("aggregated zones without geometry dropped", zap.Int("zones", orphan))
	}

	for i, c := range res.Columns {
		absent := true
		for _, z := range res.Zones {
			if z.Values[i].Valid {
				absent = false
				break
			}
		}
		if absent {
			res.Warnings = append(res.Warnings, fmt.Sprintf("column %s is missing for every zone", c))
		}
	}
	if len(res.Warnings) > 0 {
		log.Warn("columns missing after aggregation",
			zap.Int("count", len(res.Warnings)),
			zap.Strings("warnings", res.Warnings),
		)
	}
	return res
}

// Table returns the zone rows as text: the zone column, a tract count, then
// the aggregated columns.
func (r *Result) Table() *dataset.Table {
	cols := append([]string{r.ZoneColumn, "tract_count"}, r.Columns...)
	t := dataset.NewTable(cols...)
	for _, z := range r.Zones {
		row := make([]string, 0, len(cols))
		row = append(row, z.ID, fmt.Sprint(z.Members))
		for _, v := range z.Values {
			row = append(row, v.String())
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Layer returns the zones as a polygon layer in crs.
func (r *Result) Layer(crs dataset.CRS) (*dataset.Layer, error) {
	geoms := make([]*geom.MultiPolygon, len(r.Zones))
	for i, z := range r.Zones {
		geoms[i] = z.Geom
	}
	return dataset.NewLayer(r.Table(), geoms, crs)
}
