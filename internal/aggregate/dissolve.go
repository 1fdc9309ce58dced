package aggregate

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/wkb"
	"go.uber.org/zap"

	"github.com/sells-group/tract-rollup/internal/dataset"
	"github.com/sells-group/tract-rollup/internal/db"
	"github.com/sells-group/tract-rollup/internal/geo"
)

// ZoneGeometry is the dissolved outline of one zone.
type ZoneGeometry struct {
	Zone    string
	Geom    *geom.MultiPolygon
	Members int
}

// Dissolver unions boundary polygons that share a zone value. Units with an
// empty zone or no geometry are skipped. Results are sorted by zone.
type Dissolver interface {
	Dissolve(ctx context.Context, layer *dataset.Layer, zoneColumn string) ([]ZoneGeometry, error)
}

type zoneParts struct {
	zones []string
	parts map[string][]*geom.MultiPolygon
}

func groupParts(layer *dataset.Layer, zoneColumn string) (*zoneParts, error) {
	zi := layer.Index(zoneColumn)
	if zi < 0 {
		return nil, eris.Errorf("aggregate: zone column %q not in boundary layer", zoneColumn)
	}
	g := &zoneParts{parts: make(map[string][]*geom.MultiPolygon)}
	for r, row := range layer.Rows {
		z := row[zi]
		mp := layer.Geoms[r]
		if z == "" || mp == nil || mp.NumPolygons() == 0 {
			continue
		}
		if _, ok := g.parts[z]; !ok {
			g.zones = append(g.zones, z)
		}
		g.parts[z] = append(g.parts[z], mp)
	}
	sort.Strings(g.zones)
	return g, nil
}

// EdgeDissolver dissolves in process with geo.Dissolve.
type EdgeDissolver struct{}

// Dissolve implements Dissolver.
func (EdgeDissolver) Dissolve(ctx context.Context, layer *dataset.Layer, zoneColumn string) ([]ZoneGeometry, error) {
	g, err := groupParts(layer, zoneColumn)
	if err != nil {
		return nil, err
	}
	out := make([]ZoneGeometry, 0, len(g.zones))
	for _, z := range g.zones {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mp, err := geo.Dissolve(g.parts[z], layer.CRS.SRID)
		if err != nil {
			return nil, eris.Wrapf(err, "aggregate: dissolve zone %s", z)
		}
		out = append(out, ZoneGeometry{Zone: z, Geom: mp, Members: len(g.parts[z])})
	}
	zap.L().With(zap.String("component", "aggregate.dissolve")).Info("zones dissolved",
		zap.String("dissolver", "edge"),
		zap.Int("zones", len(out)),
	)
	return out, nil
}

const unionSQL = `SELECT zone, count(*)::int, ST_AsBinary(ST_Multi(ST_Union(ST_GeomFromEWKB(g))))
FROM unnest($1::text[], $2::bytea[]) AS u(zone, g)
GROUP BY zone
ORDER BY zone`

// PostGISDissolver sends the parts to PostGIS and lets ST_Union do the work.
type PostGISDissolver struct {
	Pool db.Pool
}

// Dissolve implements Dissolver.
func (d PostGISDissolver) Dissolve(ctx context.Context, layer *dataset.Layer, zoneColumn string) ([]ZoneGeometry, error) {
	g, err := groupParts(layer, zoneColumn)
	if err != nil {
		return nil, err
	}

	var zones []string
	var blobs [][]byte
	for _, z := range g.zones {
		for _, mp := range g.parts[z] {
			b, err := ewkb.Marshal(mp, ewkb.NDR)
			if err != nil {
				return nil, eris.Wrapf(err, "aggregate: encode zone %s", z)
			}
			zones = append(zones, z)
			blobs = append(blobs, b)
		}
	}
	if len(zones) == 0 {
		return nil, nil
	}

	rows, err := d.Pool.Query(ctx, unionSQL, zones, blobs)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: postgis union")
	}
	defer rows.Close()

	var out []ZoneGeometry
	for rows.Next() {
		var (
			zone    string
			members int
			blob    []byte
		)
		if err := rows.Scan(&zone, &members, &blob); err != nil {
			return nil, eris.Wrap(err, "aggregate: scan union")
		}
		t, err := wkb.Unmarshal(blob)
		if err != nil {
			return nil, eris.Wrapf(err, "aggregate: decode zone %s", zone)
		}
		mp, ok := t.(*geom.MultiPolygon)
		if !ok {
			return nil, eris.Errorf("aggregate: zone %s dissolved to %T", zone, t)
		}
		mp.SetSRID(layer.CRS.SRID)
		out = append(out, ZoneGeometry{Zone: zone, Geom: mp, Members: members})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "aggregate: postgis union")
	}
	zap.L().With(zap.String("component", "aggregate.dissolve")).Info("zones dissolved",
		zap.String("dissolver", "postgis"),
		zap.Int("zones", len(out)),
	)
	return out, nil
}
