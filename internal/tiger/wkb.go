package tiger

import (
	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/tract-rollup/internal/geo"
)

// shapeToMultiPolygon converts a shapefile polygon record. Returns nil for
// null shapes and non-polygon types.
func shapeToMultiPolygon(shape shp.Shape, srid int) (*geom.MultiPolygon, error) {
	var parts []int32
	var points []shp.Point
	switch s := shape.(type) {
	case *shp.Polygon:
		parts, points = s.Parts, s.Points
	case *shp.PolygonZ:
		parts, points = s.Parts, s.Points
	case *shp.PolygonM:
		parts, points = s.Parts, s.Points
	default:
		return nil, nil
	}
	if len(parts) == 0 || len(points) == 0 {
		return nil, nil
	}

	rings := make([][]float64, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || end > int32(len(points)) || start >= end {
			continue
		}
		flat := make([]float64, 0, 2*(end-start))
		for _, p := range points[start:end] {
			flat = append(flat, p.X, p.Y)
		}
		rings = append(rings, flat)
	}
	mp, err := geo.Assemble(rings, srid)
	if err != nil {
		return nil, err
	}
	if mp.NumPolygons() == 0 {
		return nil, nil
	}
	return mp, nil
}

// multiPolygonToShape converts to a shapefile polygon with clockwise shells
// and counter-clockwise holes.
func multiPolygonToShape(mp *geom.MultiPolygon) *shp.Polygon {
	out := &shp.Polygon{}
	first := true
	for _, poly := range geo.Polygons(mp) {
		for j, r := range poly {
			out.Parts = append(out.Parts, int32(len(out.Points)))
			r = geo.Oriented(geo.Closed(r), j != 0)
			for i := 0; i+1 < len(r); i += 2 {
				x, y := r[i], r[i+1]
				out.Points = append(out.Points, shp.Point{X: x, Y: y})
				if first {
					out.Box = shp.Box{MinX: x, MinY: y, MaxX: x, MaxY: y}
					first = false
					continue
				}
				out.Box.MinX = min(out.Box.MinX, x)
				out.Box.MinY = min(out.Box.MinY, y)
				out.Box.MaxX = max(out.Box.MaxX, x)
				out.Box.MaxY = max(out.Box.MaxY, y)
			}
		}
	}
	out.NumParts = int32(len(out.Parts))
	out.NumPoints = int32(len(out.Points))
	return out
}
