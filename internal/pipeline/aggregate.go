package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tract-rollup/internal/acs"
	"github.com/sells-group/tract-rollup/internal/aggregate"
	"github.com/sells-group/tract-rollup/internal/classify"
	"github.com/sells-group/tract-rollup/internal/dataset"
	"github.com/sells-group/tract-rollup/internal/emit"
	"github.com/sells-group/tract-rollup/internal/geoid"
	"github.com/sells-group/tract-rollup/internal/reconcile"
	"github.com/sells-group/tract-rollup/internal/tiger"
)

// LoadBoundaries reads boundary.path, or downloads and extracts
// boundary.url into boundary.cache_dir first. With only boundary.tiger_year
// set, the TIGER/Line tract file for census.state is used.
func (p *Pipeline) LoadBoundaries(ctx context.Context) (*dataset.Layer, error) {
	b := p.cfg.Boundary
	path := b.Path
	if path == "" {
		src := b.URL
		if src == "" && b.TigerYear > 0 {
			abbr, ok := tiger.AbbrFromFIPS(p.cfg.Census.State)
			if !ok {
				return nil, eris.Errorf("pipeline: unknown state FIPS %q", p.cfg.Census.State)
			}
			src = tiger.TractURL(b.TigerYear, p.cfg.Census.State)
			p.log.Info("using TIGER/Line tracts", zap.String("state", abbr), zap.Int("year", b.TigerYear))
		}
		if src == "" {
			return nil, eris.New("pipeline: no boundary path or url configured")
		}
		var err error
		path, err = tiger.Download(ctx, p.fetch, src, b.CacheDir)
		if err != nil {
			return nil, err
		}
	}
	return tiger.ReadBoundaries(path, tiger.ReadOptions{SRID: b.SRID})
}

// Dissolver returns the configured dissolve backend.
func (p *Pipeline) Dissolver() (aggregate.Dissolver, error) {
	switch p.cfg.Aggregate.Dissolver {
	case "", "edge":
		return aggregate.EdgeDissolver{}, nil
	case "postgis":
		if p.pool == nil {
			return nil, eris.New("pipeline: postgis dissolver needs output.database_url")
		}
		return aggregate.PostGISDissolver{Pool: p.pool}, nil
	default:
		return nil, eris.Errorf("pipeline: unknown dissolver %q", p.cfg.Aggregate.Dissolver)
	}
}

func (p *Pipeline) rules() (*classify.Rules, error) {
	if p.cfg.Aggregate.RulesFile == "" {
		return classify.DefaultRules(), nil
	}
	return classify.LoadRules(p.cfg.Aggregate.RulesFile)
}

// AggregateFile reads a wide CSV and aggregates it. Stacked tables with one
// row per vintage are rejected.
func (p *Pipeline) AggregateFile(ctx context.Context, path string, m *emit.Manifest) (*aggregate.Result, error) {
	t, err := dataset.ReadFile(ctx, path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read indicators %s", path)
	}
	m.Counts["indicator_rows"] = t.Len()
	return p.Aggregate(ctx, t, m)
}

// Aggregate joins the indicator table to the boundary layer, writes the
// joined layer, and rolls it up to zones.
func (p *Pipeline) Aggregate(ctx context.Context, indicators *dataset.Table, m *emit.Manifest) (*aggregate.Result, error) {
	var res *aggregate.Result
	err := p.stage("aggregate", func() error {
		boundaries, err := p.LoadBoundaries(ctx)
		if err != nil {
			return err
		}
		m.Counts["boundary_units"] = boundaries.Len()

		candidates := p.cfg.Boundary.IDCandidates
		if len(candidates) == 0 {
			candidates = geoid.DefaultCandidates
		}
		ik, err := geoid.FindKey(indicators, candidates)
		if err != nil {
			return eris.Wrap(err, "pipeline: indicator table")
		}
		if err := reconcile.RequireWide(indicators, ik); err != nil {
			return err
		}
		bk, err := geoid.FindKey(boundaries.Table, candidates)
		if err != nil {
			return eris.Wrap(err, "pipeline: boundary layer")
		}

		zoneCol := p.cfg.Boundary.ZoneField
		joined, err := reconcile.Join(indicators, boundaries, reconcile.Options{
			IndicatorKey:   ik,
			BoundaryKey:    bk,
			ZoneColumn:     zoneCol,
			MaxFailureRate: p.cfg.Join.MaxFailureRate,
		})
		if joined != nil {
			p.metrics.ObserveJoin(joined.Table.Len(), joined.Unmatched, joined.EmptyZone, joined.FailureRate)
			m.Counts["joined_rows"] = joined.Table.Len()
			m.Counts["unmatched"] = joined.Unmatched
			m.Counts["empty_zone"] = joined.EmptyZone
			m.Counts["unreferenced_boundaries"] = len(joined.Unreferenced)
		}
		if err != nil {
			return err
		}

		rules, err := p.rules()
		if err != nil {
			return err
		}
		ids := []string{ik, bk, zoneCol, acs.ColYear, acs.ColState, acs.ColCounty, acs.ColBorough, acs.ColTract}
		plan, err := rules.Plan(joined.Table.Columns, ids)
		if err != nil {
			return err
		}

		attrs, err := aggregate.Aggregate(joined, plan)
		if err != nil {
			return err
		}

		joinedLayer, err := joined.Layer(boundaries)
		if err != nil {
			return err
		}
		if err := p.emitter.WriteJoined(ctx, joinedLayer, joinedText(boundaries, ids)); err != nil {
			return err
		}

		dissolver, err := p.Dissolver()
		if err != nil {
			return err
		}
		geoms, err := dissolver.Dissolve(ctx, boundaries, zoneCol)
		if err != nil {
			return err
		}

		res = aggregate.Merge(zoneCol, geoms, attrs)
		for _, w := range res.Warnings {
			p.log.Warn("aggregate warning", zap.String("warning", w))
		}
		m.Warnings = append(m.Warnings, res.Warnings...)
		m.Counts["zones"] = len(res.Zones)
		p.metrics.ObserveZones(len(res.Zones), res.Warnings)

		zones, err := res.Layer(boundaries.CRS)
		if err != nil {
			return err
		}
		return p.emitter.WriteZones(ctx, zones, map[string]bool{zoneCol: true})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// joinedText lists the joined-layer columns stored as text: every boundary
// attribute plus the identifier columns.
func joinedText(boundaries *dataset.Layer, ids []string) map[string]bool {
	text := make(map[string]bool, len(boundaries.Columns)+len(ids))
	for _, c := range boundaries.Columns {
		text[c] = true
	}
	for _, c := range ids {
		text[c] = true
	}
	return text
}
