// Package pipeline wires the fetch and aggregate stages to configuration,
// metrics and the emitter.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tract-rollup/internal/acs"
	"github.com/sells-group/tract-rollup/internal/aggregate"
	"github.com/sells-group/tract-rollup/internal/config"
	"github.com/sells-group/tract-rollup/internal/db"
	"github.com/sells-group/tract-rollup/internal/emit"
	"github.com/sells-group/tract-rollup/internal/fetcher"
	"github.com/sells-group/tract-rollup/internal/monitoring"
)

// ErrNoRecords is returned by the fetch stage when every unit came back empty
// or failed. No CSVs are written in that case.
var ErrNoRecords = eris.New("pipeline: no records fetched")

// Pipeline runs the fetch and aggregate stages for one command invocation.
type Pipeline struct {
	cfg       *config.Config
	fetch     fetcher.Fetcher
	transport acs.Transport
	pool      db.Pool
	emitter   *emit.Emitter
	metrics   *monitoring.Metrics
	log       *zap.Logger
}

// New creates a Pipeline. pool may be nil: PostGIS output and the PostGIS
// dissolver are then unavailable.
func New(cfg *config.Config, f fetcher.Fetcher, pool db.Pool, metrics *monitoring.Metrics) *Pipeline {
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	return &Pipeline{
		cfg:       cfg,
		fetch:     f,
		transport: acs.NewHTTPTransport(cfg.Census.BaseURL, cfg.Census.Dataset, f),
		pool:      pool,
		emitter: emit.New(emit.Options{
			Dir:         cfg.Output.Dir,
			Prefix:      cfg.Output.Prefix,
			JoinedName:  cfg.Output.JoinedName,
			ZonesName:   cfg.Output.ZonesName,
			PreviewRows: cfg.Output.PreviewRows,
			PreviewXLSX: cfg.Output.PreviewXLSX,
			Shapefile:   cfg.Output.Shapefile,
			Schema:      cfg.Output.Schema,
		}, pool),
		metrics: metrics,
		log:     zap.L().With(zap.String("component", "pipeline")),
	}
}

// Emitter exposes the output writer, mainly for its path helpers.
func (p *Pipeline) Emitter() *emit.Emitter { return p.emitter }

// Metrics returns the run metrics.
func (p *Pipeline) Metrics() *monitoring.Metrics { return p.metrics }

// stage times fn, records the outcome in metrics and logs it.
func (p *Pipeline) stage(name string, fn func() error) error {
	done := p.metrics.Stage(name)
	start := time.Now()
	p.log.Info("pipeline: stage starting", zap.String("stage", name))

	err := fn()
	done(err)

	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		p.log.Error("pipeline: stage failed",
			zap.String("stage", name),
			zap.Int64("duration_ms", elapsed),
			zap.Error(err),
		)
		return err
	}
	p.log.Info("pipeline: stage complete",
		zap.String("stage", name),
		zap.Int64("duration_ms", elapsed),
	)
	return nil
}

// Run fetches, then aggregates the in-memory wide table.
func (p *Pipeline) Run(ctx context.Context, m *emit.Manifest) (*aggregate.Result, error) {
	_, wide, _, err := p.fetch(ctx, m)
	if err != nil {
		return nil, err
	}
	return p.Aggregate(ctx, wide, m)
}

// Finish stamps the manifest with runErr, writes it, exports metrics and
// sends alerts. Failures here are logged; the run's own error wins.
func (p *Pipeline) Finish(ctx context.Context, m *emit.Manifest, runErr error) string {
	if runErr != nil {
		m.Error = runErr.Error()
	}
	m.Finish()

	path, err := p.emitter.WriteManifest(m)
	if err != nil {
		p.log.Error("pipeline: manifest not written", zap.Error(err))
	}

	monitoring.NewChecker(p.metrics, p.cfg.Metrics).Check(ctx, m.RunID)
	return path
}
