package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sells-group/tract-rollup/internal/db"
	"github.com/sells-group/tract-rollup/internal/emit"
	"github.com/sells-group/tract-rollup/internal/monitoring"
	"github.com/sells-group/tract-rollup/internal/pipeline"
)

// runEnv holds what a pipeline command needs and must release.
type runEnv struct {
	Pipeline *pipeline.Pipeline
	pool     *pgxpool.Pool
}

// initPipeline validates config for mode and builds the pipeline. A database
// connection is opened only when output.database_url is set.
func initPipeline(ctx context.Context, mode string) (*runEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &runEnv{}
	var pool db.Pool
	if cfg.Output.DatabaseURL != "" {
		p, err := db.Connect(ctx, cfg.Output.DatabaseURL)
		if err != nil {
			return nil, err
		}
		env.pool = p
		pool = p
		fmt.Println("Connected to database")
	}

	env.Pipeline = pipeline.New(cfg, pipeline.NewHTTPFetcher(cfg.Census), pool, monitoring.NewMetrics())
	return env, nil
}

// Close releases the database pool.
func (e *runEnv) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
}

// finish writes the manifest and prints where it went.
func (e *runEnv) finish(ctx context.Context, m *emit.Manifest, runErr error) {
	if path := e.Pipeline.Finish(ctx, m, runErr); path != "" {
		fmt.Printf("Manifest: %s\n", path)
	}
}

func printOutputs(m *emit.Manifest, outputs []string) {
	fmt.Printf("Run %s (%s) finished in %.1fs\n", m.RunID, m.Command, m.Seconds)
	for _, o := range outputs {
		fmt.Printf("  %s\n", o)
	}
	if len(m.Failures) > 0 {
		fmt.Printf("%d fetch unit(s) failed:\n  %s\n", len(m.Failures), strings.Join(m.Failures, "\n  "))
	}
	for _, w := range m.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
}

// splitAndTrim splits a comma-separated flag value.
func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
