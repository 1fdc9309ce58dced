package acs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/tract-rollup/internal/resilience"
)

// Unit is one (vintage, county) fetch.
type Unit struct {
	Year   int
	County string
}

func (u Unit) String() string {
	return fmt.Sprintf("%d/%s", u.Year, u.County)
}

// FetchFailure records a unit that produced no records.
type FetchFailure struct {
	Unit
	Attempts  int
	Permanent bool
	Err       error
}

func (f FetchFailure) Error() string {
	kind := "exhausted"
	if f.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("acs: %s %s after %d attempts: %v", f.Unit, kind, f.Attempts, f.Err)
}

// Options configures a Fetcher.
type Options struct {
	Years    []int
	State    string
	Counties map[string]string // county code -> borough name
	Key      string
	Catalog  Catalog
	Retry    resilience.RetryConfig

	// Politeness is the pause between vintages in sequential mode.
	Politeness time.Duration
	// Concurrency > 1 fetches units in parallel.
	Concurrency int
	// WideMetrics are the per-year columns of the wide table.
	WideMetrics []string

	// OnUnit is called after each unit settles with its retry machine.
	OnUnit func(u Unit, m *resilience.Machine)
}

// Fetcher drives one Transport call per unit with retries.
type Fetcher struct {
	transport Transport
	opts      Options
	log       *zap.Logger
}

// NewFetcher returns a Fetcher. Zero-valued options fall back to the NYC defaults.
func NewFetcher(t Transport, opts Options) *Fetcher {
	if len(opts.Catalog.Variables) == 0 {
		opts.Catalog = DefaultCatalog()
	}
	if len(opts.Catalog.Columns) == 0 {
		opts.Catalog.Columns = DefaultColumns()
	}
	if len(opts.Counties) == 0 {
		opts.Counties = NYCCounties()
	}
	if opts.State == "" {
		opts.State = "36"
	}
	if len(opts.WideMetrics) == 0 {
		opts.WideMetrics = DefaultWideMetrics()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Fetcher{
		transport: t,
		opts:      opts,
		log:       zap.L().With(zap.String("component", "acs")),
	}
}

// Units lists every (vintage, county) pair in fetch order.
func (f *Fetcher) Units() []Unit {
	years := append([]int(nil), f.opts.Years...)
	sort.Ints(years)
	counties := make([]string, 0, len(f.opts.Counties))
	for c := range f.opts.Counties {
		counties = append(counties, c)
	}
	sort.Strings(counties)

	units := make([]Unit, 0, len(years)*len(counties))
	for _, y := range years {
		for _, c := range counties {
			units = append(units, Unit{Year: y, County: c})
		}
	}
	return units
}

type unitResult struct {
	unit    Unit
	records []Record
	failure *FetchFailure
}

// FetchAll fetches every unit. Unit failures are collected, not returned;
// the error is non-nil only when ctx is cancelled.
func (f *Fetcher) FetchAll(ctx context.Context) (*FetchResult, error) {
	res := &FetchResult{
		ByVintage:   make(map[int][]Record),
		Columns:     append([]string(nil), f.opts.Catalog.Columns...),
		WideMetrics: append([]string(nil), f.opts.WideMetrics...),
	}

	collect := func(r unitResult) {
		if r.failure != nil {
			res.Failures = append(res.Failures, *r.failure)
			return
		}
		res.ByVintage[r.unit.Year] = append(res.ByVintage[r.unit.Year], r.records...)
	}

	var err error
	if f.opts.Concurrency > 1 {
		err = f.fetchParallel(ctx, collect)
	} else {
		err = f.fetchSequential(ctx, collect)
	}

	res.finish()
	f.log.Info("fetch complete",
		zap.Int("vintages", len(res.Years)),
		zap.Int("records", res.Len()),
		zap.Int("failures", len(res.Failures)),
	)
	if err != nil {
		return res, eris.Wrap(err, "acs: fetch interrupted")
	}
	return res, nil
}

func (f *Fetcher) fetchSequential(ctx context.Context, collect func(unitResult)) error {
	lastYear := 0
	for _, u := range f.Units() {
		if lastYear != 0 && u.Year != lastYear && f.opts.Politeness > 0 {
			if err := resilience.Sleep(ctx, f.opts.Politeness); err != nil {
				return err
			}
		}
		lastYear = u.Year

		r, err := f.fetchUnit(ctx, u)
		if err != nil {
			return err
		}
		collect(r)
	}
	return nil
}

func (f *Fetcher) fetchParallel(ctx context.Context, collect func(unitResult)) error {
	results := make(chan unitResult)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for r := range results {
			collect(r)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)
	for _, u := range f.Units() {
		g.Go(func() error {
			r, err := f.fetchUnit(gctx, u)
			if err != nil {
				return err
			}
			select {
			case results <- r:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	err := g.Wait()
	close(results)
	<-done
	return err
}

// fetchUnit returns an error only when ctx is done.
func (f *Fetcher) fetchUnit(ctx context.Context, u Unit) (unitResult, error) {
	if err := ctx.Err(); err != nil {
		return unitResult{}, err
	}
	req := Request{
		Year:      u.Year,
		State:     f.opts.State,
		County:    u.County,
		Variables: f.opts.Catalog.Codes(),
		Key:       f.opts.Key,
	}

	cfg := f.opts.Retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("census", u.String())
	}

	table, m := resilience.Run(ctx, cfg, func(ctx context.Context) (*Table, error) {
		return f.transport.Query(ctx, req)
	})
	if f.opts.OnUnit != nil {
		f.opts.OnUnit(u, m)
	}

	log := f.log.With(zap.Int("year", u.Year), zap.String("county", u.County))
	switch m.State() {
	case resilience.StateSucceeded:
	case resilience.StateExhausted:
		log.Warn("unit failed after retries", zap.Int("attempts", m.Attempts()), zap.Error(m.Err()))
		return unitResult{unit: u, failure: &FetchFailure{Unit: u, Attempts: m.Attempts(), Err: m.Err()}}, nil
	default:
		if ctx.Err() != nil {
			return unitResult{}, ctx.Err()
		}
		log.Warn("unit failed permanently", zap.Int("attempts", m.Attempts()), zap.Error(m.Err()))
		return unitResult{unit: u, failure: &FetchFailure{Unit: u, Attempts: m.Attempts(), Permanent: true, Err: m.Err()}}, nil
	}

	if len(table.Rows) == 0 {
		log.Warn("empty table returned")
		return unitResult{unit: u}, nil
	}

	records, err := f.opts.Catalog.Build(table, u.Year, f.opts.Counties)
	if err != nil {
		log.Warn("unusable table", zap.Error(err))
		return unitResult{unit: u, failure: &FetchFailure{Unit: u, Attempts: m.Attempts(), Permanent: true, Err: err}}, nil
	}
	log.Debug("unit fetched", zap.Int("tracts", len(records)), zap.Int("attempts", m.Attempts()))
	return unitResult{unit: u, records: records}, nil
}
