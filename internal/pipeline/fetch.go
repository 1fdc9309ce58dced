package pipeline

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/tract-rollup/internal/acs"
	"github.com/sells-group/tract-rollup/internal/config"
	"github.com/sells-group/tract-rollup/internal/dataset"
	"github.com/sells-group/tract-rollup/internal/emit"
	"github.com/sells-group/tract-rollup/internal/fetcher"
	"github.com/sells-group/tract-rollup/internal/resilience"
)

// NewHTTPFetcher builds the shared HTTP fetcher. The Census host gets an
// adaptive limiter at census.requests_per_second.
func NewHTTPFetcher(cfg config.CensusConfig) *fetcher.HTTPFetcher {
	limiters := map[string]*fetcher.AdaptiveLimiter{}
	if u, err := url.Parse(cfg.BaseURL); err == nil && u.Host != "" && cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiters[u.Host] = fetcher.NewAdaptiveLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    cfg.UserAgent,
		Timeout:      cfg.Timeout(),
		RateLimiters: limiters,
	})
}

// RetryConfig converts the retry section. Zero values fall back to the
// resilience defaults.
func RetryConfig(cfg config.RetryConfig) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: time.Duration(cfg.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.MaxBackoffMS) * time.Millisecond,
		Multiplier:     cfg.Multiplier,
		JitterFraction: cfg.Jitter,
	}
}

// Catalog returns the default catalog, or a raw catalog of the configured
// variables when any are set. Custom catalogs carry no derived metrics.
func Catalog(cfg config.CensusConfig) (acs.Catalog, []string) {
	if len(cfg.Variables) == 0 {
		wide := cfg.WideMetrics
		if len(wide) == 0 {
			wide = acs.DefaultWideMetrics()
		}
		return acs.DefaultCatalog(), wide
	}

	vars := make([]acs.Variable, len(cfg.Variables))
	names := make([]string, len(cfg.Variables))
	for i, v := range cfg.Variables {
		vars[i] = acs.Variable{Code: v.Code, Name: v.Name}
		names[i] = v.Name
	}
	wide := cfg.WideMetrics
	if len(wide) == 0 {
		wide = names
	}
	return acs.Catalog{Variables: vars, Columns: names}, wide
}

// counties maps configured county codes to borough names. Codes outside
// New York City keep the code as their name.
func counties(codes []string) map[string]string {
	names := acs.NYCCounties()
	out := make(map[string]string, len(codes))
	for _, c := range codes {
		if n, ok := names[c]; ok {
			out[c] = n
		} else {
			out[c] = c
		}
	}
	return out
}

// Fetch retrieves every (vintage, county) unit and writes the per-vintage,
// stacked and wide CSVs. It returns the result and the wide CSV path.
func (p *Pipeline) Fetch(ctx context.Context, m *emit.Manifest) (*acs.FetchResult, string, error) {
	res, _, path, err := p.fetch(ctx, m)
	return res, path, err
}

// fetch also returns the wide table so Run can aggregate it without
// pivoting the records again.
func (p *Pipeline) fetch(ctx context.Context, m *emit.Manifest) (*acs.FetchResult, *dataset.Table, string, error) {
	var (
		res  *acs.FetchResult
		wide *dataset.Table
		path string
	)
	err := p.stage("fetch", func() error {
		c := p.cfg.Census
		if c.APIKey == "" {
			p.log.Info("no census api key configured; using anonymous quota")
		}

		catalog, wideMetrics := Catalog(c)
		f := acs.NewFetcher(p.transport, acs.Options{
			Years:       c.Vintages,
			State:       c.State,
			Counties:    counties(c.Counties),
			Key:         c.APIKey,
			Catalog:     catalog,
			Retry:       RetryConfig(p.cfg.Retry),
			Politeness:  c.Politeness(),
			Concurrency: c.Concurrency,
			WideMetrics: wideMetrics,
			OnUnit: func(_ acs.Unit, mach *resilience.Machine) {
				p.metrics.ObserveUnit(mach)
			},
		})

		var err error
		res, err = f.FetchAll(ctx)
		if res != nil {
			for _, fail := range res.Failures {
				m.Failures = append(m.Failures, fail.Error())
			}
		}
		if err != nil {
			return err
		}

		for _, y := range c.Vintages {
			n := len(res.ByVintage[y])
			p.metrics.ObserveRecords(y, n)
			if n == 0 {
				p.log.Warn("vintage produced no records", zap.Int("year", y))
			}
		}
		m.Vintages = append([]int(nil), res.Years...)
		m.Counts["records"] = res.Len()
		m.Counts["units_failed"] = len(res.Failures)

		if res.Len() == 0 {
			return ErrNoRecords
		}

		wide, path, err = p.emitter.WriteFetch(res)
		if err != nil {
			return err
		}
		m.Counts["wide_rows"] = wide.Len()
		return nil
	})
	if err != nil {
		return res, nil, "", err
	}
	return res, wide, path, nil
}

// DefaultWidePath is where fetch writes the wide CSV for the configured
// vintages.
func (p *Pipeline) DefaultWidePath() string {
	years := p.cfg.Census.Vintages
	if len(years) == 0 {
		return ""
	}
	first, last := years[0], years[0]
	for _, y := range years {
		if y < first {
			first = y
		}
		if y > last {
			last = y
		}
	}
	return p.emitter.WidePath(first, last)
}
