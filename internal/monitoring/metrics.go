// Package monitoring records run metrics in a Prometheus registry, exports
// them as a node_exporter textfile, and raises webhook alerts when a run
// looks unhealthy.
package monitoring

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"

	"github.com/sells-group/tract-rollup/internal/resilience"
)

const namespace = "rollup"

// Metrics is the per-run metric set. Each run gets its own registry so
// textfile exports never mix runs.
type Metrics struct {
	registry *prometheus.Registry

	units      *prometheus.CounterVec
	attempts   prometheus.Counter
	retryDelay prometheus.Histogram
	records    *prometheus.GaugeVec

	joinRows        prometheus.Gauge
	joinUnmatched   prometheus.Gauge
	joinEmptyZone   prometheus.Gauge
	joinFailureRate prometheus.Gauge

	zones         prometheus.Gauge
	warnings      prometheus.Counter
	stageDuration *prometheus.HistogramVec
	lastSuccess   prometheus.Gauge

	mu   sync.Mutex
	snap Snapshot
}

// NewMetrics registers a fresh metric set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_units_total",
			Help:      "Fetch units settled, by final retry state.",
		}, []string{"outcome"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Census API calls made, including retries.",
		}),
		retryDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_retry_delay_seconds",
			Help:      "Backoff delays slept between attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to 64s
		}),
		records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetch_records",
			Help:      "Tract records fetched per vintage.",
		}, []string{"vintage"}),
		joinRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "join_rows",
			Help:      "Indicator rows considered by the join.",
		}),
		joinUnmatched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "join_unmatched_rows",
			Help:      "Indicator rows with no boundary match.",
		}),
		joinEmptyZone: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "join_empty_zone_rows",
			Help:      "Matched rows whose boundary has no zone.",
		}),
		joinFailureRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "join_failure_rate",
			Help:      "Unmatched share of indicator rows.",
		}),
		zones: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "aggregate_zones",
			Help:      "Zones written by the aggregate stage.",
		}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregate_warnings_total",
			Help:      "Non-fatal aggregate warnings.",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time per pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27min
		}, []string{"stage"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time the last stage finished without error.",
		}),
	}
	reg.MustRegister(
		m.units, m.attempts, m.retryDelay, m.records,
		m.joinRows, m.joinUnmatched, m.joinEmptyZone, m.joinFailureRate,
		m.zones, m.warnings, m.stageDuration, m.lastSuccess,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveUnit records a settled retry machine. It is safe for concurrent use.
func (m *Metrics) ObserveUnit(mach *resilience.Machine) {
	state := mach.State()
	m.units.WithLabelValues(state.String()).Inc()
	m.attempts.Add(float64(mach.Attempts()))
	for _, d := range mach.Delays() {
		m.retryDelay.Observe(d.Seconds())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.UnitsTotal++
	m.snap.Attempts += mach.Attempts()
	if state != resilience.StateSucceeded {
		m.snap.UnitsFailed++
	}
}

// ObserveRecords records the record count of one vintage.
func (m *Metrics) ObserveRecords(year, n int) {
	m.records.WithLabelValues(strconv.Itoa(year)).Set(float64(n))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.Records == nil {
		m.snap.Records = make(map[int]int)
	}
	m.snap.Records[year] = n
}

// ObserveJoin records join coverage.
func (m *Metrics) ObserveJoin(rows, unmatched, emptyZone int, failureRate float64) {
	m.joinRows.Set(float64(rows))
	m.joinUnmatched.Set(float64(unmatched))
	m.joinEmptyZone.Set(float64(emptyZone))
	m.joinFailureRate.Set(failureRate)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.JoinRows = rows
	m.snap.JoinUnmatched = unmatched
	m.snap.JoinEmptyZone = emptyZone
	m.snap.JoinFailureRate = failureRate
}

// ObserveZones records the aggregate output.
func (m *Metrics) ObserveZones(zones int, warnings []string) {
	m.zones.Set(float64(zones))
	m.warnings.Add(float64(len(warnings)))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Zones = zones
	m.snap.Warnings = append(m.snap.Warnings, warnings...)
}

// Stage starts timing a stage. The returned func stops the timer and, when
// err is nil, stamps the last-success gauge.
func (m *Metrics) Stage(name string) func(err error) {
	timer := prometheus.NewTimer(m.stageDuration.WithLabelValues(name))
	return func(err error) {
		timer.ObserveDuration()
		if err == nil {
			m.lastSuccess.SetToCurrentTime()
			return
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		m.snap.Error = err.Error()
	}
}

// WriteTextfile writes every metric in the text exposition format. The
// write is atomic.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return eris.Wrapf(err, "monitoring: write textfile %s", path)
	}
	return nil
}
