package monitoring

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/tract-rollup/internal/config"
)

// Checker closes out a run: it exports the textfile, evaluates the
// snapshot, and delivers any alerts.
type Checker struct {
	metrics *Metrics
	alerter *Alerter
	cfg     config.MetricsConfig
}

// NewChecker creates a run checker.
func NewChecker(metrics *Metrics, cfg config.MetricsConfig) *Checker {
	return &Checker{
		metrics: metrics,
		alerter: NewAlerter(cfg),
		cfg:     cfg,
	}
}

// Check runs once at the end of a command. Export and delivery problems are
// logged, never returned, so they cannot mask the run's own error.
func (c *Checker) Check(ctx context.Context, runID string) []Alert {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	if c.cfg.Textfile != "" {
		if err := c.metrics.WriteTextfile(c.cfg.Textfile); err != nil {
			log.Error("textfile export failed", zap.Error(err))
		} else {
			log.Debug("metrics textfile written", zap.String("path", c.cfg.Textfile))
		}
	}

	snap := c.metrics.Snapshot()
	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("no alerts",
			zap.Int("units", snap.UnitsTotal),
			zap.Int("records", snap.RecordTotal()),
		)
		return nil
	}

	for _, a := range alerts {
		log.Warn("alert triggered",
			zap.String("type", string(a.Type)),
			zap.String("severity", a.Severity),
			zap.String("message", a.Message),
		)
	}

	if err := c.alerter.Notify(ctx, runID, alerts); err != nil {
		log.Error("alert delivery failed", zap.String("run_id", runID), zap.Error(err))
	}
	return alerts
}
