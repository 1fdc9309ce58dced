package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tract-rollup/internal/config"
	"github.com/sells-group/tract-rollup/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFetchFailureRate AlertType = "fetch_failure_rate"
	AlertJoinCoverage     AlertType = "join_coverage"
	AlertEmptyColumns     AlertType = "empty_columns"
	AlertRunFailed        AlertType = "run_failed"
)

// Alert is one finding about a finished run.
type Alert struct {
	Type     AlertType      `json:"type"`
	Severity string         `json:"severity"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
}

// Notification is the webhook body: every alert of one run in a single post.
type Notification struct {
	Source string    `json:"source"`
	RunID  string    `json:"run_id"`
	SentAt time.Time `json:"sent_at"`
	Alerts []Alert   `json:"alerts"`
}

// Alerter turns a run Snapshot into alerts and posts them to a webhook.
type Alerter struct {
	cfg    config.MetricsConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates an Alerter. Webhook posts are retried on 5xx and
// network errors.
func NewAlerter(cfg config.MetricsConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			Multiplier:     2,
			OnRetry:        resilience.RetryLogger("webhook", "notify"),
		},
	}
}

// Evaluate checks the snapshot against thresholds. Run failure comes first,
// then fetch, join and aggregate findings in pipeline order.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert

	if snap.Error != "" {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailed,
			Severity: "high",
			Message:  "run failed: " + snap.Error,
			Details:  map[string]any{"units": snap.UnitsTotal, "records": snap.RecordTotal()},
		})
	}

	if snap.UnitsTotal > 0 && snap.FetchFailRate > a.cfg.FetchFailureThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFetchFailureRate,
			Severity: "high",
			Message: fmt.Sprintf("%d of %d fetch units failed (%.1f%%, threshold %.1f%%)",
				snap.UnitsFailed, snap.UnitsTotal, snap.FetchFailRate*100, a.cfg.FetchFailureThreshold*100),
			Details: map[string]any{"failed": snap.UnitsFailed, "units": snap.UnitsTotal, "threshold": a.cfg.FetchFailureThreshold},
		})
	}

	// Coverage past join.max_failure_rate already fails the run.
	if snap.JoinUnmatched > 0 || snap.JoinEmptyZone > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertJoinCoverage,
			Severity: "medium",
			Message: fmt.Sprintf("%d of %d indicator rows unmatched (%.2f%%), %d matched without a zone",
				snap.JoinUnmatched, snap.JoinRows, snap.JoinFailureRate*100, snap.JoinEmptyZone),
			Details: map[string]any{"unmatched": snap.JoinUnmatched, "empty_zone": snap.JoinEmptyZone, "rows": snap.JoinRows},
		})
	}

	if len(snap.Warnings) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertEmptyColumns,
			Severity: "low",
			Message:  strings.Join(snap.Warnings, "; "),
			Details:  map[string]any{"count": len(snap.Warnings)},
		})
	}

	return alerts
}

// Notify posts all alerts for runID in one request. It is a no-op without a
// webhook URL or alerts.
func (a *Alerter) Notify(ctx context.Context, runID string, alerts []Alert) error {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return nil
	}
	body, err := json.Marshal(Notification{
		Source: "tract-rollup",
		RunID:  runID,
		SentAt: time.Now().UTC(),
		Alerts: alerts,
	})
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal notification")
	}
	return resilience.Do(ctx, a.retry, func(ctx context.Context) error {
		return a.post(ctx, body)
	})
}

func (a *Alerter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return resilience.NewPermanentError(eris.Wrap(err, "monitoring: create webhook request"), 0)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "monitoring: webhook request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return resilience.NewTransientError(eris.Errorf("monitoring: webhook returned %d", resp.StatusCode), resp.StatusCode)
	case resp.StatusCode >= 300:
		return resilience.NewPermanentError(eris.Errorf("monitoring: webhook returned %d", resp.StatusCode), resp.StatusCode)
	}
	zap.L().Debug("monitoring: webhook delivered", zap.Int("status", resp.StatusCode))
	return nil
}
