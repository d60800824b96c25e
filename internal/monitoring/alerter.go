package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intent-cli/internal/config"
	"github.com/sells-group/intent-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate   AlertType = "run_failure_rate"
	AlertCostOverrun   AlertType = "cost_overrun"
	AlertLowAcceptance AlertType = "low_acceptance"
)

// minFinishedRuns is the sample below which rate alerts stay quiet.
const minFinishedRuns = 5

// Alert is one breached threshold, posted to the webhook as JSON.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// rule inspects a snapshot and reports an alert when its threshold is
// breached. A zero threshold disables the rule.
type rule func(cfg config.MonitoringConfig, s *MetricsSnapshot) (Alert, bool)

var rules = []rule{failureRateRule, costRule, acceptanceRule}

func failureRateRule(cfg config.MonitoringConfig, s *MetricsSnapshot) (Alert, bool) {
	finished := s.RunsComplete + s.RunsFailed
	if cfg.FailureRateThreshold <= 0 || finished < minFinishedRuns || s.FailRate <= cfg.FailureRateThreshold {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertFailureRate,
		Severity: "high",
		Message: fmt.Sprintf(
			"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
			s.FailRate*100, cfg.FailureRateThreshold*100, s.RunsFailed, finished, s.LookbackHours,
		),
		Details: map[string]any{
			"failure_rate": s.FailRate,
			"threshold":    cfg.FailureRateThreshold,
			"failed":       s.RunsFailed,
			"finished":     finished,
		},
	}, true
}

func costRule(cfg config.MonitoringConfig, s *MetricsSnapshot) (Alert, bool) {
	if cfg.CostThresholdUSD <= 0 || s.CostUSD <= cfg.CostThresholdUSD {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertCostOverrun,
		Severity: "high",
		Message: fmt.Sprintf("Backend cost $%.2f exceeds threshold $%.2f in last %dh",
			s.CostUSD, cfg.CostThresholdUSD, s.LookbackHours),
		Details: map[string]any{
			"cost_usd":      s.CostUSD,
			"threshold_usd": cfg.CostThresholdUSD,
			"runs_total":    s.RunsTotal,
		},
	}, true
}

// acceptanceRule fires when too few conversations end in an accepted
// intent, which usually means the taxonomy no longer fits the calls.
func acceptanceRule(cfg config.MonitoringConfig, s *MetricsSnapshot) (Alert, bool) {
	if cfg.MinAcceptRate <= 0 || s.RunsComplete < minFinishedRuns || s.AcceptRate >= cfg.MinAcceptRate {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertLowAcceptance,
		Severity: "medium",
		Message: fmt.Sprintf("Only %.1f%% of conversations reached an accepted intent in last %dh (minimum %.1f%%)",
			s.AcceptRate*100, s.LookbackHours, cfg.MinAcceptRate*100),
		Details: map[string]any{
			"accept_rate":   s.AcceptRate,
			"minimum":       cfg.MinAcceptRate,
			"conversations": s.Conversations,
		},
	}, true
}

// Alerter evaluates snapshots against the configured thresholds and posts
// breaches to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("monitoring", "alert webhook")
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  retry,
	}
}

// Evaluate returns one alert per breached threshold.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()
	for _, r := range rules {
		if alert, ok := r(a.cfg, snap); ok {
			alert.Timestamp = now
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

// SendAlerts posts alerts to the webhook and returns how many were accepted.
// Transient webhook failures are retried.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.post(ctx, alert)
		})
		if err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "monitoring: webhook request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
