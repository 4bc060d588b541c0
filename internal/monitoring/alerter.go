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

	"github.com/sells-group/pcp-cli/internal/config"
	"github.com/sells-group/pcp-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertStoreUnavailable AlertType = "store_unavailable"
	AlertNoProduction     AlertType = "no_production"
	AlertTargetAtRisk     AlertType = "target_at_risk"
	AlertDataQuality      AlertType = "data_quality"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if snap.FetchError != "" || snap.Circuit == resilience.CircuitOpen.String() {
		alerts = append(alerts, Alert{
			Type:     AlertStoreUnavailable,
			Severity: "high",
			Message:  "Production store is unavailable; dashboards show last known good data",
			Details: map[string]any{
				"error":   snap.FetchError,
				"circuit": snap.Circuit,
			},
			Timestamp: now,
		})
		// Volume checks are meaningless without fresh data.
		return alerts
	}

	if snap.Workday && snap.Yesterday.Produced.IsZero() {
		alerts = append(alerts, Alert{
			Type:      AlertNoProduction,
			Severity:  "medium",
			Message:   "No processed production was recorded for the last working day",
			Timestamp: now,
		})
	}

	mtd := snap.MonthToDate
	if a.cfg.AttainmentThreshold > 0 && mtd.MonthlyTarget.IsPositive() && mtd.ExpectedForWindow.IsPositive() &&
		mtd.AttainmentPercent < a.cfg.AttainmentThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertTargetAtRisk,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Month-to-date attainment %.1f%% is below threshold %.1f%% (%s of %s expected)",
				mtd.AttainmentPercent, a.cfg.AttainmentThreshold,
				mtd.Produced.StringFixed(2), mtd.ExpectedForWindow.StringFixed(2),
			),
			Details: map[string]any{
				"attainment_percent": mtd.AttainmentPercent,
				"threshold":          a.cfg.AttainmentThreshold,
				"remaining":          mtd.Remaining.String(),
			},
			Timestamp: now,
		})
	}

	if a.cfg.MaxIssues > 0 && snap.Issues > a.cfg.MaxIssues {
		alerts = append(alerts, Alert{
			Type:     AlertDataQuality,
			Severity: "low",
			Message: fmt.Sprintf(
				"%d normalization issues exceed the limit of %d",
				snap.Issues, a.cfg.MaxIssues,
			),
			Details: map[string]any{
				"issues": snap.Issues,
				"limit":  a.cfg.MaxIssues,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
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

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
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
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
