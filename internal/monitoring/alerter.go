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

	"github.com/dropwatch/dropwatch/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertLookupFailureRate AlertType = "lookup_failure_rate"
	AlertSignalRejectRate  AlertType = "signal_reject_rate"
	AlertAnomalySpike      AlertType = "anomaly_spike"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// minSampleSize keeps rate alerts quiet on tiny passes, where one failure
// swings the percentage wildly.
const minSampleSize = 5

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
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
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.LookupsAttempted >= minSampleSize && snap.LookupFailRate > a.cfg.LookupFailThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertLookupFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Historical lookup failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d attempted)",
				snap.LookupFailRate*100, a.cfg.LookupFailThreshold*100,
				snap.LookupsFailed, snap.LookupsAttempted,
			),
			Details: map[string]any{
				"fail_rate": snap.LookupFailRate,
				"threshold": a.cfg.LookupFailThreshold,
				"failed":    snap.LookupsFailed,
				"attempted": snap.LookupsAttempted,
			},
			Timestamp: now,
		})
	}

	sampled := snap.SignalsAccepted + snap.SignalsRejected
	if sampled >= minSampleSize && snap.SignalRejectRate > a.cfg.SignalRejectThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSignalRejectRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Page signal rejection rate %.1f%% exceeds threshold %.1f%% (%d rejected / %d pages)",
				snap.SignalRejectRate*100, a.cfg.SignalRejectThreshold*100,
				snap.SignalsRejected, sampled,
			),
			Details: map[string]any{
				"reject_rate": snap.SignalRejectRate,
				"threshold":   a.cfg.SignalRejectThreshold,
				"by_reason":   snap.RejectionsByReason,
			},
			Timestamp: now,
		})
	}

	if a.cfg.AnomalyThreshold > 0 && snap.AnomaliesCorrected > a.cfg.AnomalyThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertAnomalySpike,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d cross-mode bound anomalies corrected in one pass (threshold %d); upstream data quality may have regressed",
				snap.AnomaliesCorrected, a.cfg.AnomalyThreshold,
			),
			Details: map[string]any{
				"corrected": snap.AnomaliesCorrected,
				"threshold": a.cfg.AnomalyThreshold,
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
		if err := a.send(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}

func (a *Alerter) send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build alert request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post alert")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return eris.Errorf("monitoring: alert webhook status %d", resp.StatusCode)
	}
	return nil
}
