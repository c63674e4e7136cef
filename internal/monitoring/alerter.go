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

	"github.com/sells-group/leadscout/internal/config"
	"github.com/sells-group/leadscout/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertZeroLeads      AlertType = "zero_leads"
	AlertBlockedRatio   AlertType = "blocked_ratio"
	AlertGlobalTimeout  AlertType = "global_timeout"
	AlertSearchFailures AlertType = "search_failures"
)

// minReadsForRatio is the number of visits below which the blocked ratio
// is too noisy to alert on.
const minReadsForRatio = 4

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	RunID     string         `json:"run_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a run summary against configured thresholds and sends
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

// Evaluate checks one run summary and returns any alerts.
func (a *Alerter) Evaluate(s *model.RunSummary) []Alert {
	var alerts []Alert
	now := time.Now().UTC()
	c := s.Control

	if a.cfg.AlertOnZeroLeads && s.LeadsTotal == 0 {
		alerts = append(alerts, Alert{
			Type:     AlertZeroLeads,
			Severity: "medium",
			Message:  fmt.Sprintf("run produced no leads (%d posts found, %d read)", s.PostsFound, s.PostsRead),
			Details: map[string]any{
				"posts_found": s.PostsFound,
				"posts_read":  s.PostsRead,
				"leads_raw":   s.LeadsRaw,
			},
		})
	}

	if s.PostsRead >= minReadsForRatio && a.cfg.BlockedRatioWarning > 0 {
		ratio := float64(c.BlockedPages+c.NoisePages) / float64(s.PostsRead)
		if ratio > a.cfg.BlockedRatioWarning {
			alerts = append(alerts, Alert{
				Type:     AlertBlockedRatio,
				Severity: "high",
				Message: fmt.Sprintf("blocked page ratio %.1f%% exceeds threshold %.1f%% (%d blocked, %d noise of %d read)",
					ratio*100, a.cfg.BlockedRatioWarning*100, c.BlockedPages, c.NoisePages, s.PostsRead),
				Details: map[string]any{
					"ratio":     ratio,
					"threshold": a.cfg.BlockedRatioWarning,
				},
			})
		}
	}

	if c.GlobalTimeout {
		alerts = append(alerts, Alert{
			Type:     AlertGlobalTimeout,
			Severity: "medium",
			Message:  fmt.Sprintf("global time budget exhausted; %d visits skipped", c.SkippedGlobalTimeout),
			Details: map[string]any{
				"timed_out_platforms": s.TimedOutPlatforms,
			},
		})
	}

	if c.SearchFailures > 0 {
		sev := "low"
		if s.PostsFound == 0 {
			sev = "high"
		}
		alerts = append(alerts, Alert{
			Type:     AlertSearchFailures,
			Severity: sev,
			Message:  fmt.Sprintf("%d search(es) failed", c.SearchFailures),
			Details: map[string]any{
				"search_failures": c.SearchFailures,
				"driver_errors":   c.DriverErrors,
				"circuit_skips":   c.SkippedCircuitOpen,
			},
		})
	}

	for i := range alerts {
		alerts[i].RunID = s.RunID
		alerts[i].Timestamp = now
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
