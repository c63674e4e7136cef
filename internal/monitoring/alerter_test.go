package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscout/internal/config"
	"github.com/sells-group/leadscout/internal/model"
)

func defaultMonitoring() config.MonitoringConfig {
	return config.MonitoringConfig{AlertOnZeroLeads: true, BlockedRatioWarning: 0.5}
}

func healthySummary() *model.RunSummary {
	return &model.RunSummary{RunID: "r1", PostsFound: 12, PostsRead: 10, LeadsTotal: 4}
}

func alertTypes(alerts []Alert) []AlertType {
	var out []AlertType
	for _, a := range alerts {
		out = append(out, a.Type)
	}
	return out
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(defaultMonitoring())
	assert.Empty(t, a.Evaluate(healthySummary()))
}

func TestAlerter_Evaluate_ZeroLeads(t *testing.T) {
	a := NewAlerter(defaultMonitoring())
	s := healthySummary()
	s.LeadsTotal = 0

	alerts := a.Evaluate(s)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertZeroLeads, alerts[0].Type)
	assert.Equal(t, "r1", alerts[0].RunID)
	assert.False(t, alerts[0].Timestamp.IsZero())

	cfg := defaultMonitoring()
	cfg.AlertOnZeroLeads = false
	assert.Empty(t, NewAlerter(cfg).Evaluate(s))
}

func TestAlerter_Evaluate_BlockedRatio(t *testing.T) {
	a := NewAlerter(defaultMonitoring())
	s := healthySummary()
	s.Control.BlockedPages = 5
	s.Control.NoisePages = 1

	alerts := a.Evaluate(s)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertBlockedRatio, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "60.0%")

	s.PostsRead = 3
	assert.Empty(t, a.Evaluate(s), "too few reads to judge")
}

func TestAlerter_Evaluate_TimeoutAndSearchFailures(t *testing.T) {
	a := NewAlerter(defaultMonitoring())
	s := healthySummary()
	s.Control.GlobalTimeout = true
	s.Control.SkippedGlobalTimeout = 7
	s.Control.SearchFailures = 2

	alerts := a.Evaluate(s)
	assert.Equal(t, []AlertType{AlertGlobalTimeout, AlertSearchFailures}, alertTypes(alerts))
	assert.Contains(t, alerts[0].Message, "7 visits skipped")
	assert.Equal(t, "low", alerts[1].Severity)

	s.PostsFound = 0
	alerts = a.Evaluate(s)
	assert.Equal(t, "high", alerts[len(alerts)-1].Severity)
}

func TestAlerter_SendAlerts_Success(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	alerts := []Alert{
		{Type: AlertZeroLeads, Severity: "medium", Message: "test alert 1"},
		{Type: AlertSearchFailures, Severity: "high", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertZeroLeads, Message: "test"}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertZeroLeads, Message: "test"}})
	assert.Equal(t, 0, sent)
}
