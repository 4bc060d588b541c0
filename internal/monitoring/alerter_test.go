package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pcp-cli/internal/config"
	"github.com/sells-group/pcp-cli/internal/model"
)

func healthySnapshot() *Snapshot {
	return &Snapshot{
		Workday:   true,
		Yesterday: model.TargetProgress{Produced: decimal.NewFromInt(150)},
		MonthToDate: model.TargetProgress{
			MonthlyTarget:     decimal.NewFromInt(2200),
			ExpectedForWindow: decimal.NewFromInt(1000),
			Produced:          decimal.NewFromInt(950),
			AttainmentPercent: 95,
			Remaining:         decimal.NewFromInt(50),
		},
		Issues: 2,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{AttainmentThreshold: 80, MaxIssues: 10})
	assert.Empty(t, a.Evaluate(healthySnapshot()))
}

func TestAlerter_Evaluate_StoreUnavailable(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{AttainmentThreshold: 80})

	snap := healthySnapshot()
	snap.FetchError = "engine: fetch today: store unavailable"
	snap.Yesterday.Produced = decimal.Zero

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStoreUnavailable, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)

	snap = healthySnapshot()
	snap.Circuit = "open"
	alerts = a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStoreUnavailable, alerts[0].Type)
}

func TestAlerter_Evaluate_NoProductionOnWorkday(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	snap := healthySnapshot()
	snap.Yesterday.Produced = decimal.Zero
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertNoProduction, alerts[0].Type)

	snap.Workday = false
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_TargetAtRisk(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{AttainmentThreshold: 80})

	snap := healthySnapshot()
	snap.MonthToDate.Produced = decimal.NewFromInt(250)
	snap.MonthToDate.AttainmentPercent = 25

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertTargetAtRisk, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "25.0%")
	assert.Contains(t, alerts[0].Message, "80.0%")
}

func TestAlerter_Evaluate_TargetCheckNeedsTarget(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{AttainmentThreshold: 80})

	snap := healthySnapshot()
	snap.MonthToDate = model.TargetProgress{Produced: decimal.NewFromInt(10)}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_DataQuality(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{MaxIssues: 1})

	alerts := a.Evaluate(healthySnapshot())
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertDataQuality, alerts[0].Type)
	assert.Equal(t, "low", alerts[0].Severity)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertNoProduction, Severity: "medium", Message: "a"},
		{Type: AlertDataQuality, Severity: "low", Message: "b"},
	})

	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertNoProduction}}))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertNoProduction}}))
}
