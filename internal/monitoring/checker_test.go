package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pcp-cli/internal/config"
)

func TestChecker_SendsAlertsOnTick(t *testing.T) {
	got := make(chan Alert, 4)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a Alert
		if err := json.NewDecoder(r.Body).Decode(&a); err == nil {
			select {
			case got <- a:
			default:
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	// Nothing recorded for the last working day.
	eng, _ := newTestEngine(t)
	cfg := config.MonitoringConfig{WebhookURL: ts.URL, CheckInterval: 20 * time.Millisecond}
	checker := NewChecker(NewCollector(eng, nil), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	select {
	case a := <-got:
		assert.Equal(t, AlertNoProduction, a.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("no alert delivered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	eng, _ := newTestEngine(t)
	checker := NewChecker(NewCollector(eng, nil), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	require.NotNil(t, checker)

	// Zero interval defaults to five minutes; a cancelled context returns at once.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}
