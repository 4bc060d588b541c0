package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/pcp-cli/internal/engine"
	"github.com/sells-group/pcp-cli/internal/model"
	"github.com/sells-group/pcp-cli/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// 2024-06-15 is a Saturday; "today" resolves to Friday 2024-06-14.
var testNow = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

// flakyStore fails ListProcessed while fail is set.
type flakyStore struct {
	*store.MemoryStore
	fail atomic.Bool
}

func (s *flakyStore) ListProcessed(ctx context.Context) ([]model.RawDailyRecord, error) {
	if s.fail.Load() {
		return nil, eris.New("store unavailable")
	}
	return s.MemoryStore.ListProcessed(ctx)
}

func processed(id, code, planned, produced string) model.RawDailyRecord {
	return model.RawDailyRecord{
		ID:        id,
		Processed: model.ProcessedYes,
		Shifts: map[string]map[string]model.LineItem{
			"1_turno": {"0": {Code: code, PlannedQuantity: model.Quantity(planned), ProducedWeightKg: model.Quantity(produced)}},
		},
	}
}

func seedStore(t *testing.T) *flakyStore {
	t.Helper()
	ctx := context.Background()
	s := &flakyStore{MemoryStore: store.NewMemory()}
	require.NoError(t, s.PutCatalog(ctx, []model.CatalogEntry{
		{Code: "P-10", Name: "Pine board", Classification: "A"},
		{Code: "P-20", Classification: "B"},
	}))
	rec := processed("2024-06-14", "P-10", "80", "100")
	rec.Shifts["2_turno"] = map[string]model.LineItem{"0": {Code: "P-10", PlannedQuantity: "100", ProducedWeightKg: "50"}}
	require.NoError(t, s.PutRecord(ctx, rec))
	require.NoError(t, s.PutRecord(ctx, processed("2024-06-13", "P-20", "40", "40")))
	return s
}

func newTestServer(t *testing.T, s store.Reader, opts Options) http.Handler {
	t.Helper()
	eng := engine.New(s, engine.Options{
		Location:      time.UTC,
		DebounceDelay: 10 * time.Millisecond,
		FallbackConfig: model.SystemConfig{
			MonthlyTarget:       decimal.NewFromInt(2200),
			WorkingDaysPerMonth: 22,
		},
		Now: func() time.Time { return testNow },
	})
	return New(eng, opts).Handler()
}

func get(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return rr, body
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, seedStore(t), Options{})

	rr, body := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "ok", body["status"])
}

func TestMetrics_Today(t *testing.T) {
	h := newTestServer(t, seedStore(t), Options{})

	rr, body := get(t, h, "/api/v1/metrics?period=today")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "today", body["period"])
	metrics := body["metrics"].(map[string]any)
	assert.Equal(t, "150", metrics["total_produced"])
	assert.Equal(t, "180", metrics["total_planned"])
	assert.EqualValues(t, 2, metrics["fact_count"])
	assert.Nil(t, body["error"])
}

func TestMetrics_InvalidPeriod(t *testing.T) {
	h := newTestServer(t, seedStore(t), Options{})

	rr, body := get(t, h, "/api/v1/metrics?period=fortnight")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, body["error"], "invalid period")

	rr, _ = get(t, h, "/api/v1/metrics?period=custom&start=2024-06-01")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMetrics_FailureReturnsLastKnownGood(t *testing.T) {
	s := seedStore(t)
	h := newTestServer(t, s, Options{})

	rr, _ := get(t, h, "/api/v1/metrics?period=today")
	require.Equal(t, http.StatusOK, rr.Code)

	s.fail.Store(true)
	rr, body := get(t, h, "/api/v1/metrics?period=year")
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, true, body["stale"])
	assert.Contains(t, body["error"], "store unavailable")
	assert.Equal(t, "today", body["period"])
	assert.Equal(t, "150", body["metrics"].(map[string]any)["total_produced"])
}

func TestFacts_CustomRange(t *testing.T) {
	h := newTestServer(t, seedStore(t), Options{})

	rr, body := get(t, h, "/api/v1/facts?start=2024-06-13&end=2024-06-14")
	require.Equal(t, http.StatusOK, rr.Code)
	facts := body["facts"].([]any)
	assert.Len(t, facts, 3)
	first := facts[0].(map[string]any)
	assert.NotEmpty(t, first["product_code"])
}

func TestSeries_Week(t *testing.T) {
	h := newTestServer(t, seedStore(t), Options{})

	rr, body := get(t, h, "/api/v1/series?period=week&top=1")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, body["daily"], 7)
	assert.Len(t, body["top_products"], 1)
	assert.NotEmpty(t, body["classification"])

	rr, _ = get(t, h, "/api/v1/series?period=week&top=zero")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCompare_Today(t *testing.T) {
	h := newTestServer(t, seedStore(t), Options{})

	rr, body := get(t, h, "/api/v1/compare?period=today")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.InDelta(t, 275.0, body["produced_change_pct"], 0.001)
}

func TestTargets_UsesFallbackConfig(t *testing.T) {
	h := newTestServer(t, seedStore(t), Options{})

	rr, body := get(t, h, "/api/v1/targets?period=today")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "2200", body["monthly_target"])
	assert.InDelta(t, 150.0, body["attainment_percent"], 0.001)
}

func TestRecord(t *testing.T) {
	h := newTestServer(t, seedStore(t), Options{})

	rr, body := get(t, h, "/api/v1/records/2024-06-13")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "2024-06-13", body["id"])

	rr, body = get(t, h, "/api/v1/records/2099-01-01")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.NotEmpty(t, body["error"])
}

func TestRefresh_RateLimited(t *testing.T) {
	h := newTestServer(t, seedStore(t), Options{RefreshRPS: 0.001, RefreshBurst: 1})

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/refresh?period=today", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusOK, post().Code)
	rr := post()
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
}

func TestCORS_Preflight(t *testing.T) {
	h := newTestServer(t, seedStore(t), Options{CORSOrigins: []string{"https://dash.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/metrics", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "https://dash.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

// readEvent reads one server-sent event, skipping keep-alive comments.
func readEvent(t *testing.T, rd *bufio.Reader) (string, map[string]any) {
	t.Helper()
	var name, data string
	for {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "" && name != "":
			var body map[string]any
			require.NoError(t, json.Unmarshal([]byte(data), &body))
			return name, body
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestStream_PushesRecomputedMetrics(t *testing.T) {
	s := seedStore(t)
	srv := httptest.NewServer(newTestServer(t, s, Options{}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/stream?period=today", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	rd := bufio.NewReader(resp.Body)
	name, body := readEvent(t, rd)
	assert.Equal(t, "metrics", name)
	assert.Equal(t, "150", body["metrics"].(map[string]any)["total_produced"])
	assert.Equal(t, 1, s.Subscribers())

	require.NoError(t, s.PutRecord(context.Background(), processed("2024-06-14", "P-10", "80", "90")))

	name, body = readEvent(t, rd)
	assert.Equal(t, "metrics", name)
	assert.Equal(t, "90", body["metrics"].(map[string]any)["total_produced"])

	cancel()
	require.Eventually(t, func() bool { return s.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

// closingStore delivers the initial notification and then a stream failure.
type closingStore struct {
	*flakyStore
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

func (s closingStore) Watch(_ context.Context, fn store.ChangeFunc) (store.Subscription, error) {
	fn(model.Change{At: testNow})
	fn(model.Change{At: testNow, Err: eris.New("change stream closed")})
	return noopSubscription{}, nil
}

func TestStream_EndsOnSubscriptionFailure(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t, closingStore{seedStore(t)}, Options{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/stream?period=today")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rd := bufio.NewReader(resp.Body)
	name, _ := readEvent(t, rd)
	assert.Equal(t, "metrics", name)
	name, body := readEvent(t, rd)
	assert.Equal(t, "error", name)
	assert.Contains(t, body["error"], "change stream closed")
}

func TestStream_RequiresWatcher(t *testing.T) {
	type readerOnly struct{ store.Reader }
	h := newTestServer(t, readerOnly{seedStore(t)}, Options{})

	rr, body := get(t, h, "/api/v1/stream?period=today")
	assert.Equal(t, http.StatusNotImplemented, rr.Code)
	assert.NotEmpty(t, body["error"])
}
