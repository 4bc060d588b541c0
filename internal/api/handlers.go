package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sells-group/pcp-cli/internal/aggregate"
	"github.com/sells-group/pcp-cli/internal/model"
	"github.com/sells-group/pcp-cli/internal/period"
	"github.com/sells-group/pcp-cli/internal/store"
)

const defaultTopProducts = 10

// metricsBody is returned by /metrics and /refresh. On a failed fetch it
// carries the last known good metrics with Stale set.
type metricsBody struct {
	Error    string                `json:"error,omitempty"`
	Stale    bool                  `json:"stale,omitempty"`
	Period   period.Period         `json:"period"`
	Window   period.Range          `json:"window"`
	Metrics  model.MetricsSnapshot `json:"metrics"`
	LoadedAt time.Time             `json:"loaded_at"`
}

type factsBody struct {
	Error  string                 `json:"error,omitempty"`
	Stale  bool                   `json:"stale,omitempty"`
	Window period.Range           `json:"window"`
	Facts  []model.ProductionFact `json:"facts"`
}

type seriesBody struct {
	Window         period.Range         `json:"window"`
	Daily          []model.SeriesPoint  `json:"daily"`
	Shifts         []model.LabeledValue `json:"shifts"`
	Classification []model.LabeledValue `json:"classification"`
	TopProducts    []model.LabeledValue `json:"top_products"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.State())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	req, ok := s.request(w, r)
	if !ok {
		return
	}
	_, err := s.engine.FetchForPeriod(r.Context(), req)
	s.writeMetrics(w, r, err)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.refresh.Allow() {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, errors.New("refresh rate limit exceeded"))
		return
	}
	req, ok := s.request(w, r)
	if !ok {
		return
	}
	_, err := s.engine.Refresh(r.Context(), req)
	s.writeMetrics(w, r, err)
}

func (s *Server) writeMetrics(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil && errors.Is(err, period.ErrInvalidPeriod) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	st := s.engine.State()
	body := metricsBody{
		Period:   st.Period,
		Window:   st.Window,
		Metrics:  s.engine.Metrics(),
		LoadedAt: st.LoadedAt,
	}
	status := http.StatusOK
	if err != nil {
		s.logFailure(r, "metrics", err)
		body.Error = err.Error()
		body.Stale = true
		status = statusFor(err)
	}
	writeJSON(w, status, body)
}

func (s *Server) handleFacts(w http.ResponseWriter, r *http.Request) {
	req, ok := s.request(w, r)
	if !ok {
		return
	}
	facts, err := s.engine.FetchForPeriod(r.Context(), req)
	if err != nil {
		if errors.Is(err, period.ErrInvalidPeriod) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		s.logFailure(r, "facts", err)
		writeJSON(w, statusFor(err), factsBody{
			Error:  err.Error(),
			Stale:  true,
			Window: s.engine.Window(),
			Facts:  s.engine.Facts(),
		})
		return
	}
	writeJSON(w, http.StatusOK, factsBody{Window: s.engine.Window(), Facts: facts})
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	req, ok := s.request(w, r)
	if !ok {
		return
	}
	top := defaultTopProducts
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("top must be a positive integer"))
			return
		}
		top = n
	}

	rng, err := s.engine.Resolve(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	facts, err := s.engine.FetchForPeriod(r.Context(), req)
	if err != nil {
		s.logFailure(r, "series", err)
		writeError(w, statusFor(err), err)
		return
	}
	snap := aggregate.ComputeMetrics(facts)
	writeJSON(w, http.StatusOK, seriesBody{
		Window:         rng,
		Daily:          aggregate.DailySeries(facts, rng),
		Shifts:         aggregate.ShiftSeries(snap),
		Classification: aggregate.ClassificationSeries(snap),
		TopProducts:    aggregate.TopProducts(facts, top),
	})
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	req, ok := s.request(w, r)
	if !ok {
		return
	}
	cmp, err := s.engine.Compare(r.Context(), req)
	if err != nil {
		s.logFailure(r, "compare", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	req, ok := s.request(w, r)
	if !ok {
		return
	}
	tp, err := s.engine.Targets(r.Context(), req)
	if err != nil {
		s.logFailure(r, "targets", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, tp)
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.engine.Record(r.Context(), id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logFailure(r, "record", err)
		}
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// request parses the period query parameters, answering 400 on bad input.
func (s *Server) request(w http.ResponseWriter, r *http.Request) (period.Request, bool) {
	q := r.URL.Query()
	req, err := period.ParseRequest(q.Get("period"), q.Get("start"), q.Get("end"), s.engine.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return period.Request{}, false
	}
	return req, true
}

func (s *Server) logFailure(r *http.Request, op string, err error) {
	zap.L().Warn("api: request failed",
		zap.String("op", op),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
}

// statusFor maps engine errors to HTTP status codes. Store failures,
// including an open circuit, are reported as a bad gateway.
func statusFor(err error) int {
	switch {
	case errors.Is(err, period.ErrInvalidPeriod):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
