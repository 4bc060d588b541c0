package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/pcp-cli/internal/aggregate"
	"github.com/sells-group/pcp-cli/internal/engine"
	"github.com/sells-group/pcp-cli/internal/model"
	"github.com/sells-group/pcp-cli/internal/period"
)

// streamBuffer bounds the updates queued for a slow client. Older updates
// are superseded by newer ones, so overflow drops rather than blocks.
const streamBuffer = 8

type streamEvent struct {
	Period  period.Period         `json:"period"`
	Window  period.Range          `json:"window"`
	Metrics model.MetricsSnapshot `json:"metrics"`
	At      time.Time             `json:"at"`
}

// handleStream sends the current metrics, then one "metrics" event per
// debounced recompute until the client goes away. A subscription failure is
// sent as a final "error" event and ends the stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	req, ok := s.request(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	facts, err := s.engine.FetchForPeriod(ctx, req)
	if err != nil {
		s.logFailure(r, "stream", err)
		writeError(w, statusFor(err), err)
		return
	}
	initial := streamEvent{
		Period:  req.Period,
		Window:  s.engine.Window(),
		Metrics: aggregate.ComputeMetrics(facts),
		At:      time.Now(),
	}

	updates := make(chan engine.Update, streamBuffer)
	stop, err := s.engine.Subscribe(ctx, req, func(u engine.Update) {
		select {
		case updates <- u:
		default:
			zap.L().Debug("api: stream client lagging, update dropped")
		}
	})
	if errors.Is(err, engine.ErrNoWatcher) {
		writeError(w, http.StatusNotImplemented, err)
		return
	}
	if err != nil {
		s.logFailure(r, "stream", err)
		writeError(w, statusFor(err), err)
		return
	}
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "metrics", initial); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(s.opts.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case u := <-updates:
			if u.Closed {
				_ = writeEvent(w, "error", map[string]string{"error": u.Err.Error()})
				flusher.Flush()
				return
			}
			if u.Err != nil {
				err = writeEvent(w, "error", map[string]string{"error": u.Err.Error()})
			} else {
				err = writeEvent(w, "metrics", streamEvent{
					Period:  u.Period,
					Window:  u.Window,
					Metrics: u.Metrics,
					At:      u.At,
				})
			}
			if err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
