// Package api exposes the aggregation engine to dashboards over HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/pcp-cli/internal/engine"
)

// DefaultHeartbeat is the keep-alive interval of event streams.
const DefaultHeartbeat = 15 * time.Second

// Options configures the HTTP surface.
type Options struct {
	RefreshRPS   float64
	RefreshBurst int
	CORSOrigins  []string
	// Heartbeat is the interval of SSE keep-alive comments.
	Heartbeat time.Duration
}

// Server serves the dashboard API for one engine.
type Server struct {
	engine  *engine.Engine
	refresh *rate.Limiter
	opts    Options
}

// New creates a Server.
func New(eng *engine.Engine, opts Options) *Server {
	if opts.RefreshRPS <= 0 {
		opts.RefreshRPS = 1
	}
	if opts.RefreshBurst <= 0 {
		opts.RefreshBurst = 1
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	return &Server{
		engine:  eng,
		refresh: rate.NewLimiter(rate.Limit(opts.RefreshRPS), opts.RefreshBurst),
		opts:    opts,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/facts", s.handleFacts)
		r.Get("/series", s.handleSeries)
		r.Get("/compare", s.handleCompare)
		r.Get("/targets", s.handleTargets)
		r.Get("/records/{id}", s.handleRecord)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/stream", s.handleStream)
	})
	return r
}

// ListenAndServe serves on port until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, h http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end with ctx so open event streams let Shutdown finish.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("api: starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- eris.Wrap(err, "api: listen")
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zap.L().Info("api: shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "api: shutdown")
	}
	return <-errCh
}
