// Package engine owns the aggregation pipeline for one consumer: the cache
// layer, the store reader, the normalizer and the last-known-good fact set.
// Every Engine is independent; nothing is shared through package state.
package engine

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pcp-cli/internal/aggregate"
	"github.com/sells-group/pcp-cli/internal/cache"
	"github.com/sells-group/pcp-cli/internal/debounce"
	"github.com/sells-group/pcp-cli/internal/model"
	"github.com/sells-group/pcp-cli/internal/normalize"
	"github.com/sells-group/pcp-cli/internal/period"
	"github.com/sells-group/pcp-cli/internal/resilience"
	"github.com/sells-group/pcp-cli/internal/store"
)

// ErrNoWatcher is returned by Subscribe when the engine has no realtime source.
var ErrNoWatcher = eris.New("engine: store does not support realtime subscriptions")

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	// Location is the plant's time zone used for period boundaries.
	Location *time.Location
	// CacheTTL is the freshness window of cached reads.
	CacheTTL time.Duration
	// DebounceDelay coalesces bursts of realtime notifications.
	DebounceDelay time.Duration
	// AfterFunc schedules debounced recomputes. Tests inject a fake.
	AfterFunc debounce.AfterFunc
	// Policy wraps store reads in retries and a circuit breaker.
	Policy *resilience.Policy
	// FallbackConfig is used when the store has no system configuration.
	FallbackConfig model.SystemConfig
	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// window is a cached fact set for one resolved range.
type window struct {
	facts  []model.ProductionFact
	issues []normalize.Issue
}

// State is a snapshot of what the engine currently shows.
type State struct {
	Period    period.Period     `json:"period"`
	Window    period.Range      `json:"window"`
	FactCount int               `json:"fact_count"`
	Issues    []normalize.Issue `json:"issues,omitempty"`
	Loading   bool              `json:"loading"`
	LastError string            `json:"last_error,omitempty"`
	LoadedAt  time.Time         `json:"loaded_at"`
}

// Engine is the aggregation context object. It is safe for concurrent use.
type Engine struct {
	reader  store.Reader
	watcher store.Watcher
	norm    *normalize.Normalizer
	opts    Options

	windows   *cache.Cache[window]
	catalog   *cache.Cache[[]model.CatalogEntry]
	docs      *cache.Cache[model.RawDailyRecord]
	sysConfig *cache.Cache[model.SystemConfig]

	mu       sync.Mutex
	current  window
	req      period.Request
	rng      period.Range
	loading  int
	lastErr  error
	loadedAt time.Time
}

// New creates an Engine reading from r. When r also implements
// store.Watcher, Subscribe is available.
func New(r store.Reader, opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = cache.DefaultTTL
	}
	if opts.DebounceDelay <= 0 {
		opts.DebounceDelay = debounce.DefaultDelay
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = debounce.Std
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	e := &Engine{
		reader:    r,
		norm:      normalize.New(opts.Location),
		opts:      opts,
		windows:   cache.New[window](opts.CacheTTL).WithClock(opts.Now),
		catalog:   cache.New[[]model.CatalogEntry](opts.CacheTTL).WithClock(opts.Now),
		docs:      cache.New[model.RawDailyRecord](opts.CacheTTL).WithClock(opts.Now),
		sysConfig: cache.New[model.SystemConfig](opts.CacheTTL).WithClock(opts.Now),
	}
	if w, ok := r.(store.Watcher); ok {
		e.watcher = w
	}
	return e
}

// Location returns the plant time zone used for period boundaries.
func (e *Engine) Location() *time.Location {
	return e.opts.Location
}

// Breaker returns the circuit breaker guarding store reads, or nil.
func (e *Engine) Breaker() *resilience.CircuitBreaker {
	if e.opts.Policy == nil {
		return nil
	}
	return e.opts.Policy.Breaker
}

// Resolve resolves req against the engine's clock and location.
func (e *Engine) Resolve(req period.Request) (period.Range, error) {
	return period.Resolve(req, e.opts.Now(), e.opts.Location)
}

// FetchForPeriod loads the facts of req's window and makes them the current
// fact set. Named periods are served from cache within the TTL; custom ranges
// always hit the store. On failure the previous fact set stays in place and
// the error is returned and remembered in State.
func (e *Engine) FetchForPeriod(ctx context.Context, req period.Request) ([]model.ProductionFact, error) {
	r, err := e.Resolve(req)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.loading++
	e.mu.Unlock()

	w, err := e.windowFor(ctx, req.Period, r, cache.PeriodKey)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.loading--
	if err != nil {
		e.lastErr = err
		zap.L().Warn("engine: fetch failed, keeping last known good facts",
			zap.String("period", string(req.Period)),
			zap.Int("kept_facts", len(e.current.facts)),
			zap.Error(err),
		)
		return nil, err
	}

	// Last write wins; a superseded fetch is simply overwritten.
	e.current = w
	e.req = req
	e.rng = r
	e.lastErr = nil
	e.loadedAt = e.opts.Now()
	return slices.Clone(w.facts), nil
}

// Refresh drops cached windows and refetches req.
func (e *Engine) Refresh(ctx context.Context, req period.Request) ([]model.ProductionFact, error) {
	e.invalidateWindows()
	return e.FetchForPeriod(ctx, req)
}

// Facts returns a copy of the current fact set.
func (e *Engine) Facts() []model.ProductionFact {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.current.facts)
}

// Metrics reduces the current fact set.
func (e *Engine) Metrics() model.MetricsSnapshot {
	return aggregate.ComputeMetrics(e.Facts())
}

// Window returns the range of the current fact set.
func (e *Engine) Window() period.Range {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng
}

// LastError returns the error of the most recent failed fetch, or nil after
// a successful one.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// State returns a snapshot of the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := State{
		Period:    e.req.Period,
		Window:    e.rng,
		FactCount: len(e.current.facts),
		Issues:    slices.Clone(e.current.issues),
		Loading:   e.loading > 0,
		LoadedAt:  e.loadedAt,
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	return st
}

// Record returns one daily record through the document cache.
func (e *Engine) Record(ctx context.Context, id string) (model.RawDailyRecord, error) {
	key := cache.DocKey(id)
	if rec, ok := e.docs.Get(key); ok {
		return rec, nil
	}
	rec, err := resilience.Call(ctx, e.opts.Policy, "get record", func(ctx context.Context) (*model.RawDailyRecord, error) {
		return e.reader.GetRecord(ctx, id)
	})
	if err != nil {
		return model.RawDailyRecord{}, eris.Wrapf(err, "engine: record %s", id)
	}
	e.docs.Put(key, *rec)
	return *rec, nil
}

// Catalog returns the product catalog through the cache.
func (e *Engine) Catalog(ctx context.Context) ([]model.CatalogEntry, error) {
	if entries, ok := e.catalog.Get(cache.CatalogKey); ok {
		return entries, nil
	}
	entries, err := resilience.Call(ctx, e.opts.Policy, "list catalog", e.reader.ListCatalog)
	if err != nil {
		return nil, eris.Wrap(err, "engine: catalog")
	}
	e.catalog.Put(cache.CatalogKey, entries)
	return entries, nil
}

// SystemConfig returns the stored system configuration, or the fallback
// when the store has none.
func (e *Engine) SystemConfig(ctx context.Context) (model.SystemConfig, error) {
	if cfg, ok := e.sysConfig.Get(cache.SystemConfigKey); ok {
		return cfg, nil
	}
	cfg, err := resilience.Call(ctx, e.opts.Policy, "get system config", e.reader.GetSystemConfig)
	switch {
	case errors.Is(err, store.ErrNotFound):
		zap.L().Debug("engine: no system config stored, using fallback")
		cfg = &e.opts.FallbackConfig
	case err != nil:
		return model.SystemConfig{}, eris.Wrap(err, "engine: system config")
	}
	e.sysConfig.Put(cache.SystemConfigKey, *cfg)
	return *cfg, nil
}

// Compare computes deltas between req's window and the window before it.
// The current fact set is left untouched.
func (e *Engine) Compare(ctx context.Context, req period.Request) (model.Comparison, error) {
	r, err := e.Resolve(req)
	if err != nil {
		return model.Comparison{}, err
	}
	prevRange := period.Previous(req.Period, r)

	var cur, prev window
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cur, err = e.windowFor(gctx, req.Period, r, cache.PeriodKey)
		return err
	})
	g.Go(func() error {
		var err error
		prev, err = e.windowFor(gctx, req.Period, prevRange, cache.PreviousKey)
		return err
	})
	if err := g.Wait(); err != nil {
		return model.Comparison{}, err
	}
	return aggregate.Compare(cur.facts, prev.facts), nil
}

// Targets relates req's window to the monthly target.
func (e *Engine) Targets(ctx context.Context, req period.Request) (model.TargetProgress, error) {
	r, err := e.Resolve(req)
	if err != nil {
		return model.TargetProgress{}, err
	}
	w, err := e.windowFor(ctx, req.Period, r, cache.PeriodKey)
	if err != nil {
		return model.TargetProgress{}, err
	}
	cfg, err := e.SystemConfig(ctx)
	if err != nil {
		return model.TargetProgress{}, err
	}
	return aggregate.TargetProgress(aggregate.ComputeMetrics(w.facts), cfg, r), nil
}

// windowFor returns the facts in r, from cache for named periods.
func (e *Engine) windowFor(ctx context.Context, p period.Period, r period.Range, keyFn func(string, time.Time) string) (window, error) {
	custom := p == period.Custom
	key := keyFn(string(p), r.Start)
	if !custom {
		if w, ok := e.windows.Get(key); ok {
			return w, nil
		}
	}

	w, err := e.load(ctx, r)
	if err != nil {
		return window{}, eris.Wrapf(err, "engine: fetch %s", p)
	}
	if !custom {
		e.windows.Put(key, w)
	}
	return w, nil
}

// load reads the catalog and every processed record, normalizes them and
// keeps the facts that fall in r.
func (e *Engine) load(ctx context.Context, r period.Range) (window, error) {
	var catalog []model.CatalogEntry
	var recs []model.RawDailyRecord

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		catalog, err = e.Catalog(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		recs, err = resilience.Call(gctx, e.opts.Policy, "list processed", e.reader.ListProcessed)
		return eris.Wrap(err, "engine: list processed")
	})
	if err := g.Wait(); err != nil {
		return window{}, err
	}

	res := e.norm.NormalizeWhere(recs, catalog, e.opts.Now(), r.Contains)
	if len(res.Issues) > 0 {
		zap.L().Debug("engine: normalization issues",
			zap.Int("records", len(recs)),
			zap.Int("issues", len(res.Issues)),
			zap.Int("omitted", res.Omitted()),
		)
	}
	return window{facts: res.Facts, issues: res.Issues}, nil
}

func (e *Engine) invalidateWindows() {
	for _, prefix := range cache.WindowPrefixes() {
		e.windows.InvalidatePrefix(prefix)
	}
}
