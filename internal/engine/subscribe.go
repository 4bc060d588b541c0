package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/pcp-cli/internal/aggregate"
	"github.com/sells-group/pcp-cli/internal/cache"
	"github.com/sells-group/pcp-cli/internal/debounce"
	"github.com/sells-group/pcp-cli/internal/model"
	"github.com/sells-group/pcp-cli/internal/period"
)

// Update is delivered to subscribers after each debounced recompute, or
// when the subscription itself fails. Closed marks a subscription failure:
// no further updates follow it. A failed recompute leaves Closed unset.
type Update struct {
	SubscriptionID string                `json:"subscription_id"`
	Period         period.Period         `json:"period"`
	Window         period.Range          `json:"window"`
	Metrics        model.MetricsSnapshot `json:"metrics"`
	Err            error                 `json:"-"`
	Closed         bool                  `json:"closed,omitempty"`
	At             time.Time             `json:"at"`
}

// subscription is the per-consumer realtime state: whether the initial
// notification has been seen and the single pending recompute.
type subscription struct {
	id       string
	req      period.Request
	pending  *debounce.Debouncer
	onUpdate func(Update)

	mu      sync.Mutex
	primed  bool
	stopped bool
}

// Subscribe watches the processed record set and recomputes req's window
// whenever it changes. The first notification, which every store fires on
// subscribe, is ignored because the caller has just fetched. Each later
// notification invalidates the cached windows and the touched documents, then
// arms a debounced FetchForPeriod. A subscription failure is reported through
// onUpdate and is not retried.
//
// The returned func tears the subscription down and cancels any pending
// recompute. It is safe to call more than once, but not from inside an
// onUpdate call that reports a subscription failure: teardown waits for the
// store's delivery goroutine.
func (e *Engine) Subscribe(ctx context.Context, req period.Request, onUpdate func(Update)) (func(), error) {
	if e.watcher == nil {
		return nil, ErrNoWatcher
	}
	if _, err := e.Resolve(req); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		id:       uuid.NewString(),
		req:      req,
		pending:  debounce.NewWithTimer(e.opts.DebounceDelay, e.opts.AfterFunc),
		onUpdate: onUpdate,
	}
	log := zap.L().With(zap.String("subscription", sub.id), zap.String("period", string(req.Period)))

	handle, err := e.watcher.Watch(ctx, func(c model.Change) { e.onChange(ctx, sub, c, log) })
	if err != nil {
		cancel()
		sub.pending.Stop()
		return nil, err
	}
	log.Debug("engine: subscribed")

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.mu.Lock()
			sub.stopped = true
			sub.mu.Unlock()

			sub.pending.Stop()
			cancel()
			handle.Unsubscribe()
			log.Debug("engine: unsubscribed")
		})
	}, nil
}

func (e *Engine) onChange(ctx context.Context, sub *subscription, c model.Change, log *zap.Logger) {
	sub.mu.Lock()
	if sub.stopped {
		sub.mu.Unlock()
		return
	}
	if c.Err != nil {
		sub.mu.Unlock()
		e.mu.Lock()
		e.lastErr = c.Err
		e.mu.Unlock()
		log.Error("engine: subscription failed", zap.Error(c.Err))
		sub.emit(Update{Err: c.Err, Closed: true, At: e.opts.Now()})
		return
	}
	if !sub.primed {
		sub.primed = true
		sub.mu.Unlock()
		return
	}
	sub.mu.Unlock()

	e.invalidateWindows()
	for _, id := range c.DocumentIDs {
		e.docs.Invalidate(cache.DocKey(id))
	}
	log.Debug("engine: change received", zap.Strings("documents", c.DocumentIDs))

	sub.pending.Trigger(func() {
		facts, err := e.FetchForPeriod(ctx, sub.req)
		if err != nil {
			log.Warn("engine: recompute failed", zap.Error(err))
			sub.emit(Update{Err: err, At: e.opts.Now()})
			return
		}
		w := e.Window()
		log.Info("engine: recomputed",
			zap.Int("facts", len(facts)),
			zap.Time("start", w.Start),
			zap.Time("end", w.End),
		)
		sub.emit(Update{Window: w, Metrics: aggregate.ComputeMetrics(facts), At: e.opts.Now()})
	})
}

func (s *subscription) emit(u Update) {
	u.SubscriptionID = s.id
	u.Period = s.req.Period
	if s.onUpdate != nil {
		s.onUpdate(u)
	}
}
