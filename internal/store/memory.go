package store

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pcp-cli/internal/model"
)

// MemoryStore is an in-process Store. Notifications are delivered
// synchronously on the writer's goroutine.
type MemoryStore struct {
	mu          sync.RWMutex
	records     map[string]model.RawDailyRecord
	catalog     []model.CatalogEntry
	sysConfig   *model.SystemConfig
	subscribers map[string]ChangeFunc

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		records:     make(map[string]model.RawDailyRecord),
		subscribers: make(map[string]ChangeFunc),
		nowFunc:     time.Now,
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.subscribers)
	return nil
}

func (s *MemoryStore) GetRecord(ctx context.Context, id string) (*model.RawDailyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "memory: get record")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: record %s", id)
	}
	return &rec, nil
}

func (s *MemoryStore) ListProcessed(ctx context.Context) ([]model.RawDailyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "memory: list processed")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.RawDailyRecord
	for _, id := range slices.Sorted(maps.Keys(s.records)) {
		if rec := s.records[id]; rec.IsProcessed() {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListCatalog(ctx context.Context) ([]model.CatalogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "memory: list catalog")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.catalog), nil
}

func (s *MemoryStore) GetSystemConfig(ctx context.Context) (*model.SystemConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "memory: get system config")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sysConfig == nil {
		return nil, eris.Wrap(ErrNotFound, "memory: system config")
	}
	cfg := *s.sysConfig
	return &cfg, nil
}

func (s *MemoryStore) PutRecord(ctx context.Context, rec model.RawDailyRecord) error {
	if rec.ID == "" {
		return eris.New("memory: record id is required")
	}
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "memory: put record")
	}

	s.mu.Lock()
	prev, existed := s.records[rec.ID]
	rec.UpdatedAt = s.nowFunc().UTC()
	s.records[rec.ID] = rec
	subs := slices.Collect(maps.Values(s.subscribers))
	s.mu.Unlock()

	// Only changes to the processed set are visible to subscribers.
	if rec.IsProcessed() || (existed && prev.IsProcessed()) {
		s.notify(subs, model.Change{DocumentIDs: []string{rec.ID}, At: rec.UpdatedAt})
	}
	return nil
}

func (s *MemoryStore) PutCatalog(ctx context.Context, entries []model.CatalogEntry) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "memory: put catalog")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = slices.Clone(entries)
	return nil
}

func (s *MemoryStore) PutSystemConfig(ctx context.Context, cfg model.SystemConfig) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "memory: put system config")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sysConfig = &cfg
	return nil
}

// Watch registers fn and delivers the initial notification before returning.
func (s *MemoryStore) Watch(ctx context.Context, fn ChangeFunc) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "memory: watch")
	}
	id := uuid.NewString()

	s.mu.Lock()
	s.subscribers[id] = fn
	s.mu.Unlock()

	fn(model.Change{At: s.nowFunc().UTC()})

	return &subscription{cancel: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}}, nil
}

// Subscribers returns the number of live subscriptions.
func (s *MemoryStore) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

func (s *MemoryStore) notify(subs []ChangeFunc, c model.Change) {
	for _, fn := range subs {
		fn(c)
	}
}
