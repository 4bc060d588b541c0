// Package store is the boundary to the external document database holding
// daily production records, the product catalog and the system configuration.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pcp-cli/internal/model"
)

// ErrNotFound is returned by point lookups for missing documents.
var ErrNotFound = eris.New("store: not found")

// Reader is the read side used by the aggregation engine.
type Reader interface {
	// GetRecord returns one daily record by id, or ErrNotFound.
	GetRecord(ctx context.Context, id string) (*model.RawDailyRecord, error)
	// ListProcessed returns every record with processed == "yes".
	ListProcessed(ctx context.Context) ([]model.RawDailyRecord, error)
	// ListCatalog returns the whole product catalog.
	ListCatalog(ctx context.Context) ([]model.CatalogEntry, error)
	// GetSystemConfig returns the system configuration record, or ErrNotFound.
	GetSystemConfig(ctx context.Context) (*model.SystemConfig, error)
}

// ChangeFunc receives realtime notifications. A Change with Err set reports a
// subscription failure; no further notifications follow it.
type ChangeFunc func(model.Change)

// Subscription is a live realtime query.
type Subscription interface {
	Unsubscribe()
}

// Watcher opens realtime subscriptions on the processed record set. The
// callback fires once right after subscribing and then on every change.
type Watcher interface {
	Watch(ctx context.Context, fn ChangeFunc) (Subscription, error)
}

// Writer is used by ingestion only; the aggregation engine never writes.
type Writer interface {
	PutRecord(ctx context.Context, rec model.RawDailyRecord) error
	PutCatalog(ctx context.Context, entries []model.CatalogEntry) error
	PutSystemConfig(ctx context.Context, cfg model.SystemConfig) error
}

// Store is a full document database driver.
type Store interface {
	Reader
	Watcher
	Writer

	Migrate(ctx context.Context) error
	Close() error
}

// subscription adapts a cancel func to Subscription.
type subscription struct {
	cancel func()
	done   <-chan struct{}
}

func (s *subscription) Unsubscribe() {
	s.cancel()
	if s.done != nil {
		<-s.done
	}
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MongoStore)(nil)
)
