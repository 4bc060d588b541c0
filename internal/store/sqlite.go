package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/pcp-cli/internal/model"
)

// DefaultPollInterval is how often SQLite subscriptions check for changes.
const DefaultPollInterval = 2 * time.Second

// DefaultChangeRetention is how long change log rows are kept. A poller
// stalled for longer misses the pruned changes.
const DefaultChangeRetention = 24 * time.Hour

// stampLayout is fixed width so stored stamps compare as text.
const stampLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using modernc.org/sqlite. Records are stored
// as JSON documents; realtime subscriptions poll a change log.
type SQLiteStore struct {
	db           *sql.DB
	pollInterval time.Duration
	retention    time.Duration
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithPollInterval sets the subscription polling interval.
func WithPollInterval(d time.Duration) SQLiteOption {
	return func(s *SQLiteStore) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithChangeRetention sets how long change log rows are kept.
func WithChangeRetention(d time.Duration) SQLiteOption {
	return func(s *SQLiteStore) {
		if d > 0 {
			s.retention = d
		}
	}
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, opts ...SQLiteOption) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// One writer connection keeps pragmas and transactions on the same handle.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, pollInterval: DefaultPollInterval, retention: DefaultChangeRetention}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS daily_records (
	id         TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	processed  TEXT NOT NULL DEFAULT 'no',
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS record_changes (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	record_id  TEXT NOT NULL,
	changed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS catalog (
	code           TEXT PRIMARY KEY,
	name           TEXT NOT NULL DEFAULT '',
	classification TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS system_config (
	id                     INTEGER PRIMARY KEY CHECK (id = 1),
	monthly_target         TEXT NOT NULL,
	working_days_per_month INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_daily_records_processed ON daily_records(processed);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*model.RawDailyRecord, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM daily_records WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: record %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", id)
	}
	var rec model.RawDailyRecord
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, eris.Wrapf(err, "sqlite: decode record %s", id)
	}
	return &rec, nil
}

func (s *SQLiteStore) ListProcessed(ctx context.Context) ([]model.RawDailyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, doc FROM daily_records WHERE processed = ? ORDER BY id`, string(model.ProcessedYes))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list processed")
	}
	defer rows.Close()

	var out []model.RawDailyRecord
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		var rec model.RawDailyRecord
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			zap.L().Warn("sqlite: skipping undecodable record", zap.String("id", id), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list processed iterate")
}

func (s *SQLiteStore) ListCatalog(ctx context.Context) ([]model.CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, name, classification FROM catalog ORDER BY code`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list catalog")
	}
	defer rows.Close()

	var out []model.CatalogEntry
	for rows.Next() {
		var e model.CatalogEntry
		if err := rows.Scan(&e.Code, &e.Name, &e.Classification); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan catalog")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list catalog iterate")
}

func (s *SQLiteStore) GetSystemConfig(ctx context.Context) (*model.SystemConfig, error) {
	var target string
	var cfg model.SystemConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT monthly_target, working_days_per_month FROM system_config WHERE id = 1`,
	).Scan(&target, &cfg.WorkingDaysPerMonth)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "sqlite: system config")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get system config")
	}
	if cfg.MonthlyTarget, err = decimal.NewFromString(target); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse monthly target")
	}
	return &cfg, nil
}

func (s *SQLiteStore) PutRecord(ctx context.Context, rec model.RawDailyRecord) error {
	if rec.ID == "" {
		return eris.New("sqlite: record id is required")
	}
	rec.UpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal record")
	}
	stamp := rec.UpdatedAt.Format(stampLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var prev string
	err = tx.QueryRowContext(ctx, `SELECT processed FROM daily_records WHERE id = ?`, rec.ID).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(err, "sqlite: read record %s", rec.ID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO daily_records (id, doc, processed, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET doc = excluded.doc, processed = excluded.processed, updated_at = excluded.updated_at`,
		rec.ID, string(doc), string(rec.Processed), stamp,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert record %s", rec.ID)
	}

	if rec.IsProcessed() || prev == string(model.ProcessedYes) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO record_changes (record_id, changed_at) VALUES (?, ?)`, rec.ID, stamp,
		); err != nil {
			return eris.Wrapf(err, "sqlite: log change %s", rec.ID)
		}
		cutoff := rec.UpdatedAt.Add(-s.retention).Format(stampLayout)
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM record_changes WHERE changed_at < ?`, cutoff,
		); err != nil {
			return eris.Wrap(err, "sqlite: prune changes")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit record")
}

func (s *SQLiteStore) PutCatalog(ctx context.Context, entries []model.CatalogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM catalog`); err != nil {
		return eris.Wrap(err, "sqlite: clear catalog")
	}
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO catalog (code, name, classification) VALUES (?, ?, ?)`,
			e.Code, e.Name, e.Classification,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert catalog %s", e.Code)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit catalog")
}

func (s *SQLiteStore) PutSystemConfig(ctx context.Context, cfg model.SystemConfig) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_config (id, monthly_target, working_days_per_month) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET monthly_target = excluded.monthly_target,
		 working_days_per_month = excluded.working_days_per_month`,
		cfg.MonthlyTarget.String(), cfg.WorkingDaysPerMonth,
	)
	return eris.Wrap(err, "sqlite: put system config")
}

// Watch polls the change log. The initial notification is delivered from the
// polling goroutine right after the starting position is read.
func (s *SQLiteStore) Watch(ctx context.Context, fn ChangeFunc) (Subscription, error) {
	var last int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM record_changes`).Scan(&last); err != nil {
		return nil, eris.Wrap(err, "sqlite: watch start")
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(model.Change{At: time.Now().UTC()})

		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ids, next, err := s.changesSince(ctx, last)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					fn(model.Change{At: time.Now().UTC(), Err: err})
					return
				}
				if len(ids) == 0 {
					continue
				}
				last = next
				fn(model.Change{DocumentIDs: ids, At: time.Now().UTC()})
			}
		}
	}()

	return &subscription{cancel: cancel, done: done}, nil
}

func (s *SQLiteStore) changesSince(ctx context.Context, seq int64) ([]string, int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, record_id FROM record_changes WHERE seq > ? ORDER BY seq`, seq)
	if err != nil {
		return nil, seq, eris.Wrap(err, "sqlite: poll changes")
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&seq, &id); err != nil {
			return nil, seq, eris.Wrap(err, "sqlite: scan change")
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, seq, eris.Wrap(rows.Err(), "sqlite: poll changes iterate")
}
