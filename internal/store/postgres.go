package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/pcp-cli/internal/model"
)

// notifyChannel is the LISTEN/NOTIFY channel fed by the daily_records trigger.
const notifyChannel = "daily_records_changed"

// Pool is the subset of pgxpool.Pool used by PostgresStore. pgxmock's pool
// satisfies it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using pgxpool with JSONB documents.
type PostgresStore struct {
	pool       Pool
	connString string
	closeFn    func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, connString: connString, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS daily_records (
	id         TEXT PRIMARY KEY,
	doc        JSONB NOT NULL,
	processed  TEXT NOT NULL DEFAULT 'no',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_daily_records_processed ON daily_records(processed);

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

CREATE OR REPLACE FUNCTION notify_daily_record_change() RETURNS trigger AS $$
BEGIN
	IF TG_OP = 'DELETE' THEN
		IF OLD.processed = 'yes' THEN
			PERFORM pg_notify('daily_records_changed', OLD.id);
		END IF;
		RETURN OLD;
	END IF;
	IF NEW.processed = 'yes' OR (TG_OP = 'UPDATE' AND OLD.processed = 'yes') THEN
		PERFORM pg_notify('daily_records_changed', NEW.id);
	END IF;
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS daily_records_notify ON daily_records;
CREATE TRIGGER daily_records_notify
	AFTER INSERT OR UPDATE OR DELETE ON daily_records
	FOR EACH ROW EXECUTE FUNCTION notify_daily_record_change();
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*model.RawDailyRecord, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM daily_records WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: record %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", id)
	}
	var rec model.RawDailyRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, eris.Wrapf(err, "postgres: decode record %s", id)
	}
	return &rec, nil
}

func (s *PostgresStore) ListProcessed(ctx context.Context) ([]model.RawDailyRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, doc FROM daily_records WHERE processed = $1 ORDER BY id`, string(model.ProcessedYes))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list processed")
	}
	defer rows.Close()

	var out []model.RawDailyRecord
	for rows.Next() {
		var id string
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		var rec model.RawDailyRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			zap.L().Warn("postgres: skipping undecodable record", zap.String("id", id), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list processed iterate")
}

func (s *PostgresStore) ListCatalog(ctx context.Context) ([]model.CatalogEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT code, name, classification FROM catalog ORDER BY code`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list catalog")
	}
	defer rows.Close()

	var out []model.CatalogEntry
	for rows.Next() {
		var e model.CatalogEntry
		if err := rows.Scan(&e.Code, &e.Name, &e.Classification); err != nil {
			return nil, eris.Wrap(err, "postgres: scan catalog")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list catalog iterate")
}

func (s *PostgresStore) GetSystemConfig(ctx context.Context) (*model.SystemConfig, error) {
	var target string
	var days int32
	err := s.pool.QueryRow(ctx,
		`SELECT monthly_target, working_days_per_month FROM system_config WHERE id = 1`,
	).Scan(&target, &days)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "postgres: system config")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get system config")
	}
	t, err := decimal.NewFromString(target)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse monthly target")
	}
	return &model.SystemConfig{MonthlyTarget: t, WorkingDaysPerMonth: int(days)}, nil
}

func (s *PostgresStore) PutRecord(ctx context.Context, rec model.RawDailyRecord) error {
	if rec.ID == "" {
		return eris.New("postgres: record id is required")
	}
	rec.UpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal record")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO daily_records (id, doc, processed, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, processed = EXCLUDED.processed, updated_at = EXCLUDED.updated_at`,
		rec.ID, doc, string(rec.Processed), rec.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert record %s", rec.ID)
}

func (s *PostgresStore) PutCatalog(ctx context.Context, entries []model.CatalogEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM catalog`); err != nil {
		return eris.Wrap(err, "postgres: clear catalog")
	}
	for _, e := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO catalog (code, name, classification) VALUES ($1, $2, $3)
			 ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, classification = EXCLUDED.classification`,
			e.Code, e.Name, e.Classification,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert catalog %s", e.Code)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit catalog")
}

func (s *PostgresStore) PutSystemConfig(ctx context.Context, cfg model.SystemConfig) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO system_config (id, monthly_target, working_days_per_month) VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET monthly_target = EXCLUDED.monthly_target,
		 working_days_per_month = EXCLUDED.working_days_per_month`,
		cfg.MonthlyTarget.String(), cfg.WorkingDaysPerMonth,
	)
	return eris.Wrap(err, "postgres: put system config")
}

// Watch LISTENs on a dedicated connection outside the pool.
func (s *PostgresStore) Watch(ctx context.Context, fn ChangeFunc) (Subscription, error) {
	if s.connString == "" {
		return nil, eris.New("postgres: watch requires a connection string")
	}
	conn, err := pgx.Connect(ctx, s.connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: watch connect")
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Close(context.Background()) //nolint:errcheck
		return nil, eris.Wrap(err, "postgres: listen")
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer conn.Close(context.Background()) //nolint:errcheck

		fn(model.Change{At: time.Now().UTC()})
		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					fn(model.Change{At: time.Now().UTC(), Err: eris.Wrap(err, "postgres: wait for notification")})
				}
				return
			}
			fn(model.Change{DocumentIDs: []string{n.Payload}, At: time.Now().UTC()})
		}
	}()

	return &subscription{cancel: cancel, done: done}, nil
}
