package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pcp-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath, WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_RecordRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := sampleRecord("2024-06-14", model.ProcessedYes)
	rec.Date = "2024-06-14"
	require.NoError(t, st.PutRecord(ctx, rec))

	got, err := st.GetRecord(ctx, "2024-06-14")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-14", got.Date)
	assert.Equal(t, model.Quantity("100"), got.Shifts["1_turno"]["0"].ProducedWeightKg)

	_, err = st.GetRecord(ctx, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_ListProcessed(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutRecord(ctx, sampleRecord("2024-06-15", model.ProcessedYes)))
	require.NoError(t, st.PutRecord(ctx, sampleRecord("2024-06-14", model.ProcessedYes)))
	require.NoError(t, st.PutRecord(ctx, sampleRecord("2024-06-16", model.ProcessedNo)))

	recs, err := st.ListProcessed(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "2024-06-14", recs[0].ID)
	assert.Equal(t, "2024-06-15", recs[1].ID)
}

func TestSQLite_CatalogReplace(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutCatalog(ctx, []model.CatalogEntry{{Code: "A"}, {Code: "B", Classification: "x"}}))
	require.NoError(t, st.PutCatalog(ctx, []model.CatalogEntry{{Code: "C", Name: "Cedar", Classification: "y"}}))

	cat, err := st.ListCatalog(ctx)
	require.NoError(t, err)
	require.Len(t, cat, 1)
	assert.Equal(t, model.CatalogEntry{Code: "C", Name: "Cedar", Classification: "y"}, cat[0])
}

func TestSQLite_SystemConfig(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetSystemConfig(ctx)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, st.PutSystemConfig(ctx, model.SystemConfig{MonthlyTarget: decimal.RequireFromString("1500.5"), WorkingDaysPerMonth: 21}))
	require.NoError(t, st.PutSystemConfig(ctx, model.SystemConfig{MonthlyTarget: decimal.RequireFromString("2000"), WorkingDaysPerMonth: 22}))

	cfg, err := st.GetSystemConfig(ctx)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(2000).Equal(cfg.MonthlyTarget))
	assert.Equal(t, 22, cfg.WorkingDaysPerMonth)
}

func TestSQLite_Watch(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	var mu sync.Mutex
	var changes []model.Change
	sub, err := st.Watch(ctx, func(c model.Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
	})
	require.NoError(t, err)

	require.NoError(t, st.PutRecord(ctx, sampleRecord("2024-06-16", model.ProcessedNo)))
	require.NoError(t, st.PutRecord(ctx, sampleRecord("2024-06-14", model.ProcessedYes)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	sub.Unsubscribe()

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, changes[0].DocumentIDs)
	assert.Equal(t, []string{"2024-06-14"}, changes[1].DocumentIDs)
	for _, c := range changes {
		assert.NoError(t, c.Err)
	}
}

func TestSQLite_PutRecordPrunesOldChanges(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour).Format(stampLayout)
	_, err := st.db.ExecContext(ctx,
		`INSERT INTO record_changes (record_id, changed_at) VALUES (?, ?)`, "2024-01-01", old)
	require.NoError(t, err)

	require.NoError(t, st.PutRecord(ctx, sampleRecord("2024-06-14", model.ProcessedYes)))

	var ids []string
	rows, err := st.db.QueryContext(ctx, `SELECT record_id FROM record_changes ORDER BY seq`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"2024-06-14"}, ids)

	var last int64
	require.NoError(t, st.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM record_changes`).Scan(&last))
	assert.Equal(t, int64(2), last)
}
