package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pcp-cli/internal/config"
	"github.com/sells-group/pcp-cli/internal/engine"
	"github.com/sells-group/pcp-cli/internal/ingest"
	"github.com/sells-group/pcp-cli/internal/period"
	"github.com/sells-group/pcp-cli/internal/store"
)

// openStore connects the configured driver and applies its schema.
func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Store.Driver {
	case "memory":
		st = store.NewMemory()
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = config.DefaultSQLitePath
		}
		st, err = store.NewSQLite(dsn, store.WithPollInterval(c.Store.PollInterval))
	case "postgres":
		st, err = store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	case "mongo":
		st, err = store.NewMongo(ctx, c.Store.DatabaseURL, c.Store.Database)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	if c.Store.Driver == "memory" {
		if err := seedMemory(ctx, c, st); err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	return st, nil
}

// seedMemory loads the ingest directory into a fresh memory store so the
// memory driver has something to report on.
func seedMemory(ctx context.Context, c *config.Config, st store.Store) error {
	if c.Ingest.Dir == "" {
		return nil
	}
	if _, err := os.Stat(c.Ingest.Dir); os.IsNotExist(err) {
		zap.L().Warn("memory store has no seed directory", zap.String("dir", c.Ingest.Dir))
		return nil
	}
	loc, err := c.Location()
	if err != nil {
		return err
	}
	sum, err := ingest.NewLoader(st, loc).ImportPaths(ctx, c.Ingest.Dir)
	if err != nil {
		return eris.Wrap(err, "seed memory store")
	}
	zap.L().Info("memory store seeded",
		zap.String("dir", c.Ingest.Dir),
		zap.Int("records", sum.Records),
		zap.Int("catalog", sum.Catalog),
	)
	return nil
}

// newEngine builds an engine over r from the loaded config.
func newEngine(c *config.Config, r store.Reader) (*engine.Engine, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	return engine.New(r, engine.Options{
		Location:       loc,
		CacheTTL:       c.Cache.TTL,
		DebounceDelay:  c.Realtime.Debounce,
		Policy:         c.Policy(),
		FallbackConfig: c.FallbackSystemConfig(),
	}), nil
}

// addPeriodFlags registers --period, --start and --end on cmd.
func addPeriodFlags(cmd *cobra.Command) {
	cmd.Flags().String("period", "today", "reporting period: today, week, month, year or custom")
	cmd.Flags().String("start", "", "custom period start (YYYY-MM-DD)")
	cmd.Flags().String("end", "", "custom period end (YYYY-MM-DD)")
}

// periodRequest reads the period flags of cmd.
func periodRequest(cmd *cobra.Command, eng *engine.Engine) (period.Request, error) {
	name, _ := cmd.Flags().GetString("period")
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")
	if !cmd.Flags().Changed("period") && (start != "" || end != "") {
		name = ""
	}
	return period.ParseRequest(name, start, end, eng.Location())
}
