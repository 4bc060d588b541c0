package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pcp-cli/internal/api"
	"github.com/sells-group/pcp-cli/internal/ingest"
	"github.com/sells-group/pcp-cli/internal/monitoring"
	"github.com/sells-group/pcp-cli/internal/period"
)

var (
	servePort      int
	serveWatchSeed bool
)

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Serve the dashboard API",
	Annotations: mode("serve"),
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		eng, err := newEngine(cfg, st)
		if err != nil {
			return err
		}
		// Warm the cache; failures are reported by the API on demand.
		if _, err := eng.FetchForPeriod(ctx, period.Request{Period: period.Today}); err != nil {
			zap.L().Warn("initial fetch failed", zap.Error(err))
		}

		srv := api.New(eng, api.Options{
			RefreshRPS:   cfg.Server.RefreshRPS,
			RefreshBurst: cfg.Server.RefreshBurst,
			CORSOrigins:  cfg.Server.CORSOrigins,
		})

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return api.ListenAndServe(gctx, srv.Handler(), resolvePort(servePort, cfg.Server.Port))
		})
		if serveWatchSeed {
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			w := ingest.NewWatcher(cfg.Ingest.Dir, ingest.NewLoader(st, loc), cfg.Realtime.Debounce)
			g.Go(func() error {
				return w.Run(gctx)
			})
		}
		if cfg.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(eng, eng.Breaker()),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}
		return g.Wait()
	},
}

// resolvePort prefers the flag over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveWatchSeed, "watch-seed", false, "re-import seed files from ingest.dir when they change")
	rootCmd.AddCommand(serveCmd)
}
