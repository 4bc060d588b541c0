package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pcp-cli/internal/engine"
	"github.com/sells-group/pcp-cli/internal/model"
	"github.com/sells-group/pcp-cli/internal/period"
)

var watchCmd = &cobra.Command{
	Use:         "watch",
	Short:       "Recompute metrics whenever processed records change",
	Long:        "Subscribes to the processed record set and logs the recomputed metrics after each debounced burst of changes. Runs until interrupted.",
	Annotations: mode("watch"),
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
		req, err := periodRequest(cmd, eng)
		if err != nil {
			return err
		}

		if _, err := eng.FetchForPeriod(ctx, req); err != nil {
			zap.L().Warn("initial fetch failed", zap.Error(err))
		} else {
			logMetrics("initial metrics", eng.Metrics(), eng.Window())
		}

		failed := make(chan error, 1)
		unsubscribe, err := eng.Subscribe(ctx, req, watchHandler(failed))
		if err != nil {
			return eris.Wrap(err, "subscribe")
		}
		defer unsubscribe()

		zap.L().Info("watching for changes", zap.String("period", string(req.Period)))
		select {
		case <-ctx.Done():
			zap.L().Info("stopped watching")
			return nil
		case err := <-failed:
			return eris.Wrap(err, "subscription ended")
		}
	},
}

// watchHandler logs each update. A subscription failure ends the
// subscription, so it is forwarded to failed for the command to exit on.
func watchHandler(failed chan<- error) func(engine.Update) {
	return func(u engine.Update) {
		switch {
		case u.Closed:
			zap.L().Error("subscription failed", zap.String("subscription", u.SubscriptionID), zap.Error(u.Err))
			select {
			case failed <- u.Err:
			default:
			}
		case u.Err != nil:
			zap.L().Warn("metrics update failed", zap.String("subscription", u.SubscriptionID), zap.Error(u.Err))
		default:
			logMetrics("metrics updated", u.Metrics, u.Window)
		}
	}
}

func logMetrics(msg string, m model.MetricsSnapshot, w period.Range) {
	zap.L().Info(msg,
		zap.Time("start", w.Start),
		zap.Time("end", w.End),
		zap.String("produced", m.TotalProduced.String()),
		zap.String("planned", m.TotalPlanned.String()),
		zap.Float64("efficiency_percent", m.EfficiencyPercent),
		zap.Int("facts", m.FactCount),
	)
}

func init() {
	addPeriodFlags(watchCmd)
	rootCmd.AddCommand(watchCmd)
}
