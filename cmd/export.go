package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pcp-cli/internal/engine"
	"github.com/sells-group/pcp-cli/internal/export"
	"github.com/sells-group/pcp-cli/internal/period"
)

var exportCmd = &cobra.Command{
	Use:         "export",
	Short:       "Write a period report as an XLSX workbook",
	Annotations: mode("export"),
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

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

		rep, err := buildExportReport(ctx, eng, req)
		if err != nil {
			return err
		}

		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = cfg.Export.Dir
		}
		path, err := export.WriteFile(out, rep)
		if err != nil {
			return err
		}
		zap.L().Info("export complete",
			zap.String("path", path),
			zap.Int("facts", len(rep.Facts)),
		)
		return nil
	},
}

func buildExportReport(ctx context.Context, eng *engine.Engine, req period.Request) (export.Report, error) {
	facts, err := eng.FetchForPeriod(ctx, req)
	if err != nil {
		return export.Report{}, eris.Wrap(err, "export")
	}
	cmp, err := eng.Compare(ctx, req)
	if err != nil {
		return export.Report{}, eris.Wrap(err, "export: compare")
	}
	tp, err := eng.Targets(ctx, req)
	if err != nil {
		return export.Report{}, eris.Wrap(err, "export: targets")
	}
	return export.Report{
		Period:      req.Period,
		Window:      eng.Window(),
		Facts:       facts,
		Comparison:  &cmp,
		Targets:     &tp,
		GeneratedAt: time.Now(),
	}, nil
}

func init() {
	addPeriodFlags(exportCmd)
	exportCmd.Flags().String("out", "", "output .xlsx file or directory (default export.dir)")
	rootCmd.AddCommand(exportCmd)
}
