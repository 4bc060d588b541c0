package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pcp-cli/internal/aggregate"
	"github.com/sells-group/pcp-cli/internal/engine"
	"github.com/sells-group/pcp-cli/internal/model"
	"github.com/sells-group/pcp-cli/internal/normalize"
	"github.com/sells-group/pcp-cli/internal/period"
)

// metricsReport is what the metrics command prints.
type metricsReport struct {
	Period     period.Period         `json:"period"`
	Window     period.Range          `json:"window"`
	Metrics    model.MetricsSnapshot `json:"metrics"`
	Comparison *model.Comparison     `json:"comparison,omitempty"`
	Targets    *model.TargetProgress `json:"targets,omitempty"`
	Issues     []normalize.Issue     `json:"issues,omitempty"`
	Top        []model.LabeledValue  `json:"top_products,omitempty"`
}

type metricsOptions struct {
	compare bool
	targets bool
	issues  bool
	top     int
}

var metricsCmd = &cobra.Command{
	Use:         "metrics",
	Short:       "Print production metrics for a period",
	Annotations: mode("metrics"),
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

		var opts metricsOptions
		opts.compare, _ = cmd.Flags().GetBool("compare")
		opts.targets, _ = cmd.Flags().GetBool("targets")
		opts.issues, _ = cmd.Flags().GetBool("issues")
		opts.top, _ = cmd.Flags().GetInt("top")

		rep, err := buildMetricsReport(ctx, eng, req, opts)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		switch format {
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		case "table":
			formatMetrics(os.Stdout, rep)
			return nil
		default:
			return eris.Errorf("unknown output format %q", format)
		}
	},
}

func buildMetricsReport(ctx context.Context, eng *engine.Engine, req period.Request, opts metricsOptions) (metricsReport, error) {
	facts, err := eng.FetchForPeriod(ctx, req)
	if err != nil {
		return metricsReport{}, eris.Wrap(err, "metrics")
	}
	rep := metricsReport{
		Period:  req.Period,
		Window:  eng.Window(),
		Metrics: aggregate.ComputeMetrics(facts),
	}
	if opts.compare {
		cmp, err := eng.Compare(ctx, req)
		if err != nil {
			return metricsReport{}, eris.Wrap(err, "metrics: compare")
		}
		rep.Comparison = &cmp
	}
	if opts.targets {
		tp, err := eng.Targets(ctx, req)
		if err != nil {
			return metricsReport{}, eris.Wrap(err, "metrics: targets")
		}
		rep.Targets = &tp
	}
	if opts.issues {
		rep.Issues = eng.State().Issues
	}
	if opts.top > 0 {
		rep.Top = aggregate.TopProducts(facts, opts.top)
	}
	return rep, nil
}

func formatMetrics(out io.Writer, rep metricsReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	m := rep.Metrics
	_, _ = fmt.Fprintf(w, "Period:\t%s (%s to %s)\n", rep.Period,
		rep.Window.Start.Format("2006-01-02"), rep.Window.End.Format("2006-01-02"))
	_, _ = fmt.Fprintf(w, "Produced:\t%s\n", m.TotalProduced.StringFixed(2))
	_, _ = fmt.Fprintf(w, "Planned:\t%s\n", m.TotalPlanned.StringFixed(2))
	_, _ = fmt.Fprintf(w, "Efficiency:\t%.1f%%\n", m.EfficiencyPercent)
	_, _ = fmt.Fprintf(w, "Items:\t%d\n", m.FactCount)
	_ = w.Flush()

	if len(m.PerShift) > 0 {
		_, _ = fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "SHIFT\tQUANTITY\tAVG_EFF\tITEMS")
		_, _ = fmt.Fprintln(w, "-----\t--------\t-------\t-----")
		shifts := make([]model.Shift, 0, len(m.PerShift))
		for s := range m.PerShift {
			shifts = append(shifts, s)
		}
		slices.Sort(shifts)
		for _, s := range shifts {
			sm := m.PerShift[s]
			_, _ = fmt.Fprintf(w, "%s\t%s\t%.1f%%\t%d\n", s, sm.Quantity.StringFixed(2), sm.AverageEfficiency, sm.Count)
		}
		_ = w.Flush()
	}

	if classes := aggregate.ClassificationSeries(m); len(classes) > 0 {
		_, _ = fmt.Fprintln(out)
		formatLabeled(out, "CLASSIFICATION", classes)
	}
	if len(rep.Top) > 0 {
		_, _ = fmt.Fprintln(out)
		formatLabeled(out, "PRODUCT", rep.Top)
	}

	if c := rep.Comparison; c != nil {
		_, _ = fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		if c.PreviousHasNoVolume {
			_, _ = fmt.Fprintln(w, "Previous period:\tno volume")
		} else {
			_, _ = fmt.Fprintf(w, "Produced change:\t%+.1f%%\n", c.ProducedChangePct)
			_, _ = fmt.Fprintf(w, "Planned change:\t%+.1f%%\n", c.PlannedChangePct)
		}
		_, _ = fmt.Fprintf(w, "Efficiency delta:\t%+.1f pts\n", c.EfficiencyDeltaPts)
		_ = w.Flush()
	}

	if t := rep.Targets; t != nil {
		_, _ = fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "Monthly target:\t%s\n", t.MonthlyTarget.StringFixed(2))
		_, _ = fmt.Fprintf(w, "Expected:\t%s\n", t.ExpectedForWindow.StringFixed(2))
		_, _ = fmt.Fprintf(w, "Attainment:\t%.1f%%\n", t.AttainmentPercent)
		_, _ = fmt.Fprintf(w, "Remaining:\t%s\n", t.Remaining.StringFixed(2))
		_ = w.Flush()
	}

	if len(rep.Issues) > 0 {
		_, _ = fmt.Fprintf(out, "\n%d normalization issue(s):\n", len(rep.Issues))
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "RECORD\tSHIFT_KEY\tITEM\tKIND\tRAW")
		for _, is := range rep.Issues {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", is.RecordID, is.ShiftKey, is.ItemKey, is.Kind, is.Raw)
		}
		_ = w.Flush()
	}
}

func formatLabeled(out io.Writer, header string, values []model.LabeledValue) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "%s\tQUANTITY\tSHARE\n", header)
	for _, v := range values {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.1f%%\n", v.Label, v.Value.StringFixed(2), v.Share)
	}
	_ = w.Flush()
}

func init() {
	addPeriodFlags(metricsCmd)
	metricsCmd.Flags().String("format", "table", "output format: table or json")
	metricsCmd.Flags().Bool("compare", false, "include the previous period comparison")
	metricsCmd.Flags().Bool("targets", false, "include target attainment")
	metricsCmd.Flags().Bool("issues", false, "list normalization issues")
	metricsCmd.Flags().Int("top", 0, "list the top N products by volume")
	rootCmd.AddCommand(metricsCmd)
}
