// Package export writes production reports as XLSX workbooks.
package export

import (
	"cmp"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/pcp-cli/internal/aggregate"
	"github.com/sells-group/pcp-cli/internal/model"
	"github.com/sells-group/pcp-cli/internal/period"
)

// Sheet names, in workbook order.
const (
	SheetFacts          = "Facts"
	SheetMetrics        = "Metrics"
	SheetDaily          = "Daily"
	SheetClassification = "Classification"
)

const (
	quantityFormat = "#,##0.00"
	percentFormat  = "0.00"
)

// Report is everything one workbook shows for a window.
type Report struct {
	Period      period.Period
	Window      period.Range
	Facts       []model.ProductionFact
	Comparison  *model.Comparison
	Targets     *model.TargetProgress
	GeneratedAt time.Time
}

// FileName is the default workbook name for a report.
func FileName(p period.Period, r period.Range) string {
	return fmt.Sprintf("resultados_%s_%s_%s.xlsx", p, r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly))
}

// Build assembles the workbook in memory.
func Build(r Report) (*xlsx.File, error) {
	f := xlsx.NewFile()
	facts := sortedFacts(r.Facts)
	snap := aggregate.ComputeMetrics(facts)

	if err := factsSheet(f, facts); err != nil {
		return nil, err
	}
	if err := metricsSheet(f, r, snap); err != nil {
		return nil, err
	}
	if err := dailySheet(f, aggregate.DailySeries(facts, r.Window)); err != nil {
		return nil, err
	}
	if err := classificationSheet(f, aggregate.ClassificationSeries(snap)); err != nil {
		return nil, err
	}
	return f, nil
}

// WriteFile builds the workbook and saves it to path. When path is a
// directory the default file name is used inside it. It returns the path
// written.
func WriteFile(path string, r Report) (string, error) {
	if filepath.Ext(path) != ".xlsx" {
		path = filepath.Join(path, FileName(r.Period, r.Window))
	}
	f, err := Build(r)
	if err != nil {
		return "", err
	}
	if err := f.Save(path); err != nil {
		return "", eris.Wrapf(err, "export: save %s", path)
	}
	return path, nil
}

// Write streams the workbook to w.
func Write(w io.Writer, r Report) error {
	f, err := Build(r)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "export: write workbook")
}

func sortedFacts(facts []model.ProductionFact) []model.ProductionFact {
	out := slices.Clone(facts)
	slices.SortFunc(out, func(a, b model.ProductionFact) int {
		return cmp.Or(
			a.OccurredOn.Compare(b.OccurredOn),
			cmp.Compare(a.Shift, b.Shift),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return out
}

func addSheet(f *xlsx.File, name string, header ...string) (*xlsx.Sheet, error) {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return nil, eris.Wrapf(err, "export: add sheet %s", name)
	}
	row := sheet.AddRow()
	for _, h := range header {
		row.AddCell().SetString(h)
	}
	return sheet, nil
}

func addQuantity(row *xlsx.Row, d decimal.Decimal) {
	row.AddCell().SetFloatWithFormat(d.InexactFloat64(), quantityFormat)
}

func addPercent(row *xlsx.Row, v float64) {
	row.AddCell().SetFloatWithFormat(v, percentFormat)
}

func factsSheet(f *xlsx.File, facts []model.ProductionFact) error {
	sheet, err := addSheet(f, SheetFacts,
		"Date", "Shift", "Code", "Product", "Classification", "Planned", "Produced", "Efficiency %", "Record")
	if err != nil {
		return err
	}
	for _, fact := range facts {
		row := sheet.AddRow()
		row.AddCell().SetString(fact.OccurredOn.Format(time.DateOnly))
		row.AddCell().SetString(fact.Shift.String())
		row.AddCell().SetString(fact.ProductCode)
		row.AddCell().SetString(fact.ProductName)
		row.AddCell().SetString(fact.Classification)
		addQuantity(row, fact.PlannedQuantity)
		addQuantity(row, fact.ProducedQuantity)
		addPercent(row, fact.EfficiencyPercent)
		row.AddCell().SetString(fact.SourceID)
	}
	return nil
}

func metricsSheet(f *xlsx.File, r Report, snap model.MetricsSnapshot) error {
	sheet, err := addSheet(f, SheetMetrics, "Metric", "Value")
	if err != nil {
		return err
	}
	text := func(label, v string) {
		row := sheet.AddRow()
		row.AddCell().SetString(label)
		row.AddCell().SetString(v)
	}
	qty := func(label string, d decimal.Decimal) {
		row := sheet.AddRow()
		row.AddCell().SetString(label)
		addQuantity(row, d)
	}
	pct := func(label string, v float64) {
		row := sheet.AddRow()
		row.AddCell().SetString(label)
		addPercent(row, v)
	}

	text("Period", string(r.Period))
	text("Window start", r.Window.Start.Format(time.DateOnly))
	text("Window end", r.Window.End.Format(time.DateOnly))
	if !r.GeneratedAt.IsZero() {
		text("Generated at", r.GeneratedAt.Format(time.RFC3339))
	}
	qty("Total produced", snap.TotalProduced)
	qty("Total planned", snap.TotalPlanned)
	pct("Efficiency %", snap.EfficiencyPercent)
	text("Facts", fmt.Sprint(snap.FactCount))

	for _, s := range model.Shifts {
		m := snap.PerShift[s]
		qty(s.String()+" produced", m.Quantity)
		pct(s.String()+" average efficiency %", m.AverageEfficiency)
	}

	if c := r.Comparison; c != nil {
		qty("Previous produced", c.Previous.TotalProduced)
		pct("Produced change %", c.ProducedChangePct)
		pct("Planned change %", c.PlannedChangePct)
		pct("Efficiency delta pts", c.EfficiencyDeltaPts)
	}
	if tp := r.Targets; tp != nil {
		qty("Monthly target", tp.MonthlyTarget)
		qty("Daily target", tp.DailyTarget)
		text("Working days in window", fmt.Sprint(tp.WorkingDays))
		qty("Expected for window", tp.ExpectedForWindow)
		pct("Attainment %", tp.AttainmentPercent)
		qty("Remaining", tp.Remaining)
	}
	return nil
}

func dailySheet(f *xlsx.File, series []model.SeriesPoint) error {
	sheet, err := addSheet(f, SheetDaily, "Date", "Produced", "Planned", "Efficiency %")
	if err != nil {
		return err
	}
	for _, p := range series {
		row := sheet.AddRow()
		row.AddCell().SetString(p.Date.Format(time.DateOnly))
		addQuantity(row, p.Produced)
		addQuantity(row, p.Planned)
		addPercent(row, p.EfficiencyPercent)
	}
	return nil
}

func classificationSheet(f *xlsx.File, values []model.LabeledValue) error {
	sheet, err := addSheet(f, SheetClassification, "Classification", "Produced", "Share %")
	if err != nil {
		return err
	}
	for _, v := range values {
		row := sheet.AddRow()
		row.AddCell().SetString(v.Label)
		addQuantity(row, v.Value)
		addPercent(row, v.Share)
	}
	return nil
}
