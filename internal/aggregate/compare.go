package aggregate

import (
	"github.com/shopspring/decimal"

	"github.com/sells-group/pcp-cli/internal/model"
	"github.com/sells-group/pcp-cli/internal/period"
)

// Compare computes period-over-period deltas from two real fact sets.
// Percent changes are 0 when the previous window had no volume.
func Compare(current, previous []model.ProductionFact) model.Comparison {
	cur := ComputeMetrics(current)
	prev := ComputeMetrics(previous)
	return model.Comparison{
		Current:             cur,
		Previous:            prev,
		ProducedChangePct:   changePct(cur.TotalProduced, prev.TotalProduced),
		PlannedChangePct:    changePct(cur.TotalPlanned, prev.TotalPlanned),
		EfficiencyDeltaPts:  cur.EfficiencyPercent - prev.EfficiencyPercent,
		PreviousHasNoVolume: prev.TotalProduced.IsZero() && prev.TotalPlanned.IsZero(),
	}
}

func changePct(cur, prev decimal.Decimal) float64 {
	if !prev.IsPositive() {
		return 0
	}
	return cur.Sub(prev).Div(prev).Mul(hundred).InexactFloat64()
}

// TargetProgress relates produced volume to the monthly target. The daily
// target is MonthlyTarget / WorkingDaysPerMonth and the window expectation is
// the daily target times the weekdays in r.
func TargetProgress(snap model.MetricsSnapshot, cfg model.SystemConfig, r period.Range) model.TargetProgress {
	tp := model.TargetProgress{
		MonthlyTarget:     cfg.MonthlyTarget,
		DailyTarget:       decimal.Zero,
		WorkingDays:       r.Weekdays(),
		ExpectedForWindow: decimal.Zero,
		Produced:          snap.TotalProduced,
		Remaining:         decimal.Zero,
	}
	if cfg.WorkingDaysPerMonth <= 0 || !cfg.MonthlyTarget.IsPositive() {
		return tp
	}

	tp.DailyTarget = cfg.MonthlyTarget.Div(decimal.NewFromInt(int64(cfg.WorkingDaysPerMonth)))
	days := tp.WorkingDays
	if days == 0 {
		// A weekend-only window still gets one day's worth of target.
		days = 1
	}
	tp.ExpectedForWindow = tp.DailyTarget.Mul(decimal.NewFromInt(int64(days)))
	tp.AttainmentPercent = model.Efficiency(snap.TotalProduced, tp.ExpectedForWindow)
	if rem := tp.ExpectedForWindow.Sub(snap.TotalProduced); rem.IsPositive() {
		tp.Remaining = rem
	}
	return tp
}
