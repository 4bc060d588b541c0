package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShiftMetrics summarizes the facts of one shift.
type ShiftMetrics struct {
	Quantity          decimal.Decimal `json:"quantity"`
	AverageEfficiency float64         `json:"average_efficiency"`
	Count             int             `json:"count"`
}

// MetricsSnapshot is the aggregation output for a fact set.
type MetricsSnapshot struct {
	TotalProduced     decimal.Decimal            `json:"total_produced"`
	TotalPlanned      decimal.Decimal            `json:"total_planned"`
	EfficiencyPercent float64                    `json:"efficiency_percent"`
	FactCount         int                        `json:"fact_count"`
	PerShift          map[Shift]ShiftMetrics     `json:"per_shift"`
	PerClassification map[string]decimal.Decimal `json:"per_classification"`
}

// SeriesPoint is one point of a per-day chart series.
type SeriesPoint struct {
	Date              time.Time       `json:"date"`
	Produced          decimal.Decimal `json:"produced"`
	Planned           decimal.Decimal `json:"planned"`
	EfficiencyPercent float64         `json:"efficiency_percent"`
}

// LabeledValue is one bar or slice of a categorical chart.
type LabeledValue struct {
	Label string          `json:"label"`
	Value decimal.Decimal `json:"value"`
	Share float64         `json:"share"`
}

// Comparison holds period-over-period deltas.
type Comparison struct {
	Current             MetricsSnapshot `json:"current"`
	Previous            MetricsSnapshot `json:"previous"`
	ProducedChangePct   float64         `json:"produced_change_pct"`
	PlannedChangePct    float64         `json:"planned_change_pct"`
	EfficiencyDeltaPts  float64         `json:"efficiency_delta_pts"`
	PreviousHasNoVolume bool            `json:"previous_has_no_volume"`
}

// TargetProgress relates produced volume to the configured monthly target.
type TargetProgress struct {
	MonthlyTarget     decimal.Decimal `json:"monthly_target"`
	DailyTarget       decimal.Decimal `json:"daily_target"`
	WorkingDays       int             `json:"working_days"`
	ExpectedForWindow decimal.Decimal `json:"expected_for_window"`
	Produced          decimal.Decimal `json:"produced"`
	AttainmentPercent float64         `json:"attainment_percent"`
	Remaining         decimal.Decimal `json:"remaining"`
}
