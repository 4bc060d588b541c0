// Package aggregate reduces production facts into metrics and chart series.
// Every function here is pure: identical inputs give identical outputs.
package aggregate

import (
	"cmp"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/pcp-cli/internal/model"
	"github.com/sells-group/pcp-cli/internal/period"
)

var hundred = decimal.NewFromInt(100)

// ComputeMetrics sums a fact set into a MetricsSnapshot.
func ComputeMetrics(facts []model.ProductionFact) model.MetricsSnapshot {
	snap := model.MetricsSnapshot{
		TotalProduced:     decimal.Zero,
		TotalPlanned:      decimal.Zero,
		FactCount:         len(facts),
		PerShift:          make(map[model.Shift]model.ShiftMetrics, len(model.Shifts)),
		PerClassification: make(map[string]decimal.Decimal),
	}

	effSum := make(map[model.Shift]float64, len(model.Shifts))
	for _, f := range facts {
		snap.TotalProduced = snap.TotalProduced.Add(f.ProducedQuantity)
		snap.TotalPlanned = snap.TotalPlanned.Add(f.PlannedQuantity)

		sm := snap.PerShift[f.Shift]
		sm.Quantity = sm.Quantity.Add(f.ProducedQuantity)
		sm.Count++
		snap.PerShift[f.Shift] = sm
		effSum[f.Shift] += f.EfficiencyPercent

		class := f.Classification
		if class == "" {
			class = model.Unclassified
		}
		snap.PerClassification[class] = snap.PerClassification[class].Add(f.ProducedQuantity)
	}

	for s, sm := range snap.PerShift {
		sm.AverageEfficiency = effSum[s] / float64(sm.Count)
		snap.PerShift[s] = sm
	}
	snap.EfficiencyPercent = model.Efficiency(snap.TotalProduced, snap.TotalPlanned)
	return snap
}

// FilterRange keeps the facts whose OccurredOn falls inside r.
func FilterRange(facts []model.ProductionFact, r period.Range) []model.ProductionFact {
	out := make([]model.ProductionFact, 0, len(facts))
	for _, f := range facts {
		if r.Contains(f.OccurredOn) {
			out = append(out, f)
		}
	}
	return out
}

// DailySeries returns one point per calendar day in r, including days with
// no production, ordered by date.
func DailySeries(facts []model.ProductionFact, r period.Range) []model.SeriesPoint {
	type sums struct{ produced, planned decimal.Decimal }
	byDay := make(map[string]sums)
	for _, f := range facts {
		k := f.OccurredOn.Format(time.DateOnly)
		s := byDay[k]
		s.produced = s.produced.Add(f.ProducedQuantity)
		s.planned = s.planned.Add(f.PlannedQuantity)
		byDay[k] = s
	}

	var out []model.SeriesPoint
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		s := byDay[d.Format(time.DateOnly)]
		out = append(out, model.SeriesPoint{
			Date:              d,
			Produced:          s.produced,
			Planned:           s.planned,
			EfficiencyPercent: model.Efficiency(s.produced, s.planned),
		})
	}
	return out
}

// ShiftSeries returns produced volume per shift in display order.
func ShiftSeries(snap model.MetricsSnapshot) []model.LabeledValue {
	out := make([]model.LabeledValue, 0, len(model.Shifts))
	for _, s := range model.Shifts {
		v := snap.PerShift[s].Quantity
		out = append(out, model.LabeledValue{Label: s.String(), Value: v, Share: share(v, snap.TotalProduced)})
	}
	return out
}

// ClassificationSeries returns produced volume per classification, largest
// first, ties broken by label.
func ClassificationSeries(snap model.MetricsSnapshot) []model.LabeledValue {
	out := make([]model.LabeledValue, 0, len(snap.PerClassification))
	for label, v := range snap.PerClassification {
		out = append(out, model.LabeledValue{Label: label, Value: v, Share: share(v, snap.TotalProduced)})
	}
	sortLabeled(out)
	return out
}

// TopProducts returns the n products with the highest produced volume.
// n <= 0 returns every product.
func TopProducts(facts []model.ProductionFact, n int) []model.LabeledValue {
	total := decimal.Zero
	byProduct := make(map[string]decimal.Decimal)
	for _, f := range facts {
		label := f.ProductCode
		if f.ProductName != "" && f.ProductName != f.ProductCode {
			label = f.ProductCode + " " + f.ProductName
		}
		byProduct[label] = byProduct[label].Add(f.ProducedQuantity)
		total = total.Add(f.ProducedQuantity)
	}

	out := make([]model.LabeledValue, 0, len(byProduct))
	for label, v := range byProduct {
		out = append(out, model.LabeledValue{Label: label, Value: v, Share: share(v, total)})
	}
	sortLabeled(out)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func sortLabeled(vs []model.LabeledValue) {
	slices.SortFunc(vs, func(a, b model.LabeledValue) int {
		if c := b.Value.Cmp(a.Value); c != 0 {
			return c
		}
		return cmp.Compare(a.Label, b.Label)
	})
}

func share(part, total decimal.Decimal) float64 {
	if !total.IsPositive() {
		return 0
	}
	return part.Div(total).Mul(hundred).InexactFloat64()
}
