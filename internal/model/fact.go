package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Shift identifies a production shift.
type Shift int

const (
	ShiftUnknown Shift = iota
	Shift1
	Shift2
)

func (s Shift) String() string {
	switch s {
	case Shift1:
		return "shift1"
	case Shift2:
		return "shift2"
	default:
		return "unknown"
	}
}

// MarshalText encodes the shift by name so it can be used as a JSON map key.
func (s Shift) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Shifts lists the known shifts in display order.
var Shifts = []Shift{Shift1, Shift2}

// ProductionFact is a flattened per-item production entry derived from a
// RawDailyRecord. Facts are never persisted.
type ProductionFact struct {
	ID                string          `json:"id"`
	SourceID          string          `json:"source_id"`
	ProductCode       string          `json:"product_code"`
	ProductName       string          `json:"product_name"`
	Classification    string          `json:"classification"`
	PlannedQuantity   decimal.Decimal `json:"planned_quantity"`
	ProducedQuantity  decimal.Decimal `json:"produced_quantity"`
	Shift             Shift           `json:"shift"`
	OccurredOn        time.Time       `json:"occurred_on"`
	EfficiencyPercent float64         `json:"efficiency_percent"`
}

// Efficiency returns produced/planned*100, or 0 when planned is not positive.
func Efficiency(produced, planned decimal.Decimal) float64 {
	if !planned.IsPositive() {
		return 0
	}
	return produced.Div(planned).Mul(decimal.NewFromInt(100)).InexactFloat64()
}
