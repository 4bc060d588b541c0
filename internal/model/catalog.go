package model

import "github.com/shopspring/decimal"

// Unclassified is assigned to facts whose product code is not in the catalog.
const Unclassified = "unclassified"

// CatalogEntry is one product of the catalog collection.
type CatalogEntry struct {
	Code           string `json:"code" yaml:"code"`
	Name           string `json:"name,omitempty" yaml:"name,omitempty"`
	Classification string `json:"classification" yaml:"classification"`
}

// SystemConfig is the plant-level configuration record. The values are only
// fallbacks for target calculations.
type SystemConfig struct {
	MonthlyTarget       decimal.Decimal `json:"monthly_target" yaml:"monthly_target"`
	WorkingDaysPerMonth int             `json:"working_days_per_month" yaml:"working_days_per_month"`
}
