package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// ProcessedFlag marks whether downstream aggregation has consumed a daily record.
type ProcessedFlag string

const (
	ProcessedYes ProcessedFlag = "yes"
	ProcessedNo  ProcessedFlag = "no"
)

// Quantity is a decimal carried as a string in the document store. Values are
// parsed by the normalizer; Quantity itself never fails on odd content.
type Quantity string

// UnmarshalJSON accepts both JSON strings and JSON numbers so records written
// by older ingestion jobs still decode.
func (q *Quantity) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*q = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*q = Quantity(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		// Booleans, objects and arrays become unparsable text instead of
		// failing the whole document.
		*q = Quantity(string(b))
		return nil
	}
	*q = Quantity(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

// LineItem is one produced product inside a shift of a daily record.
type LineItem struct {
	Code             string   `json:"code" yaml:"code"`
	PlannedQuantity  Quantity `json:"planned_quantity" yaml:"planned_quantity"`
	ProducedWeightKg Quantity `json:"produced_weight_kg" yaml:"produced_weight_kg"`
	ShortDescription string   `json:"short_description" yaml:"short_description"`
}

// RawDailyRecord is one production document per calendar day. Shift keys are
// free-form ("1_turno", "Shift 2") and are classified by the normalizer.
type RawDailyRecord struct {
	ID        string                         `json:"id" yaml:"id"`
	Date      string                         `json:"date,omitempty" yaml:"date,omitempty"`
	Shifts    map[string]map[string]LineItem `json:"shifts" yaml:"shifts"`
	Processed ProcessedFlag                  `json:"processed" yaml:"processed"`
	UpdatedAt time.Time                      `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// IsProcessed reports whether the record is eligible for aggregation.
func (r RawDailyRecord) IsProcessed() bool {
	return r.Processed == ProcessedYes
}

// Change is delivered by a store subscription whenever the processed record
// set changes. DocumentIDs may be empty when the driver cannot tell which
// documents changed.
type Change struct {
	DocumentIDs []string  `json:"document_ids,omitempty"`
	At          time.Time `json:"at"`
	Err         error     `json:"-"`
}
