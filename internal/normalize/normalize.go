// Package normalize flattens raw daily production records into per-item
// production facts. Nothing in this package returns an error: malformed input
// is reported as an Issue and omitted or coerced to zero.
package normalize

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/pcp-cli/internal/model"
)

// IssueKind classifies a normalization problem.
type IssueKind string

const (
	// IssueNotShift means a shift key carried no recognizable shift marker.
	IssueNotShift IssueKind = "not_shift"
	// IssueUnparsable means a quantity was coerced to zero.
	IssueUnparsable IssueKind = "unparsable"
	// IssueZeroRow means an item was omitted because both quantities were zero.
	IssueZeroRow IssueKind = "zero_row"
)

// Issue describes one coerced field or omitted item.
type Issue struct {
	RecordID string    `json:"record_id"`
	ShiftKey string    `json:"shift_key"`
	ItemKey  string    `json:"item_key,omitempty"`
	Field    string    `json:"field,omitempty"`
	Raw      string    `json:"raw,omitempty"`
	Kind     IssueKind `json:"kind"`
}

// Result is the output of one normalization pass.
type Result struct {
	Facts      []model.ProductionFact
	Issues     []Issue
	OccurredOn time.Time
	DateSource DateSource
}

// Omitted counts the items that produced no fact.
func (r Result) Omitted() int {
	n := 0
	for _, is := range r.Issues {
		if is.Kind == IssueZeroRow {
			n++
		}
	}
	return n
}

// CatalogIndex resolves product codes to catalog entries by exact match.
type CatalogIndex struct {
	byCode map[string]model.CatalogEntry
}

// NewCatalogIndex indexes a catalog snapshot. Later duplicates win.
func NewCatalogIndex(entries []model.CatalogEntry) *CatalogIndex {
	idx := &CatalogIndex{byCode: make(map[string]model.CatalogEntry, len(entries))}
	for _, e := range entries {
		idx.byCode[e.Code] = e
	}
	return idx
}

// Lookup returns the entry for code.
func (c *CatalogIndex) Lookup(code string) (model.CatalogEntry, bool) {
	if c == nil {
		return model.CatalogEntry{}, false
	}
	e, ok := c.byCode[code]
	return e, ok
}

// Classification returns the classification for code or model.Unclassified.
func (c *CatalogIndex) Classification(code string) string {
	if e, ok := c.Lookup(code); ok && e.Classification != "" {
		return e.Classification
	}
	return model.Unclassified
}

// Normalizer converts raw records to facts for a fixed time zone.
type Normalizer struct {
	loc *time.Location
}

// New creates a Normalizer. A nil loc uses time.Local.
func New(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	return &Normalizer{loc: loc}
}

// Normalize flattens rec into production facts. The processed flag is
// ignored; selection is the caller's concern. Fact order is unspecified.
func (n *Normalizer) Normalize(rec model.RawDailyRecord, catalog *CatalogIndex, now time.Time) Result {
	occurredOn, src := ResolveDate(rec.ID, rec.Date, now, n.loc)
	res := Result{OccurredOn: occurredOn, DateSource: src}

	counters := make(map[model.Shift]int, len(model.Shifts))
	for _, shiftKey := range slices.Sorted(maps.Keys(rec.Shifts)) {
		shift, ok := ClassifyShift(shiftKey)
		if !ok {
			res.Issues = append(res.Issues, Issue{RecordID: rec.ID, ShiftKey: shiftKey, Kind: IssueNotShift})
			continue
		}

		items := rec.Shifts[shiftKey]
		for _, itemKey := range slices.Sorted(maps.Keys(items)) {
			item := items[itemKey]
			index := counters[shift]
			counters[shift]++

			planned := n.quantity(&res, rec.ID, shiftKey, itemKey, "planned_quantity", item.PlannedQuantity)
			produced := n.quantity(&res, rec.ID, shiftKey, itemKey, "produced_weight_kg", item.ProducedWeightKg)

			if planned.IsZero() && produced.IsZero() {
				res.Issues = append(res.Issues, Issue{RecordID: rec.ID, ShiftKey: shiftKey, ItemKey: itemKey, Kind: IssueZeroRow})
				continue
			}

			code := strings.TrimSpace(item.Code)
			res.Facts = append(res.Facts, model.ProductionFact{
				ID:                fmt.Sprintf("%s_%s_%d", rec.ID, shift, index),
				SourceID:          rec.ID,
				ProductCode:       code,
				ProductName:       productName(catalog, code, item.ShortDescription),
				Classification:    catalog.Classification(code),
				PlannedQuantity:   planned,
				ProducedQuantity:  produced,
				Shift:             shift,
				OccurredOn:        occurredOn,
				EfficiencyPercent: model.Efficiency(produced, planned),
			})
		}
	}
	return res
}

func (n *Normalizer) quantity(res *Result, recordID, shiftKey, itemKey, field string, raw model.Quantity) decimal.Decimal {
	d, ok := ParseDecimal(string(raw))
	if !ok && raw != "" {
		res.Issues = append(res.Issues, Issue{
			RecordID: recordID,
			ShiftKey: shiftKey,
			ItemKey:  itemKey,
			Field:    field,
			Raw:      string(raw),
			Kind:     IssueUnparsable,
		})
	}
	return d
}

func productName(catalog *CatalogIndex, code, description string) string {
	if e, ok := catalog.Lookup(code); ok && e.Name != "" {
		return e.Name
	}
	if d := strings.TrimSpace(description); d != "" {
		return d
	}
	return code
}

// NormalizeAll normalizes a batch of records against one catalog snapshot.
// A malformed record never aborts the batch.
func (n *Normalizer) NormalizeAll(recs []model.RawDailyRecord, catalog []model.CatalogEntry, now time.Time) Result {
	return n.NormalizeWhere(recs, catalog, now, nil)
}

// NormalizeWhere is NormalizeAll restricted to records whose resolved day
// satisfies keep. Facts and issues of other records are dropped together.
// A nil keep selects every record.
func (n *Normalizer) NormalizeWhere(recs []model.RawDailyRecord, catalog []model.CatalogEntry, now time.Time, keep func(time.Time) bool) Result {
	idx := NewCatalogIndex(catalog)
	var out Result
	for _, rec := range recs {
		r := n.Normalize(rec, idx, now)
		if keep != nil && !keep(r.OccurredOn) {
			continue
		}
		out.Facts = append(out.Facts, r.Facts...)
		out.Issues = append(out.Issues, r.Issues...)
	}
	return out
}
