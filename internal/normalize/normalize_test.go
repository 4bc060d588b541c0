package normalize

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pcp-cli/internal/model"
)

var testNow = time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)

func testCatalog() []model.CatalogEntry {
	return []model.CatalogEntry{
		{Code: "P-10", Name: "Pine board", Classification: "A"},
		{Code: "P-20", Classification: "B"},
	}
}

func testRecord() model.RawDailyRecord {
	return model.RawDailyRecord{
		ID:        "2024-03-05",
		Date:      "2024-03-01",
		Processed: model.ProcessedYes,
		Shifts: map[string]map[string]model.LineItem{
			"1_turno": {
				"0": {Code: "P-10", PlannedQuantity: "80", ProducedWeightKg: "100", ShortDescription: "board"},
				"1": {Code: "P-20", PlannedQuantity: "0", ProducedWeightKg: "0"},
				"2": {Code: "X-99", PlannedQuantity: "1.000,5", ProducedWeightKg: "n/a", ShortDescription: "Unknown part"},
			},
			"2_turno": {
				"0": {Code: "P-20", PlannedQuantity: "100", ProducedWeightKg: "50"},
			},
			"observacoes": {
				"0": {Code: "P-10", PlannedQuantity: "5", ProducedWeightKg: "5"},
			},
		},
	}
}

func TestNormalize_Facts(t *testing.T) {
	n := New(time.UTC)
	res := n.Normalize(testRecord(), NewCatalogIndex(testCatalog()), testNow)

	require.Len(t, res.Facts, 3)
	assert.Equal(t, DateFromID, res.DateSource)

	byID := make(map[string]model.ProductionFact)
	for _, f := range res.Facts {
		byID[f.ID] = f
	}

	f, ok := byID["2024-03-05_shift1_0"]
	require.True(t, ok)
	assert.Equal(t, "Pine board", f.ProductName)
	assert.Equal(t, "A", f.Classification)
	assert.Equal(t, model.Shift1, f.Shift)
	assert.InDelta(t, 125.0, f.EfficiencyPercent, 0.0001)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), f.OccurredOn)

	unknown, ok := byID["2024-03-05_shift1_2"]
	require.True(t, ok)
	assert.Equal(t, model.Unclassified, unknown.Classification)
	assert.Equal(t, "Unknown part", unknown.ProductName)
	assert.True(t, decimal.RequireFromString("1000.5").Equal(unknown.PlannedQuantity))
	assert.True(t, unknown.ProducedQuantity.IsZero())
	assert.Equal(t, 0.0, unknown.EfficiencyPercent)

	s2, ok := byID["2024-03-05_shift2_0"]
	require.True(t, ok)
	assert.Equal(t, "P-20", s2.ProductName)
	assert.Equal(t, "B", s2.Classification)
	assert.InDelta(t, 50.0, s2.EfficiencyPercent, 0.0001)
}

func TestNormalize_Issues(t *testing.T) {
	res := New(time.UTC).Normalize(testRecord(), NewCatalogIndex(testCatalog()), testNow)

	kinds := make(map[IssueKind]int)
	for _, is := range res.Issues {
		kinds[is.Kind]++
	}
	assert.Equal(t, 1, kinds[IssueNotShift])
	assert.Equal(t, 1, kinds[IssueZeroRow])
	assert.Equal(t, 1, kinds[IssueUnparsable])
	assert.Equal(t, 1, res.Omitted())
}

func TestNormalize_ZeroRowSuppression(t *testing.T) {
	rec := model.RawDailyRecord{
		ID: "2024-03-05",
		Shifts: map[string]map[string]model.LineItem{
			"Shift 1": {
				"a": {Code: "P-10", PlannedQuantity: "0", ProducedWeightKg: "0,0", ShortDescription: "placeholder"},
				"b": {Code: "P-10", PlannedQuantity: "", ProducedWeightKg: "garbage"},
				"c": {Code: "", PlannedQuantity: "0"},
			},
		},
	}
	res := New(time.UTC).Normalize(rec, NewCatalogIndex(testCatalog()), testNow)
	assert.Empty(t, res.Facts)
	assert.Equal(t, 3, res.Omitted())
}

func TestNormalize_Idempotent(t *testing.T) {
	n := New(time.UTC)
	idx := NewCatalogIndex(testCatalog())

	first := n.Normalize(testRecord(), idx, testNow)
	second := n.Normalize(testRecord(), idx, testNow)

	sortFacts := cmpopts.SortSlices(func(a, b model.ProductionFact) bool { return a.ID < b.ID })
	if diff := cmp.Diff(first.Facts, second.Facts, sortFacts); diff != "" {
		t.Errorf("normalization not idempotent (-first +second):\n%s", diff)
	}
}

func TestNormalize_NoShiftKeys(t *testing.T) {
	rec := model.RawDailyRecord{ID: "2024-03-05", Shifts: map[string]map[string]model.LineItem{
		"notes": {"0": {Code: "P-10", PlannedQuantity: "1", ProducedWeightKg: "1"}},
	}}
	res := New(time.UTC).Normalize(rec, nil, testNow)
	assert.Empty(t, res.Facts)

	res = New(time.UTC).Normalize(model.RawDailyRecord{ID: "2024-03-05"}, nil, testNow)
	assert.Empty(t, res.Facts)
	assert.Empty(t, res.Issues)
}

func TestNormalize_UnprocessedRecordStillNormalizes(t *testing.T) {
	rec := testRecord()
	rec.Processed = model.ProcessedNo
	res := New(time.UTC).Normalize(rec, NewCatalogIndex(testCatalog()), testNow)
	assert.Len(t, res.Facts, 3)
}

func TestNormalizeAll_SkipsMalformedRecordsOnly(t *testing.T) {
	broken := model.RawDailyRecord{ID: "2024-03-06", Shifts: map[string]map[string]model.LineItem{
		"1_turno": {"0": {Code: "P-10", PlannedQuantity: "??", ProducedWeightKg: "--"}},
	}}
	res := New(time.UTC).NormalizeAll([]model.RawDailyRecord{broken, testRecord()}, testCatalog(), testNow)
	assert.Len(t, res.Facts, 3)
	assert.Equal(t, 2, res.Omitted())
}

func TestNormalizeWhere_DropsIssuesOutsideSelection(t *testing.T) {
	broken := model.RawDailyRecord{ID: "2023-01-02", Shifts: map[string]map[string]model.LineItem{
		"1_turno": {"0": {Code: "P-10", PlannedQuantity: "??", ProducedWeightKg: "--"}},
	}}
	good := testRecord()
	day, _ := ResolveDate(good.ID, good.Date, testNow, time.UTC)

	res := New(time.UTC).NormalizeWhere([]model.RawDailyRecord{broken, good}, testCatalog(), testNow,
		func(d time.Time) bool { return d.Equal(day) })
	assert.Len(t, res.Facts, 3)
	for _, is := range res.Issues {
		assert.NotEqual(t, "2023-01-02", is.RecordID)
	}

	all := New(time.UTC).NormalizeWhere([]model.RawDailyRecord{broken, good}, testCatalog(), testNow, nil)
	assert.Equal(t, 2, all.Omitted())
}

func TestCatalogIndex_NilSafe(t *testing.T) {
	var idx *CatalogIndex
	_, ok := idx.Lookup("P-10")
	assert.False(t, ok)
	assert.Equal(t, model.Unclassified, idx.Classification("P-10"))
}
