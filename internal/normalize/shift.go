package normalize

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/pcp-cli/internal/model"
)

var (
	shift1Markers = []string{"1", "primeiro", "first"}
	shift2Markers = []string{"2", "segundo", "second"}
)

// ClassifyShift maps a free-form shift key of a daily record to a Shift.
//
// Matching is case-insensitive. A key belongs to shift 1 when it carries a
// shift-1 marker ("1", "primeiro", "first") and no shift-2 marker ("2",
// "segundo", "second"), and vice versa. Keys with both or neither marker are
// not shifts and are ignored by the normalizer.
func ClassifyShift(key string) (model.Shift, bool) {
	folded := cases.Fold().String(key)
	has1 := containsAny(folded, shift1Markers)
	has2 := containsAny(folded, shift2Markers)

	switch {
	case has1 && !has2:
		return model.Shift1, true
	case has2 && !has1:
		return model.Shift2, true
	default:
		return model.ShiftUnknown, false
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
