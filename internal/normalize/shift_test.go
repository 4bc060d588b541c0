package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/pcp-cli/internal/model"
)

func TestClassifyShift(t *testing.T) {
	tests := []struct {
		key    string
		want   model.Shift
		wantOK bool
	}{
		{"1_turno", model.Shift1, true},
		{"2_turno", model.Shift2, true},
		{"Turno 1", model.Shift1, true},
		{"SHIFT2", model.Shift2, true},
		{"Primeiro Turno", model.Shift1, true},
		{"SEGUNDO", model.Shift2, true},
		{"turno", model.ShiftUnknown, false},
		{"12_turno", model.ShiftUnknown, false},
		{"", model.ShiftUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := ClassifyShift(tt.key)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
