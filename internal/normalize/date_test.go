package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveDate(t *testing.T) {
	now := time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		id      string
		date    string
		want    time.Time
		wantSrc DateSource
	}{
		{"id wins over field", "2024-03-05", "2024-03-01", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), DateFromID},
		{"id with prefix", "producao_2024-03-07", "", time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC), DateFromID},
		{"invalid id date falls to field", "2024-13-45", "2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), DateFromField},
		{"rfc3339 field", "abc", "2024-03-02T18:00:00Z", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), DateFromField},
		{"brazilian field", "abc", "09/03/2024", time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), DateFromField},
		{"fallback to now", "abc", "soon", time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), DateFromFallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, src := ResolveDate(tt.id, tt.date, now, time.UTC)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
			assert.Equal(t, tt.wantSrc, src)
		})
	}
}

func TestStartOfDay(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	got := StartOfDay(time.Date(2024, 6, 15, 23, 59, 0, 0, loc))
	assert.Equal(t, time.Date(2024, 6, 15, 0, 0, 0, 0, loc), got)
}
