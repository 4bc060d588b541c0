package normalize

import (
	"regexp"
	"strings"
	"time"
)

// DateSource tells which input decided a fact's calendar day.
type DateSource string

const (
	DateFromID       DateSource = "id"
	DateFromField    DateSource = "date_field"
	DateFromFallback DateSource = "processing_time"
)

var isoDateRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

var dateFieldLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006",
}

// ResolveDate picks the calendar day of a record: a YYYY-MM-DD pattern in the
// record id wins, then a recognizable date field, then now. The result is
// midnight in loc.
func ResolveDate(id, date string, now time.Time, loc *time.Location) (time.Time, DateSource) {
	if loc == nil {
		loc = time.Local
	}

	if m := isoDateRe.FindString(id); m != "" {
		if d, err := time.ParseInLocation("2006-01-02", m, loc); err == nil {
			return d, DateFromID
		}
	}

	if date = strings.TrimSpace(date); date != "" {
		for _, layout := range dateFieldLayouts {
			if d, err := time.ParseInLocation(layout, date, loc); err == nil {
				return StartOfDay(d.In(loc)), DateFromField
			}
		}
	}

	return StartOfDay(now.In(loc)), DateFromFallback
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
