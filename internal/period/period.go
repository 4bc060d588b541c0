// Package period resolves named reporting periods into concrete date ranges.
package period

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Period names a reporting window.
type Period string

const (
	Today  Period = "today"
	Week   Period = "week"
	Month  Period = "month"
	Year   Period = "year"
	Custom Period = "custom"
)

// ErrInvalidPeriod is returned for unknown period names or bad custom bounds.
var ErrInvalidPeriod = eris.New("period: invalid period")

// Parse maps user input to a Period. Accepts "this-week" style aliases.
func Parse(s string) (Period, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "this-")
	s = strings.TrimPrefix(s, "this_")
	switch p := Period(s); p {
	case Today, Week, Month, Year, Custom:
		return p, nil
	case "":
		return Today, nil
	default:
		return "", eris.Wrapf(ErrInvalidPeriod, "unknown period %q", s)
	}
}

// Request is a period plus the caller-supplied bounds used by Custom.
type Request struct {
	Period Period
	Start  *time.Time
	End    *time.Time
}

// ParseRequest builds a Request from user input. start and end are
// YYYY-MM-DD dates read in loc; giving either one without a period name
// selects Custom.
func ParseRequest(name, start, end string, loc *time.Location) (Request, error) {
	if loc == nil {
		loc = time.Local
	}
	if strings.TrimSpace(name) == "" && (start != "" || end != "") {
		name = string(Custom)
	}
	p, err := Parse(name)
	if err != nil {
		return Request{}, err
	}
	req := Request{Period: p}
	if p != Custom {
		return req, nil
	}
	if req.Start, err = parseDate(start, loc); err != nil {
		return Request{}, eris.Wrapf(ErrInvalidPeriod, "start: %v", err)
	}
	if req.End, err = parseDate(end, loc); err != nil {
		return Request{}, eris.Wrapf(ErrInvalidPeriod, "end: %v", err)
	}
	return req, nil
}

func parseDate(s string, loc *time.Location) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// IsCustom reports whether the request bypasses named-period caching.
func (r Request) IsCustom() bool {
	return r.Period == Custom
}

// Range is an inclusive [Start, End] window.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls within the range, bounds included.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Days returns the number of calendar days the range touches.
func (r Range) Days() int {
	n := 0
	for d := startOfDay(r.Start); !d.After(r.End); d = d.AddDate(0, 0, 1) {
		n++
	}
	return n
}

// Weekdays counts Monday to Friday days in the range.
func (r Range) Weekdays() int {
	n := 0
	for d := startOfDay(r.Start); !d.After(r.End); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n++
		}
	}
	return n
}

// Resolve turns a request into a concrete range in loc.
//
// Today resolves to yesterday's calendar day so reports always show the last
// closed day. Week starts on Sunday. Month and Year are the calendar month and
// year containing now. Custom clamps each bound to its whole day.
func Resolve(req Request, now time.Time, loc *time.Location) (Range, error) {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	today := startOfDay(now)

	switch req.Period {
	case Today, "":
		d := today.AddDate(0, 0, -1)
		return Range{Start: d, End: endOfDay(d)}, nil
	case Week:
		start := today.AddDate(0, 0, -int(today.Weekday()))
		return Range{Start: start, End: endOfDay(start.AddDate(0, 0, 6))}, nil
	case Month:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		return Range{Start: start, End: endOfDay(start.AddDate(0, 1, -1))}, nil
	case Year:
		start := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, loc)
		return Range{Start: start, End: endOfDay(time.Date(now.Year(), time.December, 31, 0, 0, 0, 0, loc))}, nil
	case Custom:
		if req.Start == nil || req.End == nil {
			return Range{}, eris.Wrap(ErrInvalidPeriod, "custom period requires start and end")
		}
		start := startOfDay(req.Start.In(loc))
		end := endOfDay(startOfDay(req.End.In(loc)))
		if end.Before(start) {
			return Range{}, eris.Wrapf(ErrInvalidPeriod, "custom start %s after end %s",
				start.Format(time.DateOnly), end.Format(time.DateOnly))
		}
		return Range{Start: start, End: end}, nil
	default:
		return Range{}, eris.Wrapf(ErrInvalidPeriod, "unknown period %q", req.Period)
	}
}

// Previous returns the window immediately before r for the same kind of
// period: the prior day, week, month or year, or an equally long window for
// custom ranges.
func Previous(p Period, r Range) Range {
	loc := r.Start.Location()
	switch p {
	case Today, "":
		d := r.Start.AddDate(0, 0, -1)
		return Range{Start: d, End: endOfDay(d)}
	case Week:
		start := r.Start.AddDate(0, 0, -7)
		return Range{Start: start, End: endOfDay(start.AddDate(0, 0, 6))}
	case Month:
		start := time.Date(r.Start.Year(), r.Start.Month()-1, 1, 0, 0, 0, 0, loc)
		return Range{Start: start, End: endOfDay(start.AddDate(0, 1, -1))}
	case Year:
		start := time.Date(r.Start.Year()-1, time.January, 1, 0, 0, 0, 0, loc)
		return Range{Start: start, End: endOfDay(time.Date(start.Year(), time.December, 31, 0, 0, 0, 0, loc))}
	default:
		days := r.Days()
		end := r.Start.AddDate(0, 0, -1)
		return Range{Start: end.AddDate(0, 0, -(days - 1)), End: endOfDay(end)}
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, t.Location())
}
