// Package schedule reads the free-text schedule of a ticket: the table of
// activities stored in the tracker and the "15/01 a 18/01" style date cells
// inside it.
package schedule

import (
	"regexp"
	"strconv"
	"time"
)

var datePattern = regexp.MustCompile(`(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?`)

// Range is an inclusive day range. Start is the first instant of its day and
// End the last millisecond of its day.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ParseRange extracts a date range from text such as "15/01", "15/01/2026"
// or "15/01 a 18/01". Dates without a year take the year of now; two-digit
// years are in the 2000s. A range written backwards is swapped. Anything
// unparseable, including impossible dates like 31/02, reports ok=false.
func ParseRange(text string, now time.Time) (Range, bool) {
	matches := datePattern.FindAllStringSubmatch(text, 2)
	if len(matches) == 0 {
		return Range{}, false
	}

	loc := now.Location()
	start, ok := toDate(matches[0], now.Year(), loc)
	if !ok {
		return Range{}, false
	}
	end := start
	if len(matches) > 1 {
		if end, ok = toDate(matches[1], now.Year(), loc); !ok {
			return Range{}, false
		}
	}
	if end.Before(start) {
		start, end = end, start
	}

	return Range{Start: start, End: EndOfDay(end)}, true
}

// toDate builds midnight of the matched day, rejecting dates that
// time.Date would silently normalize.
func toDate(m []string, defaultYear int, loc *time.Location) (time.Time, bool) {
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year := defaultYear
	if m[3] != "" {
		year, _ = strconv.Atoi(m[3])
		switch len(m[3]) {
		case 2:
			year += 2000
		case 3:
			return time.Time{}, false
		}
	}
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

// EndOfDay returns the last millisecond of t's calendar day.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
}

// ParseDay reads a single day written either as ISO (2026-01-20) or in the
// day/month form accepted by ParseRange.
func ParseDay(text string, now time.Time) (time.Time, bool) {
	if t, err := time.ParseInLocation("2006-01-02", text, now.Location()); err == nil {
		return t, true
	}
	if len(text) >= 10 {
		if t, err := time.Parse(time.RFC3339, text); err == nil {
			y, m, d := t.In(now.Location()).Date()
			return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), true
		}
	}
	r, ok := ParseRange(text, now)
	if !ok {
		return time.Time{}, false
	}
	return r.Start, true
}
