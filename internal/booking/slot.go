package booking

import (
	"fmt"
	"strings"
	"time"
)

// clockLayout is the canonical time-of-day format.  Values are always
// zero-padded so that lexicographic order equals chronological order.
const clockLayout = "15:04"

// DaySpan is the half-open interval [Start, End) covering one calendar
// day in the engine's reference timezone.  Reservations are grouped by
// day through range checks against a span, never by raw equality of
// stored timestamps.
type DaySpan struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the span.
func (d DaySpan) Contains(t time.Time) bool {
	return !t.Before(d.Start) && t.Before(d.End)
}

// Calendar normalizes caller-supplied dates to day spans in a fixed
// reference timezone.
type Calendar struct {
	loc *time.Location
}

// NewCalendar returns a Calendar for loc.  A nil location means UTC.
func NewCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{loc: loc}
}

// Location returns the reference timezone.
func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Day returns the span of the calendar day containing t.  The end is
// the next local midnight, so days with a DST shift are 23 or 25 hours.
func (c Calendar) Day(t time.Time) DaySpan {
	loc := c.Location()
	lt := t.In(loc)
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	return DaySpan{Start: start.UTC(), End: start.AddDate(0, 0, 1).UTC()}
}

// FormatDay renders the day containing t as "2006-01-02" in the
// reference timezone.
func (c Calendar) FormatDay(t time.Time) string {
	return t.In(c.Location()).Format("2006-01-02")
}

var dayLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseDay accepts a plain date ("2006-01-02"), a zone-less timestamp
// (read in the reference timezone) or an RFC 3339 timestamp (converted
// to the reference timezone) and returns the span of that day.
func (c Calendar) ParseDay(s string) (DaySpan, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DaySpan{}, fmt.Errorf("%w: date is required", ErrInvalidRequest)
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return c.Day(t), nil
	}
	for _, layout := range dayLayouts {
		if t, err := time.ParseInLocation(layout, s, c.Location()); err == nil {
			return c.Day(t), nil
		}
	}
	return DaySpan{}, fmt.Errorf("%w: invalid date %q", ErrInvalidRequest, s)
}

// ParseClock validates a time of day ("9:00" or "09:00") and returns it
// zero-padded.
func ParseClock(field, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidRequest, field)
	}
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return "", fmt.Errorf("%w: invalid %s %q", ErrInvalidRequest, field, s)
	}
	return t.Format(clockLayout), nil
}

// Overlaps is the half-open interval intersection test.  A slot ending
// exactly when another begins does not overlap it.
func Overlaps(aStart, aEnd, bStart, bEnd string) bool {
	return aStart < bEnd && aEnd > bStart
}
