package agenda

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the bare calendar date form accepted by ParseTime.
const DateLayout = "2006-01-02"

// ErrInvalidRange is returned for windows whose end precedes their start.
var ErrInvalidRange = errors.New("agenda: range end is before range start")

// Window is an inclusive [Start, End] query range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Validate rejects reversed windows.
func (w Window) Validate() error {
	if w.End.Before(w.Start) {
		return fmt.Errorf("%w: [%s, %s]", ErrInvalidRange,
			w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}
	return nil
}

// Span returns End - Start.
func (w Window) Span() time.Duration {
	return w.End.Sub(w.Start)
}

// Day returns the calendar day containing t in loc, from midnight through
// the last nanosecond before the next midnight.
func Day(t time.Time, loc *time.Location) Window {
	return Days(t, loc, 1)
}

// Days returns n whole calendar days starting with the day containing t.
// n < 1 is treated as 1.
func Days(t time.Time, loc *time.Location, n int) Window {
	if n < 1 {
		n = 1
	}
	start := midnight(t, loc)
	return Window{Start: start, End: start.AddDate(0, 0, n).Add(-time.Nanosecond)}
}

// Week returns the 7-day window containing t whose first day is first.
func Week(t time.Time, loc *time.Location, first time.Weekday) Window {
	day := midnight(t, loc)
	back := (int(day.Weekday()) - int(first) + 7) % 7
	return Days(day.AddDate(0, 0, -back), loc, 7)
}

// ParseTime accepts RFC 3339 or a bare date in loc. With endOfDay a bare
// date resolves to the last instant of that day, so it can close a window.
func ParseTime(v string, loc *time.Location, endOfDay bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("missing")
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := time.ParseInLocation(DateLayout, v, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC 3339 or YYYY-MM-DD, got %q", v)
	}
	if endOfDay {
		return Day(d, loc).End, nil
	}
	return d, nil
}

func midnight(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
