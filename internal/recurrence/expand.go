package recurrence

import (
	"time"
)

// MaxOccurrences bounds the number of occurrences a single expansion may
// emit, however wide the window is relative to the step.
const MaxOccurrences = 1000

// Occurrence is one concrete instance of an event series.
type Occurrence struct {
	Start time.Time
	End   time.Time
}

// Duration returns End - Start.
func (o Occurrence) Duration() time.Duration {
	return o.End.Sub(o.Start)
}

// Expand returns the occurrences of the series seeded at anchor that fall
// within [rangeStart, rangeEnd], both bounds inclusive, in ascending order.
//
//   - None and Custom yield the anchor itself when it is inside the window.
//   - Repeating rules start at the anchor and move forward in whole steps;
//     no occurrence before the anchor is ever produced.
//   - Monthly and yearly steps are taken from the anchor (anchor + k months)
//     and clamp to the last day of shorter months.
//   - At most MaxOccurrences values are returned.
//
// A window with rangeEnd before rangeStart is empty.
func Expand(anchor time.Time, rule Rule, rangeStart, rangeEnd time.Time) []time.Time {
	out, _ := expand(anchor, rule, rangeStart, rangeEnd)
	return out
}

// ExpandEvent expands an event whose first instance spans [start, end].
// Every occurrence keeps the anchor's duration in absolute time: the end is
// start-of-occurrence + (end - start), never recomputed with calendar math.
func ExpandEvent(start, end time.Time, rule Rule, rangeStart, rangeEnd time.Time) []Occurrence {
	return withDuration(Expand(start, rule, rangeStart, rangeEnd), end.Sub(start))
}

// expand is Expand plus a flag telling whether MaxOccurrences cut the
// result short.
func expand(anchor time.Time, rule Rule, rangeStart, rangeEnd time.Time) ([]time.Time, bool) {
	if rangeEnd.Before(rangeStart) {
		return nil, false
	}

	st, ok := stepFor(rule)
	if !ok {
		if inWindow(anchor, rangeStart, rangeEnd) {
			return []time.Time{anchor}, false
		}
		return nil, false
	}

	if anchor.After(rangeEnd) {
		return nil, false
	}

	k := 0
	if anchor.Before(rangeStart) {
		k = st.firstOnOrAfter(anchor, rangeStart)
	}

	var out []time.Time
	for ; ; k++ {
		occ := st.nth(anchor, k)
		if occ.After(rangeEnd) {
			return out, false
		}
		if len(out) == MaxOccurrences {
			return out, true
		}
		out = append(out, occ)
	}
}

func withDuration(starts []time.Time, d time.Duration) []Occurrence {
	if len(starts) == 0 {
		return nil
	}
	out := make([]Occurrence, 0, len(starts))
	for _, s := range starts {
		out = append(out, Occurrence{Start: s, End: s.Add(d)})
	}
	return out
}

func inWindow(t, rangeStart, rangeEnd time.Time) bool {
	return !t.Before(rangeStart) && !t.After(rangeEnd)
}

// step is the distance between consecutive occurrences. Exactly one of
// days and months is non-zero.
type step struct {
	days   int
	months int
}

func stepFor(r Rule) (step, bool) {
	switch r {
	case Daily:
		return step{days: 1}, true
	case Weekly:
		return step{days: 7}, true
	case BiWeekly:
		return step{days: 14}, true
	case Monthly:
		return step{months: 1}, true
	case Yearly:
		return step{months: 12}, true
	}
	return step{}, false
}

// nth returns anchor + k steps, keeping the anchor's wall clock and
// location.
func (s step) nth(anchor time.Time, k int) time.Time {
	if s.months != 0 {
		return addMonthsClamped(anchor, k*s.months)
	}
	return anchor.AddDate(0, 0, k*s.days)
}

// firstOnOrAfter returns the smallest k >= 0 with nth(anchor, k) >= target.
// The estimate comes from calendar arithmetic so far-away windows cost a
// couple of checks instead of a walk from the anchor.
func (s step) firstOnOrAfter(anchor, target time.Time) int {
	t := target.In(anchor.Location())

	var k int
	if s.months != 0 {
		k = monthsBetween(anchor, t) / s.months
	} else {
		k = int((civilDay(t) - civilDay(anchor)) / int64(s.days))
	}
	if k < 0 {
		k = 0
	}

	for k > 0 && !s.nth(anchor, k-1).Before(target) {
		k--
	}
	for s.nth(anchor, k).Before(target) {
		k++
	}
	return k
}

// addMonthsClamped moves t by n calendar months. When the day of month
// does not exist in the target month it is clamped to that month's last
// day (Jan 31 + 1 month = Feb 28/29).
func addMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()

	total := int(m) - 1 + n
	y += total / 12
	mm := total % 12
	if mm < 0 {
		mm += 12
		y--
	}
	month := time.Month(mm + 1)

	if last := daysIn(y, month); d > last {
		d = last
	}

	hh, mi, ss := t.Clock()
	return time.Date(y, month, d, hh, mi, ss, t.Nanosecond(), t.Location())
}

func daysIn(year int, m time.Month) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func monthsBetween(a, b time.Time) int {
	ay, am, _ := a.Date()
	by, bm, _ := b.Date()
	return (by-ay)*12 + int(bm) - int(am)
}

// civilDay numbers the calendar date of t (in t's location) as days since
// the Unix epoch.
func civilDay(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}
