package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// rruleSkipBudget bounds how many RRULE instances before the window are
// generated and thrown away.
const rruleSkipBudget = 100 * MaxOccurrences

// Series is a stored recurring definition: the first instance plus the
// rule that repeats it. A zero End (or one before Start) describes an
// instant, as used for task due dates.
type Series struct {
	Start time.Time
	End   time.Time
	Rule  Rule
	// RRule is only consulted when Rule is Custom.
	RRule string
	// ExDates are occurrence starts removed from the series.
	ExDates []time.Time
}

// Expand returns the series' occurrences in [rangeStart, rangeEnd] and
// whether MaxOccurrences truncated them. Only a malformed RRule on a Custom
// series produces an error.
func (s Series) Expand(rangeStart, rangeEnd time.Time) ([]Occurrence, bool, error) {
	var (
		starts    []time.Time
		truncated bool
	)

	if s.Rule == Custom && s.RRule != "" {
		var err error
		starts, truncated, err = ExpandRRule(s.Start, s.RRule, rangeStart, rangeEnd)
		if err != nil {
			return nil, false, err
		}
	} else {
		starts, truncated = expand(s.Start, s.Rule, rangeStart, rangeEnd)
	}

	return withDuration(s.withoutExDates(starts), s.Duration()), truncated, nil
}

// Duration is the fixed length of every occurrence.
func (s Series) Duration() time.Duration {
	if s.End.Before(s.Start) {
		return 0
	}
	return s.End.Sub(s.Start)
}

func (s Series) withoutExDates(starts []time.Time) []time.Time {
	if len(s.ExDates) == 0 || len(starts) == 0 {
		return starts
	}
	out := starts[:0]
	for _, st := range starts {
		if !s.excluded(st) {
			out = append(out, st)
		}
	}
	return out
}

func (s Series) excluded(t time.Time) bool {
	for _, ex := range s.ExDates {
		if ex.Equal(t) {
			return true
		}
	}
	return false
}

// ExpandRRule expands an iCalendar RRULE seeded at anchor within
// [rangeStart, rangeEnd] inclusive. The result is capped at MaxOccurrences;
// the boolean reports whether the cap (or the skip budget before the
// window) cut the walk short.
func ExpandRRule(anchor time.Time, rule string, rangeStart, rangeEnd time.Time) ([]time.Time, bool, error) {
	opt, err := parseROption(rule)
	if err != nil {
		return nil, false, err
	}
	opt.Dtstart = anchor

	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidRRule, err)
	}

	if rangeEnd.Before(rangeStart) {
		return nil, false, nil
	}

	out, truncated, _ := collect(r.Iterator(), rangeStart, rangeEnd)
	return out, truncated, nil
}

// collect draws instances from next in ascending order and keeps those in
// [rangeStart, rangeEnd]. It stops at the first instance past the window,
// at MaxOccurrences kept values, or after rruleSkipBudget instances before
// the window. draws counts every instance taken from next.
func collect(next rrule.Next, rangeStart, rangeEnd time.Time) (out []time.Time, truncated bool, draws int) {
	skipped := 0
	for {
		v, ok := next()
		if !ok {
			return out, false, draws
		}
		draws++

		if v.After(rangeEnd) {
			return out, false, draws
		}
		if v.Before(rangeStart) {
			skipped++
			if skipped >= rruleSkipBudget {
				return out, true, draws
			}
			continue
		}
		if len(out) == MaxOccurrences {
			return out, true, draws
		}
		out = append(out, v)
	}
}
