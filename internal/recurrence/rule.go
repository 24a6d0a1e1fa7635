package recurrence

import (
	"errors"
	"fmt"
	"strings"

	"github.com/teambition/rrule-go"
)

// Rule is the repeat cadence attached to a task or calendar event.
type Rule string

const (
	None     Rule = "none"
	Daily    Rule = "daily"
	Weekly   Rule = "weekly"
	BiWeekly Rule = "bi_weekly"
	Monthly  Rule = "monthly"
	Yearly   Rule = "yearly"

	// Custom is the passthrough for any tag without a built-in cadence.
	// On its own it expands like None; with an RRULE attached (see Series)
	// the RRULE drives expansion.
	Custom Rule = "customized"
)

// ErrInvalidRRule is returned when an RRULE string cannot be parsed.
var ErrInvalidRRule = errors.New("recurrence: invalid RRULE")

// ParseRule maps a stored repeat tag onto a Rule. Matching ignores case,
// surrounding whitespace and '-' vs '_'. Empty input is None; anything
// unrecognized is Custom.
func ParseRule(s string) Rule {
	r, _ := LookupRule(s)
	return r
}

// LookupRule is ParseRule that also reports whether s named a recognized
// tag. "biweekly" is accepted as an alias of bi_weekly.
func LookupRule(s string) (Rule, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "-", "_")

	switch v {
	case "":
		return None, true
	case "biweekly":
		return BiWeekly, true
	}
	if r := Rule(v); r.Known() {
		return r, true
	}
	return Custom, false
}

// Repeats reports whether the rule has a fixed step, i.e. produces more
// than the anchor itself.
func (r Rule) Repeats() bool {
	_, ok := stepFor(r)
	return ok
}

// Known reports whether r is one of the built-in tags (including Custom).
func (r Rule) Known() bool {
	switch r {
	case None, Daily, Weekly, BiWeekly, Monthly, Yearly, Custom:
		return true
	}
	return false
}

func (r Rule) String() string { return string(r) }

// RRule returns the closest iCalendar RRULE for r, or "" for rules that
// never repeat. Monthly and yearly rules clamp to the last day of short
// months here, whereas RFC 5545 skips those months.
func (r Rule) RRule() string {
	switch r {
	case Daily:
		return "FREQ=DAILY"
	case Weekly:
		return "FREQ=WEEKLY"
	case BiWeekly:
		return "FREQ=WEEKLY;INTERVAL=2"
	case Monthly:
		return "FREQ=MONTHLY"
	case Yearly:
		return "FREQ=YEARLY"
	}
	return ""
}

// UnmarshalText normalizes tags read from YAML/JSON through ParseRule.
func (r *Rule) UnmarshalText(b []byte) error {
	*r = ParseRule(string(b))
	return nil
}

// RuleFromRRule maps an iCalendar RRULE onto the planner rule it is
// equivalent to. Rules that carry COUNT, UNTIL, BY* parts or an interval
// without a planner counterpart come back as Custom, so the caller keeps
// the raw RRULE for expansion.
func RuleFromRRule(s string) (Rule, error) {
	opt, err := parseROption(s)
	if err != nil {
		return Custom, err
	}

	if opt.Count != 0 || !opt.Until.IsZero() || hasByParts(opt) {
		return Custom, nil
	}

	interval := opt.Interval
	if interval == 0 {
		interval = 1
	}

	switch {
	case opt.Freq == rrule.DAILY && interval == 1:
		return Daily, nil
	case opt.Freq == rrule.WEEKLY && interval == 1:
		return Weekly, nil
	case opt.Freq == rrule.WEEKLY && interval == 2:
		return BiWeekly, nil
	case opt.Freq == rrule.MONTHLY && interval == 1:
		return Monthly, nil
	case opt.Freq == rrule.YEARLY && interval == 1:
		return Yearly, nil
	}
	return Custom, nil
}

func parseROption(s string) (*rrule.ROption, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "RRULE:")
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidRRule)
	}
	opt, err := rrule.StrToROption(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRRule, s, err)
	}
	// Planner series are day-granular.
	switch opt.Freq {
	case rrule.HOURLY, rrule.MINUTELY, rrule.SECONDLY:
		return nil, fmt.Errorf("%w: %q: sub-daily frequency", ErrInvalidRRule, s)
	}
	return opt, nil
}

func hasByParts(opt *rrule.ROption) bool {
	return len(opt.Bysetpos) > 0 ||
		len(opt.Bymonth) > 0 ||
		len(opt.Bymonthday) > 0 ||
		len(opt.Byyearday) > 0 ||
		len(opt.Byweekno) > 0 ||
		len(opt.Byweekday) > 0 ||
		len(opt.Byhour) > 0 ||
		len(opt.Byminute) > 0 ||
		len(opt.Bysecond) > 0 ||
		len(opt.Byeaster) > 0
}
