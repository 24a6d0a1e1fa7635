package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	appLog "planner/internal/log"
	"planner/internal/model"
	"planner/internal/recurrence"
)

// Parse converts an ICS payload into planner events for src's workspace.
//
//   - Time zones come from the library's TZID handling.
//   - All-day events are detected from the DTSTART value form.
//   - RRULEs with a planner equivalent become that rule; any other RRULE is
//     kept verbatim under the "customized" rule.
//   - EXDATE values become the event's ExDates.
//   - A RECURRENCE-ID override removes the original instance from its
//     series and, unless cancelled, is imported as a one-off event.
func Parse(src Source, body []byte) ([]model.Event, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse %s: %w", src.ID, err)
	}

	var (
		events    = make([]model.Event, 0)
		overrides []override
		skipped   int
	)

	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(src, ve)
		if perr == nil {
			if rid := ve.GetProperty("RECURRENCE-ID"); rid != nil {
				var o override
				o.recurrenceID, perr = parseICSTime(rid.Value, rid.ICalParameters, ev.Start.Location())
				if perr == nil {
					o.event = ev
					o.cancelled = isCancelled(ve)
					overrides = append(overrides, o)
					continue
				}
				perr = fmt.Errorf("RECURRENCE-ID: %w", perr)
			}
		}
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Error("ics: vevent skipped", perr, "source", src.ID)
			skipped++
			continue
		}
		events = append(events, ev)
	}

	events = applyOverrides(src, events, overrides)

	appLog.Info("ics: parse completed", "source", src.ID, "url", redactURL(src.URL),
		"events", len(events), "overrides", len(overrides), "skipped", skipped)
	return events, nil
}

// override is a VEVENT replacing one instance of the series sharing its UID.
type override struct {
	event        model.Event
	recurrenceID time.Time
	cancelled    bool
}

// applyOverrides excludes each overridden instance from its series and
// appends the replacement as a one-off event.
func applyOverrides(src Source, events []model.Event, overrides []override) []model.Event {
	if len(overrides) == 0 {
		return events
	}

	series := make(map[string]int, len(events))
	for i, ev := range events {
		series[ev.UID] = i
	}

	for _, o := range overrides {
		if i, ok := series[o.event.UID]; ok {
			events[i].ExDates = append(events[i].ExDates, o.recurrenceID)
		}
		if o.cancelled {
			continue
		}

		ev := o.event
		ev.ID = src.ID + ":" + ev.UID + "@" + o.recurrenceID.UTC().Format(utcLayout)
		ev.Repeat = recurrence.None
		ev.RRule = ""
		ev.ExDates = nil
		events = append(events, ev)
	}
	return events
}

func parseVEvent(src Source, ve *ical.VEvent) (model.Event, error) {
	var out model.Event
	out.WorkspaceID = src.Workspace
	out.SourceID = src.ID

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	out.AllDay = isDateValue(dtStart)

	start, err := ve.GetStartAt()
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Start = start

	end, err := ve.GetEndAt()
	if err != nil || end.Before(start) {
		end = start
		if out.AllDay {
			end = start.AddDate(0, 0, 1)
		}
	}
	out.End = end

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil && p.Value != "" {
		out.UID = p.Value
	} else {
		// Stable across syncs so the same feed yields the same IDs.
		out.UID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(src.URL+"#"+out.Title+"@"+start.UTC().Format(time.RFC3339))).String()
	}
	out.ID = src.ID + ":" + out.UID

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			ex, err := parseICSTime(part, p.ICalParameters, start.Location())
			if err != nil {
				appLog.Error("ics: EXDATE ignored", err, "source", src.ID, "uid", out.UID)
				continue
			}
			out.ExDates = append(out.ExDates, ex)
		}
	}

	out.Repeat = recurrence.None
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil && p.Value != "" {
		rule, rerr := recurrence.RuleFromRRule(p.Value)
		if rerr != nil {
			appLog.Error("ics: RRULE ignored, importing single occurrence", rerr, "source", src.ID, "uid", out.UID)
		} else {
			out.Repeat = rule
			if rule == recurrence.Custom {
				out.RRule = p.Value
			}
		}
	}

	return out, nil
}

const (
	utcLayout   = "20060102T150405Z"
	localLayout = "20060102T150405"
	dateLayout  = "20060102"
)

// parseICSTime parses a DATE or DATE-TIME value. Floating and date values
// use the TZID parameter when present, otherwise fallback.
func parseICSTime(v string, params map[string][]string, fallback *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	loc := fallback
	if tz := params["TZID"]; len(tz) > 0 {
		if l, err := time.LoadLocation(tz[0]); err == nil {
			loc = l
		}
	}

	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse(utcLayout, v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation(localLayout, v, loc)
	default:
		return time.ParseInLocation(dateLayout, v, loc)
	}
}

func isCancelled(ve *ical.VEvent) bool {
	p := ve.GetProperty("STATUS")
	return p != nil && strings.EqualFold(p.Value, "CANCELLED")
}

// isDateValue reports a VALUE=DATE property or a bare YYYYMMDD value.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}
