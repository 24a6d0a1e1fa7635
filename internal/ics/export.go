package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"planner/internal/model"
)

const productID = "-//planner//occurrences//EN"

// feedNamespace scopes the per-instance UIDs emitted by Encode.
var feedNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("planner:feed"))

// Encode renders expanded calendar entries as a PUBLISH calendar. Each
// occurrence becomes its own VEVENT with a UID derived from the event ID
// and instance key, so repeated exports of the same window are stable.
func Encode(name string, entries []model.CalendarEntry, stamp time.Time) []byte {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, e := range entries {
		ev := cal.AddEvent(InstanceUID(e))
		ev.SetDtStampTime(stamp)
		ev.SetSummary(e.Title)
		if e.Description != "" {
			ev.SetDescription(e.Description)
		}
		if e.Location != "" {
			ev.SetLocation(e.Location)
		}

		if e.AllDay {
			ev.SetAllDayStartAt(e.Start)
			ev.SetAllDayEndAt(e.End)
		} else {
			ev.SetStartAt(e.Start)
			ev.SetEndAt(e.End)
		}
	}

	return []byte(cal.Serialize())
}

// InstanceUID is the UID Encode assigns to one occurrence.
func InstanceUID(e model.CalendarEntry) string {
	return uuid.NewSHA1(feedNamespace, []byte(e.EventID+"|"+e.InstanceKey)).String()
}
