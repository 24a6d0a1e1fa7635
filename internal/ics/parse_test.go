package ics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planner/internal/agenda"
	"planner/internal/clock"
	"planner/internal/model"
	"planner/internal/recurrence"
	"planner/internal/store"
)

var testSource = Source{ID: "team", URL: "https://calendar.example.com/private/abc.ics?token=s3cret", Workspace: "ws-1"}

func loadFeed(t *testing.T) []byte {
	t.Helper()
	body, err := os.ReadFile("testdata/feed.ics")
	require.NoError(t, err)
	return body
}

func byTitle(events []model.Event) map[string]model.Event {
	out := make(map[string]model.Event, len(events))
	for _, e := range events {
		out[e.Title] = e
	}
	return out
}

func TestParse(t *testing.T) {
	events, err := Parse(testSource, loadFeed(t))
	require.NoError(t, err)
	require.Len(t, events, 5, "the cancelled override is not imported")

	got := byTitle(events)

	standup := got["Standup"]
	assert.Equal(t, "team:standup@example.com", standup.ID)
	assert.Equal(t, "standup@example.com", standup.UID)
	assert.Equal(t, "ws-1", standup.WorkspaceID)
	assert.Equal(t, "team", standup.SourceID)
	assert.Equal(t, "Room 4", standup.Location)
	assert.Equal(t, recurrence.BiWeekly, standup.Repeat)
	assert.Empty(t, standup.RRule)
	assert.True(t, standup.Start.Equal(time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, 15*time.Minute, standup.End.Sub(standup.Start))
	require.Len(t, standup.ExDates, 2)
	assert.True(t, standup.ExDates[0].Equal(time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC)), "EXDATE")
	assert.True(t, standup.ExDates[1].Equal(time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC)), "RECURRENCE-ID")

	moved := got["Standup (moved)"]
	assert.Equal(t, "team:standup@example.com@20250120T090000Z", moved.ID)
	assert.Equal(t, "standup@example.com", moved.UID)
	assert.Equal(t, recurrence.None, moved.Repeat)
	assert.Empty(t, moved.ExDates)
	assert.True(t, moved.Start.Equal(time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC)))

	gym := got["Gym"]
	assert.Equal(t, recurrence.Custom, gym.Repeat)
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=MO,WE,FR", gym.RRule)
	require.Len(t, gym.ExDates, 1, "cancelled instance")

	holiday := got["Children's Day"]
	assert.True(t, holiday.AllDay)
	assert.Equal(t, recurrence.None, holiday.Repeat)
	assert.Equal(t, 24*time.Hour, holiday.End.Sub(holiday.Start))

	lunch := got["Lunch"]
	assert.Equal(t, recurrence.None, lunch.Repeat, "an unparseable RRULE imports a single occurrence")
	assert.NotEmpty(t, lunch.UID)

	again, err := Parse(testSource, loadFeed(t))
	require.NoError(t, err)
	assert.Equal(t, lunch.UID, byTitle(again)["Lunch"].UID, "generated UIDs are stable")
}

func TestParse_Expands(t *testing.T) {
	events, err := Parse(testSource, loadFeed(t))
	require.NoError(t, err)

	gym := byTitle(events)["Gym"]
	occ, _, err := gym.Series().Expand(
		time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 12, 23, 59, 59, 0, time.UTC),
	)
	require.NoError(t, err)
	require.Len(t, occ, 2, "Wednesday is cancelled")
	assert.True(t, occ[1].Start.Equal(time.Date(2025, 1, 10, 7, 0, 0, 0, time.UTC)))
	for _, o := range occ {
		assert.Equal(t, time.Hour, o.Duration())
	}
}

func TestParse_OverridesOnCalendar(t *testing.T) {
	events, err := Parse(testSource, loadFeed(t))
	require.NoError(t, err)

	st := store.NewMemory(store.Snapshot{Workspaces: []model.Workspace{{ID: "ws-1"}}})
	require.NoError(t, st.ReplaceSourceEvents(context.Background(), "ws-1", testSource.ID, events))

	svc := agenda.NewService(st, clock.Fixed(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)), time.UTC)
	res, err := svc.Calendar(context.Background(), "ws-1", agenda.Window{
		Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 2, 28, 23, 59, 59, 0, time.UTC),
	})
	require.NoError(t, err)

	var standups, gymWednesdays []string
	for _, e := range res.Entries {
		switch {
		case e.UID == "standup@example.com":
			standups = append(standups, e.Start.Format(time.RFC3339))
		case e.Title == "Gym" && e.Start.Weekday() == time.Wednesday:
			gymWednesdays = append(gymWednesdays, e.Start.Format("01-02"))
		}
	}

	assert.Equal(t, []string{
		"2025-01-06T09:00:00Z",
		"2025-01-20T10:00:00Z",
		"2025-02-17T09:00:00Z",
	}, standups, "moved to 10:00 on the 20th, cancelled on Feb 3")
	assert.NotContains(t, gymWednesdays, "01-08")
	assert.Contains(t, gymWednesdays, "01-15")
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(testSource, nil)
	assert.Error(t, err)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://calendar.example.com/...(redacted)", redactURL(testSource.URL))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}
