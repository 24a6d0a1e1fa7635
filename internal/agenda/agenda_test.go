package agenda

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planner/internal/clock"
	"planner/internal/model"
	"planner/internal/recurrence"
	"planner/internal/store"
)

var seoul = time.FixedZone("KST", 9*60*60)

func newService(t *testing.T, now time.Time) *Service {
	t.Helper()

	anchor := time.Date(2025, 3, 1, 9, 0, 0, 0, seoul)
	st := store.NewMemory(store.Snapshot{
		Workspaces: []model.Workspace{{ID: "ws-1", Name: "Home"}},
		Plans:      []model.Plan{{ID: "p-1", WorkspaceID: "ws-1", Title: "Garden"}},
		Stages:     []model.Stage{{ID: "s-1", PlanID: "p-1", Title: "Spring"}},
		Tasks: []model.Task{
			{ID: "t-water", WorkspaceID: "ws-1", PlanID: "p-1", StageID: "s-1", Title: "Water plants", DueAt: anchor, Repeat: recurrence.Daily},
			{ID: "t-seed", WorkspaceID: "ws-1", PlanID: "p-1", Title: "Order seeds", DueAt: anchor.AddDate(0, 0, 2).Add(-2 * time.Hour)},
			{ID: "t-done", WorkspaceID: "ws-1", Title: "Finished", DueAt: anchor, Repeat: recurrence.Daily, Done: true},
			{ID: "t-bad", WorkspaceID: "ws-1", Title: "Broken rule", DueAt: anchor, Repeat: recurrence.Custom, RRule: "FREQ=SOMETIMES"},
			{ID: "t-mwf", WorkspaceID: "ws-1", Title: "Gym", DueAt: time.Date(2025, 3, 3, 7, 0, 0, 0, seoul), Repeat: recurrence.Custom, RRule: "FREQ=WEEKLY;BYDAY=MO,WE,FR"},
		},
		Events: []model.Event{
			{
				ID: "e-class", WorkspaceID: "ws-1", PlanID: "p-1", Title: "Pottery",
				Start:  time.Date(2025, 3, 1, 10, 0, 0, 0, seoul),
				End:    time.Date(2025, 3, 1, 12, 0, 0, 0, seoul),
				Repeat: recurrence.Daily,
			},
			{
				ID: "e-fair", WorkspaceID: "ws-1", Title: "Fair",
				Start: time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC),
				End:   time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC),
			},
			{
				ID: "e-tick", WorkspaceID: "ws-1", Title: "Tick",
				Start:  time.Date(2020, 1, 1, 0, 0, 0, 0, seoul),
				End:    time.Date(2020, 1, 1, 0, 5, 0, 0, seoul),
				Repeat: recurrence.Daily,
			},
		},
	})
	return NewService(st, clock.Fixed(now), seoul)
}

func TestDueTasks_ExpandsEachOccurrence(t *testing.T) {
	now := time.Date(2025, 3, 2, 8, 0, 0, 0, seoul)
	svc := newService(t, now)

	w := Window{Start: time.Date(2025, 3, 1, 0, 0, 0, 0, seoul), End: time.Date(2025, 3, 3, 23, 59, 59, 0, seoul)}
	due, err := svc.DueTasks(context.Background(), "ws-1", w)
	require.NoError(t, err)

	var got []string
	for _, d := range due {
		got = append(got, d.Title+"@"+d.DueAt.Format("01-02T15")+" "+d.Label)
	}
	assert.Equal(t, []string{
		"Water plants@03-01T09 overdue",
		"Water plants@03-02T09 today",
		"Gym@03-03T07 tomorrow",
		"Order seeds@03-03T07 tomorrow",
		"Water plants@03-03T09 tomorrow",
	}, got)

	for _, d := range due {
		switch d.TaskID {
		case "t-water":
			assert.Equal(t, "Garden", d.PlanTitle)
			assert.Equal(t, "Spring", d.StageTitle)
			assert.Equal(t, "daily", d.Repeat)
		case "t-seed":
			assert.Equal(t, "Garden", d.PlanTitle)
			assert.Empty(t, d.StageTitle)
			assert.Equal(t, "none", d.Repeat)
		case "t-mwf":
			assert.Equal(t, "customized", d.Repeat)
		}
	}
}

func TestDueToday_UsesInjectedClock(t *testing.T) {
	svc := newService(t, time.Date(2025, 3, 5, 23, 30, 0, 0, seoul))

	due, err := svc.DueToday(context.Background(), "ws-1")
	require.NoError(t, err)

	var ids []string
	for _, d := range due {
		ids = append(ids, d.TaskID)
		assert.Equal(t, "today", d.Label)
	}
	assert.Equal(t, []string{"t-mwf", "t-water"}, ids)
}

func TestDueTasks_Errors(t *testing.T) {
	svc := newService(t, time.Now())
	ctx := context.Background()

	_, err := svc.DueTasks(ctx, "ws-1", Window{Start: time.Now(), End: time.Now().Add(-time.Hour)})
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = svc.DueTasks(ctx, "missing", svc.Today())
	assert.ErrorIs(t, err, store.ErrWorkspaceNotFound)

	_, err = svc.Calendar(ctx, "missing", svc.Today())
	assert.ErrorIs(t, err, store.ErrWorkspaceNotFound)
}

func TestCalendar_PreservesDurationAndOrder(t *testing.T) {
	svc := newService(t, time.Date(2025, 3, 1, 0, 0, 0, 0, seoul))

	w := Window{Start: time.Date(2025, 3, 1, 0, 0, 0, 0, seoul), End: time.Date(2025, 3, 3, 23, 59, 59, 0, seoul)}
	res, err := svc.Calendar(context.Background(), "ws-1", w)
	require.NoError(t, err)
	assert.Empty(t, res.TruncatedEvents)

	var pottery []model.CalendarEntry
	for i, e := range res.Entries {
		if i > 0 {
			assert.False(t, e.Start.Before(res.Entries[i-1].Start))
		}
		assert.Equal(t, seoul, e.Start.Location())
		if e.EventID == "e-class" {
			pottery = append(pottery, e)
		}
	}
	require.Len(t, pottery, 3)
	for _, e := range pottery {
		assert.Equal(t, 2*time.Hour, e.End.Sub(e.Start))
		assert.Equal(t, "Garden", e.PlanTitle)
		assert.Equal(t, e.Start.Format(time.RFC3339Nano), e.InstanceKey)
	}

	// The UTC fair is shown in the display zone.
	var fair *model.CalendarEntry
	for i := range res.Entries {
		if res.Entries[i].EventID == "e-fair" {
			fair = &res.Entries[i]
		}
	}
	require.NotNil(t, fair)
	assert.Equal(t, 18, fair.Start.Hour())
}

func TestCalendar_ReportsTruncatedEvents(t *testing.T) {
	svc := newService(t, time.Now())

	w := Window{Start: time.Date(2020, 1, 1, 0, 0, 0, 0, seoul), End: time.Date(2030, 12, 31, 0, 0, 0, 0, seoul)}
	res, err := svc.Calendar(context.Background(), "ws-1", w)
	require.NoError(t, err)
	assert.Equal(t, []string{"e-class", "e-tick"}, res.TruncatedEvents)
}

func TestWindows(t *testing.T) {
	ts := time.Date(2025, 3, 5, 15, 4, 5, 0, time.UTC) // 2025-03-06 00:04 KST, a Thursday

	d := Day(ts, seoul)
	assert.Equal(t, time.Date(2025, 3, 6, 0, 0, 0, 0, seoul), d.Start)
	assert.Equal(t, time.Date(2025, 3, 6, 23, 59, 59, 999999999, seoul), d.End)

	w := Week(ts, seoul, time.Monday)
	assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, seoul), w.Start)
	assert.Equal(t, time.Date(2025, 3, 9, 23, 59, 59, 999999999, seoul), w.End)

	w = Week(ts, seoul, time.Sunday)
	assert.Equal(t, time.Date(2025, 3, 2, 0, 0, 0, 0, seoul), w.Start)

	assert.Equal(t, Day(ts, seoul), Days(ts, seoul, 0))
	assert.NoError(t, d.Validate())
	assert.ErrorIs(t, Window{Start: d.End, End: d.Start}.Validate(), ErrInvalidRange)
}

func TestDueLabel(t *testing.T) {
	now := time.Date(2025, 3, 5, 23, 0, 0, 0, seoul)

	assert.Equal(t, "overdue", DueLabel(now, now.Add(-24*time.Hour), seoul))
	assert.Equal(t, "today", DueLabel(now, now.Add(-22*time.Hour), seoul))
	assert.Equal(t, "tomorrow", DueLabel(now, now.Add(2*time.Hour), seoul))
	assert.Equal(t, "in 3 days", DueLabel(now, now.AddDate(0, 0, 3), seoul))
}

func TestParseTime(t *testing.T) {
	got, err := ParseTime("2025-03-02T09:30:00Z", seoul, true)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 3, 2, 9, 30, 0, 0, time.UTC)))

	got, err = ParseTime("2025-03-02", seoul, false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 2, 0, 0, 0, 0, seoul), got)

	got, err = ParseTime("2025-03-02", seoul, true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 2, 23, 59, 59, 999999999, seoul), got)

	for _, bad := range []string{"", "02/03/2025", "tomorrow"} {
		_, err := ParseTime(bad, seoul, false)
		assert.Error(t, err, bad)
	}
}
