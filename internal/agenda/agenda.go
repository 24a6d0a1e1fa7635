package agenda

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"planner/internal/clock"
	appLog "planner/internal/log"
	"planner/internal/model"
	"planner/internal/recurrence"
	"planner/internal/store"
)

// Service answers "what is due" and "what is on the calendar" for a
// workspace by expanding stored task/event series against a window.
type Service struct {
	store store.Store
	clock clock.Clock
	loc   *time.Location
}

// NewService wires a Service. loc is the display zone; nil means time.Local.
func NewService(st store.Store, clk clock.Clock, loc *time.Location) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{store: st, clock: clk, loc: loc}
}

// Location returns the display zone.
func (s *Service) Location() *time.Location { return s.loc }

// Today returns the current local day according to the service clock.
func (s *Service) Today() Window {
	return Day(s.clock.Now(), s.loc)
}

// DueTasks returns one entry per occurrence of every open task that falls
// inside w, ordered by due time then title.
func (s *Service) DueTasks(ctx context.Context, workspaceID string, w Window) ([]model.DueTask, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	tasks, err := s.store.Tasks(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("agenda: load tasks: %w", err)
	}
	plans, stages, err := s.titles(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	out := make([]model.DueTask, 0)

	for _, t := range tasks {
		if t.Done {
			continue
		}

		occ, truncated, err := t.Series().Expand(w.Start, w.End)
		if err != nil {
			appLog.Error("agenda: task recurrence skipped", err, "task", t.ID, "rrule", t.RRule)
			continue
		}
		if truncated {
			appLog.Info("agenda: task occurrences truncated", "task", t.ID, "cap", recurrence.MaxOccurrences)
		}

		for _, o := range occ {
			due := o.Start.In(s.loc)
			out = append(out, model.DueTask{
				TaskID:     t.ID,
				Title:      t.Title,
				PlanTitle:  plans[t.PlanID],
				StageTitle: stages[t.StageID],
				Repeat:     string(ruleOrNone(t.Repeat)),
				DueAt:      due,
				Label:      DueLabel(now, due, s.loc),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].DueAt.Before(out[j].DueAt)
		}
		return out[i].Title < out[j].Title
	})

	appLog.Debug("agenda: due tasks", "workspace", workspaceID, "tasks", len(tasks), "due", len(out))
	return out, nil
}

// DueToday is DueTasks over the current local day.
func (s *Service) DueToday(ctx context.Context, workspaceID string) ([]model.DueTask, error) {
	return s.DueTasks(ctx, workspaceID, s.Today())
}

// CalendarResult is the expanded calendar of a workspace.
type CalendarResult struct {
	Entries []model.CalendarEntry
	// TruncatedEvents lists event IDs whose expansion hit MaxOccurrences.
	TruncatedEvents []string
}

// Calendar expands every event of the workspace into one entry per
// occurrence inside w, ordered by start then title. Each occurrence keeps
// its event's duration.
func (s *Service) Calendar(ctx context.Context, workspaceID string, w Window) (CalendarResult, error) {
	var result CalendarResult

	if err := w.Validate(); err != nil {
		return result, err
	}

	events, err := s.store.Events(ctx, workspaceID)
	if err != nil {
		return result, fmt.Errorf("agenda: load events: %w", err)
	}
	plans, _, err := s.titles(ctx, workspaceID)
	if err != nil {
		return result, err
	}

	entries := make([]model.CalendarEntry, 0)
	for _, ev := range events {
		occ, truncated, err := ev.Series().Expand(w.Start, w.End)
		if err != nil {
			appLog.Error("agenda: event recurrence skipped", err, "event", ev.ID, "rrule", ev.RRule)
			continue
		}
		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.ID)
			appLog.Info("agenda: event occurrences truncated", "event", ev.ID, "cap", recurrence.MaxOccurrences)
		}

		for _, o := range occ {
			entries = append(entries, s.entry(ev, plans[ev.PlanID], o))
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Start.Equal(entries[j].Start) {
			return entries[i].Start.Before(entries[j].Start)
		}
		return entries[i].Title < entries[j].Title
	})

	result.Entries = entries
	return result, nil
}

// entry converts an occurrence into a CalendarEntry normalized into the
// display zone.
func (s *Service) entry(ev model.Event, planTitle string, o recurrence.Occurrence) model.CalendarEntry {
	start := o.Start.In(s.loc)
	end := o.End.In(s.loc)

	return model.CalendarEntry{
		EventID:     ev.ID,
		SourceID:    ev.SourceID,
		UID:         ev.UID,
		InstanceKey: start.Format(time.RFC3339Nano),
		Title:       ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		PlanTitle:   planTitle,
		AllDay:      ev.AllDay,
		Repeat:      string(ruleOrNone(ev.Repeat)),
		Start:       start,
		End:         end,
	}
}

// titles indexes plan and stage titles by ID.
func (s *Service) titles(ctx context.Context, workspaceID string) (map[string]string, map[string]string, error) {
	plans, err := s.store.Plans(ctx, workspaceID)
	if err != nil {
		return nil, nil, fmt.Errorf("agenda: load plans: %w", err)
	}
	stages, err := s.store.Stages(ctx, workspaceID)
	if err != nil {
		return nil, nil, fmt.Errorf("agenda: load stages: %w", err)
	}

	planTitles := make(map[string]string, len(plans))
	for _, p := range plans {
		planTitles[p.ID] = p.Title
	}
	stageTitles := make(map[string]string, len(stages))
	for _, st := range stages {
		stageTitles[st.ID] = st.Title
	}
	return planTitles, stageTitles, nil
}

func ruleOrNone(r recurrence.Rule) recurrence.Rule {
	if r == "" {
		return recurrence.None
	}
	return r
}

// DueLabel describes due relative to now in calendar days of loc:
// "overdue", "today", "tomorrow" or "in N days".
func DueLabel(now, due time.Time, loc *time.Location) string {
	diff := int(math.Round(midnight(due, loc).Sub(midnight(now, loc)).Hours() / 24))
	switch {
	case diff < 0:
		return "overdue"
	case diff == 0:
		return "today"
	case diff == 1:
		return "tomorrow"
	default:
		return fmt.Sprintf("in %d days", diff)
	}
}
