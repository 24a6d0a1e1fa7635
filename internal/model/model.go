package model

import (
	"time"

	"planner/internal/recurrence"
)

// Workspace is the tenant boundary; every other entity belongs to one.
type Workspace struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// Plan groups stages and tasks inside a workspace.
type Plan struct {
	ID          string `yaml:"id" json:"id"`
	WorkspaceID string `yaml:"workspace_id" json:"workspace_id"`
	Title       string `yaml:"title" json:"title"`
}

// Stage is a column/phase of a plan.
type Stage struct {
	ID     string `yaml:"id" json:"id"`
	PlanID string `yaml:"plan_id" json:"plan_id"`
	Title  string `yaml:"title" json:"title"`
}

// Task is a to-do with an anchor due date that may repeat.
type Task struct {
	ID          string `yaml:"id" json:"id"`
	WorkspaceID string `yaml:"workspace_id" json:"workspace_id"`
	PlanID      string `yaml:"plan_id,omitempty" json:"plan_id,omitempty"`
	StageID     string `yaml:"stage_id,omitempty" json:"stage_id,omitempty"`

	Title string `yaml:"title" json:"title"`
	Done  bool   `yaml:"done,omitempty" json:"done,omitempty"`

	// DueAt is the first due instant of the series.
	DueAt  time.Time       `yaml:"due_at" json:"due_at"`
	Repeat recurrence.Rule `yaml:"repeat,omitempty" json:"repeat,omitempty"`
	// RRule is only used when Repeat is "customized".
	RRule string `yaml:"rrule,omitempty" json:"rrule,omitempty"`
}

// Series returns the recurring definition behind the task.
func (t Task) Series() recurrence.Series {
	return recurrence.Series{Start: t.DueAt, Rule: t.Repeat, RRule: t.RRule}
}

// Event is a calendar entry whose first instance spans [Start, End].
// Events imported from a subscribed calendar carry the subscription ID in
// SourceID and the iCalendar UID.
type Event struct {
	ID          string `yaml:"id" json:"id"`
	WorkspaceID string `yaml:"workspace_id" json:"workspace_id"`
	PlanID      string `yaml:"plan_id,omitempty" json:"plan_id,omitempty"`

	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Location    string `yaml:"location,omitempty" json:"location,omitempty"`
	AllDay      bool   `yaml:"all_day,omitempty" json:"all_day,omitempty"`

	Start  time.Time       `yaml:"start" json:"start"`
	End    time.Time       `yaml:"end" json:"end"`
	Repeat recurrence.Rule `yaml:"repeat,omitempty" json:"repeat,omitempty"`
	RRule  string          `yaml:"rrule,omitempty" json:"rrule,omitempty"`
	// ExDates are instance starts cancelled or moved out of the series.
	ExDates []time.Time `yaml:"exdates,omitempty" json:"exdates,omitempty"`

	SourceID string `yaml:"source_id,omitempty" json:"source_id,omitempty"`
	UID      string `yaml:"uid,omitempty" json:"uid,omitempty"`
}

// Series returns the recurring definition behind the event.
func (e Event) Series() recurrence.Series {
	return recurrence.Series{Start: e.Start, End: e.End, Rule: e.Repeat, RRule: e.RRule, ExDates: e.ExDates}
}

// DueTask is one occurrence of a task inside a queried window, joined with
// its plan/stage titles for display.
type DueTask struct {
	TaskID     string    `json:"task_id"`
	Title      string    `json:"title"`
	PlanTitle  string    `json:"plan_title,omitempty"`
	StageTitle string    `json:"stage_title,omitempty"`
	Repeat     string    `json:"repeat"`
	DueAt      time.Time `json:"due_at"`
	Label      string    `json:"label"`
}

// CalendarEntry is a single concrete instance of an event (after
// recurrence expansion and timezone normalization).
type CalendarEntry struct {
	EventID  string `json:"event_id"`
	SourceID string `json:"source_id,omitempty"`
	UID      string `json:"uid,omitempty"`

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, derived from the local start time.
	InstanceKey string `json:"instance_key"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	PlanTitle   string `json:"plan_title,omitempty"`
	AllDay      bool   `json:"all_day"`
	Repeat      string `json:"repeat"`

	// Start / End are in the configured display timezone.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
