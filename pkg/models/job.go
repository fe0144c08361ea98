package models

import "time"

// TriggerKind tags the variant held by Trigger.
type TriggerKind string

const (
	TriggerCron     TriggerKind = "cron"
	TriggerInterval TriggerKind = "interval"
	TriggerOneShot  TriggerKind = "oneshot"
)

// Trigger is a tagged union: exactly the fields for Kind are meaningful.
type Trigger struct {
	Kind     TriggerKind   `json:"type"`
	CronExpr string        `json:"expression,omitempty"`
	Seconds  int64         `json:"seconds,omitempty"`
	At       time.Time     `json:"at,omitempty"`
}

// Job is a persisted scheduled task. Invariants: Active == false iff
// NextRun.IsZero(); a OneShot trigger deactivates the job once fired;
// Name is unique within a store.
type Job struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Prompt    string    `json:"prompt"`
	Trigger   Trigger   `json:"trigger"`
	NextRun   time.Time `json:"next_run"`
	LastRun   time.Time `json:"last_run"`
	Active    bool      `json:"active"`
	UseTools  bool      `json:"use_tools"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification is a finished job's result, destined for the
// Notification Router.
type Notification struct {
	JobID   string    `json:"job_id"`
	JobName string    `json:"job_name"`
	Content string    `json:"content"`
	FiredAt time.Time `json:"fired_at"`
}
