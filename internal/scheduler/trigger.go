// Package scheduler implements trigger evaluation and due-job firing:
// a persistent SQLite-backed job store, a poll loop, and the three
// trigger kinds (Cron, Interval, OneShot).
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/arc-run/arc/pkg/models"
)

// Next computes a job's next run time and whether it remains active,
// given its trigger and last run time. Semantics match the reference
// implementation's trigger classes exactly:
//
//   - Interval: fires immediately if lastRun is zero, otherwise
//     lastRun + Seconds.
//   - OneShot: returns (zero, false) once it has fired (lastRun
//     non-zero) or its time is already past — it never recomputes.
//   - Cron: the next match of the standard 5-field expression strictly
//     after lastRun, or after now when lastRun is zero.
func Next(trigger models.Trigger, now, lastRun time.Time) (time.Time, bool, error) {
	switch trigger.Kind {
	case models.TriggerCron:
		return nextCron(trigger, now, lastRun)
	case models.TriggerInterval:
		return nextInterval(trigger, now, lastRun)
	case models.TriggerOneShot:
		return nextOneShot(trigger, now, lastRun)
	default:
		return time.Time{}, false, fmt.Errorf("scheduler: unknown trigger kind %q", trigger.Kind)
	}
}

func nextCron(trigger models.Trigger, now, lastRun time.Time) (time.Time, bool, error) {
	schedule, err := cron.ParseStandard(trigger.CronExpr)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("scheduler: invalid cron expression %q: %w", trigger.CronExpr, err)
	}
	base := now
	if !lastRun.IsZero() {
		base = lastRun
	}
	return schedule.Next(base), true, nil
}

func nextInterval(trigger models.Trigger, now, lastRun time.Time) (time.Time, bool, error) {
	if trigger.Seconds < 1 {
		return time.Time{}, false, fmt.Errorf("scheduler: interval trigger requires seconds >= 1")
	}
	if lastRun.IsZero() {
		return now, true, nil
	}
	return lastRun.Add(time.Duration(trigger.Seconds) * time.Second), true, nil
}

// nextOneShot: deactivates (returns zero, false) once it has fired
// (lastRun set) or once now is strictly after the scheduled time —
// firing exactly at the scheduled instant is still honored.
func nextOneShot(trigger models.Trigger, now, lastRun time.Time) (time.Time, bool, error) {
	if !lastRun.IsZero() || now.After(trigger.At) {
		return time.Time{}, false, nil
	}
	return trigger.At, true, nil
}
