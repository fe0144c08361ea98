package scheduler

import (
	"testing"
	"time"

	"github.com/arc-run/arc/pkg/models"
)

func TestNextIntervalFiresImmediatelyWithoutLastRun(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	trigger := models.Trigger{Kind: models.TriggerInterval, Seconds: 60}

	next, active, err := Next(trigger, now, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if !active || !next.Equal(now) {
		t.Fatalf("next=%v active=%v, want now active", next, active)
	}
}

func TestNextIntervalAddsSecondsToLastRun(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	lastRun := now.Add(-30 * time.Second)
	trigger := models.Trigger{Kind: models.TriggerInterval, Seconds: 60}

	next, active, err := Next(trigger, now, lastRun)
	if err != nil {
		t.Fatal(err)
	}
	want := lastRun.Add(60 * time.Second)
	if !active || !next.Equal(want) {
		t.Fatalf("next=%v active=%v, want %v active", next, active, want)
	}
}

func TestNextOneShotFiresWhenDueInFuture(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	at := now.Add(time.Hour)
	trigger := models.Trigger{Kind: models.TriggerOneShot, At: at}

	next, active, err := Next(trigger, now, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if !active || !next.Equal(at) {
		t.Fatalf("next=%v active=%v, want %v active", next, active, at)
	}
}

func TestNextOneShotDeactivatesAfterFiring(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	at := now.Add(-time.Hour)
	lastRun := at
	trigger := models.Trigger{Kind: models.TriggerOneShot, At: at}

	_, active, err := Next(trigger, now, lastRun)
	if err != nil {
		t.Fatal(err)
	}
	if active {
		t.Fatal("oneshot must deactivate once it has fired")
	}
}

func TestNextOneShotDeactivatesWhenPastDueAndNeverFired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	at := now.Add(-time.Minute)
	trigger := models.Trigger{Kind: models.TriggerOneShot, At: at}

	_, active, err := Next(trigger, now, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if active {
		t.Fatal("oneshot past its due time must report inactive")
	}
}

func TestNextOneShotFiresExactlyAtScheduledInstant(t *testing.T) {
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	trigger := models.Trigger{Kind: models.TriggerOneShot, At: at}

	next, active, err := Next(trigger, at, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if !active || !next.Equal(at) {
		t.Fatalf("next=%v active=%v, want %v active at the exact instant", next, active, at)
	}
}

func TestNextCronUsesLastRunAsBaseWhenSet(t *testing.T) {
	lastRun := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	trigger := models.Trigger{Kind: models.TriggerCron, CronExpr: "0 0 * * *"}

	next, active, err := Next(trigger, now, lastRun)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	if !active || !next.Equal(want) {
		t.Fatalf("next=%v, want %v (based on last_run, not now)", next, want)
	}
}

func TestNextCronUsesNowWhenNeverRun(t *testing.T) {
	now := time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)
	trigger := models.Trigger{Kind: models.TriggerCron, CronExpr: "0 12 * * *"}

	next, active, err := Next(trigger, now, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if !active || !next.Equal(want) {
		t.Fatalf("next=%v, want %v", next, want)
	}
}

func TestNextUnknownTriggerKindErrors(t *testing.T) {
	_, _, err := Next(models.Trigger{Kind: "bogus"}, time.Now(), time.Time{})
	if err == nil {
		t.Fatal("expected error for unknown trigger kind")
	}
}
