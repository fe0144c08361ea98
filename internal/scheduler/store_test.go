package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/arc-run/arc/pkg/models"
)

func TestGetByNameRoundTripsSavedJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := models.Job{
		ID:        uuid.NewString(),
		Name:      "ping",
		Prompt:    "say hi",
		Trigger:   models.Trigger{Kind: models.TriggerInterval, Seconds: 60},
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := store.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	got, ok, err := store.GetByName(ctx, job.Name)
	if err != nil || !ok {
		t.Fatalf("expected job by name, err=%v ok=%v", err, ok)
	}
	if got.ID != job.ID {
		t.Fatalf("get_by_name(%q).id = %s, want %s", job.Name, got.ID, job.ID)
	}
}

func TestGetByNameReflectsDeactivationAfterRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := models.Job{
		ID:        uuid.NewString(),
		Name:      "once",
		Prompt:    "say hi once",
		Trigger:   models.Trigger{Kind: models.TriggerOneShot, At: time.Now().Add(time.Hour)},
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := store.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	job.Active = false
	job.LastRun = time.Now()
	if err := store.Update(ctx, job); err != nil {
		t.Fatal(err)
	}

	got, ok, err := store.GetByName(ctx, job.Name)
	if err != nil || !ok {
		t.Fatalf("expected job by name, err=%v ok=%v", err, ok)
	}
	if got.Active {
		t.Fatalf("get_by_name(%q).active = true, want false after deactivation", job.Name)
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := models.Job{
		ID: uuid.NewString(), Name: "dup", Prompt: "a",
		Trigger: models.Trigger{Kind: models.TriggerInterval, Seconds: 60},
		Active:  true, CreatedAt: time.Now(),
	}
	if err := store.Create(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := first
	second.ID = uuid.NewString()
	if err := store.Create(ctx, second); err == nil {
		t.Fatal("expected unique constraint violation on duplicate job name")
	}
}
