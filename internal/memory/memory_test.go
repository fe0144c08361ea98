package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/arc-run/arc/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRetrieveReturnsCoreFactsAndMatchingEpisodic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertCoreFact(ctx, "agent-1", "timezone", "America/Los_Angeles"); err != nil {
		t.Fatal(err)
	}
	if err := s.Store(ctx, []models.Message{
		{Role: models.RoleUser, Content: "what's the deployment pipeline for checkout service"},
		{Role: models.RoleAssistant, Content: "it runs through the staging cluster first"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Store(ctx, []models.Message{
		{Role: models.RoleUser, Content: "tell me a joke about cats"},
		{Role: models.RoleAssistant, Content: "why did the cat sit on the keyboard"},
	}); err != nil {
		t.Fatal(err)
	}

	results, err := s.Retrieve(ctx, "checkout deployment pipeline")
	if err != nil {
		t.Fatal(err)
	}

	var sawFact, sawPipeline, sawCats bool
	for _, r := range results {
		if r == "timezone: America/Los_Angeles" {
			sawFact = true
		}
		if strings.Contains(r, "checkout service") {
			sawPipeline = true
		}
		if strings.Contains(r, "cats") {
			sawCats = true
		}
	}
	if !sawFact {
		t.Errorf("expected core fact in results, got %v", results)
	}
	if !sawPipeline {
		t.Errorf("expected matching episodic entry in results, got %v", results)
	}
	if sawCats {
		t.Errorf("unrelated episodic entry should not rank above a non-match, got %v", results)
	}
}

func TestStoreIgnoresEmptyTurn(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Store(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Store(ctx, []models.Message{{Role: models.RoleUser}}); err != nil {
		t.Fatal(err)
	}

	entries, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no stored entries, got %v", entries)
	}
}

func TestShouldDistillCrossesThreshold(t *testing.T) {
	s, err := Open(":memory:", WithDistillEvery(2))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	should, err := s.ShouldDistill(ctx, "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if should {
		t.Fatal("should not distill with no entries yet")
	}

	for i := 0; i < 2; i++ {
		if err := s.Store(ctx, []models.Message{{Role: models.RoleUser, Content: "hello"}}); err != nil {
			t.Fatal(err)
		}
	}

	should, err = s.ShouldDistill(ctx, "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if !should {
		t.Fatal("expected ShouldDistill to report true once the threshold is reached")
	}
}

func TestDistillMarksEntriesAndRecordsCoreFact(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	turn := []models.Message{
		{Role: models.RoleUser, Content: "what's our release cadence", Timestamp: time.Now()},
		{Role: models.RoleAssistant, Content: "we ship every other Tuesday"},
	}
	if err := s.Store(ctx, turn); err != nil {
		t.Fatal(err)
	}

	if err := s.Distill(ctx, "agent-1", turn); err != nil {
		t.Fatal(err)
	}

	should, err := s.ShouldDistill(ctx, "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if should {
		t.Fatal("expected no pending distillation immediately after Distill ran")
	}

	entries, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var sawDigest bool
	for _, e := range entries {
		if strings.Contains(e.Summary, "release cadence") || strings.Contains(e.Summary, "user / 1 assistant") {
			sawDigest = true
		}
	}
	if !sawDigest {
		t.Errorf("expected a distilled core fact in list, got %v", entries)
	}
}

func TestDistillSkipsEmptyMessageSet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Distill(ctx, "agent-1", nil); err != nil {
		t.Fatal(err)
	}
	entries, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no core facts from an empty distill, got %v", entries)
	}
}

func TestListAndDeleteCoreFact(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertCoreFact(ctx, "agent-1", "favorite_editor", "vim"); err != nil {
		t.Fatal(err)
	}
	entries, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != "fact:favorite_editor" {
		t.Fatalf("entries = %v", entries)
	}

	if err := s.Delete(ctx, "fact:favorite_editor"); err != nil {
		t.Fatal(err)
	}
	entries, err = s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected fact deleted, got %v", entries)
	}
}

func TestListAndDeleteEpisodicEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Store(ctx, []models.Message{{Role: models.RoleUser, Content: "remember this"}}); err != nil {
		t.Fatal(err)
	}
	entries, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %v", entries)
	}

	if err := s.Delete(ctx, entries[0].ID); err != nil {
		t.Fatal(err)
	}
	entries, err = s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected entry deleted, got %v", entries)
	}
}

func TestDeleteRejectsUnrecognizedID(t *testing.T) {
	s := openTestStore(t)
	if err := s.Delete(context.Background(), "bogus:123"); err == nil {
		t.Fatal("expected an error for an unrecognized id prefix")
	}
}
