package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/arc-run/arc/internal/agents"
	"github.com/arc-run/arc/pkg/models"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, n models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeNotifier) all() []models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Notification(nil), f.sent...)
}

func waitForNotification(t *testing.T, n *fakeNotifier, timeout time.Duration) models.Notification {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got := n.all(); len(got) > 0 {
			return got[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for notification")
	return models.Notification{}
}

func TestDelegateTaskSucceedsOnFirstTry(t *testing.T) {
	registry := agents.New()
	notifier := &fakeNotifier{}
	s := New(registry, func(ctx context.Context, taskID, taskName, prompt string, allowed []string, maxIter int) (string, error) {
		return "42", nil
	}, notifier)

	res, _ := s.ExecuteTool(context.Background(), "delegate_task", map[string]any{
		"task_name": "compute",
		"prompt":    "what is the answer",
	})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}

	n := waitForNotification(t, notifier, time.Second)
	if n.Content != "✅ compute completed:\n\n42" {
		t.Fatalf("unexpected notification content: %q", n.Content)
	}
}

func TestDelegateTaskRetriesExactlyOnceThenFails(t *testing.T) {
	registry := agents.New()
	notifier := &fakeNotifier{}
	var calls int
	s := New(registry, func(ctx context.Context, taskID, taskName, prompt string, allowed []string, maxIter int) (string, error) {
		calls++
		return "", fmt.Errorf("boom")
	}, notifier)

	s.ExecuteTool(context.Background(), "delegate_task", map[string]any{
		"task_name": "flaky",
		"prompt":    "try this",
	})

	n := waitForNotification(t, notifier, time.Second)
	if calls != 2 {
		t.Fatalf("run called %d times, want exactly 2 (one retry)", calls)
	}
	if n.Content != "❌ flaky failed: boom" {
		t.Fatalf("unexpected notification content: %q", n.Content)
	}
}

func TestListWorkersReturnsRunningTaskIDs(t *testing.T) {
	registry := agents.New()
	block := make(chan struct{})
	s := New(registry, func(ctx context.Context, taskID, taskName, prompt string, allowed []string, maxIter int) (string, error) {
		<-block
		return "done", nil
	}, &fakeNotifier{})

	s.ExecuteTool(context.Background(), "delegate_task", map[string]any{
		"task_name": "long_task",
		"prompt":    "take a while",
	})

	deadline := time.Now().Add(time.Second)
	var ids []string
	for time.Now().Before(deadline) {
		res, _ := s.ExecuteTool(context.Background(), "list_workers", nil)
		if res.Output != "[]" && res.Output != "" {
			ids = []string{res.Output}
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(block)
	if len(ids) == 0 {
		t.Fatal("expected at least one running worker id")
	}
}

func TestBuildExcludedSkillsAlwaysExcludesWorkerAndScheduler(t *testing.T) {
	excluded := BuildExcludedSkills(nil, nil)
	if _, ok := excluded["worker"]; !ok {
		t.Fatal("worker must always be excluded")
	}
	if _, ok := excluded["scheduler"]; !ok {
		t.Fatal("scheduler must always be excluded")
	}
}

func TestBuildExcludedSkillsRestrictsToAllowedList(t *testing.T) {
	excluded := BuildExcludedSkills([]string{"search"}, []string{"search", "email", "worker", "scheduler"})
	if _, ok := excluded["email"]; !ok {
		t.Fatal("email should be excluded when not in allowed_skills")
	}
	if _, ok := excluded["search"]; ok {
		t.Fatal("search should not be excluded, it's in allowed_skills")
	}
}
