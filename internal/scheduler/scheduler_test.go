package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arc-run/arc/internal/eventbus"
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

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateJobComputesInitialNextRun(t *testing.T) {
	store := newTestStore(t)
	s := New(store, eventbus.New(), nil, nil, WithNow(func() time.Time {
		return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	}))

	job, err := s.CreateJob(context.Background(), "ping", "say hi", models.Trigger{
		Kind: models.TriggerInterval, Seconds: 60,
	}, false)
	if err != nil {
		t.Fatal(err)
	}
	if !job.Active {
		t.Fatal("new interval job should be active")
	}

	got, ok, err := store.Get(context.Background(), job.ID)
	if err != nil || !ok {
		t.Fatalf("expected job persisted, err=%v ok=%v", err, ok)
	}
	if !got.NextRun.Equal(job.NextRun) {
		t.Fatalf("persisted next_run %v != %v", got.NextRun, job.NextRun)
	}
}

func TestSchedulerFiresDueJobAndReschedulesInterval(t *testing.T) {
	store := newTestStore(t)
	var runs int32
	runner := func(ctx context.Context, job models.Job) (string, error) {
		atomic.AddInt32(&runs, 1)
		return "ok", nil
	}
	notifier := &fakeNotifier{}
	s := New(store, eventbus.New(), runner, notifier, WithTickInterval(10*time.Millisecond))

	job, err := s.CreateJob(context.Background(), "tick", "do the thing", models.Trigger{
		Kind: models.TriggerInterval, Seconds: 60,
	}, false)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&runs) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt32(&runs) == 0 {
		t.Fatal("expected the due job to fire at least once")
	}
	if notifier.count() == 0 {
		t.Fatal("expected a notification for the completed job")
	}

	got, ok, err := store.Get(context.Background(), job.ID)
	if err != nil || !ok {
		t.Fatal("job should still exist after firing")
	}
	if !got.Active {
		t.Fatal("interval job should remain active after firing")
	}
	if got.LastRun.IsZero() {
		t.Fatal("last_run should be set after firing")
	}
}

func TestSchedulerDeletesOneShotJobAfterFiring(t *testing.T) {
	store := newTestStore(t)
	fired := make(chan struct{}, 1)
	runner := func(ctx context.Context, job models.Job) (string, error) {
		fired <- struct{}{}
		return "done", nil
	}
	s := New(store, nil, runner, &fakeNotifier{}, WithTickInterval(10*time.Millisecond))

	job, err := s.CreateJob(context.Background(), "once", "fire once", models.Trigger{
		Kind: models.TriggerOneShot, At: time.Now().Add(20 * time.Millisecond),
	}, false)
	if err != nil {
		t.Fatal(err)
	}
	if !job.Active {
		t.Fatal("a oneshot job due in the future should start active")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("oneshot job never fired")
	}

	deadline := time.Now().Add(time.Second)
	var gone bool
	for time.Now().Before(deadline) {
		_, ok, err := store.Get(context.Background(), job.ID)
		if err == nil && !ok {
			gone = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !gone {
		t.Fatal("oneshot job must be deleted from the store once it fires")
	}
}

func TestSchedulerInFlightGuardPreventsDoubleFire(t *testing.T) {
	store := newTestStore(t)
	var concurrent int32
	var maxConcurrent int32
	block := make(chan struct{})
	runner := func(ctx context.Context, job models.Job) (string, error) {
		n := atomic.AddInt32(&concurrent, 1)
		if n > atomic.LoadInt32(&maxConcurrent) {
			atomic.StoreInt32(&maxConcurrent, n)
		}
		<-block
		atomic.AddInt32(&concurrent, -1)
		return "ok", nil
	}
	s := New(store, nil, runner, &fakeNotifier{}, WithTickInterval(5*time.Millisecond))

	_, err := s.CreateJob(context.Background(), "slow", "take a while", models.Trigger{
		Kind: models.TriggerInterval, Seconds: 1,
	}, false)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(100 * time.Millisecond)
	close(block)
	s.Stop(context.Background())

	if atomic.LoadInt32(&maxConcurrent) > 1 {
		t.Fatalf("in-flight guard failed: max concurrent runs = %d", maxConcurrent)
	}
}
