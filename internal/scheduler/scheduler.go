package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arc-run/arc/internal/eventbus"
	"github.com/arc-run/arc/pkg/models"
)

// DefaultTickInterval is how often the poll loop checks for due jobs.
const DefaultTickInterval = 30 * time.Second

// AgentRunner executes a job's prompt to completion and returns its
// final text. The caller supplies this so the scheduler stays
// independent of the concrete Agent Loop wiring assembled per job.
type AgentRunner func(ctx context.Context, job models.Job) (string, error)

// Notifier delivers a finished job's result to the notification router.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTickInterval overrides the poll interval.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler polls a Store for due jobs and fires them through an
// AgentRunner, delivering results via a Notifier. An in-flight guard
// per job id prevents a slow run from being fired again on the next
// tick before it completes.
type Scheduler struct {
	store        Store
	bus          *eventbus.Bus
	run          AgentRunner
	notify       Notifier
	logger       *slog.Logger
	now          func() time.Time
	tickInterval time.Duration

	mu       sync.Mutex
	started  bool
	inFlight map[string]struct{}
	stopFn   context.CancelFunc
	loopDone chan struct{}
}

// New builds a Scheduler. bus may be nil if event emission isn't needed.
func New(store Store, bus *eventbus.Bus, run AgentRunner, notify Notifier, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		bus:          bus,
		run:          run,
		notify:       notify,
		logger:       slog.Default().With("component", "scheduler"),
		now:          time.Now,
		tickInterval: DefaultTickInterval,
		inFlight:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob persists a new job and computes its initial next_run.
func (s *Scheduler) CreateJob(ctx context.Context, name, prompt string, trigger models.Trigger, useTools bool) (models.Job, error) {
	now := s.now()
	next, active, err := Next(trigger, now, time.Time{})
	if err != nil {
		return models.Job{}, err
	}
	job := models.Job{
		ID:        uuid.NewString(),
		Name:      name,
		Prompt:    prompt,
		Trigger:   trigger,
		NextRun:   next,
		Active:    active,
		UseTools:  useTools,
		CreatedAt: now,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return models.Job{}, err
	}
	return job, nil
}

// Start begins the poll loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	s.stopFn = cancel
	s.loopDone = make(chan struct{})
	s.mu.Unlock()

	s.recomputeStaleJobs(loopCtx)

	go func() {
		defer close(s.loopDone)
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		s.runDue(loopCtx)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.runDue(loopCtx)
			}
		}
	}()
	return nil
}

// Stop cancels the poll loop and waits for it to exit, up to ctx's
// deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.stopFn()
	done := s.loopDone
	s.started = false
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// recomputeStaleJobs handles jobs left with a stale or zero next_run
// (e.g. after a restart that missed its window) by recomputing it from
// now rather than replaying the missed fire.
func (s *Scheduler) recomputeStaleJobs(ctx context.Context) {
	jobs, err := s.store.List(ctx)
	if err != nil {
		s.logger.Warn("scheduler: list jobs failed during startup pass", "error", err)
		return
	}

	now := s.now()
	for _, job := range jobs {
		if !job.Active || (!job.NextRun.IsZero() && !job.NextRun.Before(now)) {
			continue
		}
		next, active, err := Next(job.Trigger, now, time.Time{})
		if err != nil {
			s.logger.Warn("scheduler: recompute stale job failed", "job_id", job.ID, "error", err)
			continue
		}
		job.NextRun = next
		job.Active = active
		if err := s.store.Update(ctx, job); err != nil {
			s.logger.Warn("scheduler: persist recomputed job failed", "job_id", job.ID, "error", err)
		}
	}
}

// runDue fires every active job whose next_run is due, skipping any
// job already running from a prior tick.
func (s *Scheduler) runDue(ctx context.Context) {
	jobs, err := s.store.List(ctx)
	if err != nil {
		s.logger.Warn("scheduler: list jobs failed", "error", err)
		return
	}

	now := s.now()
	for _, job := range jobs {
		if !job.Active || job.NextRun.IsZero() || now.Before(job.NextRun) {
			continue
		}

		s.mu.Lock()
		if _, running := s.inFlight[job.ID]; running {
			s.mu.Unlock()
			continue
		}
		s.inFlight[job.ID] = struct{}{}
		s.mu.Unlock()

		go s.fireJob(ctx, job, now)
	}
}

// fireJob runs one job to completion, persists its new schedule state,
// and delivers the outcome.
func (s *Scheduler) fireJob(ctx context.Context, job models.Job, firedAt time.Time) {
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, job.ID)
		s.mu.Unlock()
	}()

	s.emit(ctx, models.EventAgentSpawned, job, nil)

	result, err := s.run(ctx, job)

	job.LastRun = firedAt
	next, active, nextErr := Next(job.Trigger, s.now(), firedAt)
	if nextErr != nil {
		s.logger.Warn("scheduler: compute next run failed", "job_id", job.ID, "error", nextErr)
		active = false
	}
	job.NextRun = next
	job.Active = active

	if !active && job.Trigger.Kind == models.TriggerOneShot {
		if delErr := s.store.Delete(ctx, job.ID); delErr != nil {
			s.logger.Warn("scheduler: delete fired oneshot job failed", "job_id", job.ID, "error", delErr)
		}
	} else if updateErr := s.store.Update(ctx, job); updateErr != nil {
		s.logger.Warn("scheduler: persist job after fire failed", "job_id", job.ID, "error", updateErr)
	}

	var content string
	if err != nil {
		content = fmt.Sprintf("❌ %s failed: %v", job.Name, err)
		s.emit(ctx, models.EventAgentTaskComplete, job, map[string]any{"success": false, "error": err.Error()})
	} else {
		content = fmt.Sprintf("✅ %s completed:\n\n%s", job.Name, result)
		s.emit(ctx, models.EventAgentTaskComplete, job, map[string]any{"success": true})
	}

	if s.notify != nil {
		if notifyErr := s.notify.Notify(ctx, models.Notification{
			JobID:   job.ID,
			JobName: job.Name,
			Content: content,
			FiredAt: firedAt,
		}); notifyErr != nil {
			s.logger.Warn("scheduler: notify failed", "job_id", job.ID, "error", notifyErr)
		}
	}
}

func (s *Scheduler) emit(ctx context.Context, eventType string, job models.Job, extra map[string]any) {
	if s.bus == nil {
		return
	}
	data := map[string]any{"job_id": job.ID, "job_name": job.Name}
	for k, v := range extra {
		data[k] = v
	}
	s.bus.EmitNoWait(ctx, models.Event{
		Type:      eventType,
		ID:        uuid.NewString(),
		Timestamp: s.now(),
		Source:    "scheduler",
		Data:      data,
	})
}
