// Package kernel is the composition root: it owns the event bus, the
// registry, and the set of background tasks spawned by the rest of
// the system, and gives every subsystem a single lifecycle to start
// and stop against.
package kernel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/arc-run/arc/internal/config"
	"github.com/arc-run/arc/internal/eventbus"
	"github.com/arc-run/arc/internal/registry"
	"github.com/arc-run/arc/pkg/models"
)

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Kernel composes the event bus and registry into a single entry
// point and tracks every background goroutine spawned through Spawn
// so Stop can cancel and await all of them.
type Kernel struct {
	Config   *config.Config
	Bus      *eventbus.Bus
	Registry *registry.Registry

	logger *slog.Logger

	mu      sync.Mutex
	running bool
	tasks   map[*task]struct{}
}

// New builds a Kernel around cfg. A nil cfg is replaced with a zero
// value so callers that only need the event bus and registry (e.g.
// tests) don't have to construct one.
func New(cfg *config.Config, opts ...Option) *Kernel {
	if cfg == nil {
		cfg = &config.Config{}
	}
	k := &Kernel{
		Config:   cfg,
		Bus:      eventbus.New(),
		Registry: registry.New(),
		logger:   slog.Default().With("component", "kernel"),
		tasks:    make(map[*task]struct{}),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger overrides the kernel's logger.
func WithLogger(l *slog.Logger) Option { return func(k *Kernel) { k.logger = l } }

// Running reports whether the kernel has been started and not yet
// stopped.
func (k *Kernel) Running() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.running
}

// Start marks the kernel running and emits system:start. A second
// call while already running is a no-op.
func (k *Kernel) Start(ctx context.Context) error {
	k.mu.Lock()
	if k.running {
		k.mu.Unlock()
		return nil
	}
	k.running = true
	k.mu.Unlock()

	k.logger.Info("kernel starting")
	return k.Bus.Emit(ctx, models.Event{Type: models.EventSystemStart, Source: "kernel"})
}

// Stop cancels every tracked background task, waits for each to
// finish (tolerating errors — Spawn has no error channel, a task
// communicates failure over the event bus instead), then emits
// system:stop. A second call while already stopped is a no-op.
func (k *Kernel) Stop(ctx context.Context) error {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return nil
	}
	k.running = false
	tasks := make([]*task, 0, len(k.tasks))
	for t := range k.tasks {
		tasks = append(tasks, t)
	}
	k.mu.Unlock()

	k.logger.Info("kernel stopping", "tasks", len(tasks))
	for _, t := range tasks {
		t.cancel()
	}
	for _, t := range tasks {
		<-t.done
	}

	return k.Bus.Emit(ctx, models.Event{Type: models.EventSystemStop, Source: "kernel"})
}

// Spawn runs fn in a new goroutine, deriving its context from ctx so
// Stop can cancel it, and tracks it so Stop waits for it to finish.
// The task removes itself from the tracked set on completion, whether
// it ran to normal completion or was cancelled.
func (k *Kernel) Spawn(ctx context.Context, fn func(ctx context.Context)) {
	taskCtx, cancel := context.WithCancel(ctx)
	t := &task{cancel: cancel, done: make(chan struct{})}

	k.mu.Lock()
	k.tasks[t] = struct{}{}
	k.mu.Unlock()

	go func() {
		defer close(t.done)
		defer func() {
			k.mu.Lock()
			delete(k.tasks, t)
			k.mu.Unlock()
		}()
		defer cancel()
		fn(taskCtx)
	}()
}

// TaskCount returns the number of currently tracked background tasks,
// useful for tests asserting Spawn's bookkeeping.
func (k *Kernel) TaskCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.tasks)
}
