// Package agents implements the agent registry: the kernel's sole
// tracker of background agents, both long-lived "experts" and
// fire-and-forget "workers".
package agents

import (
	"context"
	"sync"
	"time"
)

// Platform is the narrow surface the registry needs to stop a
// background agent's I/O channel on shutdown. internal/platform's
// Virtual Platform satisfies this.
type Platform interface {
	Stop()
}

// Expert is a named, long-lived background agent: a loop bound to its
// own Virtual Platform, running a specific recurring task.
type Expert struct {
	Name      string
	Platform  Platform
	Cancel    context.CancelFunc
	Done      <-chan struct{}
	Specialty string
	CreatedAt time.Time
}

// TaskHandle tracks one in-flight worker task spawned by the Worker
// background worker. Cancel stops the task; Done closes when it
// has actually exited.
type TaskHandle struct {
	TaskID string
	Cancel context.CancelFunc
	Done   <-chan struct{}
}

// Registry owns every background agent's task handle and, for
// experts, its Virtual Platform — per spec's ownership rule, nothing
// else may mutate these maps.
type Registry struct {
	mu      sync.Mutex
	experts map[string]*Expert
	workers map[string]*TaskHandle
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		experts: make(map[string]*Expert),
		workers: make(map[string]*TaskHandle),
	}
}

// RegisterExpert adds a long-lived expert agent.
func (r *Registry) RegisterExpert(e *Expert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	r.experts[e.Name] = e
}

// RegisterWorker adds a worker task handle. The worker is expected to
// remove itself via RemoveWorker from a completion callback once it
// exits.
func (r *Registry) RegisterWorker(h *TaskHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[h.TaskID] = h
}

// RemoveWorker drops taskID from the registry. Safe to call more than
// once for the same id.
func (r *Registry) RemoveWorker(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, taskID)
}

// ListWorkers returns the currently-registered worker task ids (spec's
// list_workers tool).
func (r *Registry) ListWorkers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	return ids
}

// GetExpert looks up a registered expert by name.
func (r *Registry) GetExpert(name string) (*Expert, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.experts[name]
	return e, ok
}

// ShutdownAll snapshots both maps, clears them, cancels every worker
// task and awaits completion tolerating errors, then stops and cancels
// every expert in turn with a bounded join. Idempotent: calling it
// again on an already-empty registry is a no-op.
func (r *Registry) ShutdownAll(ctx context.Context, joinTimeout time.Duration) {
	r.mu.Lock()
	workers := make([]*TaskHandle, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	experts := make([]*Expert, 0, len(r.experts))
	for _, e := range r.experts {
		experts = append(experts, e)
	}
	r.workers = make(map[string]*TaskHandle)
	r.experts = make(map[string]*Expert)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(h *TaskHandle) {
			defer wg.Done()
			if h.Cancel != nil {
				h.Cancel()
			}
			awaitWithTimeout(h.Done, joinTimeout)
		}(w)
	}
	wg.Wait()

	for _, e := range experts {
		if e.Platform != nil {
			e.Platform.Stop()
		}
		if e.Cancel != nil {
			e.Cancel()
		}
		awaitWithTimeout(e.Done, joinTimeout)
	}
}

func awaitWithTimeout(done <-chan struct{}, timeout time.Duration) {
	if done == nil {
		return
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	select {
	case <-done:
	case <-time.After(timeout):
	}
}
