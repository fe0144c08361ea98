// Package escalation implements the escalation bus: the free-text
// counterpart to the approval flow, letting a background agent block
// on a question to the user with a timeout-bounded fallback.
package escalation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arc-run/arc/internal/eventbus"
	"github.com/arc-run/arc/pkg/models"
	"github.com/google/uuid"
)

// DefaultTimeout bounds how long ask_manager waits before returning
// the fallback answer.
const DefaultTimeout = 120 * time.Second

// DefaultFallback is returned when no one resolves the escalation in
// time, so the worker proceeds rather than hanging forever.
const DefaultFallback = "(no response received; proceeding with best judgment)"

type pendingEscalation struct {
	ch       chan string
	resolved atomic.Bool
}

// Bus bridges background-agent questions to the interactive side.
type Bus struct {
	mu       sync.Mutex
	bus      *eventbus.Bus
	pending  map[string]*pendingEscalation
	timeout  time.Duration
	fallback string
}

// New builds an escalation Bus that emits agent:escalation events on
// evt and waits up to timeout (DefaultTimeout if zero) for a resolution.
func New(evt *eventbus.Bus, timeout time.Duration) *Bus {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Bus{
		bus:      evt,
		pending:  make(map[string]*pendingEscalation),
		timeout:  timeout,
		fallback: DefaultFallback,
	}
}

// AskManager allocates an escalation id, emits agent:escalation, and
// blocks until ResolveEscalation is called or the timeout elapses — in
// which case it returns the configured fallback string so the caller
// proceeds rather than hanging.
func (b *Bus) AskManager(ctx context.Context, fromAgent, question string) string {
	escalationID := uuid.NewString()
	entry := &pendingEscalation{ch: make(chan string, 1)}

	b.mu.Lock()
	b.pending[escalationID] = entry
	b.mu.Unlock()

	if b.bus != nil {
		b.bus.EmitNoWait(ctx, models.Event{
			Type:   models.EventAgentEscalation,
			ID:     escalationID,
			Source: fromAgent,
			Data: map[string]any{
				"escalation_id": escalationID,
				"from_agent":    fromAgent,
				"question":      question,
			},
		})
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case answer := <-entry.ch:
		return answer
	case <-timer.C:
		b.cleanup(escalationID)
		return b.fallback
	case <-ctx.Done():
		b.cleanup(escalationID)
		return b.fallback
	}
}

func (b *Bus) cleanup(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// ResolveEscalation answers a pending escalation. Returns false if the
// id is unknown, already resolved, or already timed out; double
// resolution is a safe no-op.
func (b *Bus) ResolveEscalation(escalationID, answer string) bool {
	b.mu.Lock()
	entry, ok := b.pending[escalationID]
	if ok {
		delete(b.pending, escalationID)
	}
	b.mu.Unlock()

	if !ok {
		return false
	}
	if !entry.resolved.CompareAndSwap(false, true) {
		return false
	}
	entry.ch <- answer
	return true
}

// PendingCount reports the number of outstanding escalations.
func (b *Bus) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
