package security

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arc-run/arc/internal/eventbus"
	"github.com/arc-run/arc/pkg/models"
)

// DefaultApprovalTimeout is used when NewApprovalFlow is given a zero
// or negative timeout.
const DefaultApprovalTimeout = 300 * time.Second

type pendingApproval struct {
	ch       chan models.UserResponse
	resolved atomic.Bool
}

// ApprovalFlow manages the request/response bridge for interactive
// security prompts. Requests are identified by caller-supplied ids
// (so Engine can reuse the same id it emits in the security:approval
// event); Request blocks until Resolve is called or the
// timeout elapses.
type ApprovalFlow struct {
	mu      sync.Mutex
	bus     *eventbus.Bus
	pending map[string]*pendingApproval
	timeout time.Duration
}

// NewApprovalFlow builds a flow that emits approval events on bus and
// waits up to timeout (DefaultApprovalTimeout if zero) for a response.
func NewApprovalFlow(bus *eventbus.Bus, timeout time.Duration) *ApprovalFlow {
	if timeout <= 0 {
		timeout = DefaultApprovalTimeout
	}
	return &ApprovalFlow{
		bus:     bus,
		pending: make(map[string]*pendingApproval),
		timeout: timeout,
	}
}

// Request registers requestID as pending, emits security:approval with
// the given event data, and blocks until Resolve(requestID, ...) is
// called or the timeout elapses. On timeout it returns
// ("", false) and the pending entry is removed so a late Resolve call
// is a no-op.
func (f *ApprovalFlow) Request(ctx context.Context, requestID string, eventData map[string]any) (models.UserResponse, bool) {
	entry := &pendingApproval{ch: make(chan models.UserResponse, 1)}

	f.mu.Lock()
	f.pending[requestID] = entry
	f.mu.Unlock()

	if f.bus != nil {
		f.bus.EmitNoWait(ctx, models.Event{
			Type:   models.EventSecurityApproval,
			ID:     requestID,
			Source: "security",
			Data:   eventData,
		})
	}

	timer := time.NewTimer(f.timeout)
	defer timer.Stop()

	select {
	case resp := <-entry.ch:
		return resp, true
	case <-timer.C:
		f.cleanup(requestID)
		return "", false
	case <-ctx.Done():
		f.cleanup(requestID)
		return "", false
	}
}

func (f *ApprovalFlow) cleanup(requestID string) {
	f.mu.Lock()
	delete(f.pending, requestID)
	f.mu.Unlock()
}

// Resolve completes a pending request. It returns false if requestID
// is unknown (never registered, already timed out, or already
// resolved) — double-resolution and post-timeout resolution are both
// safe no-ops.
func (f *ApprovalFlow) Resolve(requestID string, response models.UserResponse) bool {
	f.mu.Lock()
	entry, ok := f.pending[requestID]
	if ok {
		delete(f.pending, requestID)
	}
	f.mu.Unlock()

	if !ok {
		return false
	}
	if !entry.resolved.CompareAndSwap(false, true) {
		return false
	}
	entry.ch <- response
	return true
}

// PendingCount returns the number of outstanding requests, for tests
// and diagnostics.
func (f *ApprovalFlow) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}
