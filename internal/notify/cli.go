package notify

import (
	"context"
	"sync/atomic"

	"github.com/arc-run/arc/pkg/models"
)

// CLIChannel queues job-completion notifications for injection into
// the next turn of an interactive conversation, instead of printing
// directly to the terminal where it would interleave with a streaming
// response.
type CLIChannel struct {
	queue  chan models.Notification
	active atomic.Bool
}

// NewCLIChannel builds a channel backed by a buffered queue; the
// interactive platform drains it between turns.
func NewCLIChannel(queueSize int) *CLIChannel {
	if queueSize <= 0 {
		queueSize = 32
	}
	return &CLIChannel{queue: make(chan models.Notification, queueSize)}
}

// Queue exposes the channel a platform should drain.
func (c *CLIChannel) Queue() <-chan models.Notification {
	return c.queue
}

// SetActive toggles delivery; the interactive platform sets this true
// while running and false on shutdown.
func (c *CLIChannel) SetActive(active bool) {
	c.active.Store(active)
}

func (c *CLIChannel) Name() string     { return "cli" }
func (c *CLIChannel) IsActive() bool   { return c.active.Load() }
func (c *CLIChannel) IsExternal() bool { return false }

// Deliver enqueues the notification, returning false without
// blocking if the queue is full.
func (c *CLIChannel) Deliver(ctx context.Context, n models.Notification) (bool, error) {
	if !c.active.Load() {
		return false, nil
	}
	select {
	case c.queue <- n:
		return true, nil
	default:
		return false, nil
	}
}
