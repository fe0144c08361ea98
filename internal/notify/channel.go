package notify

import (
	"context"

	"github.com/arc-run/arc/pkg/models"
)

// Channel is a delivery target for a finished job's notification. The
// router calls IsActive first — a channel that reports false is
// skipped entirely, so Deliver is never called. Deliver should return
// true only when it actually sent the message.
type Channel interface {
	Name() string
	IsActive() bool
	// IsExternal marks platforms like Telegram that take routing
	// priority over the local CLI channel.
	IsExternal() bool
	Deliver(ctx context.Context, n models.Notification) (bool, error)
}
