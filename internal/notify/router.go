// Package notify implements the Notification Router: a finished job's
// result is tried against every active external channel first (e.g.
// Telegram); if none delivered, the CLI channel gets a shot; the file
// channel always receives a copy regardless, as a silent permanent
// record.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/arc-run/arc/pkg/models"
)

// Router holds registered channels and applies the three-step
// delivery priority. Registration order doesn't affect routing.
type Router struct {
	mu       sync.RWMutex
	channels []Channel
	logger   *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// New builds an empty Router.
func New(opts ...Option) *Router {
	r := &Router{logger: slog.Default().With("component", "notify")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a channel. Safe to call concurrently with Notify.
func (r *Router) Register(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, ch)
	r.logger.Debug("notification channel registered", "name", ch.Name())
}

// Unregister removes a channel by name.
func (r *Router) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.channels[:0]
	for _, ch := range r.channels {
		if ch.Name() != name {
			out = append(out, ch)
		}
	}
	r.channels = out
}

// ChannelNames lists currently registered channel names.
func (r *Router) ChannelNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.channels))
	for i, ch := range r.channels {
		names[i] = ch.Name()
	}
	return names
}

// Notify implements the worker and scheduler's Notifier contract and
// never returns an error — failures are logged and swallowed, since a
// notification that can't be delivered anywhere still has the file
// channel as a backstop.
func (r *Router) Notify(ctx context.Context, n models.Notification) error {
	r.mu.RLock()
	channels := append([]Channel(nil), r.channels...)
	r.mu.RUnlock()

	var external, cli, file []Channel
	for _, ch := range channels {
		switch {
		case ch.Name() == "file":
			file = append(file, ch)
		case ch.IsExternal():
			external = append(external, ch)
		default:
			cli = append(cli, ch)
		}
	}

	delivered := false
	for _, ch := range external {
		if !ch.IsActive() {
			continue
		}
		ok, err := ch.Deliver(ctx, n)
		if err != nil {
			r.logger.Warn("channel delivery failed", "channel", ch.Name(), "error", err)
			continue
		}
		if ok {
			delivered = true
		}
	}

	if !delivered {
		for _, ch := range cli {
			if !ch.IsActive() {
				continue
			}
			if _, err := ch.Deliver(ctx, n); err != nil {
				r.logger.Warn("channel delivery failed", "channel", ch.Name(), "error", err)
			}
		}
	}

	for _, ch := range file {
		if _, err := ch.Deliver(ctx, n); err != nil {
			r.logger.Warn("file channel delivery failed", "error", err)
		}
	}

	return nil
}
