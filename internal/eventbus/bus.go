// Package eventbus implements a typed wildcard pub/sub bus with a
// middleware pipeline, the coordination backbone the rest of the
// kernel uses for observability and cross-component signaling.
package eventbus

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/arc-run/arc/pkg/models"
)

// Handler receives a matched event. A handler's error is logged and
// never propagates out of Emit.
type Handler func(ctx context.Context, event models.Event) error

// Middleware wraps the dispatch of a single Emit call. Next invokes the
// rest of the chain (and ultimately the handler fan-out); a middleware
// that never calls next short-circuits dispatch entirely.
type Middleware func(next Dispatcher) Dispatcher

// Dispatcher is the shape both the terminal handler fan-out and every
// middleware-wrapped stage conform to.
type Dispatcher func(ctx context.Context, event models.Event) error

type subscription struct {
	pattern string
	handler Handler
}

// Bus is safe for concurrent Emit and Subscribe/Unsubscribe; the
// subscriber and middleware slices are only mutated from the owning
// goroutine in practice, but are guarded regardless.
type Bus struct {
	mu          sync.RWMutex
	subs        []subscription
	tokenSubs   []tokenSubscription
	tokenSeq    uint64
	middlewares []Middleware
	logger      *slog.Logger
}

// Option configures a Bus at construction.
type Option func(*Bus)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New creates an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for pattern: an exact event type, a
// "prefix:*" glob, or "*" for everything. The same (pattern, handler)
// pair may be registered more than once; each registration fires
// independently.
func (b *Bus) Subscribe(pattern string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{pattern: pattern, handler: handler})
}

// Unsubscribe removes every Subscribe registration for pattern;
// registrations made with SubscribeToken are left in place. Go has no
// comparable function values in general, so callers that need
// selective removal should use UnsubscribeToken with a token returned
// by SubscribeToken.
func (b *Bus) Unsubscribe(pattern string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	filtered := b.subs[:0]
	for _, s := range b.subs {
		if s.pattern != pattern {
			filtered = append(filtered, s)
		}
	}
	b.subs = filtered
}

// Token identifies one Subscribe registration for precise removal.
type Token struct {
	pattern string
	id      uint64
}

type tokenSubscription struct {
	subscription
	id uint64
}

// SubscribeToken registers handler and returns a Token that
// UnsubscribeToken can later use to remove exactly this registration,
// leaving other subscribers on the same pattern intact.
func (b *Bus) SubscribeToken(pattern string, handler Handler) Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokenSeq++
	id := b.tokenSeq
	b.tokenSubs = append(b.tokenSubs, tokenSubscription{
		subscription: subscription{pattern: pattern, handler: handler},
		id:           id,
	})
	return Token{pattern: pattern, id: id}
}

// UnsubscribeToken removes exactly the registration tok identifies.
func (b *Bus) UnsubscribeToken(tok Token) {
	b.mu.Lock()
	defer b.mu.Unlock()
	filtered := b.tokenSubs[:0]
	for _, s := range b.tokenSubs {
		if s.id != tok.id {
			filtered = append(filtered, s)
		}
	}
	b.tokenSubs = filtered
}

// Use appends middleware to the chain. Middleware executes in
// registration order on entry and reverse order on exit.
func (b *Bus) Use(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middlewares = append(b.middlewares, mw)
}

// Emit builds the middleware chain fresh (so it reflects the current
// subscriber/middleware set), runs it, and returns any middleware
// error. Handler errors never reach the caller; they are logged.
func (b *Bus) Emit(ctx context.Context, event models.Event) error {
	chain := b.buildChain()
	return chain(ctx, event)
}

// EmitNoWait schedules Emit on a new goroutine without awaiting it;
// any resulting error is logged and swallowed.
func (b *Bus) EmitNoWait(ctx context.Context, event models.Event) {
	go func() {
		if err := b.Emit(ctx, event); err != nil {
			b.logger.Warn("eventbus: emit_nowait failed", "type", event.Type, "error", err)
		}
	}()
}

// buildChain folds middlewares in reverse over the terminal dispatcher,
// so the first-registered middleware becomes the outermost call: it
// runs first on entry and last on exit.
func (b *Bus) buildChain() Dispatcher {
	b.mu.RLock()
	mws := make([]Middleware, len(b.middlewares))
	copy(mws, b.middlewares)
	b.mu.RUnlock()

	var d Dispatcher = b.dispatch
	for i := len(mws) - 1; i >= 0; i-- {
		d = mws[i](d)
	}
	return d
}

// dispatch is the terminal stage: it finds every handler matching
// event.Type and runs them concurrently, waiting for all to finish
// before Emit returns. One handler's panic or error never prevents
// the others from running.
func (b *Bus) dispatch(ctx context.Context, event models.Event) error {
	b.mu.RLock()
	matched := make([]Handler, 0, len(b.subs)+len(b.tokenSubs))
	for _, s := range b.subs {
		if matches(s.pattern, event.Type) {
			matched = append(matched, s.handler)
		}
	}
	for _, s := range b.tokenSubs {
		if matches(s.pattern, event.Type) {
			matched = append(matched, s.handler)
		}
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	wg.Add(len(matched))
	for _, h := range matched {
		go func(handler Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("eventbus: handler panicked", "type", event.Type, "panic", r)
				}
			}()
			if err := handler(ctx, event); err != nil {
				b.logger.Warn("eventbus: handler failed", "type", event.Type, "error", err)
			}
		}(h)
	}
	wg.Wait()
	return nil
}

func matches(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ":*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(eventType, prefix)
	}
	return pattern == eventType
}
