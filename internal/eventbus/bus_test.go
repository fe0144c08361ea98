package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/arc-run/arc/pkg/models"
)

func newTestEvent(eventType string) models.Event {
	return models.Event{Type: eventType, ID: "evt-1", Source: "test"}
}

func TestSubscribeExactType(t *testing.T) {
	b := New()
	var calls int32
	b.Subscribe("agent:start", func(ctx context.Context, e models.Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	if err := b.Emit(context.Background(), newTestEvent("agent:start")); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := b.Emit(context.Background(), newTestEvent("agent:complete")); err != nil {
		t.Fatalf("emit: %v", err)
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestSubscribeWildcards(t *testing.T) {
	b := New()
	var prefixCalls, starCalls int32
	b.Subscribe("agent:*", func(ctx context.Context, e models.Event) error {
		atomic.AddInt32(&prefixCalls, 1)
		return nil
	})
	b.Subscribe("*", func(ctx context.Context, e models.Event) error {
		atomic.AddInt32(&starCalls, 1)
		return nil
	})

	_ = b.Emit(context.Background(), newTestEvent("agent:thinking"))
	_ = b.Emit(context.Background(), newTestEvent("skill:tool_call"))

	if prefixCalls != 1 {
		t.Fatalf("prefixCalls = %d, want 1", prefixCalls)
	}
	if starCalls != 2 {
		t.Fatalf("starCalls = %d, want 2", starCalls)
	}
}

func TestUnsubscribeTokenRemovesOnlyThatHandler(t *testing.T) {
	b := New()
	var aCalls, bCalls int32
	b.Subscribe("x", func(ctx context.Context, e models.Event) error {
		atomic.AddInt32(&aCalls, 1)
		return nil
	})
	tok := b.SubscribeToken("x", func(ctx context.Context, e models.Event) error {
		atomic.AddInt32(&bCalls, 1)
		return nil
	})

	_ = b.Emit(context.Background(), newTestEvent("x"))
	b.UnsubscribeToken(tok)
	_ = b.Emit(context.Background(), newTestEvent("x"))

	if aCalls != 2 {
		t.Fatalf("aCalls = %d, want 2", aCalls)
	}
	if bCalls != 1 {
		t.Fatalf("bCalls = %d, want 1", bCalls)
	}
}

func TestMiddlewareOrder(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var trace []string
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		trace = append(trace, s)
	}

	mwNamed := func(name string) Middleware {
		return func(next Dispatcher) Dispatcher {
			return func(ctx context.Context, e models.Event) error {
				record(name + "-enter")
				err := next(ctx, e)
				record(name + "-exit")
				return err
			}
		}
	}
	b.Use(mwNamed("A"))
	b.Use(mwNamed("B"))
	b.Use(mwNamed("C"))
	b.Subscribe("x", func(ctx context.Context, e models.Event) error {
		record("dispatch")
		return nil
	})

	if err := b.Emit(context.Background(), newTestEvent("x")); err != nil {
		t.Fatalf("emit: %v", err)
	}

	want := []string{"A-enter", "B-enter", "C-enter", "dispatch", "C-exit", "B-exit", "A-exit"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace = %v, want %v", trace, want)
		}
	}
}

func TestHandlerFailureDoesNotStopOthers(t *testing.T) {
	b := New()
	var goodCalled int32
	b.Subscribe("x", func(ctx context.Context, e models.Event) error {
		panic("boom")
	})
	b.Subscribe("x", func(ctx context.Context, e models.Event) error {
		atomic.AddInt32(&goodCalled, 1)
		return nil
	})

	if err := b.Emit(context.Background(), newTestEvent("x")); err != nil {
		t.Fatalf("emit should never propagate handler errors: %v", err)
	}
	if goodCalled != 1 {
		t.Fatalf("goodCalled = %d, want 1", goodCalled)
	}
}

func TestMiddlewareCanShortCircuit(t *testing.T) {
	b := New()
	var dispatched bool
	b.Use(func(next Dispatcher) Dispatcher {
		return func(ctx context.Context, e models.Event) error {
			return nil // never calls next
		}
	})
	b.Subscribe("x", func(ctx context.Context, e models.Event) error {
		dispatched = true
		return nil
	})

	_ = b.Emit(context.Background(), newTestEvent("x"))
	if dispatched {
		t.Fatal("dispatch ran despite short-circuiting middleware")
	}
}
