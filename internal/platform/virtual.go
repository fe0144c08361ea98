// Package platform implements the message channels that drive an Agent
// Loop: a silent Virtual platform for background agents, and an
// Interactive platform for a terminal chat session.
package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Handler runs one turn of conversation to completion, streaming its
// response as text chunks. internal/agent.Loop.Run satisfies this.
type Handler func(ctx context.Context, message string) (<-chan string, error)

type request struct {
	text  string
	reply chan string
}

// Virtual is a silent message channel for a background agent: no
// terminal, no user — just a queue of turns and their accumulated
// responses. Not safe for concurrent SendMessage callers; each request
// carries its own reply channel so Run can process requests strictly
// one at a time without shared mutable buffer state.
type Virtual struct {
	name string
	reqs chan request

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewVirtual builds a Virtual platform with the given input queue depth.
func NewVirtual(name string, queueSize int) *Virtual {
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Virtual{
		name:   name,
		reqs:   make(chan request, queueSize),
		stopCh: make(chan struct{}),
	}
}

// Name returns the platform's label, used by the Agent Registry.
func (p *Virtual) Name() string { return p.name }

// Run consumes the input queue until the context is cancelled or Stop
// is called, invoking handler for each message and accumulating its
// streamed chunks before replying to the waiting SendMessage caller.
func (p *Virtual) Run(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case req, ok := <-p.reqs:
			if !ok {
				return
			}
			p.handle(ctx, handler, req)
		}
	}
}

func (p *Virtual) handle(ctx context.Context, handler Handler, req request) {
	var buf strings.Builder

	chunks, err := handler(ctx, req.text)
	if err != nil {
		buf.WriteString(fmt.Sprintf("[Error: %v]", err))
		req.reply <- buf.String()
		return
	}

	for {
		select {
		case <-ctx.Done():
			buf.WriteString(fmt.Sprintf("[Error: %v]", ctx.Err()))
			req.reply <- buf.String()
			return
		case chunk, ok := <-chunks:
			if !ok {
				req.reply <- buf.String()
				return
			}
			buf.WriteString(chunk)
		}
	}
}

// SendMessage enqueues text and blocks until its full response has
// accumulated, returning it. Errors and cancellation during the turn
// surface inline in the returned string as "[Error: ...]" rather than
// as a Go error, matching Run's completion contract; SendMessage
// itself only returns an error when the message could not be enqueued
// or waited on at all (stopped platform, caller's context cancelled).
func (p *Virtual) SendMessage(ctx context.Context, text string) (string, error) {
	reply := make(chan string, 1)
	select {
	case p.reqs <- request{text: text, reply: reply}:
	case <-p.stopCh:
		return "", errors.New("platform: stopped")
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case resp := <-reply:
		return resp, nil
	case <-p.stopCh:
		return "", errors.New("platform: stopped")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Stop halts Run and causes any blocked SendMessage callers to return
// an error. Idempotent.
func (p *Virtual) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}
