package llm

import (
	"context"

	"github.com/arc-run/arc/pkg/models"
)

// Mock is a scriptable Provider for tests: each call to Generate
// consumes the next entry from Responses, in order. It is not safe
// for concurrent Generate calls.
type Mock struct {
	Responses []MockResponse
	calls     int

	// Info is returned by ModelInfo; zero value is a reasonable default.
	Info ModelInfo
}

// MockResponse scripts one Generate call: either a sequence of text
// chunks followed by StopReason, or a single tool-call turn.
type MockResponse struct {
	TextChunks []string
	ToolCalls  []models.ToolCall
	StopReason StopReason
	Err        error
}

// NewMock builds a Mock with the given scripted responses.
func NewMock(responses ...MockResponse) *Mock {
	return &Mock{Responses: responses}
}

// Generate returns the next scripted response as a buffered channel.
func (m *Mock) Generate(ctx context.Context, req Request) (<-chan Chunk, error) {
	if m.calls >= len(m.Responses) {
		ch := make(chan Chunk, 1)
		ch <- Chunk{StopReason: StopComplete}
		close(ch)
		return ch, nil
	}
	resp := m.Responses[m.calls]
	m.calls++

	ch := make(chan Chunk, len(resp.TextChunks)+1)
	go func() {
		defer close(ch)
		for _, t := range resp.TextChunks {
			select {
			case <-ctx.Done():
				ch <- Chunk{StopReason: StopCancelled}
				return
			case ch <- Chunk{Text: t}:
			}
		}
		if resp.Err != nil {
			ch <- Chunk{Err: resp.Err}
			return
		}
		final := Chunk{
			ToolCalls:    resp.ToolCalls,
			StopReason:   resp.StopReason,
			InputTokens:  10,
			OutputTokens: int64(len(resp.TextChunks)),
		}
		if final.StopReason == "" {
			if len(resp.ToolCalls) > 0 {
				final.StopReason = StopToolUse
			} else {
				final.StopReason = StopComplete
			}
		}
		ch <- final
	}()
	return ch, nil
}

// CountTokens returns a rough character-based estimate (about four
// characters per token, plus one per message); exact counting is
// provider-specific and out of scope.
func (m *Mock) CountTokens(messages []models.Message) (int64, error) {
	var n int64
	for _, msg := range messages {
		n += int64(len(msg.Content)/4 + 1)
	}
	return n, nil
}

// ModelInfo returns m.Info, or a sane default if unset.
func (m *Mock) ModelInfo() ModelInfo {
	if m.Info.ContextWindow == 0 {
		return ModelInfo{ContextWindow: 200000, MaxOutputTokens: 8192, SupportsTools: true}
	}
	return m.Info
}
