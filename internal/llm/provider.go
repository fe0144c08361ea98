// Package llm defines the external LLM provider contract the Agent
// Loop consumes. The provider itself — the concrete Anthropic/OpenAI/
// local-model client — is out of scope for this runtime; only the
// streaming contract matters. This package also ships a Mock provider,
// which is the provider cmd/arc wires into the App.
package llm

import (
	"context"

	"github.com/arc-run/arc/pkg/models"
)

// StopReason is carried by the final Chunk of a Generate stream.
type StopReason string

const (
	StopComplete   StopReason = "complete"
	StopToolUse    StopReason = "tool_use"
	StopMaxTokens  StopReason = "max_tokens"
	StopCancelled  StopReason = "cancelled"
)

// Chunk is one piece of a streamed completion. Exactly the last chunk
// in a stream carries a non-empty StopReason and the final token
// counts.
type Chunk struct {
	Text         string           `json:"text,omitempty"`
	ToolCalls    []models.ToolCall `json:"tool_calls,omitempty"`
	StopReason   StopReason       `json:"stop_reason,omitempty"`
	InputTokens  int64            `json:"input_tokens,omitempty"`
	OutputTokens int64            `json:"output_tokens,omitempty"`
	Err          error            `json:"-"`
}

// ModelInfo describes a provider's cost and capability envelope.
type ModelInfo struct {
	ContextWindow   int64
	MaxOutputTokens int64
	CostPerInputTok float64
	CostPerOutputTok float64
	SupportsTools   bool
}

// Provider is the external LLM contract. Generate streams a completion
// over the returned channel; the channel is closed after the final
// chunk (or after an error chunk). Implementations must respect ctx
// cancellation by closing the channel promptly.
type Provider interface {
	Generate(ctx context.Context, req Request) (<-chan Chunk, error)
	CountTokens(messages []models.Message) (int64, error)
	ModelInfo() ModelInfo
}

// Request bundles everything Generate needs for one completion call.
type Request struct {
	Messages      []models.Message
	Tools         []models.ToolSpec
	Temperature   float64
	MaxTokens     int64
	StopSequences []string
}
