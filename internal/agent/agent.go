// Package agent implements the agent loop: a streaming think/act/
// observe cycle bounded by a maximum iteration count, with tiered
// context composition and approval-gated tool execution.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arc-run/arc/internal/eventbus"
	"github.com/arc-run/arc/internal/llm"
	"github.com/arc-run/arc/internal/security"
	"github.com/arc-run/arc/internal/skills"
	"github.com/arc-run/arc/pkg/models"
)

func unmarshalArgs(raw json.RawMessage, out *map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// MemoryManager is the long-term memory collaborator: retrieval of
// relevant episodic context and turn storage/distillation decisions.
// Its implementation lives in internal/memory; the Agent Loop only
// depends on this narrow contract.
type MemoryManager interface {
	Retrieve(ctx context.Context, query string) ([]string, error)
	Store(ctx context.Context, turn []models.Message) error
	ShouldDistill(ctx context.Context, agentID string) (bool, error)
	Distill(ctx context.Context, agentID string, messages []models.Message) error
}

// Config bounds and tunes a single Loop's behavior.
type Config struct {
	MaxIterations int
	Temperature   float64
	RecentWindow  int
	// ExcludedSkills lists skill names whose tools are hidden from this
	// loop's tool list (e.g. "worker"/"scheduler" for delegated workers).
	ExcludedSkills map[string]struct{}
	AgentID        string
	MaxTokens      int64
	ReserveOutput  int64
}

// DefaultConfig returns spec's suggested defaults.
func DefaultConfig(agentID string) Config {
	return Config{
		MaxIterations: 10,
		Temperature:   0.7,
		RecentWindow:  20,
		AgentID:       agentID,
		MaxTokens:     180000,
		ReserveOutput: 8192,
	}
}

// Loop is one conversation's agentic loop: exactly one active turn at
// a time, bound to a provider, a skill manager, a security engine, and
// (session) memory.
type Loop struct {
	provider llm.Provider
	skills   *skills.Manager
	security *security.Engine
	bus      *eventbus.Bus
	memory   MemoryManager

	systemPrompt string
	history      []models.Message
	config       Config
	iteration    int
}

// New builds a Loop. memory may be nil for loops that have no
// long-term memory collaborator (e.g. ephemeral workers).
func New(provider llm.Provider, skillMgr *skills.Manager, sec *security.Engine, bus *eventbus.Bus, memory MemoryManager, systemPrompt string, config Config) *Loop {
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultConfig(config.AgentID).MaxIterations
	}
	if config.RecentWindow <= 0 {
		config.RecentWindow = DefaultConfig(config.AgentID).RecentWindow
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultConfig(config.AgentID).MaxTokens
	}
	return &Loop{
		provider:     provider,
		skills:       skillMgr,
		security:     sec,
		bus:          bus,
		memory:       memory,
		systemPrompt: systemPrompt,
		config:       config,
	}
}

func (l *Loop) emit(ctx context.Context, eventType string, data map[string]any) {
	if l.bus == nil {
		return
	}
	l.bus.EmitNoWait(ctx, models.Event{
		Type:   eventType,
		Source: l.config.AgentID,
		Data:   data,
	})
}

const maxIterationsNudge = "You have used the maximum number of tool calls. Do NOT call any more. Answer from what you have."

// Run starts a turn for userInput and returns a channel of text
// chunks. The channel is closed when the turn completes (normally, on
// the iteration bound, or on a provider error).
func (l *Loop) Run(ctx context.Context, userInput string) (<-chan string, error) {
	out := make(chan string, 16)

	l.history = append(l.history, models.Message{Role: models.RoleUser, Content: userInput})
	l.emit(ctx, models.EventAgentStart, map[string]any{"input": userInput})

	go func() {
		defer close(out)
		l.runLoop(ctx, out)
	}()

	return out, nil
}

func (l *Loop) runLoop(ctx context.Context, out chan<- string) {
	for l.iteration < l.config.MaxIterations {
		l.iteration++
		l.emit(ctx, models.EventAgentThinking, map[string]any{"iteration": l.iteration})

		messages, err := l.composeContext(ctx)
		if err != nil {
			l.emit(ctx, models.EventAgentError, map[string]any{"error": err.Error()})
			return
		}

		toolSpecs := l.skills.AllToolSpecs(l.config.ExcludedSkills)

		assistantText, toolCalls, stopReason, err := l.streamOnce(ctx, messages, toolSpecs, out)
		if err != nil {
			l.emit(ctx, models.EventAgentError, map[string]any{"error": err.Error()})
			return
		}

		if stopReason == llm.StopComplete || len(toolCalls) == 0 {
			l.history = append(l.history, models.Message{Role: models.RoleAssistant, Content: assistantText})
			l.finish(ctx, "complete")
			return
		}

		l.history = append(l.history, models.Message{Role: models.RoleAssistant, Content: assistantText, ToolCalls: toolCalls})
		for _, call := range toolCalls {
			result := l.executeToolWithApproval(ctx, call)
			l.history = append(l.history, models.Message{
				Role:       models.RoleTool,
				Content:    result.Output,
				ToolCallID: result.ToolCallID,
			})
		}
	}

	// Iteration bound reached: one final no-tools completion.
	out <- "\n---\n"
	messages, err := l.composeContext(ctx)
	if err == nil {
		messages = append(messages, models.Message{Role: models.RoleUser, Content: maxIterationsNudge})
		finalText, _, _, genErr := l.streamOnce(ctx, messages, nil, out)
		if genErr == nil {
			l.history = append(l.history, models.Message{Role: models.RoleAssistant, Content: finalText})
		}
	}
	l.emit(ctx, models.EventAgentComplete, map[string]any{"reason": "max_iterations"})
}

func (l *Loop) finish(ctx context.Context, reason string) {
	if l.memory != nil {
		turn := append([]models.Message(nil), l.history...)
		go func() {
			bgCtx := context.Background()
			if err := l.memory.Store(bgCtx, turn); err != nil {
				return
			}
			if should, _ := l.memory.ShouldDistill(bgCtx, l.config.AgentID); should {
				window := l.config.RecentWindow
				if window > len(turn) {
					window = len(turn)
				}
				_ = l.memory.Distill(bgCtx, l.config.AgentID, turn[len(turn)-window:])
			}
		}()
	}
	l.emit(ctx, models.EventAgentComplete, map[string]any{"reason": reason})
}

// streamOnce runs a single LLM generation and forwards text chunks to
// out as they arrive. It returns the accumulated assistant text, the
// accumulated tool calls, and the final stop reason.
func (l *Loop) streamOnce(ctx context.Context, messages []models.Message, tools []models.ToolSpec, out chan<- string) (string, []models.ToolCall, llm.StopReason, error) {
	chunks, err := l.provider.Generate(ctx, llm.Request{
		Messages:    messages,
		Tools:       tools,
		Temperature: l.config.Temperature,
		MaxTokens:   l.config.ReserveOutput,
	})
	if err != nil {
		return "", nil, "", err
	}

	var text string
	var toolCalls []models.ToolCall
	var stopReason llm.StopReason

	for chunk := range chunks {
		if chunk.Err != nil {
			return text, toolCalls, stopReason, chunk.Err
		}
		if chunk.Text != "" {
			text += chunk.Text
			out <- chunk.Text
		}
		if len(chunk.ToolCalls) > 0 {
			toolCalls = append(toolCalls, chunk.ToolCalls...)
		}
		if chunk.StopReason != "" {
			stopReason = chunk.StopReason
			l.emit(ctx, models.EventLLMResponse, map[string]any{
				"stop_reason":   string(chunk.StopReason),
				"input_tokens":  chunk.InputTokens,
				"output_tokens": chunk.OutputTokens,
			})
		}
	}
	return text, toolCalls, stopReason, nil
}

// executeToolWithApproval implements spec's execute_tool_with_approval:
// lookup, security check, dispatch through the skill manager, and
// event emission at each stage.
func (l *Loop) executeToolWithApproval(ctx context.Context, call models.ToolCall) models.ToolResult {
	owner, ok := l.skills.OwningSkill(call.Name)
	if !ok {
		return models.ToolResult{ToolCallID: call.ID, Success: false, Error: fmt.Sprintf("unknown tool: %s", call.Name)}
	}

	var args map[string]any
	_ = unmarshalArgs(call.Arguments, &args)

	spec := findSpec(l.skills.AllToolSpecs(nil), call.Name)
	decision, err := l.security.CheckAndApprove(ctx, spec, args)
	if err != nil {
		return models.ToolResult{ToolCallID: call.ID, Success: false, Error: err.Error()}
	}
	if !decision.Allowed {
		l.emit(ctx, models.EventSecurityDenied, map[string]any{"tool": call.Name, "reason": decision.Reason})
		return models.ToolResult{ToolCallID: call.ID, Success: false, Error: decision.Reason}
	}

	l.emit(ctx, models.EventSkillToolCall, map[string]any{"tool": call.Name, "arguments": args, "owner": owner})
	result := l.skills.ExecuteTool(ctx, call.Name, args)
	result.ToolCallID = call.ID

	preview := result.Output
	if len(preview) > 200 {
		preview = preview[:200]
	}
	l.emit(ctx, models.EventSkillToolResult, map[string]any{"tool": call.Name, "success": result.Success, "preview": preview})
	return result
}

func findSpec(specs []models.ToolSpec, name string) models.ToolSpec {
	for _, s := range specs {
		if s.Name == name {
			return s
		}
	}
	return models.ToolSpec{Name: name}
}
