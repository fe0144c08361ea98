package escalation

import (
	"context"
	"fmt"

	"github.com/arc-run/arc/internal/skills"
	"github.com/arc-run/arc/pkg/models"
)

// Skill exposes the Escalation Bus as a single tool, ask_manager, so
// an agent loop (chiefly a background worker, which has no terminal
// of its own) can block on a free-text question to the user.
type Skill struct {
	bus *Bus
}

// NewSkill wraps bus as a skills.Skill.
func NewSkill(bus *Bus) *Skill {
	return &Skill{bus: bus}
}

func (s *Skill) Manifest() skills.Manifest {
	return skills.Manifest{
		Name: "escalation",
		Tools: []models.ToolSpec{
			{
				Name:        "ask_manager",
				Description: "Ask the user a free-text question and wait for their answer, falling back to a safe default if they don't respond in time.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question": map[string]any{"type": "string"},
					},
					"required": []string{"question"},
				},
			},
		},
	}
}

func (s *Skill) Initialize(ctx context.Context, config map[string]any) error { return nil }
func (s *Skill) Activate(ctx context.Context) error                         { return nil }
func (s *Skill) Deactivate(ctx context.Context) error                       { return nil }
func (s *Skill) Shutdown(ctx context.Context) error                         { return nil }

func (s *Skill) ExecuteTool(ctx context.Context, name string, args map[string]any) (models.ToolResult, error) {
	if name != "ask_manager" {
		return models.ToolResult{Success: false, Error: fmt.Sprintf("unknown escalation tool: %s", name)}, nil
	}
	question, _ := args["question"].(string)
	if question == "" {
		return models.ToolResult{Success: false, Error: "question is required"}, nil
	}
	fromAgent, _ := ctx.Value(agentIDKey{}).(string)
	if fromAgent == "" {
		fromAgent = "unknown"
	}
	answer := s.bus.AskManager(ctx, fromAgent, question)
	return models.ToolResult{Success: true, Output: answer}, nil
}

// agentIDKey is the context key a caller sets so ExecuteTool can
// attribute an ask_manager call to its originating agent without
// threading the id through skills.Manager's narrower ExecuteTool
// signature.
type agentIDKey struct{}

// WithAgentID returns a context ask_manager will read the asking
// agent's id from.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey{}, agentID)
}
