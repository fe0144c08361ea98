package security

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/arc-run/arc/pkg/models"
	"github.com/google/uuid"
)

// Engine checks tool calls against the layered capability policy and,
// when required, round-trips through an ApprovalFlow. Exactly one of
// two shapes exists: an interactive engine wired to a real
// ApprovalFlow, or a permissive engine (see NewPermissiveEngine) that
// auto-allows everything and is never wired to an ApprovalFlow at
// all — per spec's open question, mixing an interactive policy into a
// permissive engine is rejected at construction, not left undefined.
type Engine struct {
	mu         sync.Mutex
	policy     Policy
	remembered map[rememberedKey]models.UserResponse
	approval   *ApprovalFlow
	permissive bool
}

// NewEngine builds an interactive engine: required approvals are
// routed through approval. approval must not be nil; use
// NewPermissiveEngine for background agents instead of passing a nil
// flow here.
func NewEngine(policy Policy, approval *ApprovalFlow) (*Engine, error) {
	if approval == nil {
		return nil, fmt.Errorf("security: interactive engine requires a non-nil ApprovalFlow")
	}
	return &Engine{
		policy:     policy,
		remembered: make(map[rememberedKey]models.UserResponse),
		approval:   approval,
	}, nil
}

// NewPermissiveEngine returns an engine that auto-allows every
// capability, for background workers and scheduled jobs that have no
// terminal to prompt on. It has no ApprovalFlow; required-capability
// checks can never occur because every capability is auto-allowed.
func NewPermissiveEngine() *Engine {
	return &Engine{permissive: true, remembered: make(map[rememberedKey]models.UserResponse)}
}

// CheckAndApprove evaluates spec's required capabilities against the
// policy and, if and only if the result requires approval, blocks on
// the ApprovalFlow. On an allow_always/deny_always response, the
// decision is remembered for every capability spec declared.
func (e *Engine) CheckAndApprove(ctx context.Context, spec models.ToolSpec, args map[string]any) (models.SecurityDecision, error) {
	if e.permissive {
		return models.SecurityDecision{Allowed: true, Reason: "policy:permissive"}, nil
	}

	decision := e.check(spec)
	if !decision.RequiresApproval {
		return decision, nil
	}

	requestID := uuid.NewString()
	caps := make([]string, len(spec.RequiredCapabilities))
	for i, c := range spec.RequiredCapabilities {
		caps[i] = string(c)
	}
	argsJSON, _ := json.Marshal(args)

	resp, ok := e.approval.Request(ctx, requestID, map[string]any{
		"request_id":       requestID,
		"tool_name":        spec.Name,
		"tool_description": spec.Description,
		"arguments":        json.RawMessage(argsJSON),
		"capabilities":     caps,
	})
	if !ok {
		return models.SecurityDecision{Allowed: false, Reason: "approval_timeout"}, nil
	}

	resolved := responseToDecision(resp)
	if resolved.Remembered {
		e.mu.Lock()
		for _, c := range spec.RequiredCapabilities {
			e.remembered[rememberedKey{tool: spec.Name, cap: c}] = resp
		}
		e.mu.Unlock()
	}
	return resolved, nil
}

// check runs the four-layer policy evaluation over spec's required
// capabilities, left to right, short-circuiting on the first denial
// or approval-required result.
func (e *Engine) check(spec models.ToolSpec) models.SecurityDecision {
	if len(spec.RequiredCapabilities) == 0 {
		return models.SecurityDecision{Allowed: true, Reason: "no capabilities required"}
	}

	var last models.SecurityDecision
	for _, cap := range spec.RequiredCapabilities {
		d := e.checkCapability(spec.Name, cap)
		if !d.Allowed || d.RequiresApproval {
			return d
		}
		last = d
	}
	return last
}

func (e *Engine) checkCapability(toolName string, cap models.Capability) models.SecurityDecision {
	if e.policy.has(e.policy.NeverAllow, cap) {
		return models.SecurityDecision{Allowed: false, Reason: fmt.Sprintf("policy:never_allow (%s)", cap)}
	}

	e.mu.Lock()
	remembered, hasRemembered := e.remembered[rememberedKey{tool: toolName, cap: cap}]
	e.mu.Unlock()
	if hasRemembered {
		switch remembered {
		case models.ResponseAllowAlways:
			return models.SecurityDecision{Allowed: true, Reason: fmt.Sprintf("user:remembered_allow (%s)", cap), Remembered: true, UserResponse: remembered}
		case models.ResponseDenyAlways:
			return models.SecurityDecision{Allowed: false, Reason: fmt.Sprintf("user:remembered_deny (%s)", cap), Remembered: true, UserResponse: remembered}
		}
	}

	if e.policy.has(e.policy.AutoAllow, cap) {
		return models.SecurityDecision{Allowed: true, Reason: fmt.Sprintf("policy:auto_allow (%s)", cap)}
	}

	if e.policy.has(e.policy.AlwaysAsk, cap) {
		return models.SecurityDecision{Allowed: false, Reason: fmt.Sprintf("policy:always_ask (%s)", cap), RequiresApproval: true}
	}

	return models.SecurityDecision{Allowed: false, Reason: fmt.Sprintf("policy:unknown_capability (%s)", cap), RequiresApproval: true}
}

func responseToDecision(resp models.UserResponse) models.SecurityDecision {
	switch resp {
	case models.ResponseAllowOnce:
		return models.SecurityDecision{Allowed: true, Reason: "user:approved_once", UserResponse: resp}
	case models.ResponseAllowAlways:
		return models.SecurityDecision{Allowed: true, Reason: "user:approved_always", UserResponse: resp, Remembered: true}
	case models.ResponseDenyAlways:
		return models.SecurityDecision{Allowed: false, Reason: "user:denied_always", UserResponse: resp, Remembered: true}
	default:
		return models.SecurityDecision{Allowed: false, Reason: "user:denied", UserResponse: models.ResponseDeny}
	}
}
