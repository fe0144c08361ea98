// Package worker implements background task delegation: two tools —
// delegate_task and list_workers — exposed on a single Skill, backed
// by fire-and-forget background agent loops running on their own
// virtual platforms with a permissive security engine.
package worker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/arc-run/arc/internal/agents"
	"github.com/arc-run/arc/internal/eventbus"
	"github.com/arc-run/arc/internal/skills"
	"github.com/arc-run/arc/pkg/models"
)

const (
	minTimeoutSeconds     = 10
	maxTimeoutSeconds     = 1800
	defaultTimeoutSeconds = 300
	minMaxIterations      = 1
	maxMaxIterations      = 50
	defaultMaxIterations  = 20
)

// Notifier deposits a worker's result into the notification router.
// internal/notify's Router satisfies this.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// RunFunc runs one worker turn to completion and returns its final
// text or an error. taskID is the worker's unique id (distinct from
// taskName, which may repeat across delegations); callers should use
// it as the Agent Loop's AgentID so the loop's own emitted events
// carry the same Source the Skill uses for agent:spawned and
// agent:task_complete, letting ActivityLog correlate them. The caller
// (Skill) supplies this so the worker package stays independent of
// the concrete Agent Loop wiring (provider, skill manager, permissive
// security engine, excluded skills) assembled per call.
type RunFunc func(ctx context.Context, taskID, taskName, prompt string, allowedSkills []string, maxIterations int) (string, error)

// Skill implements skills.Skill, exposing delegate_task and
// list_workers.
type Skill struct {
	registry *agents.Registry
	run      RunFunc
	notify   Notifier
	bus      *eventbus.Bus
	activity *ActivityLog

	mu sync.Mutex
}

// Option configures a Skill at construction.
type Option func(*Skill)

// WithBus attaches the event bus the Skill emits agent:spawned and
// agent:task_complete on, consumed by the Interactive Platform and by
// ActivityLog. A nil bus (the default) leaves delegation silent on
// the bus, still working via Notifier.
func WithBus(bus *eventbus.Bus) Option {
	return func(s *Skill) { s.bus = bus }
}

// WithActivityLog attaches the worker activity log file a delegated
// task's lifecycle is rendered to.
func WithActivityLog(log *ActivityLog) Option {
	return func(s *Skill) { s.activity = log }
}

// New builds the worker Skill. registry tracks spawned task handles;
// run executes one worker turn; notify delivers the outcome.
func New(registry *agents.Registry, run RunFunc, notify Notifier, opts ...Option) *Skill {
	s := &Skill{registry: registry, run: run, notify: notify}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Skill) emit(ctx context.Context, eventType, taskID string, data map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.EmitNoWait(ctx, models.Event{Type: eventType, Source: taskID, Data: data})
}

// Manifest implements skills.Skill.
func (s *Skill) Manifest() skills.Manifest {
	return skills.Manifest{
		Name: "worker",
		Tools: []models.ToolSpec{
			{
				Name:        "delegate_task",
				Description: "Delegate a task to a background worker agent that runs independently and reports back when done.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"task_name":       map[string]any{"type": "string"},
						"prompt":          map[string]any{"type": "string"},
						"allowed_skills":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"timeout_seconds": map[string]any{"type": "integer"},
						"max_iterations":  map[string]any{"type": "integer"},
					},
					"required": []string{"task_name", "prompt"},
				},
			},
			{
				Name:        "list_workers",
				Description: "List the task ids of currently-running background workers.",
				Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			},
		},
	}
}

func (s *Skill) Initialize(ctx context.Context, config map[string]any) error { return nil }
func (s *Skill) Activate(ctx context.Context) error                         { return nil }
func (s *Skill) Deactivate(ctx context.Context) error                       { return nil }
func (s *Skill) Shutdown(ctx context.Context) error                         { return nil }

// ExecuteTool dispatches delegate_task and list_workers.
func (s *Skill) ExecuteTool(ctx context.Context, name string, args map[string]any) (models.ToolResult, error) {
	switch name {
	case "delegate_task":
		return s.delegateTask(ctx, args), nil
	case "list_workers":
		return s.listWorkers(), nil
	default:
		return models.ToolResult{Success: false, Error: fmt.Sprintf("unknown worker tool: %s", name)}, nil
	}
}

func (s *Skill) delegateTask(ctx context.Context, args map[string]any) models.ToolResult {
	taskName, _ := args["task_name"].(string)
	prompt, _ := args["prompt"].(string)
	if taskName == "" || prompt == "" {
		return models.ToolResult{Success: false, Error: "task_name and prompt are required"}
	}

	timeout := clampInt(intArg(args, "timeout_seconds", defaultTimeoutSeconds), minTimeoutSeconds, maxTimeoutSeconds)
	maxIter := clampInt(intArg(args, "max_iterations", defaultMaxIterations), minMaxIterations, maxMaxIterations)
	allowedSkills := stringSliceArg(args, "allowed_skills")

	taskID := taskName + "_" + randomHex(4)

	taskCtx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	done := make(chan struct{})
	s.registry.RegisterWorker(&agents.TaskHandle{TaskID: taskID, Cancel: cancel, Done: done})

	s.emit(ctx, models.EventAgentSpawned, taskID, map[string]any{"task_name": taskName})
	if s.activity != nil {
		s.activity.Track(taskID, taskName)
	}

	go func() {
		defer close(done)
		defer s.registry.RemoveWorker(taskID)
		defer cancel()
		if s.activity != nil {
			defer s.activity.Untrack(taskID)
		}
		s.runAndNotify(taskCtx, taskID, taskName, prompt, allowedSkills, maxIter)
	}()

	return models.ToolResult{
		Success: true,
		Output:  fmt.Sprintf("Delegated %q to background worker %s.", taskName, taskID),
	}
}

func (s *Skill) listWorkers() models.ToolResult {
	ids := s.registry.ListWorkers()
	data, _ := json.Marshal(ids)
	return models.ToolResult{Success: true, Output: string(data)}
}

// runAndNotify runs the worker once, retrying exactly once on failure,
// and delivers the notification content spec defines for success and
// double-failure.
func (s *Skill) runAndNotify(ctx context.Context, taskID, taskName, prompt string, allowedSkills []string, maxIterations int) {
	result, err := s.run(ctx, taskID, taskName, prompt, allowedSkills, maxIterations)
	if err != nil {
		result, err = s.run(ctx, taskID, taskName, prompt, allowedSkills, maxIterations)
	}

	var content string
	if err != nil {
		content = fmt.Sprintf("❌ %s failed: %v", taskName, err)
	} else {
		content = fmt.Sprintf("✅ %s completed:\n\n%s", taskName, result)
	}

	s.emit(context.Background(), models.EventAgentTaskComplete, taskID, map[string]any{
		"task_name": taskName,
		"success":   err == nil,
	})

	if s.notify != nil {
		_ = s.notify.Notify(context.Background(), models.Notification{
			JobID:   taskID,
			JobName: taskName,
			Content: content,
			FiredAt: time.Now(),
		})
	}
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// BuildExcludedSkills returns the skill-name exclusion set a worker's
// Agent Loop must use: always "worker" and "scheduler", plus, when
// allowedSkills is non-empty, every name in allRegisteredSkills (the
// caller's full registered skill set) that allowedSkills omits.
func BuildExcludedSkills(allowedSkills []string, allRegisteredSkills []string) map[string]struct{} {
	excluded := map[string]struct{}{"worker": {}, "scheduler": {}}
	if len(allowedSkills) == 0 {
		return excluded
	}
	allowed := make(map[string]struct{}, len(allowedSkills))
	for _, name := range allowedSkills {
		allowed[name] = struct{}{}
	}
	for _, name := range allRegisteredSkills {
		if _, ok := allowed[name]; !ok {
			excluded[name] = struct{}{}
		}
	}
	return excluded
}
