package skills

import (
	"context"
	"fmt"
	"testing"

	"github.com/arc-run/arc/pkg/models"
)

type fakeSkill struct {
	name          string
	toolName      string
	activateCalls int
	activateErr   error
	executeFn     func(name string, args map[string]any) (models.ToolResult, error)
	shutdownCalls int
	panicOnExec   bool
}

func (f *fakeSkill) Manifest() Manifest {
	tool := f.toolName
	if tool == "" {
		tool = f.name + "_tool"
	}
	return Manifest{Name: f.name, Tools: []models.ToolSpec{{Name: tool}}}
}

func (f *fakeSkill) Initialize(ctx context.Context, config map[string]any) error { return nil }

func (f *fakeSkill) Activate(ctx context.Context) error {
	f.activateCalls++
	return f.activateErr
}

func (f *fakeSkill) ExecuteTool(ctx context.Context, name string, args map[string]any) (models.ToolResult, error) {
	if f.panicOnExec {
		panic("boom")
	}
	if f.executeFn != nil {
		return f.executeFn(name, args)
	}
	return models.ToolResult{Success: true, Output: "ok"}, nil
}

func (f *fakeSkill) Deactivate(ctx context.Context) error { return nil }

func (f *fakeSkill) Shutdown(ctx context.Context) error {
	f.shutdownCalls++
	return nil
}

func TestExecuteToolActivatesExactlyOnce(t *testing.T) {
	m := New()
	skill := &fakeSkill{name: "weather"}
	if err := m.Register(context.Background(), skill, nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	for i := 0; i < 3; i++ {
		res := m.ExecuteTool(context.Background(), "weather_tool", nil)
		if !res.Success {
			t.Fatalf("call %d: expected success, got %+v", i, res)
		}
	}
	if skill.activateCalls != 1 {
		t.Fatalf("activate called %d times, want 1", skill.activateCalls)
	}
}

func TestExecuteUnknownToolFails(t *testing.T) {
	m := New()
	res := m.ExecuteTool(context.Background(), "nope", nil)
	if res.Success {
		t.Fatal("expected failure for unknown tool")
	}
}

func TestExecuteToolRecoversFromPanic(t *testing.T) {
	m := New()
	skill := &fakeSkill{name: "flaky", panicOnExec: true}
	if err := m.Register(context.Background(), skill, nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	res := m.ExecuteTool(context.Background(), "flaky_tool", nil)
	if res.Success {
		t.Fatal("expected failure result when the skill panics")
	}
}

func TestActivationFailurePreventsExecute(t *testing.T) {
	m := New()
	skill := &fakeSkill{name: "broken", activateErr: fmt.Errorf("no credentials")}
	if err := m.Register(context.Background(), skill, nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	res := m.ExecuteTool(context.Background(), "broken_tool", nil)
	if res.Success {
		t.Fatal("expected failure when activation errors")
	}
}

func TestShutdownAllOnlyShutsDownActivatedSkills(t *testing.T) {
	m := New()
	used := &fakeSkill{name: "used"}
	unused := &fakeSkill{name: "unused"}
	_ = m.Register(context.Background(), used, nil)
	_ = m.Register(context.Background(), unused, nil)

	m.ExecuteTool(context.Background(), "used_tool", nil)
	m.ShutdownAll(context.Background())

	if used.shutdownCalls != 1 {
		t.Fatalf("used skill shutdown called %d times, want 1", used.shutdownCalls)
	}
	if unused.shutdownCalls != 0 {
		t.Fatalf("unused skill should never be shut down, got %d calls", unused.shutdownCalls)
	}
}

func TestAllToolSpecsExcludesNamedSkills(t *testing.T) {
	m := New()
	_ = m.Register(context.Background(), &fakeSkill{name: "a"}, nil)
	_ = m.Register(context.Background(), &fakeSkill{name: "b"}, nil)

	specs := m.AllToolSpecs(map[string]struct{}{"b": {}})
	if len(specs) != 1 || specs[0].Name != "a_tool" {
		t.Fatalf("expected only a_tool, got %+v", specs)
	}
}

func TestLastRegisteredSkillOwnsADuplicateTool(t *testing.T) {
	m := New()
	first := &fakeSkill{name: "alpha", toolName: "shared_tool"}
	second := &fakeSkill{name: "beta", toolName: "shared_tool"}
	_ = m.Register(context.Background(), first, nil)
	_ = m.Register(context.Background(), second, nil)

	owner, ok := m.OwningSkill("shared_tool")
	if !ok {
		t.Fatal("expected shared_tool to be owned")
	}
	if owner != "beta" {
		t.Fatalf("owner = %q, want beta (last registration wins)", owner)
	}
}
