package skills

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/arc-run/arc/pkg/models"
)

// Manager hosts every registered Skill, aggregates their tool specs,
// and dispatches tool calls to the owning skill — activating it on
// first use. A skill that panics during Activate or ExecuteTool never
// takes the manager down with it: the panic is recovered and turned
// into a failed ToolResult.
type Manager struct {
	mu          sync.Mutex
	logger      *slog.Logger
	skills      map[string]Skill
	toolToSkill map[string]string
	initialized map[string]struct{}
	activated   map[string]struct{}
	activating  map[string]*sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger overrides the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// New builds an empty Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		logger:      slog.Default(),
		skills:      make(map[string]Skill),
		toolToSkill: make(map[string]string),
		initialized: make(map[string]struct{}),
		activated:   make(map[string]struct{}),
		activating:  make(map[string]*sync.Once),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds skill to the manager and calls its Initialize hook.
// Every tool the skill's manifest declares is routed to it; if two
// skills declare the same tool name, the most recently registered one
// wins and a warning is logged.
func (m *Manager) Register(ctx context.Context, skill Skill, config map[string]any) error {
	manifest := skill.Manifest()
	if manifest.Name == "" {
		return fmt.Errorf("skills: manifest has no name")
	}

	m.mu.Lock()
	for _, tool := range manifest.Tools {
		if owner, ok := m.toolToSkill[tool.Name]; ok && owner != manifest.Name {
			m.logger.Warn("tool reassigned to a different skill", "tool", tool.Name, "from", owner, "to", manifest.Name)
		}
		m.toolToSkill[tool.Name] = manifest.Name
	}
	m.skills[manifest.Name] = skill
	m.activating[manifest.Name] = &sync.Once{}
	m.mu.Unlock()

	if err := skill.Initialize(ctx, config); err != nil {
		return fmt.Errorf("skills: initialize %q: %w", manifest.Name, err)
	}

	m.mu.Lock()
	m.initialized[manifest.Name] = struct{}{}
	m.mu.Unlock()
	return nil
}

// OwningSkill returns the name of the skill that declared toolName.
func (m *Manager) OwningSkill(toolName string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.toolToSkill[toolName]
	return name, ok
}

// AllToolSpecs returns the aggregate tool list across every registered
// skill, minus any tool whose owning skill is named in excluded.
func (m *Manager) AllToolSpecs(excluded map[string]struct{}) []models.ToolSpec {
	m.mu.Lock()
	defer m.mu.Unlock()

	var specs []models.ToolSpec
	for name, skill := range m.skills {
		if _, skip := excluded[name]; skip {
			continue
		}
		specs = append(specs, skill.Manifest().Tools...)
	}
	return specs
}

// ExecuteTool dispatches name to its owning skill, activating that
// skill first if this is its first use. It never returns a Go error
// for a skill-side failure — that is reported inside the ToolResult —
// so callers can always append the result straight to the transcript.
func (m *Manager) ExecuteTool(ctx context.Context, name string, args map[string]any) models.ToolResult {
	m.mu.Lock()
	skillName, ok := m.toolToSkill[name]
	if !ok {
		m.mu.Unlock()
		return models.ToolResult{Success: false, Error: fmt.Sprintf("no skill provides tool %q", name)}
	}
	skill := m.skills[skillName]
	once := m.activating[skillName]
	m.mu.Unlock()

	var activateErr error
	once.Do(func() {
		activateErr = m.safeActivate(ctx, skillName, skill)
	})
	if activateErr != nil {
		return models.ToolResult{Success: false, Error: fmt.Sprintf("skill %q failed to activate: %v", skillName, activateErr)}
	}

	m.mu.Lock()
	_, isActivated := m.activated[skillName]
	m.mu.Unlock()
	if !isActivated {
		return models.ToolResult{Success: false, Error: fmt.Sprintf("skill %q is not active", skillName)}
	}

	return m.safeExecute(ctx, skill, name, args)
}

func (m *Manager) safeActivate(ctx context.Context, name string, skill Skill) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err = skill.Activate(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.activated[name] = struct{}{}
	m.mu.Unlock()
	return nil
}

func (m *Manager) safeExecute(ctx context.Context, skill Skill, name string, args map[string]any) (result models.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			result = models.ToolResult{Success: false, Error: fmt.Sprintf("panic executing %q: %v", name, r)}
		}
	}()
	res, err := skill.ExecuteTool(ctx, name, args)
	if err != nil {
		return models.ToolResult{Success: false, Error: err.Error()}
	}
	return res
}

// ShutdownAll calls Shutdown on every skill that was actually
// activated, ignoring skills that were registered but never used.
// Errors are logged, not returned — shutdown must make a best effort
// across every skill regardless of earlier failures.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.mu.Lock()
	active := make([]Skill, 0, len(m.activated))
	for name := range m.activated {
		active = append(active, m.skills[name])
	}
	m.mu.Unlock()

	for _, skill := range active {
		name := skill.Manifest().Name
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Warn("panic during skill shutdown", "skill", name, "recover", r)
				}
			}()
			if err := skill.Shutdown(ctx); err != nil {
				m.logger.Warn("skill shutdown failed", "skill", name, "error", err)
			}
		}()
	}
}

// Deactivate calls Deactivate on skillName if it is currently
// activated, then removes it from the activated set so the next call
// through ExecuteTool reactivates it.
func (m *Manager) Deactivate(ctx context.Context, skillName string) error {
	m.mu.Lock()
	skill, ok := m.skills[skillName]
	_, active := m.activated[skillName]
	if active {
		delete(m.activated, skillName)
		m.activating[skillName] = &sync.Once{}
	}
	m.mu.Unlock()

	if !ok || !active {
		return nil
	}
	return skill.Deactivate(ctx)
}

// ActivatedNames returns the names of every currently-activated skill,
// for diagnostics (the CLI's /skills command).
func (m *Manager) ActivatedNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.activated))
	for name := range m.activated {
		names = append(names, name)
	}
	return names
}

// RegisteredNames returns every registered skill name, regardless of
// activation state.
func (m *Manager) RegisteredNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.skills))
	for name := range m.skills {
		names = append(names, name)
	}
	return names
}
