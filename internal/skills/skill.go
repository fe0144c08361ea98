// Package skills implements the skill manager: tool spec aggregation,
// lazy per-skill activation, and tool dispatch that never lets a
// skill's failure propagate out as a Go error.
package skills

import (
	"context"

	"github.com/arc-run/arc/pkg/models"
)

// Manifest is a Skill's static declaration: its name and the tools it
// provides.
type Manifest struct {
	Name  string
	Tools []models.ToolSpec
}

// Skill is the polymorphic unit the manager hosts. Activate must be
// idempotent from the skill's own point of view too — the manager
// guarantees it is called at most once, but a well-behaved skill
// should not assume that guarantee holds for callers bypassing the
// manager in tests.
type Skill interface {
	Manifest() Manifest
	Initialize(ctx context.Context, config map[string]any) error
	Activate(ctx context.Context) error
	ExecuteTool(ctx context.Context, name string, args map[string]any) (models.ToolResult, error)
	Deactivate(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
