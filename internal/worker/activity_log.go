package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arc-run/arc/internal/eventbus"
	"github.com/arc-run/arc/pkg/models"
)

const (
	activityLabelWidth = 14
	activityEventWidth = 10
)

// ActivityLog renders a worker's lifecycle to a fixed-column,
// line-buffered file: one row per SPAWNED, THINKING, TOOL CALL, TOOL
// DONE, COMPLETE, or ERROR event. Skill tracks a task's label for the
// duration of its run; Watch subscribes to the shared bus and renders
// only events whose Source is a currently-tracked task id, so the main
// interactive agent's own events never reach this file.
type ActivityLog struct {
	mu     sync.Mutex
	file   *os.File
	labels map[string]string
}

// OpenActivityLog rotates any existing file at path to
// "<path>.prev.log" and opens a fresh append-only file in its place.
func OpenActivityLog(path string) (*ActivityLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("worker: create activity log dir: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".prev.log"); err != nil {
			return nil, fmt.Errorf("worker: rotate activity log: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("worker: open activity log: %w", err)
	}
	return &ActivityLog{file: f, labels: make(map[string]string)}, nil
}

// Close flushes and closes the underlying file.
func (a *ActivityLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// Track starts rendering events from taskID under label, and writes
// its SPAWNED line immediately.
func (a *ActivityLog) Track(taskID, label string) {
	a.mu.Lock()
	a.labels[taskID] = fixedWidth(label, activityLabelWidth)
	a.mu.Unlock()
	a.writeLine(taskID, "SPAWNED", "")
}

// Untrack stops rendering events from taskID once its worker has
// fully exited. Safe to call more than once.
func (a *ActivityLog) Untrack(taskID string) {
	a.mu.Lock()
	delete(a.labels, taskID)
	a.mu.Unlock()
}

// Watch subscribes to the agent/skill event types the activity log
// renders. Intended to be called once against the kernel's shared
// bus.
func (a *ActivityLog) Watch(bus *eventbus.Bus) {
	handler := func(ctx context.Context, e models.Event) error {
		a.render(e)
		return nil
	}
	bus.Subscribe(models.EventAgentThinking, handler)
	bus.Subscribe(models.EventSkillToolCall, handler)
	bus.Subscribe(models.EventSkillToolResult, handler)
	bus.Subscribe(models.EventAgentComplete, handler)
	bus.Subscribe(models.EventAgentError, handler)
}

func (a *ActivityLog) render(e models.Event) {
	if _, tracked := a.label(e.Source); !tracked {
		return
	}
	switch e.Type {
	case models.EventAgentThinking:
		a.writeLine(e.Source, "THINKING", fmt.Sprintf("iter=%v", e.Data["iteration"]))
	case models.EventSkillToolCall:
		a.writeLine(e.Source, "TOOL CALL", formatToolCall(e.Data))
	case models.EventSkillToolResult:
		mark := "✓"
		if ok, _ := e.Data["success"].(bool); !ok {
			mark = "✗"
		}
		a.writeLine(e.Source, "TOOL DONE", fmt.Sprintf("%s %v", mark, e.Data["preview"]))
	case models.EventAgentComplete:
		a.writeLine(e.Source, "COMPLETE", "✓")
	case models.EventAgentError:
		a.writeLine(e.Source, "ERROR", fmt.Sprintf("%v", e.Data["error"]))
	}
}

func (a *ActivityLog) label(taskID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.labels[taskID]
	return l, ok
}

func (a *ActivityLog) writeLine(taskID, event, detail string) {
	label, ok := a.label(taskID)
	if !ok {
		return
	}
	ts := time.Now().Format("15:04:05")
	line := fmt.Sprintf("%s | %s | %s | %s\n", ts, label, fixedWidth(event, activityEventWidth), detail)

	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = a.file.WriteString(line)
}

func fixedWidth(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

func formatToolCall(data map[string]any) string {
	name, _ := data["tool"].(string)
	args, _ := data["arguments"].(map[string]any)
	parts := make([]string, 0, len(args))
	for k, v := range args {
		parts = append(parts, fmt.Sprintf("%s=%q", k, fmt.Sprint(v)))
	}
	sort.Strings(parts)
	return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ", "))
}
