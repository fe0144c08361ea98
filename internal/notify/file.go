package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/arc-run/arc/pkg/models"
)

// FileChannel is an always-on fallback that appends to a plain-text
// log file. Registered last by convention; acts as a permanent record
// even when no interactive platform or external channel is running.
type FileChannel struct {
	mu      sync.Mutex
	logPath string
}

// NewFileChannel builds a file channel. An empty path defaults to
// "~/.arc/notifications.log".
func NewFileChannel(path string) *FileChannel {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		path = filepath.Join(home, ".arc", "notifications.log")
	}
	return &FileChannel{logPath: path}
}

func (f *FileChannel) Name() string     { return "file" }
func (f *FileChannel) IsActive() bool   { return true }
func (f *FileChannel) IsExternal() bool { return false }

// Deliver appends a formatted entry to the log file.
func (f *FileChannel) Deliver(ctx context.Context, n models.Notification) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.logPath), 0o755); err != nil {
		return false, fmt.Errorf("notify: create log dir: %w", err)
	}

	file, err := os.OpenFile(f.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("notify: open log file: %w", err)
	}
	defer file.Close()

	ts := n.FiredAt.Format("2006-01-02 15:04:05")
	entry := fmt.Sprintf("[%s] [%s]\n%s\n%s\n", ts, n.JobName, n.Content, strings.Repeat("─", 60))
	if _, err := file.WriteString(entry); err != nil {
		return false, fmt.Errorf("notify: write log entry: %w", err)
	}
	return true, nil
}
