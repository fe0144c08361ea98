package skills

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SoftSkills loads plain-text ".md" instruction files from a directory
// and appends their verbatim content to the system prompt. Unlike a
// Skill, a soft skill is never parsed into structured tool specs — it
// is text, appended as-is, and reloaded whenever the directory
// changes.
type SoftSkills struct {
	dir      string
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.RWMutex
	content map[string]string

	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// NewSoftSkills builds a loader rooted at dir. dir need not exist yet.
func NewSoftSkills(dir string, logger *slog.Logger) *SoftSkills {
	if logger == nil {
		logger = slog.Default()
	}
	return &SoftSkills{
		dir:      dir,
		logger:   logger.With("component", "soft_skills"),
		debounce: 250 * time.Millisecond,
		content:  make(map[string]string),
	}
}

// Load reads every *.md file directly under dir into memory.
func (s *SoftSkills) Load() error {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	loaded := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warn("failed to read soft skill file", "file", entry.Name(), "error", err)
			continue
		}
		loaded[entry.Name()] = string(data)
	}

	s.mu.Lock()
	s.content = loaded
	s.mu.Unlock()
	return nil
}

// Prompt returns every loaded file's content concatenated in
// filename-sorted order, each separated by a blank line, ready to be
// appended to the system prompt verbatim.
func (s *SoftSkills) Prompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.content))
	for name := range s.content {
		names = append(names, name)
	}
	sortStrings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimRight(s.content[name], "\n"))
	}
	return b.String()
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Watch starts an fsnotify watcher on dir and reloads on any
// create/write/remove/rename event, debounced so a burst of edits
// triggers one reload. It creates dir if it does not exist, and
// returns an error if dir cannot be created or watched.
func (s *SoftSkills) Watch(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	s.watcher = watcher
	s.watchCancel = cancel

	s.watchWg.Add(1)
	go s.watchLoop(watchCtx)
	return nil
}

func (s *SoftSkills) watchLoop(ctx context.Context) {
	defer s.watchWg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(s.debounce, func() {
			if err := s.Load(); err != nil {
				s.logger.Warn("soft skill reload failed", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if strings.HasSuffix(event.Name, ".md") {
				scheduleReload()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("soft skill watch error", "error", err)
		}
	}
}

// Close stops the watcher, if one is running.
func (s *SoftSkills) Close() error {
	if s.watchCancel != nil {
		s.watchCancel()
	}
	var err error
	if s.watcher != nil {
		err = s.watcher.Close()
	}
	s.watchWg.Wait()
	return err
}
