package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/arc-run/arc/pkg/models"
)

// eventJournal appends every bus event as one JSON line, backing the
// `arc logs --events` view — a durable, grep-able record distinct
// from the Worker activity log's rendered columns.
type eventJournal struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

func newEventJournal(path string) (*eventJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("event journal: create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("event journal: open: %w", err)
	}
	return &eventJournal{file: f, enc: json.NewEncoder(f)}, nil
}

// handle satisfies eventbus.Handler.
func (j *eventJournal) handle(ctx context.Context, event models.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(event)
}

func (j *eventJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
