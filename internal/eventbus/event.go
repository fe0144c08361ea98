package eventbus

import (
	"time"

	"github.com/arc-run/arc/pkg/models"
)

// NewEvent builds an Event with a generated id and current timestamp.
// idFunc is injected so callers (and tests) control id generation
// without this package depending on a global clock or uuid source.
func NewEvent(idFunc func() string, eventType, source string, data map[string]any) models.Event {
	return models.Event{
		Type:      eventType,
		ID:        idFunc(),
		Timestamp: time.Now(),
		Source:    source,
		Data:      data,
	}
}

// WithParent returns a copy of e with ParentID set, for building a
// causal chain of related events.
func WithParent(e models.Event, parentID string) models.Event {
	e.ParentID = parentID
	return e
}
