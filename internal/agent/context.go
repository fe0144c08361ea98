package agent

import (
	"context"
	"strings"

	"github.com/arc-run/arc/pkg/models"
)

// composeContext builds the message list for one generation call:
// the system prompt (Tier 3 core facts appended verbatim, Tier 2
// episodic memories appended next), then as much of the session
// history as fits the token budget, front-truncated if it doesn't.
func (l *Loop) composeContext(ctx context.Context) ([]models.Message, error) {
	system := l.systemPrompt

	if l.memory != nil && len(l.history) > 0 {
		lastUser := lastUserContent(l.history)
		if lastUser != "" {
			episodic, err := l.memory.Retrieve(ctx, lastUser)
			if err == nil && len(episodic) > 0 {
				system = system + "\n\n" + strings.Join(episodic, "\n")
			}
		}
	}

	systemMsg := models.Message{Role: models.RoleSystem, Content: system}
	budget := l.config.MaxTokens - l.config.ReserveOutput

	transcript := append([]models.Message{systemMsg}, l.history...)
	if l.fitsBudget(transcript, budget) {
		return transcript, nil
	}

	window := l.config.RecentWindow
	for window > 0 {
		candidate := append([]models.Message{systemMsg}, truncateFront(l.history, window)...)
		if l.fitsBudget(candidate, budget) {
			return candidate, nil
		}
		window--
	}
	// Even a single recent message doesn't fit: return the system
	// message plus the single most recent message, never dropping the
	// system message.
	return append([]models.Message{systemMsg}, truncateFront(l.history, 1)...), nil
}

func (l *Loop) fitsBudget(messages []models.Message, budget int64) bool {
	if l.provider == nil {
		return true
	}
	count, err := l.provider.CountTokens(messages)
	if err != nil {
		return true
	}
	return count <= budget
}

// truncateFront keeps the last `window` messages, dropping from the
// front of the non-system message list.
func truncateFront(history []models.Message, window int) []models.Message {
	if window >= len(history) {
		return history
	}
	return history[len(history)-window:]
}

func lastUserContent(history []models.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			return history[i].Content
		}
	}
	return ""
}
