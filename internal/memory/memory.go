// Package memory is the long-term memory collaborator behind
// agent.MemoryManager: a core-facts table that is always surfaced into
// the system prompt, and an episodic table of past turns that is
// searched by keyword overlap and recency rather than embeddings — the
// vector storage engine and its distillation model are treated as
// external collaborators this package does not reproduce.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/arc-run/arc/internal/platform"
	"github.com/arc-run/arc/pkg/models"
)

// Store is a SQLite-backed MemoryManager and MemoryStore.
type Store struct {
	db *sql.DB

	distillEvery int // number of episodic entries between distillations
}

// Option configures a Store at construction.
type Option func(*Store)

// WithDistillEvery sets how many new episodic entries accumulate
// before ShouldDistill reports true. Defaults to 20.
func WithDistillEvery(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.distillEvery = n
		}
	}
}

// Open opens (creating if needed) a SQLite database at path and
// ensures its schema exists. path may be ":memory:" for tests.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("memory: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, distillEvery: 20}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS core_facts (
			agent_id TEXT NOT NULL,
			key      TEXT NOT NULL,
			value    TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (agent_id, key)
		);

		CREATE TABLE IF NOT EXISTS episodic_entries (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			summary TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			distilled INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_episodic_agent ON episodic_entries(agent_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("memory: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Retrieve returns core facts for every agent, followed by up to five
// episodic summaries whose text overlaps query, highest overlap first
// with ties broken by recency (an empty query yields the most recent
// entries). It never
// returns an error from normal "nothing found" conditions — only on a
// failed query.
func (s *Store) Retrieve(ctx context.Context, query string) ([]string, error) {
	facts, err := s.coreFactLines(ctx)
	if err != nil {
		return nil, err
	}

	episodic, err := s.matchingEpisodic(ctx, query, 5)
	if err != nil {
		return nil, err
	}

	out := append([]string{}, facts...)
	out = append(out, episodic...)
	return out, nil
}

func (s *Store) coreFactLines(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM core_facts ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("memory: query core facts: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("memory: scan core fact: %w", err)
		}
		lines = append(lines, fmt.Sprintf("%s: %s", key, value))
	}
	return lines, rows.Err()
}

func (s *Store) matchingEpisodic(ctx context.Context, query string, limit int) ([]string, error) {
	terms := keywordSet(query)

	rows, err := s.db.QueryContext(ctx, `
		SELECT summary FROM episodic_entries ORDER BY created_at DESC LIMIT 200`)
	if err != nil {
		return nil, fmt.Errorf("memory: query episodic entries: %w", err)
	}
	defer rows.Close()

	type scored struct {
		summary string
		rank    int
		order   int
	}
	var candidates []scored
	i := 0
	for rows.Next() {
		var summary string
		if err := rows.Scan(&summary); err != nil {
			return nil, fmt.Errorf("memory: scan episodic entry: %w", err)
		}
		candidates = append(candidates, scored{summary: summary, rank: overlapScore(terms, summary), order: i})
		i++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].rank != candidates[b].rank {
			return candidates[a].rank > candidates[b].rank
		}
		return candidates[a].order < candidates[b].order
	})

	var out []string
	for _, c := range candidates {
		if len(terms) > 0 && c.rank == 0 {
			break
		}
		out = append(out, c.summary)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func keywordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?:;\"'()")
		if len(word) < 4 {
			continue
		}
		set[word] = struct{}{}
	}
	return set
}

func overlapScore(terms map[string]struct{}, text string) int {
	if len(terms) == 0 {
		return 0
	}
	score := 0
	for word := range keywordSet(text) {
		if _, ok := terms[word]; ok {
			score++
		}
	}
	return score
}

// Store persists turn as one episodic entry: a flattened transcript of
// its messages. It does not distinguish agents — callers scope turns
// to an agent via Distill's agentID, which is recorded alongside.
func (s *Store) Store(ctx context.Context, turn []models.Message) error {
	if len(turn) == 0 {
		return nil
	}
	summary := flattenTurn(turn)
	if summary == "" {
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO episodic_entries (id, agent_id, summary, created_at, distilled)
		VALUES (?, '', ?, ?, 0)`,
		uuid.New().String(), summary, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("memory: store turn: %w", err)
	}
	return nil
}

func flattenTurn(turn []models.Message) string {
	var b strings.Builder
	for _, m := range turn {
		if m.Content == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, m.Content)
	}
	return b.String()
}

// ShouldDistill reports true once distillEvery episodic entries have
// accumulated since the last distillation.
func (s *Store) ShouldDistill(ctx context.Context, agentID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodic_entries WHERE distilled = 0`).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("memory: count undistilled entries: %w", err)
	}
	return count >= s.distillEvery, nil
}

// Distill folds messages into a single core fact under a
// timestamp-derived key and marks every undistilled episodic entry as
// distilled, bounding the table's growth. It does not call an LLM to
// summarize: the fact recorded is a compact digest of the turn, not a
// generated abstractive summary.
func (s *Store) Distill(ctx context.Context, agentID string, messages []models.Message) error {
	digest := digestMessages(messages)
	if digest == "" {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: begin distill: %w", err)
	}
	defer tx.Rollback()

	key := fmt.Sprintf("session_%d", time.Now().UnixNano())
	_, err = tx.ExecContext(ctx, `
		INSERT INTO core_facts (agent_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(agent_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		agentID, key, digest, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("memory: insert distilled fact: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE episodic_entries SET distilled = 1 WHERE distilled = 0`); err != nil {
		return fmt.Errorf("memory: mark distilled: %w", err)
	}

	return tx.Commit()
}

func digestMessages(messages []models.Message) string {
	var users, assistants int
	var lastUser, lastAssistant string
	for _, m := range messages {
		switch m.Role {
		case models.RoleUser:
			users++
			lastUser = m.Content
		case models.RoleAssistant:
			assistants++
			if m.Content != "" {
				lastAssistant = m.Content
			}
		}
	}
	if users == 0 && assistants == 0 {
		return ""
	}
	return fmt.Sprintf("session of %d user / %d assistant turns; last user message: %q; last reply: %q",
		users, assistants, truncate(lastUser, 200), truncate(lastAssistant, 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// List returns every core fact and recent episodic entry, core facts
// first, satisfying platform.MemoryStore for the /memory command.
func (s *Store) List(ctx context.Context) ([]platform.MemoryEntry, error) {
	var entries []platform.MemoryEntry

	rows, err := s.db.QueryContext(ctx, `SELECT agent_id, key, value FROM core_facts ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("memory: list core facts: %w", err)
	}
	for rows.Next() {
		var agentID, key, value string
		if err := rows.Scan(&agentID, &key, &value); err != nil {
			rows.Close()
			return nil, fmt.Errorf("memory: scan core fact: %w", err)
		}
		entries = append(entries, platform.MemoryEntry{ID: "fact:" + key, Summary: value})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	erows, err := s.db.QueryContext(ctx, `SELECT id, summary FROM episodic_entries ORDER BY created_at DESC LIMIT 50`)
	if err != nil {
		return nil, fmt.Errorf("memory: list episodic entries: %w", err)
	}
	defer erows.Close()
	for erows.Next() {
		var id, summary string
		if err := erows.Scan(&id, &summary); err != nil {
			return nil, fmt.Errorf("memory: scan episodic entry: %w", err)
		}
		entries = append(entries, platform.MemoryEntry{ID: "turn:" + id, Summary: truncate(summary, 160)})
	}
	return entries, erows.Err()
}

// Delete removes a memory by the ID reported from List ("fact:<key>"
// or "turn:<uuid>").
func (s *Store) Delete(ctx context.Context, id string) error {
	switch {
	case strings.HasPrefix(id, "fact:"):
		key := strings.TrimPrefix(id, "fact:")
		_, err := s.db.ExecContext(ctx, `DELETE FROM core_facts WHERE key = ?`, key)
		if err != nil {
			return fmt.Errorf("memory: delete fact %s: %w", key, err)
		}
		return nil
	case strings.HasPrefix(id, "turn:"):
		turnID := strings.TrimPrefix(id, "turn:")
		_, err := s.db.ExecContext(ctx, `DELETE FROM episodic_entries WHERE id = ?`, turnID)
		if err != nil {
			return fmt.Errorf("memory: delete entry %s: %w", turnID, err)
		}
		return nil
	default:
		return fmt.Errorf("memory: unrecognized id %q", id)
	}
}

// UpsertCoreFact sets a single always-surfaced fact, used by tools
// that let an agent remember something explicitly.
func (s *Store) UpsertCoreFact(ctx context.Context, agentID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO core_facts (agent_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(agent_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		agentID, key, value, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("memory: upsert core fact: %w", err)
	}
	return nil
}
