package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arc-run/arc/pkg/models"
)

// Store persists scheduled jobs.
type Store interface {
	Create(ctx context.Context, job models.Job) error
	Update(ctx context.Context, job models.Job) error
	Get(ctx context.Context, id string) (models.Job, bool, error)
	GetByName(ctx context.Context, name string) (models.Job, bool, error)
	List(ctx context.Context) ([]models.Job, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// SQLiteStore is a WAL-mode SQLite-backed Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a SQLite database at path and
// ensures its schema exists. path may be ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("scheduler: open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("scheduler: %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			prompt TEXT NOT NULL,
			trigger_kind TEXT NOT NULL,
			trigger_cron_expr TEXT,
			trigger_seconds INTEGER,
			trigger_at DATETIME,
			next_run DATETIME,
			last_run DATETIME,
			active INTEGER NOT NULL,
			use_tools INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_next_run ON jobs(next_run);
	`)
	if err != nil {
		return fmt.Errorf("scheduler: migrate: %w", err)
	}
	return nil
}

// Create inserts a job.
func (s *SQLiteStore) Create(ctx context.Context, job models.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, name, prompt, trigger_kind, trigger_cron_expr, trigger_seconds, trigger_at,
			next_run, last_run, active, use_tools, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.Prompt, string(job.Trigger.Kind), job.Trigger.CronExpr, job.Trigger.Seconds,
		nullTime(job.Trigger.At), nullTime(job.NextRun), nullTime(job.LastRun), boolToInt(job.Active),
		boolToInt(job.UseTools), job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("scheduler: create job %s: %w", job.ID, err)
	}
	return nil
}

// Update overwrites every stored field of the job except id and
// created_at.
func (s *SQLiteStore) Update(ctx context.Context, job models.Job) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET name=?, prompt=?, trigger_kind=?, trigger_cron_expr=?, trigger_seconds=?, trigger_at=?,
			next_run=?, last_run=?, active=?, use_tools=?
		WHERE id=?`,
		job.Name, job.Prompt, string(job.Trigger.Kind), job.Trigger.CronExpr, job.Trigger.Seconds,
		nullTime(job.Trigger.At), nullTime(job.NextRun), nullTime(job.LastRun), boolToInt(job.Active),
		boolToInt(job.UseTools), job.ID,
	)
	if err != nil {
		return fmt.Errorf("scheduler: update job %s: %w", job.ID, err)
	}
	return nil
}

// Get returns a job by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (models.Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, prompt, trigger_kind, trigger_cron_expr, trigger_seconds, trigger_at,
			next_run, last_run, active, use_tools, created_at
		FROM jobs WHERE id=?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, fmt.Errorf("scheduler: get job %s: %w", id, err)
	}
	return job, true, nil
}

// GetByName returns a job by its unique name.
func (s *SQLiteStore) GetByName(ctx context.Context, name string) (models.Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, prompt, trigger_kind, trigger_cron_expr, trigger_seconds, trigger_at,
			next_run, last_run, active, use_tools, created_at
		FROM jobs WHERE name=?`, name)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, fmt.Errorf("scheduler: get job by name %s: %w", name, err)
	}
	return job, true, nil
}

// List returns all jobs, most recently created first.
func (s *SQLiteStore) List(ctx context.Context) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, prompt, trigger_kind, trigger_cron_expr, trigger_seconds, trigger_at,
			next_run, last_run, active, use_tools, created_at
		FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("scheduler: list jobs: %w", err)
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scheduler: scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// Delete removes a job by id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("scheduler: delete job %s: %w", id, err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (models.Job, error) {
	var job models.Job
	var triggerKind string
	var triggerAt, nextRun, lastRun sql.NullTime
	var active, useTools int

	err := row.Scan(
		&job.ID, &job.Name, &job.Prompt, &triggerKind, &job.Trigger.CronExpr, &job.Trigger.Seconds, &triggerAt,
		&nextRun, &lastRun, &active, &useTools, &job.CreatedAt,
	)
	if err != nil {
		return models.Job{}, err
	}

	job.Trigger.Kind = models.TriggerKind(triggerKind)
	job.Trigger.At = triggerAt.Time
	job.NextRun = nextRun.Time
	job.LastRun = lastRun.Time
	job.Active = active != 0
	job.UseTools = useTools != 0
	return job, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
