// Package batch runs long reconciliation jobs (reclassify sweeps, state
// rebuilds, relink sweeps) as resumable, cursor-checkpointed work. An
// interrupted job keeps its cursor in the jobs table and picks up where it
// stopped.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	cverrors "github.com/caravelhq/caravel-cli/pkg/errors"
)

// Kind identifies what a job does.
type Kind string

const (
	KindIngest      Kind = "ingest"
	KindReclassify  Kind = "reclassify"
	KindRebuild     Kind = "rebuild"
	KindRelinkSweep Kind = "relink_sweep"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// Resumable reports whether a job in this status may be picked up again.
func (s Status) Resumable() bool {
	return s == StatusRunning || s == StatusFailed || s == StatusInterrupted
}

// Job is one batch operation with its checkpoint.
type Job struct {
	ID          string     `json:"id"`
	Kind        Kind       `json:"kind"`
	Status      Status     `json:"status"`
	Cursor      int64      `json:"cursor"`
	Processed   int        `json:"processed"`
	Failed      int        `json:"failed"`
	LastError   string     `json:"last_error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Repository persists jobs in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a job repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new job record.
func (r *Repository) Create(ctx context.Context, job *Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (id, kind, status, cursor, processed, failed, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())`,
		job.ID, job.Kind, job.Status, job.Cursor, job.Processed, job.Failed)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// Get fetches one job by ID.
func (r *Repository) Get(ctx context.Context, id string) (*Job, error) {
	row := r.pool.QueryRow(ctx, selectJob+` WHERE id = $1`, id)
	return scanJob(row)
}

// UpdateProgress checkpoints a running job's cursor and counters.
func (r *Repository) UpdateProgress(ctx context.Context, id string, cursor int64, processed, failed int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET cursor = $2, processed = $3, failed = $4, updated_at = now()
		WHERE id = $1`,
		id, cursor, processed, failed)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cverrors.ErrNotFound
	}
	return nil
}

// Complete finishes a job with its terminal status. An interrupted job keeps
// completed_at NULL so it still reads as in-flight work.
func (r *Repository) Complete(ctx context.Context, id string, status Status, lastError string) error {
	query := `
		UPDATE jobs
		SET status = $2, last_error = $3, updated_at = now(), completed_at = now()
		WHERE id = $1`
	if status == StatusInterrupted {
		query = `
		UPDATE jobs
		SET status = $2, last_error = $3, updated_at = now()
		WHERE id = $1`
	}
	tag, err := r.pool.Exec(ctx, query, id, status, lastError)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cverrors.ErrNotFound
	}
	return nil
}

// ListRecent returns the newest jobs first, optionally filtered by kind.
func (r *Repository) ListRecent(ctx context.Context, kind Kind, limit int) ([]*Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := selectJob
	args := []any{limit}
	if kind != "" {
		query += ` WHERE kind = $2`
		args = append(args, kind)
	}
	query += ` ORDER BY started_at DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

const selectJob = `
	SELECT id, kind, status, cursor, processed, failed, last_error,
	       started_at, updated_at, completed_at
	FROM jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	err := row.Scan(&job.ID, &job.Kind, &job.Status, &job.Cursor,
		&job.Processed, &job.Failed, &job.LastError,
		&job.StartedAt, &job.UpdatedAt, &job.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cverrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &job, nil
}
