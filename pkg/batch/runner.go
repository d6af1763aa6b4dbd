package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/caravelhq/caravel-cli/pkg/logging"
)

// JobStore is the persistence surface the runner needs.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	UpdateProgress(ctx context.Context, id string, cursor int64, processed, failed int) error
	Complete(ctx context.Context, id string, status Status, lastError string) error
}

// PageFunc processes one page of work starting after cursor. It returns the
// next cursor, how many items the page processed and failed, and whether the
// sweep is done. Failures inside a page are counted, not fatal; a returned
// error aborts the job (resumable from the checkpointed cursor).
type PageFunc func(ctx context.Context, cursor int64) (next int64, processed, failed int, done bool, err error)

// Runner drives cursor-checkpointed jobs.
type Runner struct {
	jobs   JobStore
	logger logging.Logger
}

// NewRunner creates a Runner.
func NewRunner(jobs JobStore, logger logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Runner{jobs: jobs, logger: logger}
}

// Run executes a job page by page, checkpointing the cursor after every page.
// With resumeID set it continues an existing job from its stored cursor.
// Context cancellation (SIGINT/SIGTERM in the CLI) marks the job interrupted
// and returns it with the cursor intact.
func (r *Runner) Run(ctx context.Context, kind Kind, resumeID string, page PageFunc) (*Job, error) {
	job, err := r.openJob(ctx, kind, resumeID)
	if err != nil {
		return nil, err
	}

	logger := r.logger.With(
		logging.F("job_id", job.ID),
		logging.F("kind", string(kind)),
	)
	if resumeID != "" {
		logger.Info("resuming job from checkpoint", logging.F("cursor", job.Cursor))
	} else {
		logger.Info("job started")
	}

	for {
		if err := ctx.Err(); err != nil {
			// The context is already dead; the final checkpoint still
			// has to land.
			detached := context.WithoutCancel(ctx)
			if completeErr := r.jobs.Complete(detached, job.ID, StatusInterrupted, err.Error()); completeErr != nil {
				logger.Warn("could not mark job interrupted", logging.Err(completeErr))
			}
			job.Status = StatusInterrupted
			logger.Warn("job interrupted", logging.F("cursor", job.Cursor))
			return job, err
		}

		next, processed, failed, done, err := page(ctx, job.Cursor)
		job.Cursor = next
		job.Processed += processed
		job.Failed += failed

		if updateErr := r.jobs.UpdateProgress(ctx, job.ID, job.Cursor, job.Processed, job.Failed); updateErr != nil {
			logger.Warn("could not checkpoint job progress", logging.Err(updateErr))
		}

		if err != nil {
			if completeErr := r.jobs.Complete(ctx, job.ID, StatusFailed, err.Error()); completeErr != nil {
				logger.Warn("could not mark job failed", logging.Err(completeErr))
			}
			job.Status = StatusFailed
			job.LastError = err.Error()
			logger.Error("job failed", logging.Err(err), logging.F("cursor", job.Cursor))
			return job, err
		}

		if done {
			if completeErr := r.jobs.Complete(ctx, job.ID, StatusCompleted, ""); completeErr != nil {
				logger.Warn("could not mark job completed", logging.Err(completeErr))
			}
			job.Status = StatusCompleted
			logger.Info("job completed",
				logging.F("processed", job.Processed),
				logging.F("failed", job.Failed),
			)
			return job, nil
		}
	}
}

// openJob creates a fresh job or loads the one being resumed.
func (r *Runner) openJob(ctx context.Context, kind Kind, resumeID string) (*Job, error) {
	if resumeID == "" {
		job := &Job{
			ID:     uuid.New().String(),
			Kind:   kind,
			Status: StatusRunning,
		}
		if err := r.jobs.Create(ctx, job); err != nil {
			return nil, fmt.Errorf("creating job record: %w", err)
		}
		return job, nil
	}

	job, err := r.jobs.Get(ctx, resumeID)
	if err != nil {
		return nil, fmt.Errorf("loading job %s: %w", resumeID, err)
	}
	if job.Kind != kind {
		return nil, fmt.Errorf("job %s is a %s job, not %s", resumeID, job.Kind, kind)
	}
	if !job.Status.Resumable() {
		return nil, errors.New("job already completed")
	}

	job.Status = StatusRunning
	return job, nil
}
