package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ogabrielsv/creatye/pkg/models"
	"github.com/ogabrielsv/creatye/pkg/persistence"
)

// JobRepository handles the job queue. The jobs table is the only contended resource
// of the engine; every status transition is a single conditional statement or runs
// inside a transaction with the execution update it belongs to.
type JobRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *sql.DB, logger *slog.Logger) *JobRepository {
	return &JobRepository{db: db, logger: logger.With("component", "job_repository")}
}

const jobColumns = `id, execution_id, run_at, status, payload, error, claimed_at, created_at, updated_at`

// DueJobs returns queued jobs whose run_at has passed, oldest first.
func (r *JobRepository) DueJobs(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		WHERE status = $1 AND run_at <= $2
		ORDER BY run_at, created_at
		LIMIT $3`, models.JobStatusQueued, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	return scanJobs(rows)
}

// ClaimJob transitions a job from queued to processing if, and only if, it is still queued.
func (r *JobRepository) ClaimJob(ctx context.Context, id string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = $2, claimed_at = $3, updated_at = $3
		WHERE id = $1 AND status = $4`,
		id, models.JobStatusProcessing, now, models.JobStatusQueued)
	if err != nil {
		return false, fmt.Errorf("failed to claim job %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return affected == 1, nil
}

// CompleteJob marks the job done, saves the execution and enqueues the successor.
func (r *JobRepository) CompleteJob(ctx context.Context, job *models.Job, execution *models.Execution, next *models.Job) error {
	return inTransaction(ctx, r.db, func(tx *sql.Tx) error {
		err := finishJob(ctx, tx, job, models.JobStatusDone)
		if err != nil {
			return err
		}

		if execution != nil {
			err = saveExecution(ctx, tx, execution)
			if err != nil {
				return err
			}
		}

		if next != nil {
			return insertJob(ctx, tx, next)
		}

		return nil
	})
}

// FailJob marks the job failed and saves the execution, if any.
func (r *JobRepository) FailJob(ctx context.Context, job *models.Job, execution *models.Execution) error {
	return inTransaction(ctx, r.db, func(tx *sql.Tx) error {
		err := finishJob(ctx, tx, job, models.JobStatusFailed)
		if err != nil {
			return err
		}

		if execution != nil {
			return saveExecution(ctx, tx, execution)
		}

		return nil
	})
}

// EnqueueJob saves the execution and inserts the job.
func (r *JobRepository) EnqueueJob(ctx context.Context, execution *models.Execution, job *models.Job) error {
	return inTransaction(ctx, r.db, func(tx *sql.Tx) error {
		err := saveExecution(ctx, tx, execution)
		if err != nil {
			return err
		}

		return insertJob(ctx, tx, job)
	})
}

// RequeueStaleJobs releases claims older than the cutoff back to the queue.
func (r *JobRepository) RequeueStaleJobs(ctx context.Context, claimedBefore time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = $1, claimed_at = NULL, updated_at = NOW()
		WHERE status = $2 AND claimed_at < $3`,
		models.JobStatusQueued, models.JobStatusProcessing, claimedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale jobs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return int(affected), nil
}

// JobsByExecution returns the jobs of an execution in creation order.
func (r *JobRepository) JobsByExecution(ctx context.Context, executionID string) ([]*models.Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE execution_id = $1 ORDER BY created_at, run_at`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	return scanJobs(rows)
}

func finishJob(ctx context.Context, q execer, job *models.Job, status models.JobStatus) error {
	result, err := q.ExecContext(ctx,
		`UPDATE jobs SET status = $2, error = $3, updated_at = $4 WHERE id = $1 AND status = 'processing'`,
		job.ID, status, job.Error, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewEntityError("finishJob", "job", job.ID, persistence.ErrJobNotClaimed)
	}

	job.Status = status

	return nil
}

func insertJob(ctx context.Context, q execer, job *models.Job) error {
	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID,
		job.ExecutionID,
		job.RunAt,
		job.Status,
		payloadJSON,
		job.Error,
		job.ClaimedAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	return nil
}

func scanJobs(rows *sql.Rows) ([]*models.Job, error) {
	jobs := []*models.Job{}

	for rows.Next() {
		var (
			job         models.Job
			payloadJSON []byte
			claimedAt   sql.NullTime
		)

		err := rows.Scan(
			&job.ID,
			&job.ExecutionID,
			&job.RunAt,
			&job.Status,
			&payloadJSON,
			&job.Error,
			&claimedAt,
			&job.CreatedAt,
			&job.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload of job %s: %w", job.ID, err)
		}

		job.ClaimedAt = timePtr(claimedAt)
		jobs = append(jobs, &job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}

	return jobs, nil
}
