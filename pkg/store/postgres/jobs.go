package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/oose/oose-sdk-go/pkg/api"
	"github.com/oose/oose-sdk-go/pkg/shredder"
)

// JobRepository is the Postgres-backed shredder.Store.
type JobRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ shredder.Store = (*JobRepository)(nil)

// NewJobRepository creates a new JobRepository.
func NewJobRepository(pool *pgxpool.Pool, logger *zap.Logger) *JobRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobRepository{pool: pool, logger: logger}
}

func jobNotFound(handle string) error {
	return api.NotFoundError("Job not found: "+handle, shredder.ErrJobNotFound)
}

// Create inserts a new jobs row.
func (r *JobRepository) Create(ctx context.Context, job *shredder.Job) error {
	const q = `
		INSERT INTO jobs (handle, description, priority, category, status, status_description,
		                  step_total, step_complete, frame_description, frame_total, frame_complete, worker)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, q, jobArgs(job)...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", shredder.ErrJobExists, job.Handle)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get fetches a job by handle.
func (r *JobRepository) Get(ctx context.Context, handle string) (*shredder.Job, error) {
	const q = `
		SELECT handle, description, priority, category, status, status_description,
		       step_total, step_complete, frame_description, frame_total, frame_complete, worker
		FROM jobs
		WHERE handle = $1`

	job := &shredder.Job{}
	var (
		desc   []byte
		status string
		worker *string
	)
	err := r.pool.QueryRow(ctx, q, handle).Scan(
		&job.Handle,
		&desc,
		&job.Priority,
		&job.Category,
		&status,
		&job.StatusDescription,
		&job.StepTotal,
		&job.StepComplete,
		&job.FrameDescription,
		&job.FrameTotal,
		&job.FrameComplete,
		&worker,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, jobNotFound(handle)
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.Description = desc
	job.Status = shredder.Status(status)
	if worker != nil {
		job.Worker = *worker
	}
	return job, nil
}

// Update replaces every column of an existing job.
func (r *JobRepository) Update(ctx context.Context, job *shredder.Job) error {
	const q = `
		UPDATE jobs
		SET description = $2, priority = $3, category = $4, status = $5, status_description = $6,
		    step_total = $7, step_complete = $8, frame_description = $9, frame_total = $10,
		    frame_complete = $11, worker = $12, updated_at = now()
		WHERE handle = $1`

	tag, err := r.pool.Exec(ctx, q, jobArgs(job)...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobNotFound(job.Handle)
	}
	return nil
}

// Delete removes a job row.
func (r *JobRepository) Delete(ctx context.Context, handle string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM jobs WHERE handle = $1`, handle)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobNotFound(handle)
	}
	r.logger.Debug("job row deleted", zap.String("handle", handle))
	return nil
}

// ListByStatus returns the handles of jobs in status, oldest first.
func (r *JobRepository) ListByStatus(ctx context.Context, status shredder.Status, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT handle FROM jobs WHERE status = $1 ORDER BY created_at LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func jobArgs(job *shredder.Job) []any {
	desc := []byte(job.Description)
	if len(desc) == 0 {
		desc = []byte(`{}`)
	}
	var worker *string
	if job.Worker != "" {
		worker = &job.Worker
	}
	return []any{
		job.Handle,
		desc,
		job.Priority,
		job.Category,
		string(job.Status),
		job.StatusDescription,
		job.StepTotal,
		job.StepComplete,
		job.FrameDescription,
		job.FrameTotal,
		job.FrameComplete,
		worker,
	}
}
