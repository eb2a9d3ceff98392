package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediaforge/api/internal/jobs"
	"mediaforge/api/internal/models"
)

// JobRepository is the durable job store. State transitions are conditional
// updates guarded by the current state, so a terminal job can never be
// re-entered no matter who races.
type JobRepository struct {
	pool *pgxpool.Pool
}

var _ jobs.Store = (*JobRepository)(nil)

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

const jobColumns = `
	id, owner_user_id, source_address, resource_type, prompt, model, mode,
	details, state, external_operation, result_media_id, failure_category,
	error_reason, created_at, updated_at, completed_at
`

func (r *JobRepository) Create(ctx context.Context, job models.Job) error {
	const query = `
		INSERT INTO generation_jobs (
			id, owner_user_id, source_address, resource_type, prompt, model, mode,
			details, state, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.OwnerUserID,
		job.SourceAddress,
		job.ResourceType,
		job.Prompt,
		job.Model,
		job.Mode,
		job.Details,
		job.State,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

func (r *JobRepository) Get(ctx context.Context, id string) (models.Job, error) {
	const query = `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = $1`

	job, err := scanJob(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, jobs.ErrJobNotFound
	}
	return job, err
}

func (r *JobRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.Job, error) {
	const query = `
		SELECT ` + jobColumns + `
		FROM generation_jobs
		WHERE owner_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectJobs(rows)
}

func (r *JobRepository) ListActive(ctx context.Context) ([]models.Job, error) {
	const query = `
		SELECT ` + jobColumns + `
		FROM generation_jobs
		WHERE state IN ('queued', 'submitted', 'polling')
		ORDER BY created_at
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectJobs(rows)
}

func (r *JobRepository) MarkSubmitted(ctx context.Context, id string, handle string) (bool, error) {
	const query = `
		UPDATE generation_jobs
		SET state = 'submitted', external_operation = $2, updated_at = NOW()
		WHERE id = $1 AND state = 'queued'
	`
	cmd, err := r.pool.Exec(ctx, query, id, handle)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *JobRepository) MarkPolling(ctx context.Context, id string) (bool, error) {
	const query = `
		UPDATE generation_jobs
		SET state = 'polling', updated_at = NOW()
		WHERE id = $1 AND state = 'submitted'
	`
	cmd, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *JobRepository) MarkCompleted(ctx context.Context, id string, mediaID string) (bool, error) {
	const query = `
		UPDATE generation_jobs
		SET state = 'completed', result_media_id = $2, updated_at = NOW(), completed_at = NOW()
		WHERE id = $1 AND state IN ('submitted', 'polling')
	`
	cmd, err := r.pool.Exec(ctx, query, id, mediaID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *JobRepository) MarkFailed(ctx context.Context, id string, category, reason string) (bool, error) {
	const query = `
		UPDATE generation_jobs
		SET state = 'failed', failure_category = $2, error_reason = $3,
		    updated_at = NOW(), completed_at = NOW()
		WHERE id = $1 AND state NOT IN ('completed', 'failed')
	`
	cmd, err := r.pool.Exec(ctx, query, id, category, reason)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *JobRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
		DELETE FROM generation_jobs
		WHERE state IN ('completed', 'failed') AND created_at < $1
	`
	cmd, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	err := row.Scan(
		&job.ID,
		&job.OwnerUserID,
		&job.SourceAddress,
		&job.ResourceType,
		&job.Prompt,
		&job.Model,
		&job.Mode,
		&job.Details,
		&job.State,
		&job.ExternalOperation,
		&job.ResultMediaID,
		&job.FailureCategory,
		&job.ErrorReason,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	)
	return job, err
}

func collectJobs(rows pgx.Rows) ([]models.Job, error) {
	var out []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}
