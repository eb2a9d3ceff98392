package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediaforge/api/internal/models"
	"mediaforge/api/internal/quota"
)

// QuotaRepository is the Postgres quota ledger. The check-and-increment of
// TryReserve is a single conditional UPDATE, so concurrent reservations for
// the same (user, resource) row serialize on the row lock and can never
// over-spend the limit.
type QuotaRepository struct {
	pool     *pgxpool.Pool
	defaults quota.Defaults
}

var _ quota.Ledger = (*QuotaRepository)(nil)

func NewQuotaRepository(pool *pgxpool.Pool, defaults quota.Defaults) *QuotaRepository {
	return &QuotaRepository{pool: pool, defaults: defaults}
}

// materialize inserts the default-policy row for the key if none exists.
func (r *QuotaRepository) materialize(ctx context.Context, userID string, resource models.ResourceType) error {
	def, ok := r.defaults[resource]
	if !ok {
		def = quota.Default{Policy: models.QuotaPolicyLimited, Limit: 0}
	}

	var limit *int64
	if def.Policy == models.QuotaPolicyLimited {
		v := def.Limit
		limit = &v
	}

	const query = `
		INSERT INTO user_quotas (user_id, resource_type, policy, quota_limit)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, resource_type) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query, userID, resource, def.Policy, limit)
	return err
}

func (r *QuotaRepository) TryReserve(ctx context.Context, userID string, resource models.ResourceType) error {
	if err := r.materialize(ctx, userID, resource); err != nil {
		return fmt.Errorf("materialize quota: %w", err)
	}

	const reserve = `
		UPDATE user_quotas
		SET quota_used = CASE WHEN policy = 'limited' THEN quota_used + 1 ELSE quota_used END,
		    updated_at = NOW()
		WHERE user_id = $1 AND resource_type = $2
		  AND (policy = 'unlimited' OR quota_used < quota_limit)
		RETURNING policy
	`

	var policy models.QuotaPolicy
	err := r.pool.QueryRow(ctx, reserve, userID, resource).Scan(&policy)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("reserve quota: %w", err)
	}

	// Denied: read back the numbers for the caller's message.
	q, getErr := r.Get(ctx, userID, resource)
	if getErr != nil {
		return fmt.Errorf("read denied quota: %w", getErr)
	}
	limit := int64(0)
	if q.Limit != nil {
		limit = *q.Limit
	}
	return &quota.DeniedError{ResourceType: resource, Used: q.Used, Limit: limit}
}

func (r *QuotaRepository) Release(ctx context.Context, userID string, resource models.ResourceType) error {
	const query = `
		UPDATE user_quotas
		SET quota_used = GREATEST(quota_used - 1, 0), updated_at = NOW()
		WHERE user_id = $1 AND resource_type = $2 AND policy = 'limited'
	`
	if _, err := r.pool.Exec(ctx, query, userID, resource); err != nil {
		return fmt.Errorf("release quota: %w", err)
	}
	return nil
}

func (r *QuotaRepository) Reset(ctx context.Context, userID string, resource models.ResourceType) error {
	const query = `
		UPDATE user_quotas
		SET quota_used = 0, updated_at = NOW()
		WHERE user_id = $1 AND resource_type = $2
	`
	cmd, err := r.pool.Exec(ctx, query, userID, resource)
	if err != nil {
		return fmt.Errorf("reset quota: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return quota.ErrQuotaNotFound
	}
	return nil
}

func (r *QuotaRepository) SetPolicy(ctx context.Context, userID string, resource models.ResourceType, policy models.QuotaPolicy, limit *int64) (models.Quota, error) {
	if policy == models.QuotaPolicyLimited && (limit == nil || *limit < 0) {
		return models.Quota{}, quota.ErrInvalidLimit
	}
	if policy == models.QuotaPolicyUnlimited {
		limit = nil
	}

	const query = `
		INSERT INTO user_quotas (user_id, resource_type, policy, quota_limit)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, resource_type)
		DO UPDATE SET policy = EXCLUDED.policy, quota_limit = EXCLUDED.quota_limit, updated_at = NOW()
		RETURNING user_id, resource_type, policy, quota_limit, quota_used, created_at, updated_at
	`

	row := r.pool.QueryRow(ctx, query, userID, resource, policy, limit)
	return scanQuota(row)
}

func (r *QuotaRepository) Get(ctx context.Context, userID string, resource models.ResourceType) (models.Quota, error) {
	if err := r.materialize(ctx, userID, resource); err != nil {
		return models.Quota{}, fmt.Errorf("materialize quota: %w", err)
	}

	const query = `
		SELECT user_id, resource_type, policy, quota_limit, quota_used, created_at, updated_at
		FROM user_quotas
		WHERE user_id = $1 AND resource_type = $2
	`

	q, err := scanQuota(r.pool.QueryRow(ctx, query, userID, resource))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Quota{}, quota.ErrQuotaNotFound
	}
	return q, err
}

func (r *QuotaRepository) GetAll(ctx context.Context, userID string) ([]models.Quota, error) {
	const query = `
		SELECT user_id, resource_type, policy, quota_limit, quota_used, created_at, updated_at
		FROM user_quotas
		WHERE user_id = $1
		ORDER BY resource_type
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotas []models.Quota
	for rows.Next() {
		q, err := scanQuota(rows)
		if err != nil {
			return nil, err
		}
		quotas = append(quotas, q)
	}
	return quotas, rows.Err()
}

func (r *QuotaRepository) Provision(ctx context.Context, userID string) error {
	for resource := range r.defaults {
		if err := r.materialize(ctx, userID, resource); err != nil {
			return err
		}
	}
	return nil
}

func scanQuota(row pgx.Row) (models.Quota, error) {
	var q models.Quota
	err := row.Scan(
		&q.UserID,
		&q.ResourceType,
		&q.Policy,
		&q.Limit,
		&q.Used,
		&q.CreatedAt,
		&q.UpdatedAt,
	)
	return q, err
}
