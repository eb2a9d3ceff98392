package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediaforge/api/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) Create(ctx context.Context, user models.User) error {
	const query = `
		INSERT INTO users (id, email, password_hash, display_name, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`

	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.DisplayName,
		user.Role,
		user.Status,
	)
	return err
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	const query = `
		SELECT id, email, password_hash, display_name, role, status, created_at, updated_at
		FROM users WHERE email = $1
	`
	return r.scanOne(r.pool.QueryRow(ctx, query, email))
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (models.User, error) {
	const query = `
		SELECT id, email, password_hash, display_name, role, status, created_at, updated_at
		FROM users WHERE id = $1
	`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

// AssignManaged records that admin manages target. Idempotent.
func (r *UserRepository) AssignManaged(ctx context.Context, adminID, targetUserID string) error {
	const query = `
		INSERT INTO managed_users (admin_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query, adminID, targetUserID)
	return err
}

// CanManage reports whether adminID is allowed to act on targetUserID:
// superadmins manage everyone, admins manage their assigned users.
func (r *UserRepository) CanManage(ctx context.Context, adminID, targetUserID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM users WHERE id = $1 AND role = 'superadmin'
		) OR EXISTS (
			SELECT 1 FROM managed_users WHERE admin_id = $1 AND user_id = $2
		)
	`

	var allowed bool
	if err := r.pool.QueryRow(ctx, query, adminID, targetUserID).Scan(&allowed); err != nil {
		return false, err
	}
	return allowed, nil
}

// ListManagedIDs returns the ids of users the admin manages. Superadmins
// get every user id.
func (r *UserRepository) ListManagedIDs(ctx context.Context, adminID string) ([]string, error) {
	const query = `
		SELECT u.id FROM users u
		WHERE EXISTS (SELECT 1 FROM users a WHERE a.id = $1 AND a.role = 'superadmin')
		   OR EXISTS (SELECT 1 FROM managed_users m WHERE m.admin_id = $1 AND m.user_id = u.id)
	`

	rows, err := r.pool.Query(ctx, query, adminID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *UserRepository) UpdateStatus(ctx context.Context, id string, status models.UserStatus) error {
	const query = `UPDATE users SET status = $2, updated_at = NOW() WHERE id = $1`
	cmd, err := r.pool.Exec(ctx, query, id, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) scanOne(row pgx.Row) (models.User, error) {
	var user models.User
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.DisplayName,
		&user.Role,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}
