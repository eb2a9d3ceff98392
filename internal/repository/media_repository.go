package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediaforge/api/internal/models"
)

var ErrMediaNotFound = errors.New("media not found")

type MediaRepository struct {
	pool *pgxpool.Pool
}

func NewMediaRepository(pool *pgxpool.Pool) *MediaRepository {
	return &MediaRepository{pool: pool}
}

const mediaColumns = `
	id, owner_user_id, source_address, media_type, mime_type, size_bytes,
	prompt, model, details, bucket, object_key, thumbnail_key, signature, created_at
`

func (r *MediaRepository) Create(ctx context.Context, media models.Media) error {
	const query = `
		INSERT INTO media_records (
			id, owner_user_id, source_address, media_type, mime_type, size_bytes,
			prompt, model, details, bucket, object_key, thumbnail_key, signature, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	_, err := r.pool.Exec(ctx, query,
		media.ID,
		media.OwnerUserID,
		media.SourceAddress,
		media.MediaType,
		media.MimeType,
		media.SizeBytes,
		media.Prompt,
		media.Model,
		media.Details,
		media.Bucket,
		media.ObjectKey,
		media.ThumbnailKey,
		media.Signature,
		media.CreatedAt,
	)
	return err
}

func (r *MediaRepository) GetByID(ctx context.Context, id string) (models.Media, error) {
	const query = `SELECT ` + mediaColumns + ` FROM media_records WHERE id = $1`

	media, err := scanMedia(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Media{}, ErrMediaNotFound
	}
	return media, err
}

func (r *MediaRepository) ListByOwners(ctx context.Context, ownerIDs []string, mediaType *models.ResourceType, limit, offset int) ([]models.Media, error) {
	const query = `
		SELECT ` + mediaColumns + `
		FROM media_records
		WHERE owner_user_id = ANY($1)
		  AND ($2::text IS NULL OR media_type = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.pool.Query(ctx, query, ownerIDs, mediaType, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectMedia(rows)
}

func (r *MediaRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM media_records WHERE id = $1`
	cmd, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrMediaNotFound
	}
	return nil
}

type MediaStats struct {
	TotalFiles int64
	TotalBytes int64
	Images     int64
	Videos     int64
	Texts      int64
}

func (r *MediaRepository) Stats(ctx context.Context) (MediaStats, error) {
	const query = `
		SELECT COUNT(*),
		       COALESCE(SUM(size_bytes), 0),
		       COUNT(*) FILTER (WHERE media_type = 'image'),
		       COUNT(*) FILTER (WHERE media_type = 'video'),
		       COUNT(*) FILTER (WHERE media_type = 'text')
		FROM media_records
	`

	var stats MediaStats
	err := r.pool.QueryRow(ctx, query).Scan(
		&stats.TotalFiles,
		&stats.TotalBytes,
		&stats.Images,
		&stats.Videos,
		&stats.Texts,
	)
	return stats, err
}

func scanMedia(row pgx.Row) (models.Media, error) {
	var media models.Media
	err := row.Scan(
		&media.ID,
		&media.OwnerUserID,
		&media.SourceAddress,
		&media.MediaType,
		&media.MimeType,
		&media.SizeBytes,
		&media.Prompt,
		&media.Model,
		&media.Details,
		&media.Bucket,
		&media.ObjectKey,
		&media.ThumbnailKey,
		&media.Signature,
		&media.CreatedAt,
	)
	return media, err
}

func collectMedia(rows pgx.Rows) ([]models.Media, error) {
	var out []models.Media
	for rows.Next() {
		media, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, media)
	}
	return out, rows.Err()
}
