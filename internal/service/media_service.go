package service

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/rs/zerolog"

	"mediaforge/api/internal/ids"
	"mediaforge/api/internal/jobs"
	"mediaforge/api/internal/models"
	"mediaforge/api/internal/repository"
	"mediaforge/api/internal/security"
)

// ErrMediaNotFound covers both a missing record and one the requester may
// not see, so existence never leaks to unauthorized callers.
var ErrMediaNotFound = repository.ErrMediaNotFound

// MediaRecords is the metadata row store (Postgres in production).
type MediaRecords interface {
	Create(ctx context.Context, media models.Media) error
	GetByID(ctx context.Context, id string) (models.Media, error)
	ListByOwners(ctx context.Context, ownerIDs []string, mediaType *models.ResourceType, limit, offset int) ([]models.Media, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (repository.MediaStats, error)
}

// MediaObjects is the byte-payload store (minio in production).
type MediaObjects interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) (int64, error)
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Delete(ctx context.Context, bucket, key string) error
	MediaBucket() string
	ThumbBucket() string
}

// ManagedUsers resolves admin scoping for Get/List/Delete.
type ManagedUsers interface {
	CanManage(ctx context.Context, adminID, targetUserID string) (bool, error)
	ListManagedIDs(ctx context.Context, adminID string) ([]string, error)
}

type MediaService struct {
	records         MediaRecords
	objects         MediaObjects
	managed         ManagedUsers
	signatureSecret string
	log             zerolog.Logger
}

var _ jobs.MediaSaver = (*MediaService)(nil)

func NewMediaService(records MediaRecords, objects MediaObjects, managed ManagedUsers, signatureSecret string, log zerolog.Logger) *MediaService {
	return &MediaService{
		records:         records,
		objects:         objects,
		managed:         managed,
		signatureSecret: signatureSecret,
		log:             log,
	}
}

// SaveGenerated persists a finished generation: bytes to the object store,
// then the metadata row. Both attribution fields are mandatory — a record
// without an owner or source address is a contract violation.
func (s *MediaService) SaveGenerated(ctx context.Context, in jobs.GeneratedMedia) (string, error) {
	media, err := s.create(ctx, in)
	if err != nil {
		return "", err
	}
	return media.ID, nil
}

// Create is the synchronous path used for instantaneous resources.
func (s *MediaService) Create(ctx context.Context, in jobs.GeneratedMedia) (models.Media, error) {
	return s.create(ctx, in)
}

func (s *MediaService) create(ctx context.Context, in jobs.GeneratedMedia) (models.Media, error) {
	if in.OwnerUserID == "" {
		return models.Media{}, fmt.Errorf("media record requires an owner")
	}
	if in.SourceAddress == "" {
		return models.Media{}, fmt.Errorf("media record requires a source address")
	}
	if len(in.Payload) == 0 {
		return models.Media{}, fmt.Errorf("media record requires a payload")
	}

	mediaID := ids.New()
	objectKey := buildObjectKey(mediaID, in.MimeType)
	bucket := s.objects.MediaBucket()

	size, err := s.objects.Put(ctx, bucket, objectKey, in.Payload, in.MimeType)
	if err != nil {
		return models.Media{}, fmt.Errorf("store payload: %w", err)
	}

	media := models.Media{
		ID:            mediaID,
		OwnerUserID:   in.OwnerUserID,
		SourceAddress: in.SourceAddress,
		MediaType:     in.MediaType,
		MimeType:      in.MimeType,
		SizeBytes:     size,
		Prompt:        in.Prompt,
		Model:         in.Model,
		Details:       in.Details,
		Bucket:        bucket,
		ObjectKey:     objectKey,
		Signature:     security.SignResource(s.signatureSecret, mediaID, objectKey),
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.records.Create(ctx, media); err != nil {
		// Remove the payload so a failed insert leaves no orphan object.
		if delErr := s.objects.Delete(ctx, bucket, objectKey); delErr != nil {
			s.log.Error().Err(delErr).Str("object_key", objectKey).Msg("orphan payload cleanup failed")
		}
		return models.Media{}, fmt.Errorf("save media record: %w", err)
	}

	s.log.Info().
		Str("media_id", mediaID).
		Str("owner", in.OwnerUserID).
		Str("type", string(in.MediaType)).
		Int64("size_bytes", size).
		Msg("media saved")
	return media, nil
}

// GetInfo returns the record alone, never touching the object store. The
// same visibility rule as Get applies.
func (s *MediaService) GetInfo(ctx context.Context, mediaID string, requester models.User) (models.Media, error) {
	return s.authorize(ctx, mediaID, requester)
}

// Get returns the record and payload if the requester owns it or manages
// its owner. Everyone else gets ErrMediaNotFound regardless of existence.
func (s *MediaService) Get(ctx context.Context, mediaID string, requester models.User) (models.Media, []byte, error) {
	media, err := s.authorize(ctx, mediaID, requester)
	if err != nil {
		return models.Media{}, nil, err
	}

	// Serve bytes only for records whose identity still matches the stored
	// signature.
	if !security.VerifyResource(s.signatureSecret, media.Signature, media.ID, media.ObjectKey) {
		return models.Media{}, nil, fmt.Errorf("media %s failed signature check", mediaID)
	}

	payload, err := s.objects.Get(ctx, media.Bucket, media.ObjectKey)
	if err != nil {
		return models.Media{}, nil, fmt.Errorf("load payload: %w", err)
	}
	return media, payload, nil
}

func (s *MediaService) List(ctx context.Context, requester models.User, mediaType *models.ResourceType, limit, offset int) ([]models.Media, error) {
	owners := []string{requester.ID}
	if requester.IsAdmin() {
		managed, err := s.managed.ListManagedIDs(ctx, requester.ID)
		if err != nil {
			return nil, err
		}
		owners = append(owners, managed...)
	}

	return s.records.ListByOwners(ctx, owners, mediaType, limit, offset)
}

// Delete removes the payload, any thumbnail, and the metadata row as one
// logical operation.
func (s *MediaService) Delete(ctx context.Context, mediaID string, requester models.User) error {
	media, err := s.authorize(ctx, mediaID, requester)
	if err != nil {
		return err
	}

	if err := s.objects.Delete(ctx, media.Bucket, media.ObjectKey); err != nil {
		return fmt.Errorf("delete payload: %w", err)
	}
	if media.ThumbnailKey != nil {
		if err := s.objects.Delete(ctx, s.objects.ThumbBucket(), *media.ThumbnailKey); err != nil {
			return fmt.Errorf("delete thumbnail: %w", err)
		}
	}
	if err := s.records.Delete(ctx, mediaID); err != nil {
		return err
	}

	s.log.Info().
		Str("media_id", mediaID).
		Str("requested_by", requester.ID).
		Msg("media deleted")
	return nil
}

func (s *MediaService) Stats(ctx context.Context) (repository.MediaStats, error) {
	return s.records.Stats(ctx)
}

func (s *MediaService) authorize(ctx context.Context, mediaID string, requester models.User) (models.Media, error) {
	media, err := s.records.GetByID(ctx, mediaID)
	if err != nil {
		return models.Media{}, err
	}

	if media.OwnerUserID == requester.ID {
		return media, nil
	}
	if requester.IsAdmin() {
		ok, err := s.managed.CanManage(ctx, requester.ID, media.OwnerUserID)
		if err != nil {
			return models.Media{}, err
		}
		if ok {
			return media, nil
		}
	}
	return models.Media{}, ErrMediaNotFound
}

func buildObjectKey(mediaID, mimeType string) string {
	datePrefix := time.Now().UTC().Format("2006/01/02")
	return path.Join(datePrefix, fmt.Sprintf("%s.%s", mediaID, extensionFor(mimeType)))
}

var mimeExtensions = map[string]string{
	"video/mp4":  "mp4",
	"video/webm": "webm",
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
	"image/gif":  "gif",
	"text/plain": "txt",
}

func extensionFor(mimeType string) string {
	if ext, ok := mimeExtensions[mimeType]; ok {
		return ext
	}
	return "bin"
}
