package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"mediaforge/api/internal/config"
	"mediaforge/api/internal/ids"
	"mediaforge/api/internal/jobs"
	"mediaforge/api/internal/models"
	"mediaforge/api/internal/provider"
	"mediaforge/api/internal/quota"
)

// SubmitQueue hands a queued job to the background submit consumer.
type SubmitQueue interface {
	EnqueueSubmit(ctx context.Context, jobID string) error
}

// GenerationService sequences the generation flow: attribution in hand, it
// reserves quota, then either creates an async job (video) or calls the
// provider inline and persists the result (image, text). Any failure after a
// granted reservation refunds it.
type GenerationService struct {
	ledger   quota.Ledger
	jobs     *jobs.Service
	enqueuer SubmitQueue
	provider provider.Client
	media    *MediaService
	cfg      config.ProviderConfig
	log      zerolog.Logger
}

func NewGenerationService(ledger quota.Ledger, jobSvc *jobs.Service, enqueuer SubmitQueue, prov provider.Client, media *MediaService, cfg config.ProviderConfig, log zerolog.Logger) *GenerationService {
	return &GenerationService{
		ledger:   ledger,
		jobs:     jobSvc,
		enqueuer: enqueuer,
		provider: prov,
		media:    media,
		cfg:      cfg,
		log:      log,
	}
}

type VideoInput struct {
	User            models.User
	SourceAddress   string
	Prompt          string
	Model           string
	Mode            string
	NegativePrompt  string
	FirstFrame      string
	LastFrame       string
	ReferenceImages []string
}

// StartVideo reserves quota, persists the job in queued state, and hands it
// to the submit consumer. The returned job is still queued; clients track it
// via the job status endpoint.
func (s *GenerationService) StartVideo(ctx context.Context, in VideoInput) (models.Job, error) {
	if in.Prompt == "" {
		return models.Job{}, fmt.Errorf("prompt is required")
	}

	if err := s.ledger.TryReserve(ctx, in.User.ID, models.ResourceVideo); err != nil {
		return models.Job{}, err
	}

	model := in.Model
	if model == "" {
		model = s.cfg.VideoModel
	}
	mode := in.Mode
	if mode == "" {
		mode = "text"
	}

	details := map[string]any{"mode": mode}
	if in.NegativePrompt != "" {
		details["negativePrompt"] = in.NegativePrompt
	}
	if in.FirstFrame != "" {
		details["firstFrame"] = in.FirstFrame
	}
	if in.LastFrame != "" {
		details["lastFrame"] = in.LastFrame
	}
	if len(in.ReferenceImages) > 0 {
		details["referenceImages"] = in.ReferenceImages
	}

	job, err := s.jobs.Create(ctx, jobs.CreateInput{
		ID:            ids.New(),
		OwnerUserID:   in.User.ID,
		SourceAddress: in.SourceAddress,
		ResourceType:  models.ResourceVideo,
		Prompt:        in.Prompt,
		Model:         model,
		Mode:          mode,
		Details:       details,
	})
	if err != nil {
		if relErr := s.ledger.Release(ctx, in.User.ID, models.ResourceVideo); relErr != nil {
			s.log.Error().Err(relErr).Str("user_id", in.User.ID).Msg("quota release failed")
		}
		return models.Job{}, err
	}

	if err := s.enqueuer.EnqueueSubmit(ctx, job.ID); err != nil {
		// The queue is unavailable; submit inline rather than leaving the
		// job to the timeout sweep.
		s.log.Warn().Err(err).Str("job_id", job.ID).Msg("enqueue failed, submitting inline")
		if err := s.jobs.Submit(ctx, job.ID); err != nil {
			return models.Job{}, err
		}
	}

	return job, nil
}

type ImageInput struct {
	User          models.User
	SourceAddress string
	Prompt        string
	Model         string
}

// GenerateImage is the synchronous path: the provider answers within the
// request, so the media record is written immediately.
func (s *GenerationService) GenerateImage(ctx context.Context, in ImageInput) (models.Media, error) {
	if in.Prompt == "" {
		return models.Media{}, fmt.Errorf("prompt is required")
	}

	if err := s.ledger.TryReserve(ctx, in.User.ID, models.ResourceImage); err != nil {
		return models.Media{}, err
	}

	model := in.Model
	if model == "" {
		model = s.cfg.ImageModel
	}

	artifact, err := s.provider.GenerateSync(ctx, provider.Request{
		ResourceType: models.ResourceImage,
		Model:        model,
		Prompt:       in.Prompt,
	})
	if err != nil {
		s.refund(ctx, in.User.ID, models.ResourceImage)
		var rejected *provider.RejectedError
		if errors.As(err, &rejected) {
			return models.Media{}, rejected
		}
		return models.Media{}, fmt.Errorf("generate image: %w", err)
	}

	media, err := s.media.Create(ctx, jobs.GeneratedMedia{
		OwnerUserID:   in.User.ID,
		SourceAddress: in.SourceAddress,
		MediaType:     models.ResourceImage,
		MimeType:      artifact.MimeType,
		Payload:       artifact.Payload,
		Prompt:        in.Prompt,
		Model:         model,
	})
	if err != nil {
		s.refund(ctx, in.User.ID, models.ResourceImage)
		return models.Media{}, err
	}
	return media, nil
}

type TextInput struct {
	User          models.User
	SourceAddress string
	Prompt        string
	Model         string
}

// GenerateText is synchronous like images: the transcript is stored as a
// text/plain media record and also returned to the caller directly.
func (s *GenerationService) GenerateText(ctx context.Context, in TextInput) (models.Media, string, error) {
	if in.Prompt == "" {
		return models.Media{}, "", fmt.Errorf("prompt is required")
	}

	if err := s.ledger.TryReserve(ctx, in.User.ID, models.ResourceText); err != nil {
		return models.Media{}, "", err
	}

	model := in.Model
	if model == "" {
		model = s.cfg.TextModel
	}

	artifact, err := s.provider.GenerateText(ctx, provider.Request{
		ResourceType: models.ResourceText,
		Model:        model,
		Prompt:       in.Prompt,
	})
	if err != nil {
		s.refund(ctx, in.User.ID, models.ResourceText)
		var rejected *provider.RejectedError
		if errors.As(err, &rejected) {
			return models.Media{}, "", rejected
		}
		return models.Media{}, "", fmt.Errorf("generate text: %w", err)
	}

	media, err := s.media.Create(ctx, jobs.GeneratedMedia{
		OwnerUserID:   in.User.ID,
		SourceAddress: in.SourceAddress,
		MediaType:     models.ResourceText,
		MimeType:      artifact.MimeType,
		Payload:       artifact.Payload,
		Prompt:        in.Prompt,
		Model:         model,
	})
	if err != nil {
		s.refund(ctx, in.User.ID, models.ResourceText)
		return models.Media{}, "", err
	}
	return media, string(artifact.Payload), nil
}

func (s *GenerationService) refund(ctx context.Context, userID string, resource models.ResourceType) {
	if err := s.ledger.Release(ctx, userID, resource); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("quota release failed")
	}
}
