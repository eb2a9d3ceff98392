// Package jobs owns the long-running generation job lifecycle:
// queued -> submitted -> polling -> {completed | failed}. Completed and
// failed are absorbing; the store refuses transitions out of them and the
// service logs the attempt instead of surfacing an error.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mediaforge/api/internal/models"
	"mediaforge/api/internal/provider"
	"mediaforge/api/internal/quota"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrForbidden   = errors.New("forbidden")
)

// Store is the durable job registry. The Mark* methods are conditional
// writes: they return false without mutating anything when the job is not in
// a state the transition is legal from.
type Store interface {
	Create(ctx context.Context, job models.Job) error
	Get(ctx context.Context, id string) (models.Job, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.Job, error)
	ListActive(ctx context.Context) ([]models.Job, error)
	MarkSubmitted(ctx context.Context, id string, handle string) (bool, error)
	MarkPolling(ctx context.Context, id string) (bool, error)
	MarkCompleted(ctx context.Context, id string, mediaID string) (bool, error)
	MarkFailed(ctx context.Context, id string, category, reason string) (bool, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// GeneratedMedia is what a finished job hands to the media store.
type GeneratedMedia struct {
	OwnerUserID   string
	SourceAddress string
	MediaType     models.ResourceType
	MimeType      string
	Payload       []byte
	Prompt        string
	Model         string
	Details       map[string]any
}

type MediaSaver interface {
	SaveGenerated(ctx context.Context, media GeneratedMedia) (string, error)
}

// Authorizer answers whether an admin manages a given user. Backed by the
// user relationship store.
type Authorizer interface {
	CanManage(ctx context.Context, adminID, targetUserID string) (bool, error)
}

type Service struct {
	store    Store
	ledger   quota.Ledger
	provider provider.Client
	media    MediaSaver
	authz    Authorizer
	log      zerolog.Logger

	timeoutCeiling time.Duration
	retention      time.Duration

	// completing holds IDs of jobs whose finished result is being persisted,
	// so overlapping sweeps cannot save the same payload twice.
	completing sync.Map
}

func NewService(store Store, ledger quota.Ledger, prov provider.Client, media MediaSaver, authz Authorizer, timeoutCeiling, retention time.Duration, log zerolog.Logger) *Service {
	return &Service{
		store:          store,
		ledger:         ledger,
		provider:       prov,
		media:          media,
		authz:          authz,
		log:            log,
		timeoutCeiling: timeoutCeiling,
		retention:      retention,
	}
}

type CreateInput struct {
	ID            string
	OwnerUserID   string
	SourceAddress string
	ResourceType  models.ResourceType
	Prompt        string
	Model         string
	Mode          string
	Details       map[string]any
}

// Create persists the job in queued state before any external call is made.
// The caller has already reserved quota; a crash after this point leaves an
// inspectable record instead of a silently lost reservation.
func (s *Service) Create(ctx context.Context, in CreateInput) (models.Job, error) {
	if in.OwnerUserID == "" || in.SourceAddress == "" {
		return models.Job{}, fmt.Errorf("job requires owner and source address")
	}

	now := time.Now().UTC()
	job := models.Job{
		ID:            in.ID,
		OwnerUserID:   in.OwnerUserID,
		SourceAddress: in.SourceAddress,
		ResourceType:  in.ResourceType,
		Prompt:        in.Prompt,
		Model:         in.Model,
		Mode:          in.Mode,
		Details:       in.Details,
		State:         models.JobStateQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.Create(ctx, job); err != nil {
		return models.Job{}, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// Submit sends the job to the provider. The request is rebuilt from the
// durable job row so a crash between create and submit loses nothing. A
// rejection is terminal and refunds the quota reservation; a transient error
// leaves the job queued for the stream consumer to retry.
func (s *Service) Submit(ctx context.Context, jobID string) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State != models.JobStateQueued {
		s.anomaly(job, "submit on non-queued job")
		return nil
	}

	req, err := requestFromJob(job)
	if err != nil {
		s.failAndRefund(ctx, job, models.FailureRejected, err.Error())
		return nil
	}

	handle, err := s.provider.Submit(ctx, req)
	if err != nil {
		var rejected *provider.RejectedError
		if errors.As(err, &rejected) {
			s.failAndRefund(ctx, job, models.FailureRejected, rejected.Reason)
			return nil
		}
		return fmt.Errorf("submit job %s: %w", jobID, err)
	}

	ok, err := s.store.MarkSubmitted(ctx, jobID, string(handle))
	if err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}
	if !ok {
		s.anomaly(job, "job left queued state during submit")
		return nil
	}

	s.log.Info().
		Str("job_id", jobID).
		Str("operation", string(handle)).
		Msg("job submitted to provider")
	return nil
}

// PollOnce advances a single job by one poll cycle. Re-polling a terminal
// job is a no-op; transient provider errors are logged and retried on the
// next sweep rather than failing the job.
func (s *Service) PollOnce(ctx context.Context, jobID string) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if job.State.Terminal() {
		return nil
	}
	if job.State == models.JobStateQueued || job.ExternalOperation == nil {
		// Never poll a job the provider has not acknowledged.
		return nil
	}

	result, err := s.provider.Poll(ctx, provider.Handle(*job.ExternalOperation))
	if err != nil {
		var rejected *provider.RejectedError
		if errors.As(err, &rejected) {
			// The provider refuses the operation handle itself; retrying
			// cannot succeed.
			s.failAndRefund(ctx, job, models.FailureProviderFailed, rejected.Reason)
			return nil
		}
		s.log.Warn().Err(err).Str("job_id", jobID).Msg("poll attempt failed, will retry")
		return nil
	}

	switch result.State {
	case provider.PollPending:
		if job.State == models.JobStateSubmitted {
			if _, err := s.store.MarkPolling(ctx, jobID); err != nil {
				return fmt.Errorf("mark polling: %w", err)
			}
		}
		return nil

	case provider.PollDone:
		// Two sweeps can both observe the finished operation. Only one may
		// persist the result; the loser backs off and the winner re-reads the
		// job so a completion that already landed is never repeated.
		if _, busy := s.completing.LoadOrStore(jobID, struct{}{}); busy {
			return nil
		}
		defer s.completing.Delete(jobID)

		current, err := s.store.Get(ctx, jobID)
		if err != nil {
			return err
		}
		if current.State.Terminal() {
			return nil
		}

		mediaID, err := s.media.SaveGenerated(ctx, GeneratedMedia{
			OwnerUserID:   job.OwnerUserID,
			SourceAddress: job.SourceAddress,
			MediaType:     job.ResourceType,
			MimeType:      result.MimeType,
			Payload:       result.Payload,
			Prompt:        job.Prompt,
			Model:         job.Model,
			Details:       job.Details,
		})
		if err != nil {
			// Result persistence failed; the operation stays done at the
			// provider, so the next sweep retries the save.
			return fmt.Errorf("save generated media for job %s: %w", jobID, err)
		}

		ok, err := s.store.MarkCompleted(ctx, jobID, mediaID)
		if err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		if !ok {
			s.anomaly(job, "completion raced a terminal transition")
			return nil
		}

		s.log.Info().
			Str("job_id", jobID).
			Str("media_id", mediaID).
			Str("owner", job.OwnerUserID).
			Msg("job completed")
		return nil

	case provider.PollFailed:
		s.failAndRefund(ctx, job, models.FailureProviderFailed, result.Reason)
		return nil

	default:
		return fmt.Errorf("unknown poll state %q", result.State)
	}
}

// GetStatus returns the job if the requester owns it or is an admin who
// manages the owner.
func (s *Service) GetStatus(ctx context.Context, jobID string, requester models.User) (models.Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}

	if job.OwnerUserID == requester.ID {
		return job, nil
	}
	if requester.IsAdmin() {
		ok, err := s.authz.CanManage(ctx, requester.ID, job.OwnerUserID)
		if err != nil {
			return models.Job{}, err
		}
		if ok {
			return job, nil
		}
	}
	// Same error whether the job exists or not.
	return models.Job{}, ErrJobNotFound
}

func (s *Service) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.Job, error) {
	return s.store.ListByOwner(ctx, ownerID, limit, offset)
}

// SweepActive polls every in-flight job once, failing those past the
// timeout ceiling (measured from creation, not last poll).
func (s *Service) SweepActive(ctx context.Context) {
	active, err := s.store.ListActive(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("list active jobs failed")
		return
	}

	now := time.Now().UTC()
	for _, job := range active {
		if now.Sub(job.CreatedAt) > s.timeoutCeiling {
			s.failAndRefund(ctx, job, models.FailureTimeout,
				fmt.Sprintf("generation did not finish within %s", s.timeoutCeiling))
			continue
		}
		if job.State == models.JobStateQueued {
			continue
		}
		if err := s.PollOnce(ctx, job.ID); err != nil {
			s.log.Error().Err(err).Str("job_id", job.ID).Msg("poll sweep error")
		}
	}
}

// EnforceRetention force-fails in-flight jobs older than the retention
// window, then deletes terminal records past it.
func (s *Service) EnforceRetention(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.retention)

	active, err := s.store.ListActive(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("list active jobs failed")
		return
	}
	for _, job := range active {
		if job.CreatedAt.Before(cutoff) {
			s.failAndRefund(ctx, job, models.FailureTimeout, "job exceeded retention window")
		}
	}

	deleted, err := s.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("job retention delete failed")
		return
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted", deleted).Msg("expired job records removed")
	}
}

// failAndRefund marks the job failed and releases the quota reservation.
// The conditional transition guarantees the refund happens at most once even
// if two paths (poll sweep, timeout sweep) race.
func (s *Service) failAndRefund(ctx context.Context, job models.Job, category, reason string) {
	ok, err := s.store.MarkFailed(ctx, job.ID, category, reason)
	if err != nil {
		s.log.Error().Err(err).Str("job_id", job.ID).Msg("mark failed errored")
		return
	}
	if !ok {
		s.anomaly(job, "failure transition on terminal job")
		return
	}

	if err := s.ledger.Release(ctx, job.OwnerUserID, job.ResourceType); err != nil {
		s.log.Error().Err(err).
			Str("job_id", job.ID).
			Str("owner", job.OwnerUserID).
			Msg("quota release failed")
	}

	s.log.Info().
		Str("job_id", job.ID).
		Str("category", category).
		Str("reason", reason).
		Msg("job failed")
}

func (s *Service) anomaly(job models.Job, msg string) {
	s.log.Warn().
		Str("job_id", job.ID).
		Str("state", string(job.State)).
		Msg(msg)
}
