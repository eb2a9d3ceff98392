package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaforge/api/internal/models"
	"mediaforge/api/internal/provider"
	"mediaforge/api/internal/provider/mock"
	"mediaforge/api/internal/quota"
)

type fakeSaver struct {
	mu    sync.Mutex
	saved []GeneratedMedia
	err   error
}

func (f *fakeSaver) SaveGenerated(_ context.Context, media GeneratedMedia) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.saved = append(f.saved, media)
	return fmt.Sprintf("media-%d", len(f.saved)), nil
}

type fakeAuthz struct {
	allow map[string]bool
}

func (f *fakeAuthz) CanManage(_ context.Context, adminID, targetUserID string) (bool, error) {
	return f.allow[adminID+":"+targetUserID], nil
}

type fixture struct {
	store    *MemoryStore
	ledger   *quota.MemoryLedger
	provider *mock.Provider
	saver    *fakeSaver
	authz    *fakeAuthz
	service  *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := NewMemoryStore()
	ledger := quota.NewMemoryLedger(quota.Defaults{
		models.ResourceImage: {Policy: models.QuotaPolicyLimited, Limit: 100},
		models.ResourceVideo: {Policy: models.QuotaPolicyLimited, Limit: 5},
	})
	prov := mock.New()
	saver := &fakeSaver{}
	authz := &fakeAuthz{allow: map[string]bool{}}

	service := NewService(store, ledger, prov, saver, authz,
		10*time.Minute, 48*time.Hour, zerolog.Nop())

	return &fixture{
		store:    store,
		ledger:   ledger,
		provider: prov,
		saver:    saver,
		authz:    authz,
		service:  service,
	}
}

func (f *fixture) reserveAndCreate(t *testing.T, owner string) models.Job {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.ledger.TryReserve(ctx, owner, models.ResourceVideo))

	job, err := f.service.Create(ctx, CreateInput{
		ID:            "job-" + owner,
		OwnerUserID:   owner,
		SourceAddress: "203.0.113.7",
		ResourceType:  models.ResourceVideo,
		Prompt:        "a lighthouse in a storm",
		Model:         "veo-3.1-fast-generate-preview",
		Mode:          "text",
		Details:       map[string]any{"mode": "text"},
	})
	require.NoError(t, err)
	require.Equal(t, models.JobStateQueued, job.State)
	return job
}

func (f *fixture) used(t *testing.T, owner string) int64 {
	t.Helper()
	q, err := f.ledger.Get(context.Background(), owner, models.ResourceVideo)
	require.NoError(t, err)
	return q.Used
}

func TestLifecycle_SubmitPollComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.reserveAndCreate(t, "alice")

	require.NoError(t, f.service.Submit(ctx, job.ID))

	got, err := f.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateSubmitted, got.State)
	require.NotNil(t, got.ExternalOperation)

	// First poll: still running, job moves to polling.
	f.provider.PollFunc = func(provider.Handle) (provider.PollResult, error) {
		return provider.PollResult{State: provider.PollPending}, nil
	}
	require.NoError(t, f.service.PollOnce(ctx, job.ID))
	got, err = f.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatePolling, got.State)

	// Second poll: finished.
	f.provider.PollFunc = func(provider.Handle) (provider.PollResult, error) {
		return provider.PollResult{
			State:    provider.PollDone,
			Payload:  []byte("video-bytes"),
			MimeType: "video/mp4",
		}, nil
	}
	require.NoError(t, f.service.PollOnce(ctx, job.ID))

	got, err = f.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompleted, got.State)
	require.NotNil(t, got.ResultMediaID)
	require.NotNil(t, got.CompletedAt)

	require.Len(t, f.saver.saved, 1)
	saved := f.saver.saved[0]
	assert.Equal(t, "alice", saved.OwnerUserID)
	assert.Equal(t, "203.0.113.7", saved.SourceAddress)
	assert.Equal(t, "a lighthouse in a storm", saved.Prompt)
	assert.Equal(t, "video/mp4", saved.MimeType)

	// Completion keeps the charge.
	assert.Equal(t, int64(1), f.used(t, "alice"))
}

func TestSubmit_RejectionFailsJobAndRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.reserveAndCreate(t, "bob")

	f.provider.SubmitFunc = func(provider.Request) (provider.Handle, error) {
		return "", &provider.RejectedError{Reason: "policy violation"}
	}

	require.NoError(t, f.service.Submit(ctx, job.ID))

	got, err := f.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailed, got.State)
	require.NotNil(t, got.FailureCategory)
	assert.Equal(t, models.FailureRejected, *got.FailureCategory)
	require.NotNil(t, got.ErrorReason)
	assert.Equal(t, "policy violation", *got.ErrorReason)

	assert.Equal(t, int64(0), f.used(t, "bob"))
}

func TestSubmit_TransientErrorLeavesJobQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.reserveAndCreate(t, "carol")

	f.provider.SubmitFunc = func(provider.Request) (provider.Handle, error) {
		return "", errors.New("connection refused")
	}

	err := f.service.Submit(ctx, job.ID)
	require.Error(t, err)

	got, err := f.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateQueued, got.State)
	// Still charged: the job will be retried.
	assert.Equal(t, int64(1), f.used(t, "carol"))

	// Retry succeeds.
	f.provider.SubmitFunc = nil
	require.NoError(t, f.service.Submit(ctx, job.ID))
	got, err = f.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateSubmitted, got.State)
}

func TestPollOnce_ProviderFailureRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.reserveAndCreate(t, "dave")
	require.NoError(t, f.service.Submit(ctx, job.ID))

	f.provider.PollFunc = func(provider.Handle) (provider.PollResult, error) {
		return provider.PollResult{State: provider.PollFailed, Reason: "generation failed upstream"}, nil
	}
	require.NoError(t, f.service.PollOnce(ctx, job.ID))

	got, err := f.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailed, got.State)
	require.NotNil(t, got.FailureCategory)
	assert.Equal(t, models.FailureProviderFailed, *got.FailureCategory)
	assert.Equal(t, int64(0), f.used(t, "dave"))
}

func TestPollOnce_TransientErrorRetriesLater(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.reserveAndCreate(t, "erin")
	require.NoError(t, f.service.Submit(ctx, job.ID))

	f.provider.PollFunc = func(provider.Handle) (provider.PollResult, error) {
		return provider.PollResult{}, errors.New("http 500")
	}
	require.NoError(t, f.service.PollOnce(ctx, job.ID))

	got, err := f.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateSubmitted, got.State)
	assert.Equal(t, int64(1), f.used(t, "erin"))
}

func TestPollOnce_ConcurrentDoneSavesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.reserveAndCreate(t, "quinn")
	require.NoError(t, f.service.Submit(ctx, job.ID))

	// Hold both pollers inside the provider call so each observes the
	// finished operation before either persists the result.
	gate := make(chan struct{})
	var arrived sync.WaitGroup
	arrived.Add(2)
	f.provider.PollFunc = func(provider.Handle) (provider.PollResult, error) {
		arrived.Done()
		<-gate
		return provider.PollResult{
			State:    provider.PollDone,
			Payload:  []byte("video-bytes"),
			MimeType: "video/mp4",
		}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.service.PollOnce(ctx, job.ID))
		}()
	}
	arrived.Wait()
	close(gate)
	wg.Wait()

	got, err := f.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompleted, got.State)
	assert.Len(t, f.saver.saved, 1, "a completed job must produce exactly one media record")
	assert.Equal(t, int64(1), f.used(t, "quinn"))
}

func TestPollOnce_RejectedHandleFailsJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.reserveAndCreate(t, "rosa")
	require.NoError(t, f.service.Submit(ctx, job.ID))

	f.provider.PollFunc = func(provider.Handle) (provider.PollResult, error) {
		return provider.PollResult{}, &provider.RejectedError{Reason: "operation not found"}
	}
	require.NoError(t, f.service.PollOnce(ctx, job.ID))

	got, err := f.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailed, got.State)
	require.NotNil(t, got.FailureCategory)
	assert.Equal(t, models.FailureProviderFailed, *got.FailureCategory)
	require.NotNil(t, got.ErrorReason)
	assert.Equal(t, "operation not found", *got.ErrorReason)
	assert.Equal(t, int64(0), f.used(t, "rosa"))
}

func TestPollOnce_TerminalJobIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.reserveAndCreate(t, "frank")
	require.NoError(t, f.service.Submit(ctx, job.ID))

	f.provider.PollFunc = func(provider.Handle) (provider.PollResult, error) {
		return provider.PollResult{State: provider.PollFailed, Reason: "boom"}, nil
	}
	require.NoError(t, f.service.PollOnce(ctx, job.ID))
	assert.Equal(t, int64(0), f.used(t, "frank"))

	polls := f.provider.Polls()
	require.NoError(t, f.service.PollOnce(ctx, job.ID))
	assert.Equal(t, polls, f.provider.Polls(), "terminal job must not reach the provider")
	assert.Equal(t, int64(0), f.used(t, "frank"), "refund must not repeat")
}

func TestPollOnce_NeverPollsUnsubmittedJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.reserveAndCreate(t, "grace")

	require.NoError(t, f.service.PollOnce(ctx, job.ID))
	assert.Equal(t, 0, f.provider.Polls())
}

func TestSweepActive_TimesOutStaleJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ledger.TryReserve(ctx, "henry", models.ResourceVideo))
	handle := "operations/stale"
	f.store.Seed(models.Job{
		ID:                "stale-job",
		OwnerUserID:       "henry",
		SourceAddress:     "203.0.113.9",
		ResourceType:      models.ResourceVideo,
		State:             models.JobStatePolling,
		ExternalOperation: &handle,
		CreatedAt:         time.Now().UTC().Add(-20 * time.Minute),
		UpdatedAt:         time.Now().UTC().Add(-time.Minute),
	})

	f.service.SweepActive(ctx)

	got, err := f.store.Get(ctx, "stale-job")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailed, got.State)
	require.NotNil(t, got.FailureCategory)
	assert.Equal(t, models.FailureTimeout, *got.FailureCategory)
	assert.Equal(t, int64(0), f.used(t, "henry"))
	assert.Equal(t, 0, f.provider.Polls(), "timed out job must not be polled")
}

func TestSweepActive_PollsInFlightAndSkipsQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	queued := f.reserveAndCreate(t, "iris")
	inflight := f.reserveAndCreate(t, "jack")
	require.NoError(t, f.service.Submit(ctx, inflight.ID))

	f.service.SweepActive(ctx)

	assert.Equal(t, 1, f.provider.Polls())
	got, err := f.store.Get(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateQueued, got.State)
}

func TestEnforceRetention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-72 * time.Hour)
	mediaID := "media-old"
	handle := "operations/forgotten"

	f.store.Seed(models.Job{
		ID:            "old-completed",
		OwnerUserID:   "kate",
		ResourceType:  models.ResourceVideo,
		State:         models.JobStateCompleted,
		ResultMediaID: &mediaID,
		CreatedAt:     old,
	})
	require.NoError(t, f.ledger.TryReserve(ctx, "kate", models.ResourceVideo))
	f.store.Seed(models.Job{
		ID:                "old-inflight",
		OwnerUserID:       "kate",
		ResourceType:      models.ResourceVideo,
		State:             models.JobStatePolling,
		ExternalOperation: &handle,
		CreatedAt:         old,
	})
	fresh := f.reserveAndCreate(t, "liam")

	f.service.EnforceRetention(ctx)

	_, err := f.store.Get(ctx, "old-completed")
	assert.ErrorIs(t, err, ErrJobNotFound)

	// Forgotten in-flight job is failed (refunding its charge) and swept in
	// the same pass.
	_, err = f.store.Get(ctx, "old-inflight")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.Equal(t, int64(0), f.used(t, "kate"))

	_, err = f.store.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestGetStatus_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.reserveAndCreate(t, "mia")

	owner := models.User{ID: "mia", Role: models.UserRoleUser}
	stranger := models.User{ID: "noah", Role: models.UserRoleUser}
	manager := models.User{ID: "olga", Role: models.UserRoleAdmin}
	otherAdmin := models.User{ID: "pete", Role: models.UserRoleAdmin}
	f.authz.allow["olga:mia"] = true

	got, err := f.service.GetStatus(ctx, job.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = f.service.GetStatus(ctx, job.ID, stranger)
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, err = f.service.GetStatus(ctx, job.ID, manager)
	assert.NoError(t, err)

	_, err = f.service.GetStatus(ctx, job.ID, otherAdmin)
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, err = f.service.GetStatus(ctx, "missing", owner)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestCreate_RequiresAttribution(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Create(context.Background(), CreateInput{
		ID:           "anon",
		ResourceType: models.ResourceVideo,
		Prompt:       "no owner",
	})
	require.Error(t, err)
}
