package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"mediaforge/api/internal/models"
)

// MemoryStore is an in-memory Store used by tests and single-process runs.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.Job)}
}

func (m *MemoryStore) Create(_ context.Context, job models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, ErrJobNotFound
	}
	return *job, nil
}

func (m *MemoryStore) ListByOwner(_ context.Context, ownerID string, limit, offset int) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Job
	for _, job := range m.jobs {
		if job.OwnerUserID == ownerID {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListActive(_ context.Context) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Job
	for _, job := range m.jobs {
		if !job.State.Terminal() {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) MarkSubmitted(_ context.Context, id string, handle string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return false, ErrJobNotFound
	}
	if job.State != models.JobStateQueued {
		return false, nil
	}
	job.State = models.JobStateSubmitted
	job.ExternalOperation = &handle
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryStore) MarkPolling(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return false, ErrJobNotFound
	}
	if job.State != models.JobStateSubmitted {
		return false, nil
	}
	job.State = models.JobStatePolling
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryStore) MarkCompleted(_ context.Context, id string, mediaID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return false, ErrJobNotFound
	}
	if job.State != models.JobStateSubmitted && job.State != models.JobStatePolling {
		return false, nil
	}
	now := time.Now().UTC()
	job.State = models.JobStateCompleted
	job.ResultMediaID = &mediaID
	job.UpdatedAt = now
	job.CompletedAt = &now
	return true, nil
}

func (m *MemoryStore) MarkFailed(_ context.Context, id string, category, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return false, ErrJobNotFound
	}
	if job.State.Terminal() {
		return false, nil
	}
	now := time.Now().UTC()
	job.State = models.JobStateFailed
	job.FailureCategory = &category
	job.ErrorReason = &reason
	job.UpdatedAt = now
	job.CompletedAt = &now
	return true, nil
}

func (m *MemoryStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for id, job := range m.jobs {
		if job.State.Terminal() && job.CreatedAt.Before(cutoff) {
			delete(m.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

// Seed replaces a job record wholesale. Test helper for constructing aged
// or mid-lifecycle jobs.
func (m *MemoryStore) Seed(job models.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := job
	m.jobs[job.ID] = &cp
}
