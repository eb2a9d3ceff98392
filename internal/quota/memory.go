package quota

import (
	"context"
	"sort"
	"sync"
	"time"

	"mediaforge/api/internal/models"
)

// MemoryLedger keeps quota state under a single mutex. It backs tests and
// single-process deployments; production uses the Postgres ledger.
type MemoryLedger struct {
	mu       sync.Mutex
	defaults Defaults
	rows     map[memKey]*models.Quota
}

type memKey struct {
	userID   string
	resource models.ResourceType
}

var _ Ledger = (*MemoryLedger)(nil)

func NewMemoryLedger(defaults Defaults) *MemoryLedger {
	return &MemoryLedger{
		defaults: defaults,
		rows:     make(map[memKey]*models.Quota),
	}
}

// materialize returns the row for the key, creating it from the default
// policy on first access. Caller holds the mutex.
func (l *MemoryLedger) materialize(userID string, resource models.ResourceType) *models.Quota {
	key := memKey{userID, resource}
	if row, ok := l.rows[key]; ok {
		return row
	}

	def, ok := l.defaults[resource]
	if !ok {
		def = Default{Policy: models.QuotaPolicyLimited, Limit: 0}
	}

	now := time.Now().UTC()
	row := &models.Quota{
		UserID:       userID,
		ResourceType: resource,
		Policy:       def.Policy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if def.Policy == models.QuotaPolicyLimited {
		limit := def.Limit
		row.Limit = &limit
	}
	l.rows[key] = row
	return row
}

func (l *MemoryLedger) TryReserve(_ context.Context, userID string, resource models.ResourceType) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	row := l.materialize(userID, resource)
	if row.Policy == models.QuotaPolicyUnlimited {
		return nil
	}

	limit := int64(0)
	if row.Limit != nil {
		limit = *row.Limit
	}
	if row.Used >= limit {
		return &DeniedError{ResourceType: resource, Used: row.Used, Limit: limit}
	}

	row.Used++
	row.UpdatedAt = time.Now().UTC()
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, userID string, resource models.ResourceType) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.rows[memKey{userID, resource}]
	if !ok || row.Policy != models.QuotaPolicyLimited {
		return nil
	}
	if row.Used > 0 {
		row.Used--
	}
	row.UpdatedAt = time.Now().UTC()
	return nil
}

func (l *MemoryLedger) Reset(_ context.Context, userID string, resource models.ResourceType) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.rows[memKey{userID, resource}]
	if !ok {
		return ErrQuotaNotFound
	}
	row.Used = 0
	row.UpdatedAt = time.Now().UTC()
	return nil
}

func (l *MemoryLedger) SetPolicy(_ context.Context, userID string, resource models.ResourceType, policy models.QuotaPolicy, limit *int64) (models.Quota, error) {
	if err := validatePolicy(policy, limit); err != nil {
		return models.Quota{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	row := l.materialize(userID, resource)
	row.Policy = policy
	if policy == models.QuotaPolicyUnlimited {
		row.Limit = nil
	} else {
		v := *limit
		row.Limit = &v
	}
	row.UpdatedAt = time.Now().UTC()
	return *row, nil
}

func (l *MemoryLedger) Get(_ context.Context, userID string, resource models.ResourceType) (models.Quota, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return *l.materialize(userID, resource), nil
}

func (l *MemoryLedger) GetAll(_ context.Context, userID string) ([]models.Quota, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var quotas []models.Quota
	for key, row := range l.rows {
		if key.userID == userID {
			quotas = append(quotas, *row)
		}
	}
	sort.Slice(quotas, func(i, j int) bool {
		return quotas[i].ResourceType < quotas[j].ResourceType
	})
	return quotas, nil
}

func (l *MemoryLedger) Provision(_ context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for resource := range l.defaults {
		l.materialize(userID, resource)
	}
	return nil
}
