// Package quota implements the per-user, per-resource usage ledger.
//
// A reservation is the charge: TryReserve checks the policy and increments
// usage in one atomic step, and a failed generation refunds the unit via
// Release. This closes the window where two concurrent requests could both
// pass a read-then-write check with one unit remaining.
package quota

import (
	"context"
	"errors"
	"fmt"

	"mediaforge/api/internal/models"
)

var ErrQuotaNotFound = errors.New("quota not found")

// ErrInvalidLimit is returned by SetPolicy for a limited policy with a
// missing or negative limit. Zero is valid and means fully disabled.
var ErrInvalidLimit = errors.New("limited policy requires limit >= 0")

// DeniedError reports an exhausted quota with the exact numbers, so callers
// can tell the user how much they have used rather than a generic failure.
type DeniedError struct {
	ResourceType models.ResourceType
	Used         int64
	Limit        int64
}

func (e *DeniedError) Error() string {
	if e.Limit == 0 {
		return fmt.Sprintf("your %s quota is set to 0; contact your administrator", e.ResourceType)
	}
	return fmt.Sprintf("quota exceeded: you have used %d/%d %s generations", e.Used, e.Limit, e.ResourceType)
}

// Default is the policy materialized for a (user, resource) pair that has no
// ledger row yet.
type Default struct {
	Policy models.QuotaPolicy
	Limit  int64
}

type Defaults map[models.ResourceType]Default

// Ledger is the single owner of quota state. TryReserve returns nil when the
// reservation was granted (and charged); a *DeniedError when exhausted.
type Ledger interface {
	TryReserve(ctx context.Context, userID string, resource models.ResourceType) error
	Release(ctx context.Context, userID string, resource models.ResourceType) error
	Reset(ctx context.Context, userID string, resource models.ResourceType) error
	SetPolicy(ctx context.Context, userID string, resource models.ResourceType, policy models.QuotaPolicy, limit *int64) (models.Quota, error)
	Get(ctx context.Context, userID string, resource models.ResourceType) (models.Quota, error)
	GetAll(ctx context.Context, userID string) ([]models.Quota, error)
	Provision(ctx context.Context, userID string) error
}

func validatePolicy(policy models.QuotaPolicy, limit *int64) error {
	switch policy {
	case models.QuotaPolicyUnlimited:
		return nil
	case models.QuotaPolicyLimited:
		if limit == nil || *limit < 0 {
			return ErrInvalidLimit
		}
		return nil
	default:
		return fmt.Errorf("unknown quota policy %q", policy)
	}
}
