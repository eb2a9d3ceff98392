package models

import "time"

type ResourceType string

const (
	ResourceImage ResourceType = "image"
	ResourceVideo ResourceType = "video"
	ResourceText  ResourceType = "text"
)

type QuotaPolicy string

const (
	QuotaPolicyLimited   QuotaPolicy = "limited"
	QuotaPolicyUnlimited QuotaPolicy = "unlimited"
)

// Quota tracks total usage of one resource type for one user. Limit is
// meaningful only while the policy is limited; a limited quota with limit 0
// denies every reservation.
type Quota struct {
	UserID       string
	ResourceType ResourceType
	Policy       QuotaPolicy
	Limit        *int64
	Used         int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (q Quota) Remaining() *int64 {
	if q.Policy == QuotaPolicyUnlimited || q.Limit == nil {
		return nil
	}
	remaining := *q.Limit - q.Used
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}
