package models

import "time"

type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateSubmitted JobState = "submitted"
	JobStatePolling   JobState = "polling"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// Failure categories recorded in Job.ErrorReason alongside the provider's
// own message, so callers can tell a policy rejection from a timeout.
const (
	FailureRejected       = "rejected"
	FailureProviderFailed = "provider_failed"
	FailureTimeout        = "timeout"
)

// Job is one long-running generation request. ResultMediaID is set iff the
// job completed; ErrorReason is set iff it failed.
type Job struct {
	ID                string
	OwnerUserID       string
	SourceAddress     string
	ResourceType      ResourceType
	Prompt            string
	Model             string
	Mode              string
	Details           map[string]any
	State             JobState
	ExternalOperation *string
	ResultMediaID     *string
	FailureCategory   *string
	ErrorReason       *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}
