// Package provider abstracts the external generative-media service. Video
// generation is a long-running operation: Submit returns an opaque handle
// and Poll is called until the operation reports done or failed. Image
// generation is synchronous.
package provider

import (
	"context"
	"fmt"

	"mediaforge/api/internal/models"
)

// Asset is an inline reference input (first frame, last frame, style
// reference) passed along with a generation request.
type Asset struct {
	Bytes    []byte
	MimeType string
}

type Request struct {
	ResourceType    models.ResourceType
	Model           string
	Prompt          string
	NegativePrompt  string
	FirstFrame      *Asset
	LastFrame       *Asset
	ReferenceImages []Asset
}

// Handle identifies a submitted long-running operation at the provider.
type Handle string

type PollState string

const (
	PollPending PollState = "pending"
	PollDone    PollState = "done"
	PollFailed  PollState = "failed"
)

// PollResult carries the payload when State is PollDone and the provider's
// stated reason when State is PollFailed.
type PollResult struct {
	State    PollState
	Payload  []byte
	MimeType string
	Reason   string
}

// Artifact is the result of a synchronous generation.
type Artifact struct {
	Payload  []byte
	MimeType string
}

// RejectedError reports a submission the provider refused outright, e.g.
// invalid parameters or a content-policy block at submit time. It is never
// retried.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("provider rejected request: %s", e.Reason)
}

type Client interface {
	Submit(ctx context.Context, req Request) (Handle, error)
	Poll(ctx context.Context, handle Handle) (PollResult, error)
	GenerateSync(ctx context.Context, req Request) (Artifact, error)
	GenerateText(ctx context.Context, req Request) (Artifact, error)
}
