// Package mock provides a scriptable provider for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"mediaforge/api/internal/provider"
)

// Provider is an in-memory provider.Client whose behavior is scripted per
// call. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	SubmitFunc       func(req provider.Request) (provider.Handle, error)
	PollFunc         func(handle provider.Handle) (provider.PollResult, error)
	GenerateFunc     func(req provider.Request) (provider.Artifact, error)
	GenerateTextFunc func(req provider.Request) (provider.Artifact, error)

	submits int
	polls   int
}

var _ provider.Client = (*Provider)(nil)

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Submit(_ context.Context, req provider.Request) (provider.Handle, error) {
	p.mu.Lock()
	p.submits++
	n := p.submits
	fn := p.SubmitFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	return provider.Handle(fmt.Sprintf("operations/mock-%d", n)), nil
}

func (p *Provider) Poll(_ context.Context, handle provider.Handle) (provider.PollResult, error) {
	p.mu.Lock()
	p.polls++
	fn := p.PollFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(handle)
	}
	return provider.PollResult{State: provider.PollPending}, nil
}

func (p *Provider) GenerateSync(_ context.Context, req provider.Request) (provider.Artifact, error) {
	p.mu.Lock()
	fn := p.GenerateFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	return provider.Artifact{Payload: []byte("mock-image"), MimeType: "image/png"}, nil
}

func (p *Provider) GenerateText(_ context.Context, req provider.Request) (provider.Artifact, error) {
	p.mu.Lock()
	fn := p.GenerateTextFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	return provider.Artifact{Payload: []byte("mock-text"), MimeType: "text/plain"}, nil
}

func (p *Provider) Submits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submits
}

func (p *Provider) Polls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}
