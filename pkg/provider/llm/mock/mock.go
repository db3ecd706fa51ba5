// Package mock provides a test double for llm.Provider.
package mock

import (
	"context"
	"sync"

	"github.com/lalavoice/lala/pkg/provider/llm"
)

// Provider is a configurable llm.Provider for tests.
type Provider struct {
	mu sync.Mutex

	// ProviderID is returned by ID. Defaults to "mock-llm".
	ProviderID string

	// Response is returned by Complete when CompleteErr is nil.
	Response string

	// CompleteErr, when set, is returned by Complete.
	CompleteErr error

	// Requests records every request passed to Complete.
	Requests []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// ID implements llm.Provider.
func (p *Provider) ID() string {
	if p.ProviderID == "" {
		return "mock-llm"
	}
	return p.ProviderID
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	resp := p.Response
	err := p.CompleteErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return &llm.CompletionResponse{Content: resp}, nil
}

// CallCount returns how many times Complete was invoked.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}
