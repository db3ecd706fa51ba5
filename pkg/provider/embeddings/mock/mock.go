// Package mock provides a test double for embeddings.Provider.
//
// The default vector function maps each text to a deterministic vector so
// tests can check similarity ordering without a live model.
package mock

import (
	"context"
	"sync"

	"github.com/lalavoice/lala/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// VectorFor, when set, computes the vector for each text. When nil,
	// EmbedResult is returned for every text.
	VectorFor func(text string) []float32

	// EmbedResult is returned by Embed when VectorFor is nil.
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned from Embed and EmbedBatch.
	EmbedErr error

	// DimensionsValue is returned by Dimensions. Defaults to 3.
	DimensionsValue int

	// ModelIDValue is returned by ModelID. Defaults to "mock-embed".
	ModelIDValue string

	// Embedded records every text submitted, across Embed and EmbedBatch.
	Embedded []string
}

var _ embeddings.Provider = (*Provider)(nil)

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.Embedded = append(p.Embedded, text)
	p.mu.Unlock()

	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	if p.VectorFor != nil {
		return p.VectorFor(text), nil
	}
	return p.EmbedResult, nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if p.EmbedErr != nil {
		p.mu.Lock()
		p.Embedded = append(p.Embedded, texts...)
		p.mu.Unlock()
		return nil, p.EmbedErr
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	if p.DimensionsValue == 0 {
		return 3
	}
	return p.DimensionsValue
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	if p.ModelIDValue == "" {
		return "mock-embed"
	}
	return p.ModelIDValue
}

// EmbeddedTexts returns a copy of all submitted texts.
func (p *Provider) EmbeddedTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Embedded...)
}
