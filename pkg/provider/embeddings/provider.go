// Package embeddings defines the Provider interface for vector embedding
// backends.
//
// An embeddings provider maps text to dense float32 vectors. The memory layer
// uses them for semantic retrieval when a vector-capable store is configured;
// the keyword-overlap path works without one.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider instance share the same
// dimensionality (Dimensions). Vectors from different providers or models must
// not be mixed in one similarity computation.
type Provider interface {
	// Embed computes the embedding for a single text. The returned slice has
	// length Dimensions().
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embeddings for several texts in one provider call.
	// The i-th result corresponds to texts[i]. On error the whole slice is
	// nil; partial results are not returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length produced by this provider.
	Dimensions() int

	// ModelID returns the provider-specific model identifier, for logging
	// and for checking model consistency across restarts.
	ModelID() string
}
