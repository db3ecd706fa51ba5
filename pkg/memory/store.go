// Package memory defines the record store behind the assistant's long-term
// memory.
//
// The pipeline appends a conversation record after every turn and queries past
// records for context before classifying a new command. The Store contract is
// deliberately narrow so that backends can range from an on-device SQLite file
// to a PostgreSQL cluster with a vector index.
//
// Every implementation must be safe for concurrent reads with serialized
// writes delegated to the backend's own consistency guarantees.
package memory

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an update or delete names a record that does
// not exist.
var ErrNotFound = errors.New("memory: record not found")

// ErrStorage wraps backend read/write failures. Callers treat these as
// best-effort: a failed memory write never aborts a conversational turn.
var ErrStorage = errors.New("memory: storage failure")

// Query selects records. All non-zero fields are applied as AND conditions;
// within Kinds and AnyTags the members are OR-ed.
type Query struct {
	// Kinds restricts results to records of any of these kinds.
	Kinds []Kind

	// AnyTags restricts results to records carrying at least one of these
	// tags.
	AnyTags []string

	// ContentContains restricts results to records whose content contains
	// this substring (case-insensitive).
	ContentContains string

	// Limit caps the number of results. Zero means the store default.
	Limit int
}

// Store is the abstraction over any record backend.
//
// Query results are ordered by creation time descending (most recent first).
type Store interface {
	// Insert stores a new record, assigning ID and CreatedAt, and returns
	// the new ID. Importance is clamped to [0, 100].
	Insert(ctx context.Context, rec *Record) (string, error)

	// Update replaces the stored record with the same ID.
	// Returns ErrNotFound if no such record exists.
	Update(ctx context.Context, rec Record) error

	// Delete removes the record with the given ID.
	// Returns ErrNotFound if no such record exists.
	Delete(ctx context.Context, id string) error

	// Query returns records matching q, most recent first.
	Query(ctx context.Context, q Query) ([]Record, error)

	// MarkAccessed bumps AccessCount and sets LastAccessed on the given
	// records. Missing IDs are ignored.
	MarkAccessed(ctx context.Context, ids []string, at time.Time) error

	// DeleteExpired removes every record whose ExpiresAt is set and before
	// now. Returns the number of records deleted. Idempotent.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)

	// Close releases the backend connection. Idempotent.
	Close() error
}

// SemanticIndex is an optional extension implemented by stores that maintain
// an embedding per record for similarity retrieval. The keyword-overlap path
// in the pipeline works without it.
type SemanticIndex interface {
	// IndexEmbedding attaches an embedding vector to an existing record.
	IndexEmbedding(ctx context.Context, id string, embedding []float32) error

	// SearchSimilar returns up to topK records ordered by ascending vector
	// distance from the query embedding. Records without an embedding are
	// not returned.
	SearchSimilar(ctx context.Context, embedding []float32, topK int) ([]Record, error)
}
