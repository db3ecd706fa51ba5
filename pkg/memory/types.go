package memory

import "time"

// Kind classifies a memory record.
type Kind string

const (
	KindFact         Kind = "fact"
	KindConversation Kind = "conversation"
	KindPreference   Kind = "preference"
	KindTask         Kind = "task"
	KindSkill        Kind = "skill"
	KindEphemeral    Kind = "ephemeral"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindFact, KindConversation, KindPreference, KindTask, KindSkill, KindEphemeral:
		return true
	}
	return false
}

// Record is the atomic unit of assistant memory: one remembered interaction,
// fact, or preference.
type Record struct {
	// ID uniquely identifies the record. Assigned by the store on insert;
	// must be empty on insert and non-empty everywhere else.
	ID string

	// Kind classifies the record.
	Kind Kind

	// Content is the remembered text.
	Content string

	// Tags label the record for retrieval. Order is not significant.
	Tags []string

	// CreatedAt is when the record was inserted. Assigned by the store.
	CreatedAt time.Time

	// ExpiresAt, when non-zero, marks the record for deletion by the expiry
	// sweep once the instant has passed.
	ExpiresAt time.Time

	// Importance is a heuristic relevance score in [0, 100]. Stores clamp
	// out-of-range values on write.
	Importance int

	// LastAccessed is when the record was last returned by a query.
	// Zero means never.
	LastAccessed time.Time

	// AccessCount is how many times the record has been returned by queries.
	AccessCount int
}

// Expired reports whether the record's expiry instant has passed.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && r.ExpiresAt.Before(now)
}

// ClampImportance bounds v to the valid importance range [0, 100].
func ClampImportance(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
