// Package mock provides an in-memory test double for memory.Store.
package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lalavoice/lala/pkg/memory"
)

// Store is an in-memory memory.Store for tests. The zero value is usable.
type Store struct {
	mu      sync.Mutex
	records []memory.Record
	nextID  int

	// InsertErr, QueryErr, when set, are returned by the corresponding
	// method. Used to exercise best-effort storage paths.
	InsertErr error
	QueryErr  error

	// CloseCallCount counts Close invocations.
	CloseCallCount int
}

var _ memory.Store = (*Store)(nil)

// Insert implements memory.Store.
func (s *Store) Insert(ctx context.Context, rec *memory.Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.InsertErr != nil {
		return "", s.InsertErr
	}

	s.nextID++
	rec.ID = fmt.Sprintf("rec-%04d", s.nextID)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Importance = memory.ClampImportance(rec.Importance)
	s.records = append(s.records, *rec)
	return rec.ID, nil
}

// Update implements memory.Store.
func (s *Store) Update(ctx context.Context, rec memory.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.records {
		if s.records[i].ID == rec.ID {
			rec.Importance = memory.ClampImportance(rec.Importance)
			s.records[i] = rec
			return nil
		}
	}
	return memory.ErrNotFound
}

// Delete implements memory.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.records {
		if s.records[i].ID == id {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return nil
		}
	}
	return memory.ErrNotFound
}

// Query implements memory.Store.
func (s *Store) Query(ctx context.Context, q memory.Query) ([]memory.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.QueryErr != nil {
		return nil, s.QueryErr
	}

	var out []memory.Record
	for _, rec := range s.records {
		if matches(rec, q) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func matches(rec memory.Record, q memory.Query) bool {
	if len(q.Kinds) > 0 {
		ok := false
		for _, k := range q.Kinds {
			if rec.Kind == k {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(q.AnyTags) > 0 {
		ok := false
	outer:
		for _, want := range q.AnyTags {
			for _, tag := range rec.Tags {
				if tag == want {
					ok = true
					break outer
				}
			}
		}
		if !ok {
			return false
		}
	}
	if q.ContentContains != "" &&
		!strings.Contains(strings.ToLower(rec.Content), strings.ToLower(q.ContentContains)) {
		return false
	}
	return true
}

// MarkAccessed implements memory.Store.
func (s *Store) MarkAccessed(ctx context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		for i := range s.records {
			if s.records[i].ID == id {
				s.records[i].AccessCount++
				s.records[i].LastAccessed = at
			}
		}
	}
	return nil
}

// DeleteExpired implements memory.Store.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	deleted := 0
	for _, rec := range s.records {
		if rec.Expired(now) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	return deleted, nil
}

// Close implements memory.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

// All returns a snapshot of every stored record, insertion order.
func (s *Store) All() []memory.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]memory.Record(nil), s.records...)
}

// Seed inserts records directly, bypassing error injection. Useful for
// arranging retrieval fixtures.
func (s *Store) Seed(recs ...memory.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		if rec.ID == "" {
			s.nextID++
			rec.ID = fmt.Sprintf("rec-%04d", s.nextID)
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}
		s.records = append(s.records, rec)
	}
}
