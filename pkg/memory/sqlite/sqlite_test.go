package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lalavoice/lala/pkg/memory"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "lala.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAssignsIDAndClampsImportance(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	rec := &memory.Record{
		Kind:       memory.KindConversation,
		Content:    "qué hora es | Son las 14:30.",
		Tags:       []string{"interacción", "tiempo"},
		Importance: 150,
	}
	id, err := s.Insert(ctx, rec)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id == "" || rec.ID != id {
		t.Errorf("Insert did not assign an ID: %q / %q", id, rec.ID)
	}
	if rec.Importance != 100 {
		t.Errorf("Importance = %d, want clamped to 100", rec.Importance)
	}

	got, err := s.Query(ctx, memory.Query{Kinds: []memory.Kind{memory.KindConversation}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].ID != id {
		t.Fatalf("Query returned %+v, want one record with ID %q", got, id)
	}
	if got[0].Importance != 100 {
		t.Errorf("stored Importance = %d, want 100", got[0].Importance)
	}
}

func TestQueryFilters(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	insert := func(kind memory.Kind, content string, tags ...string) string {
		t.Helper()
		id, err := s.Insert(ctx, &memory.Record{Kind: kind, Content: content, Tags: tags})
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		// Keep creation-time ordering deterministic.
		time.Sleep(2 * time.Millisecond)
		return id
	}

	insert(memory.KindFact, "el usuario vive en Madrid", "ubicación")
	insert(memory.KindPreference, "prefiere café sin azúcar", "comida")
	latest := insert(memory.KindConversation, "recuérdame comprar leche", "interacción", "recordatorio")

	tests := []struct {
		name  string
		query memory.Query
		want  int
	}{
		{"by kind", memory.Query{Kinds: []memory.Kind{memory.KindFact}}, 1},
		{"by tag", memory.Query{AnyTags: []string{"interacción"}}, 1},
		{"by tag union", memory.Query{AnyTags: []string{"ubicación", "comida"}}, 2},
		{"by content substring", memory.Query{ContentContains: "leche"}, 1},
		{"no match", memory.Query{ContentContains: "paella"}, 0},
		{"all", memory.Query{}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Query(ctx, tt.query)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d records, want %d", len(got), tt.want)
			}
		})
	}

	all, err := s.Query(ctx, memory.Query{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if all[0].ID != latest {
		t.Errorf("first record = %q, want most recent %q", all[0].ID, latest)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	rec := &memory.Record{Kind: memory.KindTask, Content: "llamar al médico"}
	id, err := s.Insert(ctx, rec)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	rec.Content = "llamar al médico mañana"
	if err := s.Update(ctx, *rec); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := s.Query(ctx, memory.Query{ContentContains: "mañana"})
	if err != nil || len(got) != 1 {
		t.Fatalf("Query after update: %v, %d records", err, len(got))
	}

	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, id); err != memory.ErrNotFound {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
	if err := s.Update(ctx, *rec); err != memory.ErrNotFound {
		t.Errorf("Update after delete = %v, want ErrNotFound", err)
	}
}

func TestMarkAccessed(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, &memory.Record{Kind: memory.KindFact, Content: "x"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	at := time.Now().UTC().Truncate(time.Millisecond)
	if err := s.MarkAccessed(ctx, []string{id, "missing-id"}, at); err != nil {
		t.Fatalf("MarkAccessed: %v", err)
	}

	got, err := s.Query(ctx, memory.Query{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got[0].AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1", got[0].AccessCount)
	}
	if !got[0].LastAccessed.Equal(at) {
		t.Errorf("LastAccessed = %v, want %v", got[0].LastAccessed, at)
	}
}

func TestDeleteExpired(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.Insert(ctx, &memory.Record{
		Kind: memory.KindEphemeral, Content: "stale", ExpiresAt: now.Add(-time.Second),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	_, err = s.Insert(ctx, &memory.Record{
		Kind: memory.KindEphemeral, Content: "fresh", ExpiresAt: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	_, err = s.Insert(ctx, &memory.Record{Kind: memory.KindFact, Content: "permanent"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	n, err := s.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d records, want 1", n)
	}

	// Idempotent.
	n, err = s.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("second DeleteExpired: %v", err)
	}
	if n != 0 {
		t.Errorf("second sweep deleted %d records, want 0", n)
	}

	got, err := s.Query(ctx, memory.Query{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("%d records remain, want 2", len(got))
	}
}

func TestQueryOrdersSubsecondTimestamps(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	// A whole-second timestamp and a later fractional one within the same
	// second. Trimmed-fraction encodings misorder these pairs.
	older := &memory.Record{
		Kind:      memory.KindFact,
		Content:   "older",
		CreatedAt: time.Date(2026, 4, 1, 12, 0, 5, 0, time.UTC),
	}
	newer := &memory.Record{
		Kind:      memory.KindFact,
		Content:   "newer",
		CreatedAt: time.Date(2026, 4, 1, 12, 0, 5, 500_000_000, time.UTC),
	}
	if _, err := s.Insert(ctx, newer); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := s.Insert(ctx, older); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Query(ctx, memory.Query{Kinds: []memory.Kind{memory.KindFact}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].Content != "newer" || got[1].Content != "older" {
		t.Errorf("order = [%s, %s], want newest first", got[0].Content, got[1].Content)
	}
}
