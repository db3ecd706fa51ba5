package postgres

import (
	"strings"
	"testing"

	"github.com/lalavoice/lala/pkg/memory"
)

func TestBuildQuery_NoFilters(t *testing.T) {
	t.Parallel()

	stmt, args := buildQuery(memory.Query{})
	if strings.Contains(stmt, "WHERE") {
		t.Errorf("unfiltered query contains WHERE:\n%s", stmt)
	}
	if len(args) != 1 {
		t.Fatalf("args = %v, want only the limit", args)
	}
	if args[0] != defaultQueryLimit {
		t.Errorf("limit = %v, want default %d", args[0], defaultQueryLimit)
	}
}

func TestBuildQuery_AllFilters(t *testing.T) {
	t.Parallel()

	stmt, args := buildQuery(memory.Query{
		Kinds:           []memory.Kind{memory.KindFact, memory.KindPreference},
		AnyTags:         []string{"tiempo"},
		ContentContains: "hora",
		Limit:           5,
	})

	for _, want := range []string{"kind = ANY($1)", "tags && $2", "content ILIKE $3", "LIMIT $4"} {
		if !strings.Contains(stmt, want) {
			t.Errorf("statement missing %q:\n%s", want, stmt)
		}
	}
	if len(args) != 4 {
		t.Fatalf("len(args) = %d, want 4", len(args))
	}
	if got := args[2].(string); got != "%hora%" {
		t.Errorf("content arg = %q, want %q", got, "%hora%")
	}
	if got := args[3].(int); got != 5 {
		t.Errorf("limit arg = %d, want 5", got)
	}
	if !strings.Contains(stmt, "ORDER BY created_at DESC") {
		t.Errorf("statement not ordered most-recent-first:\n%s", stmt)
	}
}

func TestEscapeLike(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"hora", "hora"},
		{"100%", `100\%`},
		{"a_b", `a\_b`},
		{`back\slash`, `back\\slash`},
	}
	for _, tt := range tests {
		if got := escapeLike(tt.in); got != tt.want {
			t.Errorf("escapeLike(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
