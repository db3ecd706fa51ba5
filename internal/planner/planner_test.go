package planner

import (
	"reflect"
	"testing"

	"github.com/lalavoice/lala/internal/intent"
)

func TestBuildPerIntent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ        intent.Type
		wantAction ActionType
	}{
		{intent.GetTime, SystemOperation},
		{intent.GetWeather, APICall},
		{intent.CreateReminder, DBOperation},
		{intent.CreateNote, DBOperation},
		{intent.TellJoke, ContentRetrieval},
		{intent.Unknown, DefaultResponse},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			t.Parallel()
			plan := Build(intent.Intent{Type: tt.typ, Entities: map[string]string{}})
			if len(plan.Actions) != 1 {
				t.Fatalf("len(Actions) = %d, want 1", len(plan.Actions))
			}
			if plan.Actions[0].Type != tt.wantAction {
				t.Errorf("action = %v, want %v", plan.Actions[0].Type, tt.wantAction)
			}
			if plan.Priority < 0 || plan.Priority > 10 {
				t.Errorf("priority = %d, want in [0, 10]", plan.Priority)
			}
		})
	}
}

func TestUnknownHasLowestPriority(t *testing.T) {
	t.Parallel()

	unknown := Build(intent.Intent{Type: intent.Unknown})
	for _, typ := range []intent.Type{
		intent.GetTime, intent.GetWeather, intent.CreateReminder,
		intent.CreateNote, intent.TellJoke,
	} {
		if p := Build(intent.Intent{Type: typ}).Priority; p <= unknown.Priority {
			t.Errorf("priority of %v = %d, want above Unknown's %d", typ, p, unknown.Priority)
		}
	}
}

func TestBuildIsPure(t *testing.T) {
	t.Parallel()

	in := intent.Intent{
		Type:     intent.CreateReminder,
		Entities: map[string]string{intent.EntityText: "llamar al médico"},
	}
	first := Build(in)
	second := Build(in)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated Build differs:\n%+v\n%+v", first, second)
	}

	// The plan owns copies: mutating it must not leak into later plans.
	first.Intent.Entities[intent.EntityText] = "otra cosa"
	first.Actions[0].Parameters["operation"] = "mutated"
	third := Build(in)
	if !reflect.DeepEqual(second, third) {
		t.Errorf("Build shares state with returned plans:\n%+v\n%+v", second, third)
	}
}
