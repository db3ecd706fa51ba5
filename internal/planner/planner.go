// Package planner turns a classified intent into an ordered action plan.
//
// Build is a pure function: no I/O, no randomness, no side effects. The same
// intent always yields a structurally identical plan. Executing the plan is
// the pipeline's job.
package planner

import "github.com/lalavoice/lala/internal/intent"

// ActionType tags one step of a plan.
type ActionType string

const (
	SystemOperation  ActionType = "system_operation"
	APICall          ActionType = "api_call"
	NLPOperation     ActionType = "nlp_operation"
	DBOperation      ActionType = "db_operation"
	ContentRetrieval ActionType = "content_retrieval"
	DefaultResponse  ActionType = "default_response"
)

// Action is one immutable step of a plan.
type Action struct {
	Type        ActionType
	Parameters  map[string]string
	Description string
}

// Plan is an immutable ordered action sequence for one intent. Priority is
// an informational scheduling hint in [0, 10]; it is not enforced by any
// internal scheduler.
type Plan struct {
	Intent   intent.Intent
	Actions  []Action
	Priority int
}

// blueprint is the fixed action template per intent type.
type blueprint struct {
	actions  []Action
	priority int
}

var blueprints = map[intent.Type]blueprint{
	intent.GetTime: {
		actions: []Action{{
			Type:        SystemOperation,
			Parameters:  map[string]string{"operation": "current_time"},
			Description: "leer la hora del sistema",
		}},
		priority: 8,
	},
	intent.GetWeather: {
		actions: []Action{{
			Type:        APICall,
			Parameters:  map[string]string{"endpoint": "weather"},
			Description: "consultar el servicio meteorológico",
		}},
		priority: 6,
	},
	intent.CreateReminder: {
		actions: []Action{{
			Type:        DBOperation,
			Parameters:  map[string]string{"operation": "create_reminder"},
			Description: "guardar el recordatorio",
		}},
		priority: 7,
	},
	intent.CreateNote: {
		actions: []Action{{
			Type:        DBOperation,
			Parameters:  map[string]string{"operation": "create_note"},
			Description: "guardar la nota",
		}},
		priority: 5,
	},
	intent.TellJoke: {
		actions: []Action{{
			Type:        ContentRetrieval,
			Parameters:  map[string]string{"category": "joke"},
			Description: "elegir un chiste",
		}},
		priority: 3,
	},
}

var defaultBlueprint = blueprint{
	actions: []Action{{
		Type:        DefaultResponse,
		Parameters:  map[string]string{},
		Description: "responder de forma genérica",
	}},
	priority: 0,
}

// Build maps in to its fixed Plan. The returned plan owns copies of the
// intent's entities and of the blueprint actions, so callers may not mutate
// shared state through it.
func Build(in intent.Intent) Plan {
	bp, ok := blueprints[in.Type]
	if !ok {
		bp = defaultBlueprint
	}

	actions := make([]Action, len(bp.actions))
	for i, a := range bp.actions {
		actions[i] = Action{
			Type:        a.Type,
			Parameters:  copyMap(a.Parameters),
			Description: a.Description,
		}
	}
	return Plan{
		Intent: intent.Intent{
			Type:     in.Type,
			Entities: copyMap(in.Entities),
		},
		Actions:  actions,
		Priority: bp.priority,
	}
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
