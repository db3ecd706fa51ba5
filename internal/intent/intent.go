// Package intent classifies a transcribed command into one of a small closed
// vocabulary of intents.
//
// Classification is deterministic: ordered substring rules over the lowercased
// command, first match wins. Rule order matters — "hora" is checked before the
// weather words so "qué hora es" never reads as weather, and the reminder
// words come before "tiempo" so "recuérdame regar las plantas a tiempo" stays
// a reminder.
package intent

import "strings"

// Type is the intent tag.
type Type string

const (
	GetTime        Type = "get_time"
	GetWeather     Type = "get_weather"
	CreateReminder Type = "create_reminder"
	CreateNote     Type = "create_note"
	TellJoke       Type = "tell_joke"
	Unknown        Type = "unknown"
)

// EntityText is the key under which the extracted payload is stored.
const EntityText = "text"

// Intent is an immutable classification result, produced once per turn.
type Intent struct {
	Type     Type
	Entities map[string]string
}

// Text returns the extracted entity payload.
func (i Intent) Text() string {
	return i.Entities[EntityText]
}

// rule maps any of its trigger substrings to an intent type.
type rule struct {
	triggers []string
	typ      Type
}

// Ordered; first match wins.
var rules = []rule{
	{[]string{"hora"}, GetTime},
	{[]string{"recuérdame", "recordatorio", "recuerda"}, CreateReminder},
	{[]string{"clima", "tiempo"}, GetWeather},
	{[]string{"nota", "apunta"}, CreateNote},
	{[]string{"chiste"}, TellJoke},
}

// leadIns are the entity extraction prefixes, tried in priority order against
// the whole lowercased command. The payload is everything after the first
// occurrence of the matched lead-in.
var leadIns = []string{
	"recuérdame que ",
	"recuérdame ",
	"recordatorio de ",
	"recuerda ",
	"toma nota de ",
	"apunta que ",
	"apunta ",
	"nota: ",
	"nota ",
}

// Classify maps a free-text command to an Intent. The entity payload is
// best-effort: the text after the first matching lead-in, or the whole
// command when none matches. Empty only when the command itself is empty.
func Classify(command string) Intent {
	lowered := strings.ToLower(strings.TrimSpace(command))

	typ := Unknown
	for _, r := range rules {
		for _, trigger := range r.triggers {
			if strings.Contains(lowered, trigger) {
				typ = r.typ
				break
			}
		}
		if typ != Unknown {
			break
		}
	}

	return Intent{
		Type:     typ,
		Entities: map[string]string{EntityText: extractEntity(lowered)},
	}
}

func extractEntity(lowered string) string {
	for _, lead := range leadIns {
		if idx := strings.Index(lowered, lead); idx >= 0 {
			if rest := strings.TrimSpace(lowered[idx+len(lead):]); rest != "" {
				return rest
			}
		}
	}
	return lowered
}
