package pipeline

import (
	"reflect"
	"testing"
)

func TestExtractKeywords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "short words and stop words excluded",
			text: "Recuérdame comprar leche y pan",
			want: []string{"recuérdame", "comprar", "leche"},
		},
		{
			name: "stop words dropped",
			text: "qué tiempo hace hoy para salir",
			want: []string{"tiempo", "hace", "salir"},
		},
		{
			name: "duplicates collapse",
			text: "leche leche leche comprar",
			want: []string{"leche", "comprar"},
		},
		{
			name: "capped at five",
			text: "lunes martes miércoles jueves viernes sábado domingo",
			want: []string{"lunes", "martes", "miércoles", "jueves", "viernes"},
		},
		{
			name: "punctuation stripped",
			text: "¡Apunta: reunión mañana, temprano!",
			want: []string{"apunta", "reunión", "mañana", "temprano"},
		},
		{
			name: "empty input",
			text: "",
			want: nil,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := extractKeywords(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("extractKeywords(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestScoreImportance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want int
	}{
		{"no indicators", "enciende la luz", 50},
		{"single indicator", "es importante regar las plantas", 60},
		{"two indicators", "recuerda llamar al médico", 70},
		{"clamped at hundred", "importante recuerda urgente siempre nunca médico trabajo familia", 100},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := scoreImportance(tt.text); got != tt.want {
				t.Errorf("scoreImportance(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}
