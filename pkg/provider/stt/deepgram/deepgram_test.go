package deepgram

import (
	"net/url"
	"strings"
	"testing"

	"github.com/lalavoice/lala/pkg/provider/stt"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestBuildURL(t *testing.T) {
	t.Parallel()

	p, err := New("key", WithModel("nova-3"), WithLanguage("es"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	raw, err := p.buildURL(stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}

	q := u.Query()
	if got := q.Get("language"); got != "es" {
		t.Errorf("language = %q, want es", got)
	}
	if got := q.Get("sample_rate"); got != "16000" {
		t.Errorf("sample_rate = %q, want 16000", got)
	}
	if got := q.Get("interim_results"); got != "true" {
		t.Errorf("interim_results = %q, want true", got)
	}
	if !strings.HasPrefix(raw, "wss://") {
		t.Errorf("endpoint scheme: got %q, want wss://", raw)
	}
}

func TestBuildURL_ConfigOverridesDefaults(t *testing.T) {
	t.Parallel()

	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	raw, err := p.buildURL(stt.StreamConfig{SampleRate: 48000, Channels: 2, Language: "en-US"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(raw)
	q := u.Query()
	if got := q.Get("language"); got != "en-US" {
		t.Errorf("language = %q, want en-US", got)
	}
	if got := q.Get("sample_rate"); got != "48000" {
		t.Errorf("sample_rate = %q, want 48000", got)
	}
	if got := q.Get("channels"); got != "2" {
		t.Errorf("channels = %q, want 2", got)
	}
}

func TestParseResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		payload  string
		wantOK   bool
		wantText string
		wantFin  bool
	}{
		{
			name:     "final result",
			payload:  `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"qué hora es","confidence":0.98}]}}`,
			wantOK:   true,
			wantText: "qué hora es",
			wantFin:  true,
		},
		{
			name:     "interim result",
			payload:  `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"qué ho","confidence":0.41}]}}`,
			wantOK:   true,
			wantText: "qué ho",
			wantFin:  false,
		},
		{
			name:    "metadata ignored",
			payload: `{"type":"Metadata","duration":1.2}`,
			wantOK:  false,
		},
		{
			name:    "no alternatives ignored",
			payload: `{"type":"Results","channel":{"alternatives":[]}}`,
			wantOK:  false,
		},
		{
			name:    "malformed json ignored",
			payload: `{"type":`,
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := parseResponse([]byte(tt.payload))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.Text != tt.wantText {
				t.Errorf("text = %q, want %q", got.Text, tt.wantText)
			}
			if got.IsFinal != tt.wantFin {
				t.Errorf("isFinal = %v, want %v", got.IsFinal, tt.wantFin)
			}
			if got.ProviderID != providerID {
				t.Errorf("providerID = %q, want %q", got.ProviderID, providerID)
			}
		})
	}
}
