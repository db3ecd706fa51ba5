package config

import (
	"strings"
	"testing"
)

const validYAML = `
assistant:
  wake_phrase: "lala"
  log_level: debug
providers:
  stt_offline:
    name: whisper
    model: /models/ggml-base-es.bin
  stt_online:
    name: deepgram
    api_key: dg-secret
  tts:
    name: coqui
    base_url: http://localhost:5002
  llm:
    name: openai
    api_key: sk-secret
    model: gpt-4o-mini
weather:
  latitude: 40.4168
  longitude: -3.7038
memory:
  backend: sqlite
  sqlite_path: /var/lib/lala/memory.db
`

func TestLoadFromReaderValid(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Assistant.WakePhrase != "lala" {
		t.Errorf("WakePhrase = %q", cfg.Assistant.WakePhrase)
	}
	if cfg.Providers.STTOffline.Model != "/models/ggml-base-es.bin" {
		t.Errorf("STTOffline.Model = %q", cfg.Providers.STTOffline.Model)
	}
	if cfg.Memory.SQLitePath != "/var/lib/lala/memory.db" {
		t.Errorf("SQLitePath = %q", cfg.Memory.SQLitePath)
	}
}

func TestLoadFromReaderDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(`
assistant:
  wake_phrase: "lala"
providers:
  stt_offline:
    name: whisper
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Assistant.Name != "Lala" {
		t.Errorf("Name = %q, want default Lala", cfg.Assistant.Name)
	}
	if cfg.Assistant.Language != "es" {
		t.Errorf("Language = %q, want default es", cfg.Assistant.Language)
	}
	if cfg.Assistant.LogLevel != LogInfo {
		t.Errorf("LogLevel = %q, want info", cfg.Assistant.LogLevel)
	}
	if cfg.Assistant.CaptureDeadlineSeconds != 10 {
		t.Errorf("CaptureDeadlineSeconds = %d, want 10", cfg.Assistant.CaptureDeadlineSeconds)
	}
	if cfg.Memory.Backend != BackendSQLite {
		t.Errorf("Backend = %q, want sqlite", cfg.Memory.Backend)
	}
	if cfg.Memory.SQLitePath != "lala.db" {
		t.Errorf("SQLitePath = %q, want lala.db", cfg.Memory.SQLitePath)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader(`
assistant:
  wake_phrase: "lala"
  volume: 11
`))
	if err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Assistant.WakePhrase = ""
	cfg.Assistant.LogLevel = "verbose"
	cfg.Weather.Latitude = 120
	cfg.Memory.Backend = "redis"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	msg := err.Error()
	for _, want := range []string{
		"wake_phrase is required",
		"log_level",
		"stt_offline is required",
		"latitude",
		"memory.backend",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}

func TestValidateFieldErrors(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		cfg, err := LoadFromReader(strings.NewReader(validYAML))
		if err != nil {
			t.Fatalf("base config: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "deepgram without api key",
			mutate:  func(c *Config) { c.Providers.STTOnline.APIKey = "" },
			wantSub: "api_key",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Memory.Backend = BackendPostgres },
			wantSub: "postgres_dsn",
		},
		{
			name:    "longitude out of range",
			mutate:  func(c *Config) { c.Weather.Longitude = -400 },
			wantSub: "longitude",
		},
		{
			name:    "negative capture deadline",
			mutate:  func(c *Config) { c.Assistant.CaptureDeadlineSeconds = -3 },
			wantSub: "capture_deadline_seconds",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("invalid config accepted")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q missing %q", err, tt.wantSub)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load("/nonexistent/lala.yaml")
	if err == nil {
		t.Fatal("missing file accepted")
	}
	if !strings.Contains(err.Error(), "open") {
		t.Errorf("error %q does not mention the failing open", err)
	}
}
