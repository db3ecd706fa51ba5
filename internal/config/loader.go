package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt_offline": {"whisper"},
	"stt_online":  {"deepgram"},
	"tts":         {"coqui"},
	"llm":         {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings":  {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills empty fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Assistant.Name == "" {
		cfg.Assistant.Name = "Lala"
	}
	if cfg.Assistant.Language == "" {
		cfg.Assistant.Language = "es"
	}
	if cfg.Assistant.LogLevel == "" {
		cfg.Assistant.LogLevel = LogInfo
	}
	if cfg.Assistant.CaptureDeadlineSeconds == 0 {
		cfg.Assistant.CaptureDeadlineSeconds = 10
	}
	if cfg.Assistant.OpsListenAddr == "" {
		cfg.Assistant.OpsListenAddr = ":8090"
	}
	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = BackendSQLite
	}
	if cfg.Memory.SQLitePath == "" {
		cfg.Memory.SQLitePath = "lala.db"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Assistant
	if cfg.Assistant.WakePhrase == "" {
		errs = append(errs, errors.New("assistant.wake_phrase is required"))
	}
	if cfg.Assistant.LogLevel != "" && !cfg.Assistant.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("assistant.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Assistant.LogLevel))
	}
	if cfg.Assistant.CaptureDeadlineSeconds < 0 {
		errs = append(errs, fmt.Errorf("assistant.capture_deadline_seconds %d is negative", cfg.Assistant.CaptureDeadlineSeconds))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt_offline", cfg.Providers.STTOffline.Name)
	validateProviderName("stt_online", cfg.Providers.STTOnline.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// The offline recognizer is the connectivity floor.
	if cfg.Providers.STTOffline.Name == "" {
		errs = append(errs, errors.New("providers.stt_offline is required; the assistant must work without connectivity"))
	}
	if cfg.Providers.STTOnline.Name == "deepgram" && cfg.Providers.STTOnline.APIKey == "" {
		errs = append(errs, errors.New("providers.stt_online: deepgram requires an api_key"))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; unknown commands get a fixed fallback answer")
	}

	// Weather bounds
	if cfg.Weather.Latitude < -90 || cfg.Weather.Latitude > 90 {
		errs = append(errs, fmt.Errorf("weather.latitude %.4f is out of range [-90, 90]", cfg.Weather.Latitude))
	}
	if cfg.Weather.Longitude < -180 || cfg.Weather.Longitude > 180 {
		errs = append(errs, fmt.Errorf("weather.longitude %.4f is out of range [-180, 180]", cfg.Weather.Longitude))
	}

	// Memory
	if cfg.Memory.Backend != "" && !cfg.Memory.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("memory.backend %q is invalid; valid values: sqlite, postgres", cfg.Memory.Backend))
	}
	if cfg.Memory.Backend == BackendPostgres && cfg.Memory.PostgresDSN == "" {
		errs = append(errs, errors.New("memory.postgres_dsn is required when memory.backend is postgres"))
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Memory.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but memory.embedding_dimensions is not set; using the provider's dimension, or 1536")
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Memory.Backend != BackendPostgres {
		slog.Warn("providers.embeddings is configured but the sqlite backend has no semantic index; embeddings will be unused")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
