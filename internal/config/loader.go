package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider category.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":         {"deepgram", "whisper", "whisper-native"},
	"llm":         {"openai", "anyllm"},
	"embeddings":  {"openai"},
	"vad":         {"silero", "mock"},
	"tts":         {"coqui", "mock"},
	"urlscan":     {"mcptool"},
	"persistence": {"postgres"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in zero-value fields with their operational defaults.
func applyDefaults(cfg *Config) {
	if cfg.Broker.ReconnectGrace <= 0 {
		cfg.Broker.ReconnectGrace = 30 * time.Second
	}
	if cfg.Broker.IntelConcurrency == 0 {
		cfg.Broker.IntelConcurrency = 4
	}
	if cfg.Collaborators.FailureThreshold <= 0 {
		cfg.Collaborators.FailureThreshold = 3
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("urlscan", cfg.Providers.URLScan.Name)
	validateProviderName("persistence", cfg.Providers.Persistence.Name)

	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt is required — the broker cannot transcribe either leg without it"))
	}

	if cfg.Providers.Embeddings.Name != "" && cfg.Providers.Persistence.Name == "" {
		slog.Warn("providers.embeddings is configured but providers.persistence is not; entity similarity search will be unavailable")
	}

	if cfg.Broker.IntelConcurrency < 1 {
		errs = append(errs, fmt.Errorf("broker.intel_concurrency must be at least 1, got %d", cfg.Broker.IntelConcurrency))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given category.
func validateProviderName(category, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[category]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"category", category,
		"name", name,
		"known", known,
	)
}
