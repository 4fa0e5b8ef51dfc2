package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/callbroker/internal/config"
)

func TestValidate_MissingSTTIsRequired(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: openai
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing providers.stt, got nil")
	}
	if !strings.Contains(err.Error(), "providers.stt") {
		t.Errorf("error should mention providers.stt, got: %v", err)
	}
}

func TestValidate_IntelConcurrencyBelowOne(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  stt:
    name: deepgram
broker:
  intel_concurrency: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative intel_concurrency, got nil")
	}
	if !strings.Contains(err.Error(), "intel_concurrency") {
		t.Errorf("error should mention intel_concurrency, got: %v", err)
	}
}

func TestValidate_LogLevelDefaultsEmptyIsAllowed(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  stt:
    name: deepgram
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error for unset log_level: %v", err)
	}
}

func TestValidate_ValidConfigPasses(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: debug
providers:
  stt:
    name: deepgram
  llm:
    name: openai
  embeddings:
    name: openai
  persistence:
    name: postgres
broker:
  intel_concurrency: 2
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_EmbeddingsWithoutPersistenceStillLoads(t *testing.T) {
	t.Parallel()
	// Embeddings without persistence only warns via slog; it must not fail Load.
	yaml := `
providers:
  stt:
    name: deepgram
  embeddings:
    name: openai
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MultipleErrorsJoined(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: noisy
broker:
  intel_concurrency: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "providers.stt") {
		t.Errorf("error should mention providers.stt, got: %v", err)
	}
	if !strings.Contains(errStr, "intel_concurrency") {
		t.Errorf("error should mention intel_concurrency, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal(`ValidProviderNames["llm"] should not be empty`)
	}
	found := false
	for _, n := range llmNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error(`ValidProviderNames["llm"] should contain "openai"`)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/path/callbroker.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}
