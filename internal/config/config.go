// Package config provides the configuration schema, loader, and provider
// registry for the live call broker.
package config

import "time"

// Config is the root configuration structure for the call broker.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Broker        BrokerConfig        `yaml:"broker"`
	Collaborators CollaboratorsConfig `yaml:"collaborators"`
}

// ServerConfig holds network and logging settings for the broker's HTTP
// gateway.
type ServerConfig struct {
	// ListenAddr is the TCP address the gateway listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// LogLevel selects log/slog verbosity for the gateway's logger.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is one of the recognised log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	default:
		return false
	}
}

// ProvidersConfig declares which provider implementation to use for each
// collaborator category. Each field selects a named provider registered in
// the [Registry].
type ProvidersConfig struct {
	STT         ProviderEntry `yaml:"stt"`
	LLM         ProviderEntry `yaml:"llm"`
	Embeddings  ProviderEntry `yaml:"embeddings"`
	VAD         ProviderEntry `yaml:"vad"`
	TTS         ProviderEntry `yaml:"tts"`
	URLScan     ProviderEntry `yaml:"urlscan"`
	Persistence ProviderEntry `yaml:"persistence"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "nova-3").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// BrokerConfig holds call-lifecycle and relay tuning parameters.
type BrokerConfig struct {
	// ReconnectGrace is how long a call waits in CallDraining for a
	// disconnected leg to reattach before the session ends.
	ReconnectGrace time.Duration `yaml:"reconnect_grace"`

	// IntelConcurrency bounds concurrent intelligence-extraction work per
	// session (golang.org/x/sync/semaphore.Weighted).
	IntelConcurrency int64 `yaml:"intel_concurrency"`

	// EgressQueueCapacity bounds the per-leg egress envelope queue. Zero
	// selects broker.DefaultEgressQueueCapacity (256).
	EgressQueueCapacity int `yaml:"egress_queue_capacity"`
}

// CollaboratorsConfig holds the resilience settings of the config file
// (spec.md §7's CollaboratorTransient/CollaboratorFatal distinction).
//
// These settings are loaded and FailureThreshold is defaulted, but no
// collaborator lane reads them: a failed collaborator call is not retried,
// and no circuit breaker is configured from them.
type CollaboratorsConfig struct {
	// RetryOnce is loaded from retry_once; no lane reads it.
	RetryOnce bool `yaml:"retry_once"`

	// FailureThreshold is loaded from failure_threshold and defaults to 3;
	// no circuit breaker is configured from it.
	FailureThreshold int `yaml:"failure_threshold"`

	// CooldownPeriod is loaded from cooldown_period; no circuit breaker is
	// configured from it.
	CooldownPeriod time.Duration `yaml:"cooldown_period"`
}
