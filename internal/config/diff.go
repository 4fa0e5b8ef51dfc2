package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ProvidersChanged []string // provider categories whose entry changed, e.g. "stt", "llm"

	BrokerChanged bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !reflect.DeepEqual(old.Providers.STT, new.Providers.STT) {
		d.ProvidersChanged = append(d.ProvidersChanged, "stt")
	}
	if !reflect.DeepEqual(old.Providers.LLM, new.Providers.LLM) {
		d.ProvidersChanged = append(d.ProvidersChanged, "llm")
	}
	if !reflect.DeepEqual(old.Providers.Embeddings, new.Providers.Embeddings) {
		d.ProvidersChanged = append(d.ProvidersChanged, "embeddings")
	}
	if !reflect.DeepEqual(old.Providers.VAD, new.Providers.VAD) {
		d.ProvidersChanged = append(d.ProvidersChanged, "vad")
	}
	if !reflect.DeepEqual(old.Providers.TTS, new.Providers.TTS) {
		d.ProvidersChanged = append(d.ProvidersChanged, "tts")
	}
	if !reflect.DeepEqual(old.Providers.URLScan, new.Providers.URLScan) {
		d.ProvidersChanged = append(d.ProvidersChanged, "urlscan")
	}
	if !reflect.DeepEqual(old.Providers.Persistence, new.Providers.Persistence) {
		d.ProvidersChanged = append(d.ProvidersChanged, "persistence")
	}

	if old.Broker != new.Broker {
		d.BrokerChanged = true
	}

	return d
}
