package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/callbroker/pkg/provider/embeddings"
	"github.com/MrWong99/callbroker/pkg/provider/llm"
	"github.com/MrWong99/callbroker/pkg/provider/persistence"
	"github.com/MrWong99/callbroker/pkg/provider/stt"
	"github.com/MrWong99/callbroker/pkg/provider/tts"
	"github.com/MrWong99/callbroker/pkg/provider/urlscan"
	"github.com/MrWong99/callbroker/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// collaborator category. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	stt         map[string]func(ProviderEntry) (stt.Provider, error)
	llm         map[string]func(ProviderEntry) (llm.Provider, error)
	embeddings  map[string]func(ProviderEntry) (embeddings.Provider, error)
	vad         map[string]func(ProviderEntry) (vad.Engine, error)
	tts         map[string]func(ProviderEntry) (tts.Provider, error)
	urlscan     map[string]func(ProviderEntry) (urlscan.Provider, error)
	persistence map[string]func(ProviderEntry) (persistence.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:         make(map[string]func(ProviderEntry) (stt.Provider, error)),
		llm:         make(map[string]func(ProviderEntry) (llm.Provider, error)),
		embeddings:  make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
		vad:         make(map[string]func(ProviderEntry) (vad.Engine, error)),
		tts:         make(map[string]func(ProviderEntry) (tts.Provider, error)),
		urlscan:     make(map[string]func(ProviderEntry) (urlscan.Provider, error)),
		persistence: make(map[string]func(ProviderEntry) (persistence.Provider, error)),
	}
}

// RegisterSTT registers an STT provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterURLScan registers a urlscan provider factory under name.
func (r *Registry) RegisterURLScan(name string, factory func(ProviderEntry) (urlscan.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urlscan[name] = factory
}

// RegisterPersistence registers a persistence provider factory under name.
func (r *Registry) RegisterPersistence(name string, factory func(ProviderEntry) (persistence.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persistence[name] = factory
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEmbeddings instantiates an embeddings provider using the factory registered under entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateURLScan instantiates a urlscan provider using the factory registered under entry.Name.
func (r *Registry) CreateURLScan(entry ProviderEntry) (urlscan.Provider, error) {
	r.mu.RLock()
	factory, ok := r.urlscan[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: urlscan/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreatePersistence instantiates a persistence provider using the factory registered under entry.Name.
func (r *Registry) CreatePersistence(entry ProviderEntry) (persistence.Provider, error) {
	r.mu.RLock()
	factory, ok := r.persistence[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: persistence/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
