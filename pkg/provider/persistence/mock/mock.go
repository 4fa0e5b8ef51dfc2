// Package mock provides an in-memory persistence.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callbroker/pkg/provider/persistence"
	"github.com/MrWong99/callbroker/pkg/types"
)

// Provider records every call made to it in memory.
type Provider struct {
	mu           sync.Mutex
	Transcripts  map[types.CallID][]types.TranscriptEntry
	Intelligence map[types.CallID]types.IntelligenceSnapshot
	Indexed      []IndexedEntity
	SearchResult []persistence.EntityMatch
	Err          error
}

// IndexedEntity is one recorded IndexEntity call.
type IndexedEntity struct {
	CallID    types.CallID
	Entity    types.Entity
	Embedding []float32
}

// New returns a ready-to-use Provider.
func New() *Provider {
	return &Provider{
		Transcripts:  make(map[types.CallID][]types.TranscriptEntry),
		Intelligence: make(map[types.CallID]types.IntelligenceSnapshot),
	}
}

func (p *Provider) AppendTranscript(_ context.Context, id types.CallID, entry types.TranscriptEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Transcripts[id] = append(p.Transcripts[id], entry)
	return nil
}

func (p *Provider) UpdateIntelligence(_ context.Context, id types.CallID, snap types.IntelligenceSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Intelligence[id] = snap
	return nil
}

func (p *Provider) IndexEntity(_ context.Context, id types.CallID, entity types.Entity, embedding []float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Indexed = append(p.Indexed, IndexedEntity{CallID: id, Entity: entity, Embedding: embedding})
	return nil
}

func (p *Provider) SearchSimilarEntities(_ context.Context, _ []float32, topK int) ([]persistence.EntityMatch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	if topK > 0 && topK < len(p.SearchResult) {
		return p.SearchResult[:topK], nil
	}
	return p.SearchResult, nil
}

var _ persistence.Provider = (*Provider)(nil)
