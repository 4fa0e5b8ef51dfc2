// Package persistence defines the durable-storage collaborator used to
// archive call transcripts and intelligence snapshots, and to back a
// semantic keyword-similarity booster over previously seen entities.
package persistence

import (
	"context"

	"github.com/MrWong99/callbroker/pkg/types"
)

// EntityMatch is one result of a similarity search over indexed entities.
type EntityMatch struct {
	Entity   types.Entity
	CallID   types.CallID
	Distance float64 // cosine distance; smaller is more similar
}

// Provider archives call activity and serves entity-similarity lookups. All
// methods are expected to be safe for concurrent use across calls.
type Provider interface {
	// AppendTranscript durably records one committed transcript entry for id.
	AppendTranscript(ctx context.Context, id types.CallID, entry types.TranscriptEntry) error

	// UpdateIntelligence durably records the latest intelligence snapshot for id.
	UpdateIntelligence(ctx context.Context, id types.CallID, snap types.IntelligenceSnapshot) error

	// IndexEntity stores entity with its embedding for id, for future
	// similarity search. Used to recognise fuzzy variants of previously
	// seen scam-trigger entities across calls.
	IndexEntity(ctx context.Context, id types.CallID, entity types.Entity, embedding []float32) error

	// SearchSimilarEntities returns the topK indexed entities whose
	// embeddings are closest to embedding.
	SearchSimilarEntities(ctx context.Context, embedding []float32, topK int) ([]EntityMatch, error)
}
