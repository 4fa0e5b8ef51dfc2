package postgres

import (
	"context"
	"fmt"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/callbroker/pkg/provider/persistence"
	"github.com/MrWong99/callbroker/pkg/types"
)

// IndexEntity implements persistence.Provider. It stores entity with its
// embedding under id for future similarity search.
func (s *Store) IndexEntity(ctx context.Context, id types.CallID, entity types.Entity, embedding []float32) error {
	const q = `
		INSERT INTO call_entities (call_id, entity_type, value, raw_text, embedding)
		VALUES ($1, $2, $3, $4, $5)`

	vec := pgvector.NewVector(embedding)
	_, err := s.pool.Exec(ctx, q, string(id), string(entity.Type), entity.Value, entity.RawText, vec)
	if err != nil {
		return fmt.Errorf("postgres: index entity: %w", err)
	}
	return nil
}

// SearchSimilarEntities implements persistence.Provider. It finds the topK
// indexed entities whose embeddings are closest (cosine distance) to
// embedding, ordered most-similar first.
func (s *Store) SearchSimilarEntities(ctx context.Context, embedding []float32, topK int) ([]persistence.EntityMatch, error) {
	const q = `
		SELECT call_id, entity_type, value, raw_text, embedding <=> $1 AS distance
		FROM   call_entities
		ORDER  BY embedding <=> $1
		LIMIT  $2`

	queryVec := pgvector.NewVector(embedding)
	rows, err := s.pool.Query(ctx, q, queryVec, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres: search similar entities: %w", err)
	}
	defer rows.Close()

	var matches []persistence.EntityMatch
	for rows.Next() {
		var (
			callID   string
			entType  string
			value    string
			rawText  string
			distance float64
		)
		if err := rows.Scan(&callID, &entType, &value, &rawText, &distance); err != nil {
			return nil, fmt.Errorf("postgres: scan entity match: %w", err)
		}
		matches = append(matches, persistence.EntityMatch{
			Entity: types.Entity{
				Type:    types.EntityType(entType),
				Value:   value,
				RawText: rawText,
			},
			CallID:   types.CallID(callID),
			Distance: distance,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: search similar entities: %w", err)
	}
	return matches, nil
}
