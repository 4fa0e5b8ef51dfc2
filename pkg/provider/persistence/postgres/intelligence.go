package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MrWong99/callbroker/pkg/types"
)

// UpdateIntelligence implements persistence.Provider. It upserts snap as the
// current intelligence snapshot for id.
func (s *Store) UpdateIntelligence(ctx context.Context, id types.CallID, snap types.IntelligenceSnapshot) error {
	entitiesJSON, err := json.Marshal(snap.Entities)
	if err != nil {
		return fmt.Errorf("postgres: marshal entities: %w", err)
	}
	tacticsJSON, err := json.Marshal(snap.Tactics)
	if err != nil {
		return fmt.Errorf("postgres: marshal tactics: %w", err)
	}

	const q = `
		INSERT INTO call_intelligence (call_id, entities, tactics, threat_score, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (call_id) DO UPDATE SET
		    entities     = EXCLUDED.entities,
		    tactics      = EXCLUDED.tactics,
		    threat_score = EXCLUDED.threat_score,
		    updated_at   = now()`

	_, err = s.pool.Exec(ctx, q, string(id), entitiesJSON, tacticsJSON, snap.ThreatScore)
	if err != nil {
		return fmt.Errorf("postgres: update intelligence: %w", err)
	}
	return nil
}
