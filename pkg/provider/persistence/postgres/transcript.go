package postgres

import (
	"context"
	"fmt"

	"github.com/MrWong99/callbroker/pkg/types"
)

// AppendTranscript implements persistence.Provider. It appends entry to the
// call_transcripts table under id.
func (s *Store) AppendTranscript(ctx context.Context, id types.CallID, entry types.TranscriptEntry) error {
	const q = `
		INSERT INTO call_transcripts
		    (call_id, role, text, language, confidence, ts_offset_ns, duration_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q,
		string(id),
		string(entry.Role),
		entry.Text,
		entry.Language,
		entry.Confidence,
		entry.Timestamp.Nanoseconds(),
		entry.Duration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("postgres: append transcript: %w", err)
	}
	return nil
}
