// Package postgres provides a PostgreSQL-backed implementation of
// persistence.Provider: call transcripts and intelligence snapshots land in
// plain relational tables, and scam-trigger entities are indexed with a
// pgvector HNSW index for similarity search across calls.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it automatically via CREATE EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS call_transcripts (
    id          BIGSERIAL    PRIMARY KEY,
    call_id     TEXT         NOT NULL,
    role        TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    language    TEXT         NOT NULL DEFAULT '',
    confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
    ts_offset_ns BIGINT      NOT NULL DEFAULT 0,
    duration_ns BIGINT       NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_call_transcripts_call_id
    ON call_transcripts (call_id);

CREATE INDEX IF NOT EXISTS idx_call_transcripts_call_created
    ON call_transcripts (call_id, created_at);
`

const ddlIntelligence = `
CREATE TABLE IF NOT EXISTS call_intelligence (
    call_id      TEXT         PRIMARY KEY,
    entities     JSONB        NOT NULL DEFAULT '[]',
    tactics      JSONB        NOT NULL DEFAULT '[]',
    threat_score INTEGER      NOT NULL DEFAULT 0,
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

func ddlEntities(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS call_entities (
    id          BIGSERIAL    PRIMARY KEY,
    call_id     TEXT         NOT NULL,
    entity_type TEXT         NOT NULL,
    value       TEXT         NOT NULL,
    raw_text    TEXT         NOT NULL DEFAULT '',
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_call_entities_call_id
    ON call_entities (call_id);

CREATE INDEX IF NOT EXISTS idx_call_entities_embedding
    ON call_entities USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables and extensions exist. It is
// idempotent and safe to call on every process start.
//
// embeddingDimensions must match the configured embeddings provider's output
// dimension (e.g. 1536 for OpenAI text-embedding-3-small).
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{ddlTranscripts, ddlIntelligence, ddlEntities(embeddingDimensions)}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}
