package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/callbroker/pkg/provider/persistence/postgres"
	"github.com/MrWong99/callbroker/pkg/types"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if CALLBROKER_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("CALLBROKER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CALLBROKER_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh postgres.Store with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	store, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS call_entities CASCADE",
		"DROP TABLE IF EXISTS call_intelligence CASCADE",
		"DROP TABLE IF EXISTS call_transcripts CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("dropSchema %q: %v", stmt, err)
		}
	}
}

func TestAppendTranscript_PersistsEntries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := types.CallID("call-pg-1")
	entry := types.TranscriptEntry{
		Role:       types.RoleScammer,
		Text:       "send the OTP to verify your account",
		Language:   "en",
		Confidence: 0.91,
		Timestamp:  12 * time.Second,
		Duration:   3 * time.Second,
	}

	if err := store.AppendTranscript(ctx, id, entry); err != nil {
		t.Fatalf("AppendTranscript: %v", err)
	}
}

func TestUpdateIntelligence_UpsertsSnapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := types.CallID("call-pg-2")
	snap := types.IntelligenceSnapshot{
		Entities:    []types.Entity{{Type: types.EntityKeyword, Value: "otp"}},
		Tactics:     []types.ThreatTactic{types.TacticUrgency},
		ThreatScore: 40,
	}

	if err := store.UpdateIntelligence(ctx, id, snap); err != nil {
		t.Fatalf("UpdateIntelligence: %v", err)
	}

	snap.ThreatScore = 70
	if err := store.UpdateIntelligence(ctx, id, snap); err != nil {
		t.Fatalf("UpdateIntelligence (upsert): %v", err)
	}
}

func TestIndexEntityAndSearchSimilarEntities(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := types.CallID("call-pg-3")
	entity := types.Entity{Type: types.EntityKeyword, Value: "otp", RawText: "O T P"}
	embedding := []float32{1, 0, 0, 0}

	if err := store.IndexEntity(ctx, id, entity, embedding); err != nil {
		t.Fatalf("IndexEntity: %v", err)
	}

	matches, err := store.SearchSimilarEntities(ctx, embedding, 5)
	if err != nil {
		t.Fatalf("SearchSimilarEntities: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected at least one match")
	}
	if matches[0].Entity.Value != "otp" {
		t.Errorf("top match value = %q, want %q", matches[0].Entity.Value, "otp")
	}
}
