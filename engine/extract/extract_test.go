package extract

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/overdrivelabs/dtcpipe/engine/domain"
	"github.com/overdrivelabs/dtcpipe/pkg/db"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T) (*db.Pool, context.Context) {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping extract integration test")
	}
	ctx := context.Background()
	pool, err := db.Open(ctx, db.DefaultConfig(dsn))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool, ctx
}

type scriptedClient struct {
	response string
	calls    int
}

func (c *scriptedClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	c.calls++
	return c.response, nil
}

func TestProcessOnlyCallsChunksPastRelevanceGate(t *testing.T) {
	pool, ctx := newTestPool(t)

	docID := uuid.New().String()
	_, err := pool.Q(ctx).Exec(ctx,
		`INSERT INTO documents (id, title, content_hash, mime_type, blob_location, stage, created_at, updated_at)
		 VALUES ($1, 'doc', md5(random()::text), 'text/plain', 'loc', $2, now(), now())`,
		docID, domain.StageExtracting)
	require.NoError(t, err)

	eligible := uuid.New().String()
	belowGate := uuid.New().String()
	for i, c := range []struct {
		id        string
		relevance float64
	}{{eligible, 0.5}, {belowGate, 0.1}} {
		_, err := pool.Q(ctx).Exec(ctx,
			`INSERT INTO chunks (id, document_id, index, text, start_offset, end_offset, token_count, created_at)
			 VALUES ($1, $2, $3, 'text', 0, 4, 1, now())`, c.id, docID, i)
		require.NoError(t, err)
		_, err = pool.Q(ctx).Exec(ctx,
			`INSERT INTO chunk_evaluations (chunk_id, trust_score, relevance_score, automotive_domain, reasoning, model_id, evaluated_at)
			 VALUES ($1, 0.8, $2, 'obd', 'r', 'm', now())`, c.id, c.relevance)
		require.NoError(t, err)
	}

	client := &scriptedClient{response: `{
		"dtc_codes": [{"code": "p0301", "description": "misfire", "category": "engine", "severity": "high"}],
		"document_category": "diagnostic_guide"
	}`}

	stage := &Stage{Client: client}
	require.NoError(t, stage.Process(ctx, pool, docID))
	require.Equal(t, 1, client.calls)

	var code string
	row := pool.Q(ctx).QueryRow(ctx, `SELECT code FROM staged_dtc_codes WHERE document_id = $1`, docID)
	require.NoError(t, row.Scan(&code))
	require.Equal(t, "P0301", code)

	var category string
	row = pool.Q(ctx).QueryRow(ctx, `SELECT document_category FROM documents WHERE id = $1`, docID)
	require.NoError(t, row.Scan(&category))
	require.Equal(t, "diagnostic_guide", category)
}

func TestFilterValidDTCCodesDropsInvalid(t *testing.T) {
	entries := []domain.DTCCodeEntry{
		{Code: "p0301"},
		{Code: "ZZZZZ"},
		{Code: "b1234"},
	}
	filtered := filterValidDTCCodes(entries)
	require.Len(t, filtered, 2)
	require.Equal(t, "P0301", filtered[0].Code)
	require.Equal(t, "B1234", filtered[1].Code)
}
