package evaluate

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
		t.Skip("TEST_POSTGRES_DSN not set; skipping evaluate integration test")
	}
	ctx := context.Background()
	pool, err := db.Open(ctx, db.DefaultConfig(dsn))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool, ctx
}

type scriptedClient struct {
	responses map[string]string
	calls     int
}

func (c *scriptedClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	c.calls++
	if resp, ok := c.responses[userPrompt]; ok {
		return resp, nil
	}
	return `garbage not json`, nil
}

func TestProcessUpsertsEvaluationPerChunk(t *testing.T) {
	pool, ctx := newTestPool(t)

	docID := uuid.New().String()
	_, err := pool.Q(ctx).Exec(ctx,
		`INSERT INTO documents (id, title, content_hash, mime_type, blob_location, stage, created_at, updated_at)
		 VALUES ($1, 'doc', md5(random()::text), 'text/plain', 'loc', $2, now(), now())`,
		docID, domain.StageEvaluating)
	require.NoError(t, err)

	chunkGood := uuid.New().String()
	chunkBad := uuid.New().String()
	_, err = pool.Q(ctx).Exec(ctx,
		`INSERT INTO chunks (id, document_id, index, text, start_offset, end_offset, token_count, created_at)
		 VALUES ($1, $2, 0, 'oem procedure text', 0, 18, 3, now())`, chunkGood, docID)
	require.NoError(t, err)
	_, err = pool.Q(ctx).Exec(ctx,
		`INSERT INTO chunks (id, document_id, index, text, start_offset, end_offset, token_count, created_at)
		 VALUES ($1, $2, 1, 'spam text', 18, 27, 2, now())`, chunkBad, docID)
	require.NoError(t, err)

	client := &scriptedClient{responses: map[string]string{
		"oem procedure text": `{"trust_score":0.95,"relevance_score":0.9,"automotive_domain":"obd","reasoning":"OEM procedure"}`,
	}}

	stage := &Stage{Client: client, ModelID: "test-model"}
	require.NoError(t, stage.Process(ctx, pool, docID))
	require.Equal(t, 2, client.calls)

	var trust, relevance float64
	var domainTag string
	row := pool.Q(ctx).QueryRow(ctx,
		`SELECT trust_score, relevance_score, automotive_domain FROM chunk_evaluations WHERE chunk_id = $1`, chunkGood)
	require.NoError(t, row.Scan(&trust, &relevance, &domainTag))
	require.InDelta(t, 0.95, trust, 0.001)
	require.Equal(t, "obd", domainTag)

	row = pool.Q(ctx).QueryRow(ctx,
		`SELECT trust_score, relevance_score, automotive_domain FROM chunk_evaluations WHERE chunk_id = $1`, chunkBad)
	require.NoError(t, row.Scan(&trust, &relevance, &domainTag))
	require.Equal(t, 0.0, trust)
	require.Equal(t, "unknown", domainTag)
}
