package pipeline

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/overdrivelabs/dtcpipe/engine/domain"
	"github.com/overdrivelabs/dtcpipe/pkg/db"
	"github.com/overdrivelabs/dtcpipe/pkg/queue"
	"github.com/stretchr/testify/require"
)

// newTestRig connects to a real Postgres and NATS JetStream instance named
// by TEST_POSTGRES_DSN / TEST_NATS_URL. It is skipped otherwise, matching
// how integration-only suites are gated elsewhere in this module.
func newTestRig(t *testing.T) (*db.Pool, *queue.Queue, context.Context) {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	natsURL := os.Getenv("TEST_NATS_URL")
	if dsn == "" || natsURL == "" {
		t.Skip("TEST_POSTGRES_DSN / TEST_NATS_URL not set; skipping pipeline integration test")
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, db.DefaultConfig(dsn))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	q, err := queue.New(ctx, natsURL, domain.AllQueues)
	require.NoError(t, err)

	return pool, q, ctx
}

func TestRunnerAdvanceCommitsBeforePush(t *testing.T) {
	pool, q, ctx := newTestRig(t)

	docID := uuid.New().String()
	_, err := pool.Q(ctx).Exec(ctx,
		`INSERT INTO documents (id, title, content_hash, mime_type, blob_location, stage, created_at, updated_at)
		 VALUES ($1, 'test doc', $2, 'text/plain', 'docs/'||$1, $3, now(), now())`,
		docID, uuid.New().String(), domain.StageChunking)
	require.NoError(t, err)

	r := NewRunner(domain.StageChunking, pool, q, func(ctx context.Context, pool *db.Pool, docID string) error {
		return nil
	}, nil)

	require.NoError(t, r.advance(ctx, docID))

	var stage string
	row := pool.Q(ctx).QueryRow(ctx, `SELECT stage FROM documents WHERE id = $1`, docID)
	require.NoError(t, row.Scan(&stage))
	require.Equal(t, string(domain.StageEmbedding), stage)

	popped, err := q.Pop(ctx, domain.QueueEmbed, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, docID, popped)
}

func TestRunnerMarksDocumentErrorOnPermanentFailure(t *testing.T) {
	pool, q, ctx := newTestRig(t)

	docID := uuid.New().String()
	_, err := pool.Q(ctx).Exec(ctx,
		`INSERT INTO documents (id, title, content_hash, mime_type, blob_location, stage, created_at, updated_at)
		 VALUES ($1, 'test doc', $2, 'text/plain', 'docs/'||$1, $3, now(), now())`,
		docID, uuid.New().String(), domain.StageChunking)
	require.NoError(t, err)

	r := NewRunner(domain.StageChunking, pool, q, nil, nil)
	r.markError(ctx, docID, "boom")

	var stage, msg string
	row := pool.Q(ctx).QueryRow(ctx, `SELECT stage, error_message FROM documents WHERE id = $1`, docID)
	require.NoError(t, row.Scan(&stage, &msg))
	require.Equal(t, string(domain.StageError), stage)
	require.Equal(t, "boom", msg)
}

func TestFindStuckDocuments(t *testing.T) {
	pool, _, ctx := newTestRig(t)

	docID := uuid.New().String()
	_, err := pool.Q(ctx).Exec(ctx,
		`INSERT INTO documents (id, title, content_hash, mime_type, blob_location, stage, created_at, updated_at)
		 VALUES ($1, 'stuck doc', $2, 'text/plain', 'docs/'||$1, $3, now() - interval '1 hour', now() - interval '1 hour')`,
		docID, uuid.New().String(), domain.StageEmbedding)
	require.NoError(t, err)

	stuck, err := FindStuckDocuments(ctx, pool, domain.StageEmbedding, 10*time.Minute)
	require.NoError(t, err)
	require.Contains(t, stuck, docID)
}
