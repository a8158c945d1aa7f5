package chunk

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/overdrivelabs/dtcpipe/engine/domain"
	"github.com/overdrivelabs/dtcpipe/pkg/blob"
	"github.com/overdrivelabs/dtcpipe/pkg/db"
	"github.com/overdrivelabs/dtcpipe/pkg/queue"
	"github.com/stretchr/testify/require"
)

func newTestRig(t *testing.T) (*db.Pool, *queue.Queue, context.Context) {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	natsURL := os.Getenv("TEST_NATS_URL")
	if dsn == "" || natsURL == "" {
		t.Skip("TEST_POSTGRES_DSN / TEST_NATS_URL not set; skipping chunk integration test")
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, db.DefaultConfig(dsn))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	q, err := queue.New(ctx, natsURL, domain.AllQueues)
	require.NoError(t, err)

	return pool, q, ctx
}

func TestProcessSplitsStoresAndUpdatesChunkCount(t *testing.T) {
	pool, q, ctx := newTestRig(t)

	stored := map[string][]byte{}
	blobSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			data, _ := io.ReadAll(r.Body)
			stored[r.URL.Path] = data
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			data, ok := stored[r.URL.Path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(data)
		}
	}))
	defer blobSrv.Close()

	store := blob.New(blobSrv.URL, "docs", "test-key")
	location, err := store.Put(ctx, "doc.txt", []byte(
		"P0301 indicates a cylinder one misfire. Check the ignition coil and spark plug wiring. "+
			"Replace worn components and clear the code with a scan tool before retesting."),
		"text/plain")
	require.NoError(t, err)

	docID := uuid.New().String()
	_, err = pool.Q(ctx).Exec(ctx,
		`INSERT INTO documents (id, title, content_hash, mime_type, blob_location, stage, created_at, updated_at)
		 VALUES ($1, 'P0301 guide', 'hash', 'text/plain', $2, $3, now(), now())`,
		docID, string(location), domain.StageChunking)
	require.NoError(t, err)

	stage := &Stage{Blob: store, Queue: q}
	require.NoError(t, stage.Process(ctx, pool, docID))

	var chunkCount int
	row := pool.Q(ctx).QueryRow(ctx, `SELECT chunk_count FROM documents WHERE id = $1`, docID)
	require.NoError(t, row.Scan(&chunkCount))
	require.Greater(t, chunkCount, 0)

	var stored2 int
	row = pool.Q(ctx).QueryRow(ctx, `SELECT count(*) FROM chunks WHERE document_id = $1`, docID)
	require.NoError(t, row.Scan(&stored2))
	require.Equal(t, chunkCount, stored2)
}
