package crawl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

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
		t.Skip("TEST_POSTGRES_DSN / TEST_NATS_URL not set; skipping crawl integration test")
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, db.DefaultConfig(dsn))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	q, err := queue.New(ctx, natsURL, domain.AllQueues)
	require.NoError(t, err)

	return pool, q, ctx
}

func TestProcessFetchesStoresAndAdvances(t *testing.T) {
	pool, q, ctx := newTestRig(t)

	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>P0301 Guide</title></head>
			<body><p>Cylinder 1 misfire. Check the ignition coil.</p></body></html>`))
	}))
	defer page.Close()

	blobSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer blobSrv.Close()

	reqID := uuid.New().String()
	_, err := pool.Q(ctx).Exec(ctx,
		`INSERT INTO crawl_requests (id, url, status, depth, max_depth, created_at, updated_at)
		 VALUES ($1, $2, $3, 0, 1, now(), now())`,
		reqID, page.URL, domain.CrawlStatusPending)
	require.NoError(t, err)

	stage := &Stage{
		Fetcher: NewFetcher(5 * time.Second),
		Blob:    blob.New(blobSrv.URL, "docs", "test-key"),
		Queue:   q,
	}

	require.NoError(t, stage.Process(ctx, pool, reqID))

	var status string
	row := pool.Q(ctx).QueryRow(ctx, `SELECT status FROM crawl_requests WHERE id = $1`, reqID)
	require.NoError(t, row.Scan(&status))
	require.Equal(t, domain.CrawlStatusCompleted, status)

	docID, err := q.Pop(ctx, domain.QueueChunk, 2*time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, docID)
}
