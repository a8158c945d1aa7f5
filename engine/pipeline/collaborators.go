package pipeline

import (
	"context"
	"fmt"

	"github.com/overdrivelabs/dtcpipe/engine/domain"
	"github.com/overdrivelabs/dtcpipe/pkg/db"
	"github.com/overdrivelabs/dtcpipe/pkg/queue"
	"github.com/google/uuid"
)

// CrawlSubmitter is what an external API or autonomous orchestrator layer
// would call to enqueue crawl work. No HTTP handler, router, or server
// implements this in this module — those surfaces are out of scope.
type CrawlSubmitter interface {
	Submit(ctx context.Context, url string, maxDepth int) (requestID string, err error)
}

// CoverageReporter is what an external API or autonomous orchestrator layer
// would call to read a document's processing status.
type CoverageReporter interface {
	DocumentStatus(ctx context.Context, docID string) (stage string, errMessage string, err error)
}

// Submitter is the library-level implementation of CrawlSubmitter: it
// inserts a crawl-request row and pushes it onto jobs:crawl. It carries no
// HTTP surface of its own.
type Submitter struct {
	Pool  *db.Pool
	Queue *queue.Queue
}

func (s *Submitter) Submit(ctx context.Context, url string, maxDepth int) (string, error) {
	id := uuid.New().String()
	_, err := s.Pool.Q(ctx).Exec(ctx,
		`INSERT INTO crawl_requests (id, url, status, depth, max_depth, created_at, updated_at)
		 VALUES ($1, $2, $3, 0, $4, now(), now())`,
		id, url, domain.CrawlStatusPending, maxDepth)
	if err != nil {
		return "", fmt.Errorf("pipeline: insert crawl request: %w", err)
	}
	if err := s.Queue.Push(ctx, domain.QueueCrawl, id); err != nil {
		return "", fmt.Errorf("pipeline: push crawl request: %w", err)
	}
	return id, nil
}

// Reporter is the library-level implementation of CoverageReporter.
type Reporter struct {
	Pool *db.Pool
}

func (r *Reporter) DocumentStatus(ctx context.Context, docID string) (string, string, error) {
	var stage, errMessage string
	row := r.Pool.Q(ctx).QueryRow(ctx,
		`SELECT stage, coalesce(error_message, '') FROM documents WHERE id = $1`, docID)
	if err := row.Scan(&stage, &errMessage); err != nil {
		return "", "", fmt.Errorf("pipeline: document status: %w", err)
	}
	return stage, errMessage, nil
}
