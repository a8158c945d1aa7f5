package crawl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/overdrivelabs/dtcpipe/engine/domain"
	"github.com/overdrivelabs/dtcpipe/pkg/blob"
	"github.com/overdrivelabs/dtcpipe/pkg/db"
	"github.com/overdrivelabs/dtcpipe/pkg/queue"
)

// Stage implements the Crawl stage's Process function. A crawl-request ID
// comes off jobs:crawl; a document row (and possibly new crawl-request
// rows for discovered links) are what it produces.
type Stage struct {
	Fetcher  *Fetcher
	Blob     *blob.Store
	Queue    *queue.Queue
	MaxDepth int
}

// Process fetches, extracts, dedups, stores, and advances one crawl
// request. It returns a domain.StageError-tagged error on failure so the
// pipeline runtime can decide whether to mark the request terminal.
func (s *Stage) Process(ctx context.Context, pool *db.Pool, requestID string) error {
	var req domain.CrawlRequest
	row := pool.Q(ctx).QueryRow(ctx,
		`SELECT url, depth, max_depth FROM crawl_requests WHERE id = $1`, requestID)
	if err := row.Scan(&req.URL, &req.Depth, &req.MaxDepth); err != nil {
		return domain.Poison(fmt.Errorf("crawl: unknown request %s: %w", requestID, err))
	}
	req.ID = requestID

	result, err := s.Fetcher.Fetch(ctx, req.URL)
	if err != nil {
		s.markRequestFailed(ctx, pool, requestID, err.Error())
		return err
	}

	text, err := extractText(result.Body, result.MIME)
	if err != nil {
		s.markRequestFailed(ctx, pool, requestID, err.Error())
		return err
	}

	hash := contentHash(text)

	var existingID string
	dupRow := pool.Q(ctx).QueryRow(ctx, `SELECT id FROM documents WHERE content_hash = $1`, hash)
	switch scanErr := dupRow.Scan(&existingID); {
	case scanErr == nil:
		s.markRequestCompleted(ctx, pool, requestID)
		return nil
	case !errors.Is(scanErr, pgx.ErrNoRows):
		return domain.Transient(fmt.Errorf("crawl: dedup lookup: %w", scanErr))
	}

	title := extractTitle(result.Body, result.MIME, text)
	docID := uuid.New().String()
	key := docID + ".txt"

	location, err := s.Blob.Put(ctx, key, []byte(text), "text/plain; charset=utf-8")
	if err != nil {
		return domain.Transient(fmt.Errorf("crawl: blob put: %w", err))
	}

	err = pool.WithTx(ctx, func(ctx context.Context) error {
		_, err := pool.Q(ctx).Exec(ctx,
			`INSERT INTO documents (id, title, source_url, content_hash, mime_type, blob_location, stage, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())`,
			docID, title, req.URL, hash, result.MIME, string(location), domain.StageChunking)
		if err != nil {
			return err
		}

		if req.Depth < req.MaxDepth && strings.HasPrefix(result.MIME, "text/html") {
			if links, linkErr := discoverLinks(result.Body, req.URL); linkErr == nil {
				for _, link := range links {
					_, err := pool.Q(ctx).Exec(ctx,
						`INSERT INTO crawl_requests (id, url, status, depth, max_depth, parent_url, created_at, updated_at)
						 VALUES ($1, $2, $3, $4, $5, $6, now(), now())
						 ON CONFLICT (url) DO NOTHING`,
						uuid.New().String(), link, domain.CrawlStatusPending, req.Depth+1, req.MaxDepth, req.URL)
					if err != nil {
						return err
					}
				}
			}
		}

		_, err = pool.Q(ctx).Exec(ctx,
			`UPDATE crawl_requests SET status = $1, updated_at = now() WHERE id = $2`,
			domain.CrawlStatusCompleted, requestID)
		return err
	})
	if err != nil {
		return domain.Transient(fmt.Errorf("crawl: commit document: %w", err))
	}

	if err := s.Queue.Push(ctx, domain.QueueChunk, docID); err != nil {
		return domain.Transient(fmt.Errorf("crawl: push to chunk queue: %w", err))
	}
	return nil
}

func (s *Stage) markRequestFailed(ctx context.Context, pool *db.Pool, requestID, message string) {
	_, _ = pool.Q(ctx).Exec(ctx,
		`UPDATE crawl_requests SET status = $1, error = $2, updated_at = now() WHERE id = $3`,
		domain.CrawlStatusFailed, message, requestID)
}

func (s *Stage) markRequestCompleted(ctx context.Context, pool *db.Pool, requestID string) {
	_, _ = pool.Q(ctx).Exec(ctx,
		`UPDATE crawl_requests SET status = $1, updated_at = now() WHERE id = $2`,
		domain.CrawlStatusCompleted, requestID)
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
