// Package embed implements the Embed stage: fill in a vector embedding for
// every chunk of a document that doesn't already have one.
package embed

import (
	"context"
	"fmt"

	"github.com/overdrivelabs/dtcpipe/engine/domain"
	"github.com/overdrivelabs/dtcpipe/pkg/db"
	"github.com/overdrivelabs/dtcpipe/pkg/embedclient"
	"github.com/overdrivelabs/dtcpipe/pkg/metrics"
	"github.com/pgvector/pgvector-go"
)

// Stage implements the Embed stage's Process function. Chunks are embedded
// one at a time, in index order, within a single document: concurrency is
// ruled out here to keep a mid-document failure's blast radius to one
// chunk rather than a batch.
type Stage struct {
	Client embedclient.Client
}

func (s *Stage) Process(ctx context.Context, pool *db.Pool, docID string) error {
	rows, err := pool.Q(ctx).Query(ctx,
		`SELECT id, text FROM chunks WHERE document_id = $1 AND embedding IS NULL ORDER BY index ASC`, docID)
	if err != nil {
		return domain.Transient(fmt.Errorf("embed: query pending chunks for document %s: %w", docID, err))
	}

	type pending struct {
		id   string
		text string
	}
	var chunks []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.text); err != nil {
			rows.Close()
			return domain.Transient(fmt.Errorf("embed: scan chunk: %w", err))
		}
		chunks = append(chunks, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return domain.Transient(fmt.Errorf("embed: iterate chunks: %w", err))
	}
	rows.Close()

	for _, c := range chunks {
		vec, err := s.Client.Embed(ctx, c.text)
		if err != nil {
			metrics.ObserveEmbeddingCall("error")
			return domain.Transient(fmt.Errorf("embed: chunk %s: %w", c.id, err))
		}
		metrics.ObserveEmbeddingCall("ok")

		_, err = pool.Q(ctx).Exec(ctx,
			`UPDATE chunks SET embedding = $1 WHERE id = $2`, pgvector.NewVector(vec), c.id)
		if err != nil {
			return domain.Transient(fmt.Errorf("embed: store embedding for chunk %s: %w", c.id, err))
		}
	}
	return nil
}
