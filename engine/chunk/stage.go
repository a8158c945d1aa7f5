package chunk

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/overdrivelabs/dtcpipe/engine/domain"
	"github.com/overdrivelabs/dtcpipe/pkg/blob"
	"github.com/overdrivelabs/dtcpipe/pkg/db"
	"github.com/overdrivelabs/dtcpipe/pkg/queue"
)

// Stage implements the Chunk stage's Process function: fetch the document's
// extracted text from the blob store, split it into overlapping segments,
// and write them in one transaction. Advancing the document to the next
// stage is left to the pipeline runner.
type Stage struct {
	Blob          *blob.Store
	Queue         *queue.Queue
	SizeChars     int
	OverlapChars  int
}

func (s *Stage) Process(ctx context.Context, pool *db.Pool, docID string) error {
	var location, mimeType string
	row := pool.Q(ctx).QueryRow(ctx,
		`SELECT blob_location, mime_type FROM documents WHERE id = $1`, docID)
	if err := row.Scan(&location, &mimeType); err != nil {
		return domain.Poison(fmt.Errorf("chunk: unknown document %s: %w", docID, err))
	}

	data, err := s.Blob.Get(ctx, blob.Location(location))
	if err != nil {
		return domain.Transient(fmt.Errorf("chunk: fetch blob %s: %w", location, err))
	}

	segments := Split(string(data), s.sizeChars(), s.overlapChars())
	if len(segments) == 0 {
		return domain.Permanent(fmt.Errorf("chunk: document %s produced no segments", docID))
	}

	err = pool.WithTx(ctx, func(ctx context.Context) error {
		for _, seg := range segments {
			_, err := pool.Q(ctx).Exec(ctx,
				`INSERT INTO chunks (id, document_id, index, text, start_offset, end_offset, token_count, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
				uuid.New().String(), docID, seg.Index, seg.Text, seg.StartOffset, seg.EndOffset, seg.TokenCount)
			if err != nil {
				return err
			}
		}
		_, err := pool.Q(ctx).Exec(ctx,
			`UPDATE documents SET chunk_count = $1, updated_at = now() WHERE id = $2`,
			len(segments), docID)
		return err
	})
	if err != nil {
		return domain.Transient(fmt.Errorf("chunk: commit chunks for document %s: %w", docID, err))
	}
	return nil
}

func (s *Stage) sizeChars() int {
	if s.SizeChars > 0 {
		return s.SizeChars
	}
	return DefaultSizeChars
}

func (s *Stage) overlapChars() int {
	if s.OverlapChars > 0 {
		return s.OverlapChars
	}
	return DefaultOverlapChars
}
