// Package pipeline provides the shared worker-loop runtime every stage
// binary runs: pop a job, process it, write a processing-log row, advance
// the document to its next stage (commit the stage change, then push to
// the next queue), and support graceful shutdown. The six stage packages
// each supply a StageFunc; this package supplies the loop, logging, and
// the at-most-once advance ordering.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/overdrivelabs/dtcpipe/engine/domain"
	"github.com/overdrivelabs/dtcpipe/pkg/db"
	"github.com/overdrivelabs/dtcpipe/pkg/fn"
	"github.com/overdrivelabs/dtcpipe/pkg/metrics"
	"github.com/overdrivelabs/dtcpipe/pkg/queue"
)

// StageFunc performs one stage's work against the document identified by
// docID. Implementations do their own reads/writes (through db.Pool.WithTx
// where atomicity across multiple rows matters) and return a
// domain.StageError-tagged error to signal how the runtime should react;
// an untagged error is treated as permanent.
type StageFunc func(ctx context.Context, pool *db.Pool, docID string) error

// Runner drives one stage's worker loop.
type Runner struct {
	StageName  domain.Stage
	Pool       *db.Pool
	Queue      *queue.Queue
	Process    StageFunc
	PopTimeout time.Duration
	Logger     *slog.Logger

	// AdvanceFunc runs after a successful Process call. It defaults to the
	// generic advance (commit stage transition, then push the same job ID
	// onto the next queue) — the right behavior for every stage except
	// Crawl, whose job ID is a crawl-request ID rather than a document ID
	// and which manages its own document creation and queue push inside
	// Process. cmd/crawl-worker sets AdvanceFunc to a no-op.
	AdvanceFunc func(ctx context.Context, jobID string) error

	shuttingDown atomic.Bool
}

// NewRunner constructs a Runner with a default 5s pop timeout.
func NewRunner(stageName domain.Stage, pool *db.Pool, q *queue.Queue, process StageFunc, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		StageName:  stageName,
		Pool:       pool,
		Queue:      q,
		Process:    process,
		PopTimeout: 5 * time.Second,
		Logger:     logger,
	}
}

// Shutdown sets the shared flag that stops the loop from picking up new
// jobs. The current job (if any) is allowed to finish.
func (r *Runner) Shutdown() {
	r.shuttingDown.Store(true)
}

// Run executes the worker loop until Shutdown is called or ctx is
// cancelled. It returns nil on graceful exit, or the triggering error if a
// StageError of KindFatal was raised.
func (r *Runner) Run(ctx context.Context) error {
	queueName, ok := r.StageName.Queue()
	if !ok {
		return fmt.Errorf("pipeline: stage %q has no input queue", r.StageName)
	}

	for {
		if r.shuttingDown.Load() || ctx.Err() != nil {
			return nil
		}

		docID, err := r.Queue.Pop(ctx, queueName, r.PopTimeout)
		if err != nil {
			r.Logger.Error("pipeline: pop failed", "stage", r.StageName, "error", err)
			continue
		}
		if docID == "" {
			continue
		}

		if err := r.runOne(ctx, docID); err != nil {
			var se *domain.StageError
			if errors.As(err, &se) && se.Kind == domain.KindFatal {
				return err
			}
		}
	}
}

// runStage composes the processing-started log and the stage's own work
// as a single fn.Pipeline, so both get a span via fn.TracedStage.
func (r *Runner) runStage() fn.Stage[string, string] {
	tapStarted := fn.TapStage(func(ctx context.Context, docID string) {
		r.writeProcessingLog(ctx, docID, domain.ProcessingStarted, "", 0)
	})
	process := fn.TracedStage("pipeline.process", fn.Stage[string, string](func(ctx context.Context, docID string) fn.Result[string] {
		if err := r.Process(ctx, r.Pool, docID); err != nil {
			return fn.Err[string](err)
		}
		return fn.Ok(docID)
	}))
	return fn.Pipeline(tapStarted, process)
}

func (r *Runner) runOne(ctx context.Context, docID string) error {
	start := time.Now()
	_, err := r.runStage()(ctx, docID).Unwrap()
	duration := time.Since(start)

	if err == nil {
		r.writeProcessingLog(ctx, docID, domain.ProcessingCompleted, "", duration.Milliseconds())
		metrics.ObserveJob(string(r.StageName), "ok", duration)
		advance := r.AdvanceFunc
		if advance == nil {
			advance = func(ctx context.Context, jobID string) error { return r.advance(ctx, jobID) }
		}
		if advErr := advance(ctx, docID); advErr != nil {
			r.Logger.Error("pipeline: advance failed", "stage", r.StageName, "doc_id", docID, "error", advErr)
		}
		return nil
	}

	kind := domain.KindOf(err)
	switch kind {
	case domain.KindPoison:
		// Log and discard; never touch the document row (the payload itself
		// is not trustworthy — it may not name a real document).
		r.Logger.Warn("pipeline: poison job discarded", "stage", r.StageName, "doc_id", docID, "error", err)
		r.writeProcessingLog(ctx, docID, domain.ProcessingError, "poison: "+err.Error(), duration.Milliseconds())
		return nil
	case domain.KindFatal:
		r.writeProcessingLog(ctx, docID, domain.ProcessingError, "fatal: "+err.Error(), duration.Milliseconds())
		metrics.ObserveJob(string(r.StageName), "fatal", duration)
		return err
	default: // transient (already retried inside Process/db layer), permanent, invariant
		r.markError(ctx, docID, err.Error())
		r.writeProcessingLog(ctx, docID, domain.ProcessingError, err.Error(), duration.Milliseconds())
		metrics.ObserveJob(string(r.StageName), "error", duration)
		return nil
	}
}

// advance commits the document's stage transition, then pushes its ID onto
// the next queue. The push happens only after the commit succeeds — a
// crash between the two leaves the document "orphaned" in the new stage
// with no enqueued job, recoverable by FindStuckDocuments.
func (r *Runner) advance(ctx context.Context, docID string) error {
	next, ok := r.StageName.Next()
	if !ok {
		return nil
	}

	err := r.Pool.WithTx(ctx, func(ctx context.Context) error {
		_, execErr := r.Pool.Q(ctx).Exec(ctx,
			`UPDATE documents SET stage = $1, updated_at = now() WHERE id = $2`, next, docID)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("pipeline: commit stage transition: %w", err)
	}

	if next == domain.StageComplete {
		return nil
	}
	nextQueue, ok := next.Queue()
	if !ok {
		return nil
	}
	return r.Queue.Push(ctx, nextQueue, docID)
}

func (r *Runner) markError(ctx context.Context, docID, message string) {
	err := r.Pool.WithTx(ctx, func(ctx context.Context) error {
		_, execErr := r.Pool.Q(ctx).Exec(ctx,
			`UPDATE documents SET stage = $1, error_message = $2, updated_at = now() WHERE id = $3`,
			domain.StageError, message, docID)
		return execErr
	})
	if err != nil {
		r.Logger.Error("pipeline: mark error failed", "stage", r.StageName, "doc_id", docID, "error", err)
	}
}

func (r *Runner) writeProcessingLog(ctx context.Context, docID string, status domain.ProcessingLogStatus, message string, durationMS int64) {
	_, err := r.Pool.Q(ctx).Exec(ctx,
		`INSERT INTO processing_log (document_id, stage, status, message, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		docID, r.StageName, status, message, durationMS)
	if err != nil {
		r.Logger.Error("pipeline: processing log write failed", "stage", r.StageName, "doc_id", docID, "error", err)
	}
}

// FindStuckDocuments returns IDs of documents that have sat in stage for
// longer than olderThan, judged by updated_at alone; the queue is not
// checked for a pending job. No component
// in this module runs this on a schedule — it is exposed as a library
// function for an external reaper process to call periodically, per the
// documented ordering gap between the stage-transition commit and the
// queue push (see advance).
func FindStuckDocuments(ctx context.Context, pool *db.Pool, stage domain.Stage, olderThan time.Duration) ([]string, error) {
	rows, err := pool.Q(ctx).Query(ctx,
		`SELECT id FROM documents WHERE stage = $1 AND updated_at < $2 ORDER BY updated_at ASC`,
		stage, time.Now().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("pipeline: find stuck documents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pipeline: scan stuck document: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
