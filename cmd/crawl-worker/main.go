// Command crawl-worker runs the Crawl stage's worker loop: pop crawl
// requests off jobs:crawl, fetch and extract text, store the document blob,
// and enqueue it for chunking.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/overdrivelabs/dtcpipe/engine/crawl"
	"github.com/overdrivelabs/dtcpipe/engine/domain"
	"github.com/overdrivelabs/dtcpipe/engine/pipeline"
	"github.com/overdrivelabs/dtcpipe/internal/config"
	"github.com/overdrivelabs/dtcpipe/internal/migrations"
	"github.com/overdrivelabs/dtcpipe/pkg/blob"
	"github.com/overdrivelabs/dtcpipe/pkg/db"
	"github.com/overdrivelabs/dtcpipe/pkg/metrics"
	"github.com/overdrivelabs/dtcpipe/pkg/queue"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := config.Load()

	if err := run(cfg, logger); err != nil {
		logger.Error("crawl-worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrations.Apply(cfg.PostgresDSN); err != nil {
		return err
	}

	dbCfg := db.DefaultConfig(cfg.PostgresDSN)
	dbCfg.MinConns = int32(cfg.DBPoolMin)
	dbCfg.MaxConns = int32(cfg.DBPoolMax)
	pool, err := db.Open(ctx, dbCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	q, err := queue.New(ctx, cfg.NATSURL, domain.AllQueues)
	if err != nil {
		return err
	}

	store := blob.New(cfg.BlobBaseURL, cfg.BlobBucket, cfg.BlobAPIKey)

	stage := &crawl.Stage{
		Fetcher:  crawl.NewFetcher(cfg.HTTPTimeout),
		Blob:     store,
		Queue:    q,
		MaxDepth: cfg.MaxCrawlDepth,
	}

	runner := pipeline.NewRunner(domain.StagePending, pool, q, stage.Process, logger)
	runner.PopTimeout = cfg.QueuePopTimeout
	// Crawl's job ID is a crawl-request ID, not a document ID, and Process
	// itself creates the document row and pushes to jobs:chunk. The generic
	// advance would misinterpret the request ID as a document ID.
	runner.AdvanceFunc = func(ctx context.Context, jobID string) error { return nil }

	go serveMetrics(cfg.MetricsPort, logger)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received, finishing in-flight job")
		runner.Shutdown()
	}()

	logger.Info("crawl-worker starting", "queue", "jobs:crawl")
	return runner.Run(ctx)
}

func serveMetrics(port string, logger *slog.Logger) {
	mux := metrics.Handler()
	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadTimeout: 5 * time.Second}
	logger.Info("metrics server starting", "port", port)
	if err := srv.ListenAndServe(); err != nil {
		logger.Warn("metrics server stopped", "err", err)
	}
}
