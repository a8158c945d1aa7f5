// Command resolve-worker runs the Resolve stage's worker loop: score and
// merge a document's staged extractions into the knowledge graph. It makes
// no outbound calls of its own, only database transactions.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/overdrivelabs/dtcpipe/engine/domain"
	"github.com/overdrivelabs/dtcpipe/engine/pipeline"
	"github.com/overdrivelabs/dtcpipe/engine/resolve"
	"github.com/overdrivelabs/dtcpipe/internal/config"
	"github.com/overdrivelabs/dtcpipe/internal/migrations"
	"github.com/overdrivelabs/dtcpipe/pkg/db"
	"github.com/overdrivelabs/dtcpipe/pkg/metrics"
	"github.com/overdrivelabs/dtcpipe/pkg/queue"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := config.Load()

	if err := run(cfg, logger); err != nil {
		logger.Error("resolve-worker exited with error", "err", err)
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

	stage := &resolve.Stage{}

	runner := pipeline.NewRunner(domain.StageResolving, pool, q, stage.Process, logger)
	runner.PopTimeout = cfg.QueuePopTimeout

	go serveMetrics(cfg.MetricsPort, logger)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received, finishing in-flight job")
		runner.Shutdown()
	}()

	logger.Info("resolve-worker starting", "queue", domain.QueueResolve)
	return runner.Run(ctx)
}

func serveMetrics(port string, logger *slog.Logger) {
	srv := &http.Server{Addr: ":" + port, Handler: metrics.Handler(), ReadTimeout: 5 * time.Second}
	logger.Info("metrics server starting", "port", port)
	if err := srv.ListenAndServe(); err != nil {
		logger.Warn("metrics server stopped", "err", err)
	}
}
