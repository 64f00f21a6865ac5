// The worker binary drains the verification job queue. Each job runs
// one workflow end to end; concurrency is bounded by the queue's
// worker pool.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/veriflow/backend/internal/config"
	"github.com/veriflow/backend/internal/queue"
	"github.com/veriflow/backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration load failed", "error", err)
		os.Exit(1)
	}
	service.SetupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.Build(ctx, cfg)
	if err != nil {
		slog.Error("service assembly failed", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	worker := queue.NewWorker(svc.Queue, cfg.Queue.MaxWorkers, cfg.Queue.JobTimeout)
	svc.Engine.Register(worker)

	slog.Info("worker starting",
		"queue", cfg.Queue.Name, "max_workers", cfg.Queue.MaxWorkers)
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		slog.Error("worker exited", "error", err)
		os.Exit(1)
	}
	slog.Info("worker stopped")
}
