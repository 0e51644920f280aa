// Package main is the entrypoint for the genqueue worker: the pool that runs
// queued jobs and the reaper that fails jobs nobody will finish.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/genqueue/internal/ai"
	"github.com/kiranshivaraju/genqueue/internal/cache"
	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/internal/jobs"
	"github.com/kiranshivaraju/genqueue/internal/notify"
	"github.com/kiranshivaraju/genqueue/internal/queue"
	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/kiranshivaraju/genqueue/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Server.SlogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The handle connects lazily and reconnects when the connection goes bad.
	db := store.NewHandle(func(ctx context.Context) (store.Store, error) {
		return store.Open(ctx, cfg.Database)
	})
	defer db.Close()
	if _, err := db.Ensure(ctx); err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	rdb, err := cache.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	generator, err := ai.NewGenerator(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	slog.Info("AI provider initialized", "provider", generator.Name())

	dispatcher := queue.NewRedisDispatcher(rdb, cfg.Queue, logger)
	notifier := notify.NewNotifier(notify.NewRedisChannel(rdb), cfg.Notify.Channel, logger)
	orch := jobs.NewOrchestrator(db, nil, notifier, generator, logger)

	pool := worker.NewPool(dispatcher, db, orch, logger,
		worker.WithConcurrency(cfg.Worker.Concurrency),
		worker.WithReserveWait(cfg.Worker.ReserveWait),
		worker.WithHeartbeatInterval(cfg.Worker.HeartbeatInterval),
		worker.WithTimeLimits(cfg.Queue.SoftTimeLimit, cfg.Queue.HardTimeLimit),
	)
	reaper := jobs.NewReaper(orch, db, dispatcher, cfg.Queue, cfg.Reaper, logger)

	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	slog.Info("worker started", "worker_id", pool.WorkerID(), "queue", dispatcher.Name(),
		"concurrency", cfg.Worker.Concurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return reaper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, finishing running jobs...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
		defer cancel()
		return pool.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("worker stopped gracefully")
	return nil
}
