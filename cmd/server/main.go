// Package main is the entrypoint for the genqueue API server: the HTTP API,
// the WebSocket endpoint and the notification forwarder.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/genqueue/internal/api"
	"github.com/kiranshivaraju/genqueue/internal/api/handler"
	mw "github.com/kiranshivaraju/genqueue/internal/api/middleware"
	"github.com/kiranshivaraju/genqueue/internal/cache"
	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/internal/jobs"
	"github.com/kiranshivaraju/genqueue/internal/notify"
	"github.com/kiranshivaraju/genqueue/internal/queue"
	"github.com/kiranshivaraju/genqueue/internal/realtime"
	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/kiranshivaraju/genqueue/internal/users"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	_ = godotenv.Load()

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Server.SlogLevel(),
	}))
	slog.SetDefault(logger)
	slog.Info("config loaded", "env", cfg.Server.Env, "queue", cfg.Queue.Name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Run migrations and connect to the database
	if err := store.RunMigrations(cfg.Database.URL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	db, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	slog.Info("database connected", "driver", cfg.Database.Driver())

	// 3. Connect to Redis: rate limits, dispatch queue and notification channel
	rdb, err := cache.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()
	slog.Info("redis connected")

	redisCache := cache.NewRedisCache(rdb)
	dispatcher := queue.NewRedisDispatcher(rdb, cfg.Queue, logger)
	channel := notify.NewRedisChannel(rdb)
	notifier := notify.NewNotifier(channel, cfg.Notify.Channel, logger)

	// 4. Realtime delivery
	registry := realtime.NewRegistry(logger)
	wsServer := realtime.NewServer(registry, logger)
	forwarder := notify.NewForwarder(channel, cfg.Notify.Channel, registry, logger)

	// 5. Job orchestration; the worker process owns generation.
	orch := jobs.NewOrchestrator(db, dispatcher, notifier, nil, logger)
	profiles := users.NewService(db, logger)

	// 6. Build router with dependencies
	auth := mw.NewAuth(db)
	router := api.NewRouter(api.Dependencies{
		Auth:      auth,
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMin),

		HealthHandler: handler.NewHealthHandler(db, redisCache),
		PingHandler:   handler.Ping,

		CreateJobHandler: handler.NewCreateJobHandler(orch),
		ListJobsHandler:  handler.NewListJobsHandler(orch),
		ActiveJobHandler: handler.NewActiveJobHandler(orch),
		GetJobHandler:    handler.NewGetJobHandler(orch),

		RegisterUserHandler: handler.NewRegisterUserHandler(profiles),
		CurrentUserHandler:  handler.NewCurrentUserHandler(profiles),
		GetUserHandler:      handler.NewGetUserHandler(profiles),
		UpdateUserHandler:   handler.NewUpdateUserHandler(profiles),
		ListUsersHandler:    handler.NewListUsersHandler(profiles),

		AdminListJobsHandler: handler.NewAdminListJobsHandler(orch),
		UpdateStatusHandler:  handler.NewUpdateStatusHandler(orch),
		QueueStatusHandler:   handler.NewQueueStatusHandler(dispatcher),

		WebSocketHandler: handler.NewWebSocketHandler(ctx, auth, wsServer, logger),
	})

	// 7. Start HTTP server and forwarder
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return forwarder.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining connections...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		registry.CloseAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped gracefully")
	return nil
}
