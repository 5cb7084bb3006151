package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hugh/go-backoffice/internal/database"
	"github.com/hugh/go-backoffice/internal/storage"
	"github.com/hugh/go-backoffice/internal/tasks"
	"github.com/hugh/go-backoffice/internal/tokens"
	"github.com/hugh/go-backoffice/pkg/config"
	"github.com/hugh/go-backoffice/pkg/queue"
	"github.com/hugh/go-backoffice/pkg/util"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := util.NewLogger(cfg.Server.Env)
	slog.SetDefault(logger)

	logger.Info("starting backoffice worker")

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	store, err := storage.New(context.Background(), &cfg.Storage)
	if err != nil {
		logger.Error("failed to create storage", "error", err)
		os.Exit(1)
	}

	// The worker never sends mail; purging only needs the table.
	tokenService := tokens.NewService(db, cfg.Tokens.Secret, cfg.App.BaseURL, nil, logger)

	srv := queue.NewServer(&cfg.Redis, 10)

	handler := tasks.NewHandler(store, tokenService, logger)
	mux := asynq.NewServeMux()
	handler.RegisterHandlers(mux)

	scheduler, err := queue.NewScheduler(&cfg.Redis, map[string]*asynq.Task{
		cfg.Tokens.PurgeCron: tasks.NewTokensPurgeTask(),
	})
	if err != nil {
		logger.Error("failed to register scheduled tasks", "error", err)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutting down worker...")
		scheduler.Shutdown()
		srv.Shutdown()
		cancel()
	}()

	next, err := util.NextCronTime(cfg.Tokens.PurgeCron, time.Now())
	if err != nil {
		logger.Error("invalid purge schedule", "error", err)
		os.Exit(1)
	}
	logger.Info("worker started, waiting for tasks...", "purge_cron", cfg.Tokens.PurgeCron, "next_purge", next)

	if err := srv.Run(mux); err != nil {
		logger.Error("worker error", "error", err)
	}

	<-ctx.Done()

	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("worker stopped")
}
