package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/sentra-iam/sentra/internal/app"
	"github.com/sentra-iam/sentra/internal/audit"
	"github.com/sentra-iam/sentra/internal/batch"
	"github.com/sentra-iam/sentra/internal/permcache"
	"github.com/sentra-iam/sentra/internal/platform/cache"
	"github.com/sentra-iam/sentra/internal/platform/db"
	"github.com/sentra-iam/sentra/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	permCache := permcache.New(redisClient, cfg.UserCacheTTL, cfg.RoleCacheTTL, logger)
	auditService := audit.NewService(audit.NewRepository(pool), cfg.AuditRetention, logger)
	optimizer := batch.NewOptimizer(
		batch.NewRepository(pool),
		permCache,
		redisClient,
		auditService,
		logger,
		cfg.BatchMaxUsers,
		cfg.BatchMaxPermissions,
	)

	cleanupJob := jobs.NewAuditCleanupJob(auditService, logger)
	warmupJob := jobs.NewCacheWarmupJob(optimizer, pool, logger)

	cleanupTask, err := jobs.NewAuditCleanupTask(jobs.AuditCleanupPayload{})
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}
	warmupTask, err := jobs.NewCacheWarmupTask(jobs.CacheWarmupPayload{})
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAuditCleanup, Handler: cleanupJob.Handle},
			{Type: jobs.TaskCacheWarmup, Handler: warmupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 5 * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
