package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sentra-iam/sentra/cmd/authzd/cli"
	"github.com/sentra-iam/sentra/internal/app"
	"github.com/sentra-iam/sentra/internal/audit"
	"github.com/sentra-iam/sentra/internal/authz"
	"github.com/sentra-iam/sentra/internal/batch"
	"github.com/sentra-iam/sentra/internal/catalog"
	"github.com/sentra-iam/sentra/internal/hierarchy"
	"github.com/sentra-iam/sentra/internal/observability"
	"github.com/sentra-iam/sentra/internal/ops"
	"github.com/sentra-iam/sentra/internal/permcache"
	"github.com/sentra-iam/sentra/internal/platform/cache"
	"github.com/sentra-iam/sentra/internal/platform/db"
	"github.com/sentra-iam/sentra/internal/resolver"
	"github.com/sentra-iam/sentra/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if len(os.Args) > 1 && os.Args[1] != "serve" {
		runAdmin(ctx, cfg, logger, os.Args[1], os.Args[2:])
		return
	}
	serve(ctx, stop, cfg, logger)
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) {
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

	metrics := observability.NewMetrics()
	router := ops.NewRouter(ops.RouterParams{
		Logger:  logger,
		Config:  cfg,
		Pool:    pool,
		Redis:   redisClient,
		Metrics: metrics,
	})

	server := &http.Server{
		Addr:         cfg.OpsAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting ops server", slog.String("addr", cfg.OpsAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func runAdmin(ctx context.Context, cfg *app.Config, logger *slog.Logger, command string, args []string) {
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

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	admin := buildAdmin(pool, redisClient, jobsClient, cfg, logger)
	if err := admin.Run(ctx, command, args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, cli.Usage)
		os.Exit(1)
	}
}

func buildAdmin(pool *pgxpool.Pool, redisClient *redis.Client, jobsClient *jobs.Client, cfg *app.Config, logger *slog.Logger) *cli.AdminCLI {
	permCache := permcache.New(redisClient, cfg.UserCacheTTL, cfg.RoleCacheTTL, logger)

	auditService := audit.NewService(audit.NewRepository(pool), cfg.AuditRetention, logger)
	hierarchyService := hierarchy.NewService(hierarchy.NewRepository(pool), logger)
	resolverRepo := resolver.NewRepository(pool, logger)
	resolverService := resolver.NewService(resolverRepo, hierarchy.NewRepository(pool), logger)
	catalogService := catalog.NewService(catalog.NewRepository(pool), permCache, logger)

	authzService := authz.NewService(
		permCache,
		resolverService,
		resolverRepo,
		hierarchyService,
		authz.NewRepository(pool),
		auditService,
		nil,
		logger,
	)
	optimizer := batch.NewOptimizer(
		batch.NewRepository(pool),
		permCache,
		redisClient,
		auditService,
		logger,
		cfg.BatchMaxUsers,
		cfg.BatchMaxPermissions,
	)

	return &cli.AdminCLI{
		Authz:     authzService,
		Catalog:   catalogService,
		Audit:     auditService,
		Optimizer: optimizer,
		Jobs:      jobsClient,
		Out:       os.Stdout,
	}
}
