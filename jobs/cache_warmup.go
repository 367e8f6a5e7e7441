package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentra-iam/sentra/internal/batch"
)

const defaultWarmupChunk = 128

// CacheWarmupJob pre-resolves permission sets for active users so the first
// checks after a deploy or a mass invalidation hit warm entries.
type CacheWarmupJob struct {
	Optimizer *batch.Optimizer
	Pool      *pgxpool.Pool
	Logger    *slog.Logger
}

// NewCacheWarmupJob wires dependencies for the warmup handler.
func NewCacheWarmupJob(optimizer *batch.Optimizer, pool *pgxpool.Pool, logger *slog.Logger) *CacheWarmupJob {
	return &CacheWarmupJob{Optimizer: optimizer, Pool: pool, Logger: logger}
}

// Handle processes cache warmup tasks.
func (j *CacheWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Optimizer == nil {
		return errors.New("cache warmup: handler not configured")
	}
	var payload CacheWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	chunk := payload.ChunkSize
	if chunk <= 0 {
		chunk = defaultWarmupChunk
	}

	logger := j.logger()
	logger.Info("starting cache warmup", slog.Int("chunk_size", chunk))

	userIDs, err := j.fetchUserIDs(ctx, payload.GroupID)
	if err != nil {
		logger.Error("load warmup users", slog.Any("error", err))
		return err
	}
	if len(userIDs) == 0 {
		logger.Info("no active users to warm")
		return nil
	}

	start := time.Now()
	warmed := 0
	for len(userIDs) > 0 {
		n := chunk
		if n > len(userIDs) {
			n = len(userIDs)
		}
		// Tighten each chunk with a timeout to avoid long-running jobs.
		chunkCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
		err := j.Optimizer.Preload(chunkCtx, userIDs[:n], payload.GroupID)
		cancel()
		if err != nil {
			logger.Error("warm chunk", slog.Int("users", n), slog.Any("error", err))
			return err
		}
		warmed += n
		userIDs = userIDs[n:]
	}

	logger.Info("completed cache warmup", slog.Int("users", warmed), slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *CacheWarmupJob) fetchUserIDs(ctx context.Context, groupID *int64) ([]int64, error) {
	if j.Pool == nil {
		return nil, errors.New("cache warmup: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `
		SELECT DISTINCT ur.user_id
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id
		WHERE ro.is_active
		  AND (ro.group_id IS NULL OR ro.group_id = $1)
		ORDER BY ur.user_id`,
		groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (j *CacheWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCacheWarmup))
	}
	return slog.Default().With(slog.String("job", TaskCacheWarmup))
}
