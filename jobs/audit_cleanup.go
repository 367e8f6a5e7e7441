package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sentra-iam/sentra/internal/audit"
)

// AuditCleanupJob purges audit entries whose retention deadline has passed.
type AuditCleanupJob struct {
	Audit  *audit.Service
	Logger *slog.Logger
	clock  func() time.Time
}

// NewAuditCleanupJob wires dependencies for the cleanup handler.
func NewAuditCleanupJob(auditSvc *audit.Service, logger *slog.Logger) *AuditCleanupJob {
	return &AuditCleanupJob{
		Audit:  auditSvc,
		Logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes audit cleanup tasks.
func (j *AuditCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Audit == nil {
		return errors.New("audit cleanup: handler not configured")
	}
	var payload AuditCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	threshold := payload.Before
	if threshold.IsZero() {
		threshold = j.now()
	}

	logger := j.logger()
	logger.Info("starting audit retention cleanup", slog.Time("threshold", threshold))

	deleted, err := j.Audit.CleanupOlderThan(ctx, threshold)
	if err != nil {
		logger.Error("audit retention cleanup", slog.Any("error", err))
		return err
	}
	logger.Info("completed audit retention cleanup", slog.Int64("deleted", deleted))
	return nil
}

func (j *AuditCleanupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAuditCleanup))
	}
	return slog.Default().With(slog.String("job", TaskAuditCleanup))
}

func (j *AuditCleanupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
