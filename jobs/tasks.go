package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditCleanup purges audit entries past their retention deadline.
	TaskAuditCleanup = "audit:cleanup"
	// TaskCacheWarmup pre-resolves and caches permission sets for active users.
	TaskCacheWarmup = "permcache:warmup"
)

// AuditCleanupPayload configures one retention pass. A zero Before means "now".
type AuditCleanupPayload struct {
	Before time.Time `json:"before,omitempty"`
}

// NewAuditCleanupTask constructs an audit cleanup task.
func NewAuditCleanupTask(payload AuditCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditCleanup, data), nil
}

// CacheWarmupPayload configures one warmup pass. GroupID narrows the warmed
// scope; ChunkSize bounds how many users each bulk resolution covers.
type CacheWarmupPayload struct {
	GroupID   *int64 `json:"group_id,omitempty"`
	ChunkSize int    `json:"chunk_size,omitempty"`
}

// NewCacheWarmupTask constructs a cache warmup task.
func NewCacheWarmupTask(payload CacheWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCacheWarmup, data), nil
}
