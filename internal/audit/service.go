package audit

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DefaultRetention is applied when the service is configured without one.
const DefaultRetention = 365 * 24 * time.Hour

const topCodesLimit = 10

// RepositoryPort defines the persistence the audit trail needs.
type RepositoryPort interface {
	Insert(ctx context.Context, e Entry) error
	Page(ctx context.Context, f Filter, offset, limit int) ([]Entry, error)
	Window(ctx context.Context, from, to time.Time) ([]Entry, error)
	DeleteExpired(ctx context.Context, threshold time.Time) (int64, error)
}

// Service records and queries the audit trail. Recording is strictly
// best-effort: a broken audit sink must never deny access or crash a check.
type Service struct {
	repo      RepositoryPort
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, retention time.Duration, logger *slog.Logger) *Service {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Service{
		repo:      repo,
		retention: retention,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Record appends one entry, filling ID, timestamp and retention deadline.
// Failures are logged and swallowed; the decision already made stands.
func (s *Service) Record(ctx context.Context, e Entry) {
	if s == nil || s.repo == nil {
		return
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.now()
	}
	if e.DeleteAfter.IsZero() {
		e.DeleteAfter = e.OccurredAt.Add(s.retention)
	}
	if err := s.repo.Insert(ctx, e); err != nil && s.logger != nil {
		s.logger.Error("audit: record entry",
			slog.String("action", string(e.Action)),
			slog.String("permission", e.PermissionCode),
			slog.Any("error", err))
	}
}

// Query returns a page of entries matching the filter, newest first.
func (s *Service) Query(ctx context.Context, f Filter) (Result, error) {
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	// Fetch one extra row to learn whether a next page exists.
	entries, err := s.repo.Page(ctx, f, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(entries) > pageSize
	if hasNext {
		entries = entries[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Entries: entries, Paging: paging}, nil
}

// CleanupOlderThan removes entries whose retention deadline has passed and
// returns the deleted count. Invoked explicitly by maintenance, never inline.
func (s *Service) CleanupOlderThan(ctx context.Context, threshold time.Time) (int64, error) {
	if threshold.IsZero() {
		threshold = s.now()
	}
	deleted, err := s.repo.DeleteExpired(ctx, threshold)
	if err != nil {
		return 0, err
	}
	if s.logger != nil {
		s.logger.Info("audit: retention cleanup", slog.Int64("deleted", deleted))
	}
	return deleted, nil
}

// Statistics aggregates the window's entries: counts per action kind, the
// most frequent permission codes and the overall success ratio.
func (s *Service) Statistics(ctx context.Context, from, to time.Time) (Stats, error) {
	entries, err := s.repo.Window(ctx, from, to)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	var successes int64
	codeCounts := make(map[string]int64)
	for _, e := range entries {
		if e.PermissionCode != "" {
			codeCounts[e.PermissionCode]++
		}
		if e.Success {
			successes++
		}
		switch e.Action {
		case ActionChecked:
			stats.Checked++
			if e.Success {
				stats.Allowed++
			} else {
				stats.Denied++
			}
		case ActionGranted:
			stats.Granted++
		case ActionRevoked:
			stats.Revoked++
		}
	}
	if len(entries) > 0 {
		stats.SuccessRatio = float64(successes) / float64(len(entries))
	}

	stats.TopCodes = make([]CodeCount, 0, len(codeCounts))
	for code, count := range codeCounts {
		stats.TopCodes = append(stats.TopCodes, CodeCount{Code: code, Count: count})
	}
	sort.Slice(stats.TopCodes, func(i, j int) bool {
		if stats.TopCodes[i].Count != stats.TopCodes[j].Count {
			return stats.TopCodes[i].Count > stats.TopCodes[j].Count
		}
		return stats.TopCodes[i].Code < stats.TopCodes[j].Code
	})
	if len(stats.TopCodes) > topCodesLimit {
		stats.TopCodes = stats.TopCodes[:topCodesLimit]
	}
	return stats, nil
}
