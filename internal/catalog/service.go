package catalog

import (
	"context"
	"log/slog"
	"strings"
)

// RepositoryPort defines the catalog data access methods.
type RepositoryPort interface {
	List(ctx context.Context) ([]Permission, error)
	GetByCode(ctx context.Context, code string) (Permission, error)
	Upsert(ctx context.Context, p Permission) (Permission, error)
	SetActive(ctx context.Context, code string, active bool) error
}

// Invalidator flushes resolved permission sets after catalog edits.
type Invalidator interface {
	FlushAll(ctx context.Context) error
}

// Service manages the permission catalog.
type Service struct {
	repo   RepositoryPort
	cache  Invalidator
	logger *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, cache Invalidator, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, logger: logger}
}

// List returns every catalog entry.
func (s *Service) List(ctx context.Context) ([]Permission, error) {
	return s.repo.List(ctx)
}

// Get fetches a single permission by code.
func (s *Service) Get(ctx context.Context, code string) (Permission, error) {
	return s.repo.GetByCode(ctx, code)
}

// Ensure upserts a catalog entry derived from its code. Editing a catalog
// definition invalidates every cached permission set: precise invalidation
// would need a reverse index from codes to the patterns that can match them,
// so the whole cache is flushed instead. Catalog edits are rare.
func (s *Service) Ensure(ctx context.Context, code, category string) (Permission, error) {
	service, resource, action, err := SplitCode(code)
	if err != nil {
		return Permission{}, err
	}
	perm, err := s.repo.Upsert(ctx, Permission{
		Code:     strings.TrimSpace(code),
		Service:  service,
		Resource: resource,
		Action:   action,
		Category: strings.TrimSpace(category),
		IsActive: true,
	})
	if err != nil {
		return Permission{}, err
	}
	s.flush(ctx)
	return perm, nil
}

// Deactivate retires a permission code. Grants referencing the code stay in
// storage but no longer resolve.
func (s *Service) Deactivate(ctx context.Context, code string) error {
	if err := s.repo.SetActive(ctx, code, false); err != nil {
		return err
	}
	s.flush(ctx)
	return nil
}

func (s *Service) flush(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.FlushAll(ctx); err != nil && s.logger != nil {
		s.logger.Error("catalog: flush permission cache", slog.Any("error", err))
	}
}
