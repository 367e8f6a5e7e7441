package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentra-iam/sentra/internal/hierarchy"
	"github.com/sentra-iam/sentra/internal/wildcard"
)

// ErrPatternDeny indicates an attempt to apply a deny against a wildcard
// pattern. Denies are defined only for concrete codes; rejecting the row at
// write time keeps resolution semantics unambiguous.
var ErrPatternDeny = errors.New("resolver: deny must target a concrete permission code")

// RepositoryPort defines the grant-row reads the resolver needs.
type RepositoryPort interface {
	RoleGrants(ctx context.Context, roleID int64, groupID *int64, at time.Time) ([]RoleGrant, error)
	UserGrants(ctx context.Context, userID int64) ([]UserGrant, error)
	UserRoleIDs(ctx context.Context, userID int64, groupID *int64) ([]int64, error)
}

// RoleSource exposes the hierarchy lookups resolution depends on.
type RoleSource interface {
	Get(ctx context.Context, id int64) (hierarchy.Role, error)
}

// Service computes effective permission sets. Resolution is a pure function
// of stored state: the same inputs always produce the same set.
type Service struct {
	repo   RepositoryPort
	roles  RoleSource
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, roles RoleSource, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		roles:  roles,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ResolveRolePermissions returns the role's effective set: its own active
// grants in the current validity window plus, when the role inherits, its
// ancestors' sets.
func (s *Service) ResolveRolePermissions(ctx context.Context, roleID int64, groupID *int64) (Set, error) {
	memo := make(map[int64]Set)
	return s.resolveRole(ctx, roleID, groupID, memo, make(map[int64]struct{}))
}

// ResolveUserPermissions unions the sets of every role the user holds in the
// group scope, applies direct grants, then strips concrete denies. Denies are
// applied strictly last so they win over any grant path.
func (s *Service) ResolveUserPermissions(ctx context.Context, userID int64, groupID *int64) (Set, error) {
	roleIDs, err := s.repo.UserRoleIDs(ctx, userID, groupID)
	if err != nil {
		return nil, fmt.Errorf("resolver: user %d roles: %w", userID, err)
	}

	set := make(Set)
	memo := make(map[int64]Set)
	for _, roleID := range roleIDs {
		roleSet, err := s.resolveRole(ctx, roleID, groupID, memo, make(map[int64]struct{}))
		if err != nil {
			if errors.Is(err, hierarchy.ErrNotFound) {
				continue
			}
			return nil, err
		}
		set.Union(roleSet)
	}

	direct, err := s.repo.UserGrants(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolver: user %d grants: %w", userID, err)
	}
	var denies []UserGrant
	for _, g := range direct {
		switch g.Type {
		case TypeGrant:
			set.Add(g.Grant.Value)
		case TypeDeny:
			denies = append(denies, g)
		}
	}
	for _, d := range denies {
		if d.Grant.Kind != wildcard.KindConcrete {
			// Should have been rejected at write time; never widen a deny
			// into pattern semantics here.
			if s.logger != nil {
				s.logger.Warn("ignoring deny stored against a pattern",
					slog.Int64("user_permission_id", d.ID),
					slog.String("pattern", d.Grant.Value))
			}
			continue
		}
		set.Remove(d.Grant.Value)
	}
	return set, nil
}

// HasPermission reports whether the resolved set covers the requested code.
func (s *Service) HasPermission(set Set, code string) bool {
	return HasPermission(set, code)
}

// ValidateDeny rejects deny values that are not concrete codes.
func ValidateDeny(value string) error {
	grant, err := wildcard.ParseGrant(value)
	if err != nil {
		return err
	}
	if grant.Kind != wildcard.KindConcrete {
		return ErrPatternDeny
	}
	return nil
}

func (s *Service) resolveRole(ctx context.Context, roleID int64, groupID *int64, memo map[int64]Set, visited map[int64]struct{}) (Set, error) {
	if cached, ok := memo[roleID]; ok {
		return cached, nil
	}
	if _, seen := visited[roleID]; seen {
		// Residual cycle in stored data; stop rather than recurse forever.
		if s.logger != nil {
			s.logger.Warn("cycle encountered during resolution", slog.Int64("role_id", roleID))
		}
		return make(Set), nil
	}
	visited[roleID] = struct{}{}

	role, err := s.roles.Get(ctx, roleID)
	if err != nil {
		return nil, err
	}
	set := make(Set)
	if !role.IsActive {
		memo[roleID] = set
		return set, nil
	}

	grants, err := s.repo.RoleGrants(ctx, roleID, groupID, s.now())
	if err != nil {
		return nil, fmt.Errorf("resolver: role %d grants: %w", roleID, err)
	}
	for _, g := range grants {
		set.Add(g.Grant.Value)
	}

	if role.InheritPermissions && role.ParentID != nil {
		parentSet, err := s.resolveRole(ctx, *role.ParentID, groupID, memo, visited)
		if err != nil {
			if !errors.Is(err, hierarchy.ErrNotFound) {
				return nil, err
			}
		} else {
			set.Union(parentSet)
		}
	}

	memo[roleID] = set
	return set, nil
}
