package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sentra-iam/sentra/internal/audit"
	"github.com/sentra-iam/sentra/internal/batch"
	"github.com/sentra-iam/sentra/internal/hierarchy"
	"github.com/sentra-iam/sentra/internal/observability"
	"github.com/sentra-iam/sentra/internal/permcache"
	"github.com/sentra-iam/sentra/internal/resolver"
	"github.com/sentra-iam/sentra/internal/wildcard"
)

// ResolverAPI computes effective permission sets.
type ResolverAPI interface {
	ResolveUserPermissions(ctx context.Context, userID int64, groupID *int64) (resolver.Set, error)
	ResolveRolePermissions(ctx context.Context, roleID int64, groupID *int64) (resolver.Set, error)
}

// MembershipSource enumerates the users holding a role, for bulk cache
// invalidation.
type MembershipSource interface {
	RoleMemberIDs(ctx context.Context, roleID int64) ([]int64, error)
}

// HierarchyAPI is the slice of the role tree the engine mutates through.
type HierarchyAPI interface {
	SetParent(ctx context.Context, roleID int64, newParentID *int64) error
	Children(ctx context.Context, roleID int64, recursive bool) ([]hierarchy.Role, error)
}

// MutationRepositoryPort persists grant mutations.
type MutationRepositoryPort interface {
	InsertRoleGrant(ctx context.Context, roleID int64, grant wildcard.Grant, groupID *int64) error
	DeleteRoleGrant(ctx context.Context, roleID int64, grant wildcard.Grant) (int64, error)
	InsertUserGrant(ctx context.Context, userID int64, grant wildcard.Grant, grantType string) error
	DeleteUserGrant(ctx context.Context, userID int64, grant wildcard.Grant) (int64, error)
}

// Service is the authorization engine facade: permission checks on one side,
// administrative mutations with cache invalidation and auditing on the other.
type Service struct {
	cache    *permcache.Cache
	resolver ResolverAPI
	members  MembershipSource
	tree     HierarchyAPI
	repo     MutationRepositoryPort
	auditor  *audit.Service
	metrics  *observability.Metrics
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService wires the engine together.
func NewService(cache *permcache.Cache, res ResolverAPI, members MembershipSource, tree HierarchyAPI, repo MutationRepositoryPort, auditor *audit.Service, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{
		cache:    cache,
		resolver: res,
		members:  members,
		tree:     tree,
		repo:     repo,
		auditor:  auditor,
		metrics:  metrics,
		validate: validator.New(),
		logger:   logger,
	}
}

// IsAllowed decides whether the user may exercise the permission code,
// optionally scoped to a group. Store failures fail closed: the caller sees a
// denial while the log carries the real cause. The decision is audited
// best-effort and never blocks on the audit sink.
func (s *Service) IsAllowed(ctx context.Context, userID int64, code string, groupID *int64) bool {
	allowed, err := s.check(ctx, userID, code, groupID)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("permission check failed closed",
				slog.Int64("user_id", userID),
				slog.String("permission", code),
				slog.Any("error", fmt.Errorf("%w: %w", ErrStoreUnavailable, err)))
		}
		s.metrics.RecordDecision(observability.OutcomeError)
		s.audit(ctx, audit.Entry{
			Action:         audit.ActionChecked,
			PermissionCode: code,
			ActorID:        userID,
			Success:        false,
			Meta:           map[string]any{"reason": "store_unavailable"},
		})
		return false
	}

	outcome := observability.OutcomeDenied
	if allowed {
		outcome = observability.OutcomeAllowed
	}
	s.metrics.RecordDecision(outcome)
	s.audit(ctx, audit.Entry{
		Action:         audit.ActionChecked,
		PermissionCode: code,
		ActorID:        userID,
		Success:        allowed,
	})
	return allowed
}

func (s *Service) check(ctx context.Context, userID int64, code string, groupID *int64) (bool, error) {
	start := time.Now()
	key := permcache.Key(permcache.ActorUser, userID, groupID)
	set, hit, err := s.cache.Fetch(ctx, key, permcache.ActorUser, func(ctx context.Context) (resolver.Set, error) {
		return s.resolver.ResolveUserPermissions(ctx, userID, groupID)
	})
	if err != nil {
		return false, err
	}
	s.metrics.RecordCacheEvent(hit)
	if !hit {
		s.metrics.ObserveResolve("user", time.Since(start))
	}
	return resolver.HasPermission(set, code), nil
}

// GrantToRole attaches a permission code or pattern to a role, then
// invalidates the role's cached set and every member's.
func (s *Service) GrantToRole(ctx context.Context, req GrantRoleRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return err
	}
	grant, err := wildcard.ParseGrant(req.Permission)
	if err != nil {
		return err
	}
	if err := s.repo.InsertRoleGrant(ctx, req.RoleID, grant, req.GroupID); err != nil {
		return fmt.Errorf("authz: grant to role %d: %w", req.RoleID, err)
	}
	s.invalidateRole(ctx, req.RoleID)
	s.audit(ctx, audit.Entry{
		Action:         audit.ActionGranted,
		PermissionCode: grant.Value,
		ActorID:        req.ActorID,
		TargetRoleID:   &req.RoleID,
		Success:        true,
	})
	return nil
}

// RevokeFromRole removes a grant from a role and invalidates the same scopes
// a grant does.
func (s *Service) RevokeFromRole(ctx context.Context, req RevokeRoleRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return err
	}
	grant, err := wildcard.ParseGrant(req.Permission)
	if err != nil {
		return err
	}
	affected, err := s.repo.DeleteRoleGrant(ctx, req.RoleID, grant)
	if err != nil {
		return fmt.Errorf("authz: revoke from role %d: %w", req.RoleID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	s.invalidateRole(ctx, req.RoleID)
	s.audit(ctx, audit.Entry{
		Action:         audit.ActionRevoked,
		PermissionCode: grant.Value,
		ActorID:        req.ActorID,
		TargetRoleID:   &req.RoleID,
		Success:        true,
	})
	return nil
}

// GrantToUser adds a direct grant; only that user's cache entry is touched.
func (s *Service) GrantToUser(ctx context.Context, req GrantUserRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return err
	}
	grant, err := wildcard.ParseGrant(req.Permission)
	if err != nil {
		return err
	}
	if err := s.repo.InsertUserGrant(ctx, req.UserID, grant, string(resolver.TypeGrant)); err != nil {
		return fmt.Errorf("authz: grant to user %d: %w", req.UserID, err)
	}
	s.invalidateUser(ctx, req.UserID)
	s.audit(ctx, audit.Entry{
		Action:         audit.ActionGranted,
		PermissionCode: grant.Value,
		ActorID:        req.ActorID,
		TargetUserID:   &req.UserID,
		Success:        true,
	})
	return nil
}

// DenyUser places a direct deny on a user. Denies apply only to concrete
// codes; a pattern here is a validation error, not a stored row.
func (s *Service) DenyUser(ctx context.Context, req DenyUserRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return err
	}
	if err := resolver.ValidateDeny(req.Permission); err != nil {
		return err
	}
	grant, err := wildcard.ParseGrant(req.Permission)
	if err != nil {
		return err
	}
	if err := s.repo.InsertUserGrant(ctx, req.UserID, grant, string(resolver.TypeDeny)); err != nil {
		return fmt.Errorf("authz: deny user %d: %w", req.UserID, err)
	}
	s.invalidateUser(ctx, req.UserID)
	s.audit(ctx, audit.Entry{
		Action:         audit.ActionDenySet,
		PermissionCode: grant.Value,
		ActorID:        req.ActorID,
		TargetUserID:   &req.UserID,
		Success:        true,
	})
	return nil
}

// RevokeFromUser removes a direct grant or deny.
func (s *Service) RevokeFromUser(ctx context.Context, req RevokeUserRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return err
	}
	grant, err := wildcard.ParseGrant(req.Permission)
	if err != nil {
		return err
	}
	affected, err := s.repo.DeleteUserGrant(ctx, req.UserID, grant)
	if err != nil {
		return fmt.Errorf("authz: revoke from user %d: %w", req.UserID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	s.invalidateUser(ctx, req.UserID)
	s.audit(ctx, audit.Entry{
		Action:         audit.ActionRevoked,
		PermissionCode: grant.Value,
		ActorID:        req.ActorID,
		TargetUserID:   &req.UserID,
		Success:        true,
	})
	return nil
}

// MoveRole reassigns a role's parent through the hierarchy service, then
// invalidates the whole moved subtree: every role in it and every user
// holding any of those roles inherits a different set afterwards.
func (s *Service) MoveRole(ctx context.Context, req MoveRoleRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return err
	}
	if err := s.tree.SetParent(ctx, req.RoleID, req.NewParentID); err != nil {
		return err
	}
	s.invalidateRole(ctx, req.RoleID)
	if subtree, err := s.tree.Children(ctx, req.RoleID, true); err == nil {
		for _, role := range subtree {
			s.invalidateRole(ctx, role.ID)
		}
	} else if s.logger != nil {
		s.logger.Warn("authz: enumerate moved subtree", slog.Int64("role_id", req.RoleID), slog.Any("error", err))
	}
	s.audit(ctx, audit.Entry{
		Action:       audit.ActionRoleMoved,
		ActorID:      req.ActorID,
		TargetRoleID: &req.RoleID,
		Success:      true,
		Meta:         moveMeta(req.NewParentID),
	})
	return nil
}

// invalidateRole drops the role's cached set, the set of every user who holds
// it, and the bulk decision cache.
func (s *Service) invalidateRole(ctx context.Context, roleID int64) {
	if err := s.cache.InvalidateActor(ctx, permcache.ActorRole, roleID); err != nil && s.logger != nil {
		s.logger.Warn("authz: invalidate role cache", slog.Int64("role_id", roleID), slog.Any("error", err))
	}
	defer s.invalidateDecisions(ctx)
	memberIDs, err := s.members.RoleMemberIDs(ctx, roleID)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("authz: enumerate role members", slog.Int64("role_id", roleID), slog.Any("error", err))
		}
		return
	}
	for _, userID := range memberIDs {
		s.invalidateUserEntry(ctx, userID)
	}
}

func (s *Service) invalidateUser(ctx context.Context, userID int64) {
	s.invalidateUserEntry(ctx, userID)
	s.invalidateDecisions(ctx)
}

func (s *Service) invalidateUserEntry(ctx context.Context, userID int64) {
	if err := s.cache.InvalidateActor(ctx, permcache.ActorUser, userID); err != nil && s.logger != nil {
		s.logger.Warn("authz: invalidate user cache", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

// Cached bulk decision maps are keyed by input digest, not by actor, so a
// grant change anywhere sweeps the whole decision namespace.
func (s *Service) invalidateDecisions(ctx context.Context) {
	if err := s.cache.InvalidatePattern(ctx, batch.DecisionKeyPrefix); err != nil && s.logger != nil {
		s.logger.Warn("authz: invalidate decision cache", slog.Any("error", err))
	}
}

func (s *Service) audit(ctx context.Context, e audit.Entry) {
	if actor, ok := ActorFromContext(ctx); ok {
		e.IP = actor.IP
		e.RequestID = actor.RequestID
	}
	s.auditor.Record(ctx, e)
}

func moveMeta(parentID *int64) map[string]any {
	if parentID == nil {
		return map[string]any{"new_parent": nil}
	}
	return map[string]any{"new_parent": *parentID}
}

// IsValidationError reports whether err came from request validation rather
// than the store.
func IsValidationError(err error) bool {
	var vErr validator.ValidationErrors
	return errors.As(err, &vErr) ||
		errors.Is(err, wildcard.ErrInvalidPattern) ||
		errors.Is(err, resolver.ErrPatternDeny)
}
