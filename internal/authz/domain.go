package authz

import (
	"context"
	"errors"
)

// ErrStoreUnavailable wraps persistence failures on the check path. Checks
// fail closed on it; the log line distinguishes it from a legitimate denial.
var ErrStoreUnavailable = errors.New("authz: store unavailable")

// ErrNotFound indicates a referenced role, user or permission is unknown.
var ErrNotFound = errors.New("authz: not found")

// Actor carries the caller identity and request context a decision and its
// audit entry need.
type Actor struct {
	UserID    int64
	GroupID   *int64
	IP        string
	RequestID string
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// GrantRoleRequest grants a permission code or pattern to a role.
type GrantRoleRequest struct {
	RoleID     int64  `validate:"required,gt=0"`
	Permission string `validate:"required"`
	GroupID    *int64
	ActorID    int64 `validate:"required,gt=0"`
}

// RevokeRoleRequest removes a grant from a role.
type RevokeRoleRequest struct {
	RoleID     int64  `validate:"required,gt=0"`
	Permission string `validate:"required"`
	ActorID    int64  `validate:"required,gt=0"`
}

// GrantUserRequest adds a direct grant to a user.
type GrantUserRequest struct {
	UserID     int64  `validate:"required,gt=0"`
	Permission string `validate:"required"`
	ActorID    int64  `validate:"required,gt=0"`
}

// DenyUserRequest places a direct deny on a user. The permission must be a
// concrete code; denying a pattern is rejected.
type DenyUserRequest struct {
	UserID     int64  `validate:"required,gt=0"`
	Permission string `validate:"required"`
	ActorID    int64  `validate:"required,gt=0"`
}

// RevokeUserRequest removes a direct grant or deny from a user.
type RevokeUserRequest struct {
	UserID     int64  `validate:"required,gt=0"`
	Permission string `validate:"required"`
	ActorID    int64  `validate:"required,gt=0"`
}

// MoveRoleRequest reassigns a role's parent. A nil NewParentID detaches the
// role to a root.
type MoveRoleRequest struct {
	RoleID      int64 `validate:"required,gt=0"`
	NewParentID *int64
	ActorID     int64 `validate:"required,gt=0"`
}
