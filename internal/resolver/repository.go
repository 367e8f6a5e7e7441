package resolver

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentra-iam/sentra/internal/wildcard"
)

// Repository provides PostgreSQL backed reads over grant rows. Role grants
// reference either a catalog permission (joined to its code) or a stored
// wildcard pattern; both surface as one value column here.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, logger *slog.Logger) *Repository {
	return &Repository{pool: pool, logger: logger}
}

// RoleGrants returns the role's active grant rows inside their validity
// window, filtered by group scope. Rows with a NULL group apply everywhere;
// a non-NULL group row applies only when the scope matches.
func (r *Repository) RoleGrants(ctx context.Context, roleID int64, groupID *int64, at time.Time) ([]RoleGrant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT rp.id, rp.role_id, COALESCE(p.code, rp.permission_pattern), rp.group_id, rp.valid_from, rp.valid_until, rp.is_active
		FROM role_permissions rp
		LEFT JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		  AND rp.is_active
		  AND (p.id IS NULL OR p.is_active)
		  AND (rp.group_id IS NULL OR rp.group_id = $2)
		  AND (rp.valid_from IS NULL OR rp.valid_from <= $3)
		  AND (rp.valid_until IS NULL OR rp.valid_until > $3)`,
		roleID, groupID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []RoleGrant
	for rows.Next() {
		var g RoleGrant
		var value string
		if err := rows.Scan(&g.ID, &g.RoleID, &value, &g.GroupID, &g.ValidFrom, &g.ValidUntil, &g.IsActive); err != nil {
			return nil, err
		}
		grant, err := wildcard.ParseGrant(value)
		if err != nil {
			// Malformed stored pattern: skip it rather than failing the
			// whole resolution.
			if r.logger != nil {
				r.logger.Warn("skipping malformed role grant",
					slog.Int64("role_permission_id", g.ID),
					slog.String("value", value))
			}
			continue
		}
		g.Grant = grant
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// UserGrants returns the user's active direct grant and deny rows.
func (r *Repository) UserGrants(ctx context.Context, userID int64) ([]UserGrant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT up.id, up.user_id, COALESCE(p.code, up.permission_pattern), up.grant_type, up.is_active
		FROM user_permissions up
		LEFT JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1 AND up.is_active AND (p.id IS NULL OR p.is_active)`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []UserGrant
	for rows.Next() {
		var g UserGrant
		var value, grantType string
		if err := rows.Scan(&g.ID, &g.UserID, &value, &grantType, &g.IsActive); err != nil {
			return nil, err
		}
		grant, err := wildcard.ParseGrant(value)
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("skipping malformed user grant",
					slog.Int64("user_permission_id", g.ID),
					slog.String("value", value))
			}
			continue
		}
		g.Grant = grant
		g.Type = GrantType(grantType)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// UserRoleIDs returns the ids of the user's active role memberships, scoped
// by group the same way role grants are.
func (r *Repository) UserRoleIDs(ctx context.Context, userID int64, groupID *int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ur.role_id
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id
		WHERE ur.user_id = $1
		  AND ro.is_active
		  AND (ro.group_id IS NULL OR ro.group_id = $2)
		ORDER BY ur.role_id`,
		userID, groupID)
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

// RoleMemberIDs returns every user currently holding the role. Used for bulk
// cache invalidation when a role's grants change.
func (r *Repository) RoleMemberIDs(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM user_roles WHERE role_id = $1 ORDER BY user_id`, roleID)
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
