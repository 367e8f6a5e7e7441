package batch

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository runs the bulk join reads the optimizer partitions in memory.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// BulkRoleGrants returns every (user, permission value) pair reachable
// through active role memberships in one query. Inheritance is expanded with
// a recursive walk up the parent chain, stopping at roles that do not
// inherit.
func (r *Repository) BulkRoleGrants(ctx context.Context, userIDs []int64, groupID *int64, at time.Time) ([]BulkRoleGrantRow, error) {
	rows, err := r.pool.Query(ctx, `
		WITH RECURSIVE membership AS (
			SELECT ur.user_id, ro.id AS role_id, ro.inherit_permissions, ro.parent_role_id
			FROM user_roles ur
			JOIN roles ro ON ro.id = ur.role_id
			WHERE ur.user_id = ANY($1)
			  AND ro.is_active
			  AND (ro.group_id IS NULL OR ro.group_id = $2)
			UNION
			SELECT m.user_id, parent.id, parent.inherit_permissions, parent.parent_role_id
			FROM membership m
			JOIN roles parent ON parent.id = m.parent_role_id
			WHERE m.inherit_permissions AND parent.is_active
		)
		SELECT DISTINCT m.user_id, COALESCE(p.code, rp.permission_pattern)
		FROM membership m
		JOIN role_permissions rp ON rp.role_id = m.role_id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.is_active
		  AND (p.id IS NULL OR p.is_active)
		  AND (rp.group_id IS NULL OR rp.group_id = $2)
		  AND (rp.valid_from IS NULL OR rp.valid_from <= $3)
		  AND (rp.valid_until IS NULL OR rp.valid_until > $3)`,
		userIDs, groupID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BulkRoleGrantRow
	for rows.Next() {
		var row BulkRoleGrantRow
		if err := rows.Scan(&row.UserID, &row.Value); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// BulkUserGrants returns the direct grant/deny rows for every user in one
// query.
func (r *Repository) BulkUserGrants(ctx context.Context, userIDs []int64) ([]BulkUserGrantRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT up.user_id, COALESCE(p.code, up.permission_pattern), up.grant_type
		FROM user_permissions up
		LEFT JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = ANY($1) AND up.is_active AND (p.id IS NULL OR p.is_active)`,
		userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BulkUserGrantRow
	for rows.Next() {
		var row BulkUserGrantRow
		if err := rows.Scan(&row.UserID, &row.Value, &row.GrantType); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
