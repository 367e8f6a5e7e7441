package authz

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentra-iam/sentra/internal/wildcard"
)

// Repository persists grant mutations. Concrete codes are stored as catalog
// references; patterns are stored verbatim.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertRoleGrant attaches a grant to a role.
func (r *Repository) InsertRoleGrant(ctx context.Context, roleID int64, grant wildcard.Grant, groupID *int64) error {
	if grant.Kind == wildcard.KindPattern {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO role_permissions (role_id, permission_pattern, group_id, is_active, created_at)
			VALUES ($1, $2, $3, TRUE, NOW())`,
			roleID, grant.Value, groupID)
		return err
	}
	permID, err := r.permissionID(ctx, grant.Value)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id, group_id, is_active, created_at)
		VALUES ($1, $2, $3, TRUE, NOW())`,
		roleID, permID, groupID)
	return err
}

// DeleteRoleGrant deactivates a role's grant rows for the value and reports
// how many were affected.
func (r *Repository) DeleteRoleGrant(ctx context.Context, roleID int64, grant wildcard.Grant) (int64, error) {
	if grant.Kind == wildcard.KindPattern {
		tag, err := r.pool.Exec(ctx, `
			UPDATE role_permissions SET is_active = FALSE
			WHERE role_id = $1 AND lower(permission_pattern) = $2 AND is_active`,
			roleID, grant.Value)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE role_permissions rp SET is_active = FALSE
		FROM permissions p
		WHERE rp.role_id = $1 AND rp.permission_id = p.id AND lower(p.code) = $2 AND rp.is_active`,
		roleID, grant.Value)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// InsertUserGrant attaches a direct grant or deny to a user.
func (r *Repository) InsertUserGrant(ctx context.Context, userID int64, grant wildcard.Grant, grantType string) error {
	if grant.Kind == wildcard.KindPattern {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO user_permissions (user_id, permission_pattern, grant_type, is_active, created_at)
			VALUES ($1, $2, $3, TRUE, NOW())`,
			userID, grant.Value, grantType)
		return err
	}
	permID, err := r.permissionID(ctx, grant.Value)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO user_permissions (user_id, permission_id, grant_type, is_active, created_at)
		VALUES ($1, $2, $3, TRUE, NOW())`,
		userID, permID, grantType)
	return err
}

// DeleteUserGrant deactivates a user's direct rows for the value.
func (r *Repository) DeleteUserGrant(ctx context.Context, userID int64, grant wildcard.Grant) (int64, error) {
	if grant.Kind == wildcard.KindPattern {
		tag, err := r.pool.Exec(ctx, `
			UPDATE user_permissions SET is_active = FALSE
			WHERE user_id = $1 AND lower(permission_pattern) = $2 AND is_active`,
			userID, grant.Value)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE user_permissions up SET is_active = FALSE
		FROM permissions p
		WHERE up.user_id = $1 AND up.permission_id = p.id AND lower(p.code) = $2 AND up.is_active`,
		userID, grant.Value)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) permissionID(ctx context.Context, code string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM permissions WHERE lower(code) = $1 AND is_active`, code).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return id, nil
}
