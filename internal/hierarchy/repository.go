package hierarchy

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentra-iam/sentra/internal/platform/db"
)

// DerivedUpdate carries recomputed level/path values for one role.
type DerivedUpdate struct {
	RoleID int64
	Level  int
	Path   string
}

// Repository provides PostgreSQL backed persistence for the role tree.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `id, name, parent_role_id, hierarchy_level, hierarchy_path, priority, inherit_permissions, group_id, is_active, created_at, updated_at`

// Get fetches a role by ID.
func (r *Repository) Get(ctx context.Context, id int64) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// ChildrenOf returns the direct children of a role ordered by priority.
func (r *Repository) ChildrenOf(ctx context.Context, id int64) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles WHERE parent_role_id = $1 ORDER BY priority DESC, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// Rebase applies a parent reassignment together with the recomputed derived
// fields for the whole affected subtree in one transaction, so readers never
// observe the new edge with stale levels or paths.
func (r *Repository) Rebase(ctx context.Context, roleID int64, parentID *int64, updates []DerivedUpdate) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE roles SET parent_role_id = $2, updated_at = NOW() WHERE id = $1`, roleID, parentID); err != nil {
			return err
		}
		for _, u := range updates {
			if _, err := tx.Exec(ctx, `UPDATE roles SET hierarchy_level = $2, hierarchy_path = $3, updated_at = NOW() WHERE id = $1`, u.RoleID, u.Level, u.Path); err != nil {
				return err
			}
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(row rowScanner) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.ParentID, &role.Level, &role.Path, &role.Priority, &role.InheritPermissions, &role.GroupID, &role.IsActive, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}
