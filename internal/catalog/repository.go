package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for the catalog.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const permissionColumns = `id, code, service, resource, action, category, is_active, created_at, updated_at`

// List returns all permissions ordered by code.
func (r *Repository) List(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GetByCode fetches a permission by its code, case-insensitively.
func (r *Repository) GetByCode(ctx context.Context, code string) (Permission, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE lower(code) = lower($1)`, code)
	p, err := scanPermission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, ErrNotFound
		}
		return Permission{}, err
	}
	return p, nil
}

// Insert creates a new permission. A duplicate code maps to ErrCodeExists.
func (r *Repository) Insert(ctx context.Context, p Permission) (Permission, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (code, service, resource, action, category, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING `+permissionColumns,
		p.Code, p.Service, p.Resource, p.Action, p.Category, p.IsActive)
	created, err := scanPermission(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Permission{}, ErrCodeExists
		}
		return Permission{}, err
	}
	return created, nil
}

// Upsert inserts or refreshes a permission keyed by code.
func (r *Repository) Upsert(ctx context.Context, p Permission) (Permission, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (code, service, resource, action, category, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT ((lower(code))) DO UPDATE SET
			service = EXCLUDED.service,
			resource = EXCLUDED.resource,
			action = EXCLUDED.action,
			category = EXCLUDED.category,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING `+permissionColumns,
		p.Code, p.Service, p.Resource, p.Action, p.Category, p.IsActive)
	return scanPermission(row)
}

// SetActive toggles a permission's active flag. Returns ErrNotFound when the
// code is unknown.
func (r *Repository) SetActive(ctx context.Context, code string, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE permissions SET is_active = $2, updated_at = NOW() WHERE lower(code) = lower($1)`, code, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPermission(row rowScanner) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.Code, &p.Service, &p.Resource, &p.Action, &p.Category, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
