package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for audit entries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends one entry.
func (r *Repository) Insert(ctx context.Context, e Entry) error {
	meta, err := json.Marshal(e.Meta)
	if err != nil {
		return fmt.Errorf("audit: marshal meta: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_entries (id, action, permission_code, actor_id, target_user_id, target_role_id, success, ip, request_id, meta, occurred_at, delete_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, string(e.Action), e.PermissionCode, e.ActorID, e.TargetUserID, e.TargetRoleID, e.Success, e.IP, e.RequestID, meta, e.OccurredAt, e.DeleteAfter)
	return err
}

// Page returns limit entries matching the filter starting at offset, newest
// first.
func (r *Repository) Page(ctx context.Context, f Filter, offset, limit int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, action, permission_code, actor_id, target_user_id, target_role_id, success, ip, request_id, meta, occurred_at, delete_after
		FROM audit_entries
		WHERE ($1::bigint IS NULL OR actor_id = $1 OR target_user_id = $1)
		  AND ($2::bigint IS NULL OR target_role_id = $2)
		  AND ($3 = '' OR lower(permission_code) = lower($3))
		  AND (NOT $4 OR success = false OR action LIKE 'BULK_%')
		  AND ($5::timestamptz IS NULL OR occurred_at >= $5)
		  AND ($6::timestamptz IS NULL OR occurred_at < $6)
		ORDER BY occurred_at DESC
		OFFSET $7 LIMIT $8`,
		f.UserID, f.RoleID, f.PermissionCode, f.SecurityOnly, nullableTime(f.From), nullableTime(f.To), offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var action string
		var meta []byte
		if err := rows.Scan(&e.ID, &action, &e.PermissionCode, &e.ActorID, &e.TargetUserID, &e.TargetRoleID, &e.Success, &e.IP, &e.RequestID, &meta, &e.OccurredAt, &e.DeleteAfter); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Meta)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Window returns every entry inside [from, to). Statistics are computed by
// scanning this window, not maintained incrementally.
func (r *Repository) Window(ctx context.Context, from, to time.Time) ([]Entry, error) {
	return r.Page(ctx, Filter{From: from, To: to}, 0, 1<<30)
}

// DeleteExpired removes entries whose retention deadline passed the
// threshold and reports how many were removed.
func (r *Repository) DeleteExpired(ctx context.Context, threshold time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_entries WHERE delete_after <= $1`, threshold)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
