package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository provides PostgreSQL backed persistence for the trail.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Insert appends one entry.
func (r *PgRepository) Insert(ctx context.Context, entry Entry) error {
	changes, err := json.Marshal(entry.Changes)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO role_audit_logs (id, action, role_id, role_name, performed_by, changes, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, string(entry.Action), entry.RoleID, entry.RoleName, entry.PerformedBy,
		changes, entry.IPAddress, entry.UserAgent, entry.CreatedAt)
	return err
}

// ListByRole returns entries for a role, newest first, plus the total.
func (r *PgRepository) ListByRole(ctx context.Context, roleID uuid.UUID, limit, offset int) ([]Entry, int, error) {
	return r.list(ctx,
		`SELECT id, action, role_id, role_name, performed_by, changes, ip_address, user_agent, created_at
		 FROM role_audit_logs WHERE role_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		`SELECT COUNT(*) FROM role_audit_logs WHERE role_id = $1`,
		[]any{roleID}, limit, offset)
}

// ListByActor returns entries performed by one actor, newest first.
func (r *PgRepository) ListByActor(ctx context.Context, actorID uuid.UUID, limit, offset int) ([]Entry, int, error) {
	return r.list(ctx,
		`SELECT id, action, role_id, role_name, performed_by, changes, ip_address, user_agent, created_at
		 FROM role_audit_logs WHERE performed_by = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		`SELECT COUNT(*) FROM role_audit_logs WHERE performed_by = $1`,
		[]any{actorID}, limit, offset)
}

// ListByAction returns entries of one action type within an optional
// date window.
func (r *PgRepository) ListByAction(ctx context.Context, action Action, from, to time.Time, limit, offset int) ([]Entry, int, error) {
	return r.list(ctx,
		`SELECT id, action, role_id, role_name, performed_by, changes, ip_address, user_agent, created_at
		 FROM role_audit_logs
		 WHERE action = $1
		   AND ($2::timestamptz IS NULL OR created_at >= $2)
		   AND ($3::timestamptz IS NULL OR created_at <= $3)
		 ORDER BY created_at DESC LIMIT $4 OFFSET $5`,
		`SELECT COUNT(*) FROM role_audit_logs
		 WHERE action = $1
		   AND ($2::timestamptz IS NULL OR created_at >= $2)
		   AND ($3::timestamptz IS NULL OR created_at <= $3)`,
		[]any{string(action), optionalTime(from), optionalTime(to)}, limit, offset)
}

// DeleteBefore removes entries older than cutoff and returns the count.
func (r *PgRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM role_audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) list(ctx context.Context, query, countQuery string, args []any, limit, offset int) ([]Entry, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		entry   Entry
		action  string
		changes []byte
	)
	if err := row.Scan(&entry.ID, &action, &entry.RoleID, &entry.RoleName, &entry.PerformedBy,
		&changes, &entry.IPAddress, &entry.UserAgent, &entry.CreatedAt); err != nil {
		return Entry{}, err
	}
	entry.Action = Action(action)
	if len(changes) > 0 {
		if err := json.Unmarshal(changes, &entry.Changes); err != nil {
			return Entry{}, err
		}
	}
	return entry, nil
}

func optionalTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}
