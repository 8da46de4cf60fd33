package roles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nexhub/nexhub/internal/rbac"
)

const pgUniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for roles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `id, name, slug, description, is_system, status, permissions, priority, created_by, created_at, updated_at`

// Create inserts a new role. A slug collision surfaces as ErrSlugTaken
// so the caller can retry with the next suffix.
func (r *Repository) Create(ctx context.Context, role *Role) error {
	permissions, err := json.Marshal(role.Permissions)
	if err != nil {
		return err
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO roles (id, name, slug, description, is_system, status, permissions, priority, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		role.ID, role.Name, role.Slug, role.Description, role.System, string(role.Status),
		permissions, role.Priority, nullableUUID(role.CreatedBy),
	).Scan(&role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", ErrSlugTaken, role.Slug)
		}
		return err
	}
	return nil
}

// Update persists mutable role fields.
func (r *Repository) Update(ctx context.Context, role *Role) error {
	permissions, err := json.Marshal(role.Permissions)
	if err != nil {
		return err
	}
	err = r.pool.QueryRow(ctx, `
		UPDATE roles
		SET name = $2, description = $3, status = $4, permissions = $5, priority = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		role.ID, role.Name, role.Description, string(role.Status), permissions, role.Priority,
	).Scan(&role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return rbac.ErrRoleNotFound
	}
	return err
}

// FindByID fetches a role by ID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	return scanRole(row)
}

// FindBySlug fetches a role by its unique slug.
func (r *Repository) FindBySlug(ctx context.Context, slug string) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE slug = $1`, slug)
	return scanRole(row)
}

// FindActive returns every active role.
func (r *Repository) FindActive(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles WHERE status = $1 ORDER BY priority DESC`, string(StatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRoles(rows)
}

// List returns a page of roles ordered by priority desc then creation
// time desc, plus the unfiltered total for the same filters.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Role, int, error) {
	where := `WHERE ($1 OR status = 'active') AND ($2 OR NOT is_system)`
	args := []any{filters.IncludeInactive, filters.IncludeSystem}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM roles `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+roleColumns+` FROM roles `+where+` ORDER BY priority DESC, created_at DESC LIMIT $3 OFFSET $4`,
		append(args, filters.Limit, (filters.Page-1)*filters.Limit)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	list, err := collectRoles(rows)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// GrantBySlug implements rbac.RoleStore.
func (r *Repository) GrantBySlug(ctx context.Context, slug string) (rbac.RoleGrant, error) {
	role, err := r.FindBySlug(ctx, slug)
	if err != nil {
		return rbac.RoleGrant{}, err
	}
	return role.Grant(), nil
}

// GrantsByIDs implements rbac.RoleStore. Unknown ids are omitted.
func (r *Repository) GrantsByIDs(ctx context.Context, ids []uuid.UUID) ([]rbac.RoleGrant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list, err := collectRoles(rows)
	if err != nil {
		return nil, err
	}
	grants := make([]rbac.RoleGrant, 0, len(list))
	for _, role := range list {
		grants = append(grants, role.Grant())
	}
	return grants, nil
}

func collectRoles(rows pgx.Rows) ([]Role, error) {
	var list []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func scanRole(row pgx.Row) (Role, error) {
	var (
		role        Role
		status      string
		permissions []byte
		createdBy   *uuid.UUID
	)
	err := row.Scan(&role.ID, &role.Name, &role.Slug, &role.Description, &role.System,
		&status, &permissions, &role.Priority, &createdBy, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, rbac.ErrRoleNotFound
	}
	if err != nil {
		return Role{}, err
	}
	role.Status = Status(status)
	if createdBy != nil {
		role.CreatedBy = *createdBy
	}
	if len(permissions) > 0 {
		if err := json.Unmarshal(permissions, &role.Permissions); err != nil {
			return Role{}, err
		}
	}
	return role, nil
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
