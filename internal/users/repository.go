package users

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nexhub/nexhub/internal/platform/db"
	"github.com/nexhub/nexhub/internal/rbac"
)

// Repository provides PostgreSQL backed persistence for user accounts
// and their role attachments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindByID fetches a user together with custom role ids and overrides.
// Both reads run in one repeatable-read transaction so resolution sees
// a consistent snapshot of the account.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (User, error) {
	var user User
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var overrides []byte
		err := tx.QueryRow(ctx, `
			SELECT id, email, name, is_active, base_role, permission_overrides, created_at, updated_at
			FROM users WHERE id = $1`, id,
		).Scan(&user.ID, &user.Email, &user.Name, &user.IsActive, &user.BaseRole, &overrides, &user.CreatedAt, &user.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return rbac.ErrActorNotFound
		}
		if err != nil {
			return err
		}
		if len(overrides) > 0 {
			if err := json.Unmarshal(overrides, &user.Overrides); err != nil {
				return err
			}
		}

		rows, err := tx.Query(ctx, `SELECT role_id FROM user_roles WHERE user_id = $1`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var roleID uuid.UUID
			if err := rows.Scan(&roleID); err != nil {
				return err
			}
			user.CustomRoleIDs = append(user.CustomRoleIDs, roleID)
		}
		return rows.Err()
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// FindActor implements rbac.ActorStore.
func (r *Repository) FindActor(ctx context.Context, id uuid.UUID) (rbac.Actor, error) {
	user, err := r.FindByID(ctx, id)
	if err != nil {
		return rbac.Actor{}, err
	}
	return user.Actor(), nil
}

// HasCustomRole reports whether the user already holds the role.
func (r *Repository) HasCustomRole(ctx context.Context, userID, roleID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM user_roles WHERE user_id = $1 AND role_id = $2)`,
		userID, roleID).Scan(&exists)
	return exists, err
}

// AddCustomRole attaches a role to a user.
func (r *Repository) AddCustomRole(ctx context.Context, userID, roleID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, roleID)
	return err
}

// RemoveCustomRole detaches a role from a user; absent rows are a
// no-op.
func (r *Repository) RemoveCustomRole(ctx context.Context, userID, roleID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`,
		userID, roleID)
	return err
}

// CountWithCustomRole counts users holding the role as a custom role.
func (r *Repository) CountWithCustomRole(ctx context.Context, roleID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_roles WHERE role_id = $1`, roleID).Scan(&count)
	return count, err
}

// IDsReferencingRole returns every user whose permissions depend on the
// role, whether through the base-role slug or a custom role
// attachment. Used to target cache invalidation after role mutations.
func (r *Repository) IDsReferencingRole(ctx context.Context, roleID uuid.UUID, slug string) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM users WHERE base_role = $2
		UNION
		SELECT user_id FROM user_roles WHERE role_id = $1`,
		roleID, slug)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// SetOverrides replaces a user's ad hoc permission overrides.
func (r *Repository) SetOverrides(ctx context.Context, userID uuid.UUID, overrides []rbac.ResourcePermission) error {
	payload, err := json.Marshal(overrides)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET permission_overrides = $2, updated_at = NOW() WHERE id = $1`,
		userID, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return rbac.ErrActorNotFound
	}
	return nil
}
