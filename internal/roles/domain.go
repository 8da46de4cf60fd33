package roles

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexhub/nexhub/internal/rbac"
)

// Domain errors surfaced by role management.
var (
	ErrRoleInUse           = errors.New("roles: role is assigned to users")
	ErrRoleInactive        = errors.New("roles: role is not active")
	ErrSystemRoleImmutable = errors.New("roles: system role cannot be modified")
	ErrRoleAlreadyAssigned = errors.New("roles: user already has this role")
	ErrValidation          = errors.New("roles: invalid input")
	ErrSlugTaken           = errors.New("roles: slug already exists")
)

// Status is the role lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Role groups resource permissions under a named, prioritised grant.
type Role struct {
	ID          uuid.UUID
	Name        string
	Slug        string
	Description string
	System      bool
	Status      Status
	Permissions []rbac.ResourcePermission
	Priority    int
	CreatedBy   uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Active reports whether the role currently grants anything.
func (r *Role) Active() bool {
	return r.Status == StatusActive
}

// Deactivate transitions the role to inactive. System roles refuse the
// transition: they must always stay resolvable.
func (r *Role) Deactivate() error {
	if r.System {
		return ErrSystemRoleImmutable
	}
	r.Status = StatusInactive
	return nil
}

// Activate transitions the role back to active.
func (r *Role) Activate() {
	r.Status = StatusActive
}

// Grant converts the role into the resolver's read model.
func (r *Role) Grant() rbac.RoleGrant {
	return rbac.RoleGrant{
		ID:          r.ID,
		Slug:        r.Slug,
		Active:      r.Active(),
		Priority:    r.Priority,
		Permissions: r.Permissions,
	}
}

// ClampPriority forces a priority into the allowed role range.
func ClampPriority(priority int) int {
	if priority < rbac.MinRolePriority {
		return rbac.MinRolePriority
	}
	if priority > rbac.MaxRolePriority {
		return rbac.MaxRolePriority
	}
	return priority
}

// ValidatePermissions checks a permission list for duplicate resources,
// unknown actions and unknown scopes.
func ValidatePermissions(perms []rbac.ResourcePermission) error {
	seen := make(map[string]struct{}, len(perms))
	for _, perm := range perms {
		if perm.Resource == "" {
			return fmt.Errorf("%w: permission resource required", ErrValidation)
		}
		if _, dup := seen[perm.Resource]; dup {
			return fmt.Errorf("%w: duplicate permission for resource %q", ErrValidation, perm.Resource)
		}
		seen[perm.Resource] = struct{}{}
		if !perm.Scope.Valid() {
			return fmt.Errorf("%w: unknown scope %q for resource %q", ErrValidation, perm.Scope, perm.Resource)
		}
		for action := range perm.Actions {
			if !action.Valid() {
				return fmt.Errorf("%w: unknown action %q for resource %q", ErrValidation, action, perm.Resource)
			}
		}
	}
	return nil
}
