package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/nexhub/nexhub/internal/rbac"
)

// User represents a platform account as the permission engine sees it:
// identity plus the three permission sources the resolver merges.
type User struct {
	ID            uuid.UUID
	Email         string
	Name          string
	IsActive      bool
	BaseRole      string
	CustomRoleIDs []uuid.UUID
	Overrides     []rbac.ResourcePermission
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Actor converts the user into the resolver's input shape.
func (u *User) Actor() rbac.Actor {
	return rbac.Actor{
		ID:            u.ID,
		BaseRole:      u.BaseRole,
		CustomRoleIDs: u.CustomRoleIDs,
		Overrides:     u.Overrides,
	}
}
