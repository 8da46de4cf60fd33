package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action enumerates the role-lifecycle events the trail records.
type Action string

const (
	ActionRoleCreated         Action = "role_created"
	ActionRoleUpdated         Action = "role_updated"
	ActionRoleDeleted         Action = "role_deleted"
	ActionRoleCloned          Action = "role_cloned"
	ActionRoleAssignedToUser  Action = "role_assigned_to_user"
	ActionRoleRemovedFromUser Action = "role_removed_from_user"
)

// FieldChange captures one field's before/after values.
type FieldChange struct {
	From any `json:"from,omitempty"`
	To   any `json:"to,omitempty"`
}

// Changes maps field names to their recorded change.
type Changes map[string]FieldChange

// Entry is one immutable audit record. Entries are appended exactly
// once per mutating role operation and never updated; only the
// retention purge removes them.
type Entry struct {
	ID          uuid.UUID `json:"id"`
	Action      Action    `json:"action"`
	RoleID      uuid.UUID `json:"roleId"`
	RoleName    string    `json:"roleName"`
	PerformedBy uuid.UUID `json:"performedBy"`
	Changes     Changes   `json:"changes,omitempty"`
	IPAddress   string    `json:"ipAddress,omitempty"`
	UserAgent   string    `json:"userAgent,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
