package rbac

import (
	"errors"
	"sort"

	"github.com/google/uuid"
)

// Sentinel errors shared across the permission engine.
var (
	ErrActorNotFound = errors.New("rbac: actor not found")
	ErrRoleNotFound  = errors.New("rbac: role not found")
	ErrForbidden     = errors.New("rbac: forbidden")
)

// Action is one of the closed set of operations a permission can grant.
type Action string

const (
	ActionCreate   Action = "create"
	ActionRead     Action = "read"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionPublish  Action = "publish"
	ActionModerate Action = "moderate"
	ActionExport   Action = "export"
	ActionImport   Action = "import"
	ActionApprove  Action = "approve"
)

// AllActions lists every known action in declaration order.
var AllActions = []Action{
	ActionCreate,
	ActionRead,
	ActionUpdate,
	ActionDelete,
	ActionPublish,
	ActionModerate,
	ActionExport,
	ActionImport,
	ActionApprove,
}

// Valid reports whether the action belongs to the closed set.
func (a Action) Valid() bool {
	for _, known := range AllActions {
		if a == known {
			return true
		}
	}
	return false
}

// ActionSet records which actions a permission enables.
type ActionSet map[Action]bool

// NewActionSet builds a set from the given actions.
func NewActionSet(actions ...Action) ActionSet {
	set := make(ActionSet, len(actions))
	for _, a := range actions {
		set[a] = true
	}
	return set
}

// Has reports whether the action is enabled. Safe on a nil set.
func (s ActionSet) Has(a Action) bool {
	return s[a]
}

// Union returns a new set enabling every action enabled in either set.
func (s ActionSet) Union(other ActionSet) ActionSet {
	merged := make(ActionSet, len(s)+len(other))
	for a, enabled := range s {
		if enabled {
			merged[a] = true
		}
	}
	for a, enabled := range other {
		if enabled {
			merged[a] = true
		}
	}
	return merged
}

// Clone returns an independent copy of the set.
func (s ActionSet) Clone() ActionSet {
	if s == nil {
		return nil
	}
	clone := make(ActionSet, len(s))
	for a, enabled := range s {
		clone[a] = enabled
	}
	return clone
}

// List returns the enabled actions sorted lexically for stable output.
func (s ActionSet) List() []Action {
	actions := make([]Action, 0, len(s))
	for a, enabled := range s {
		if enabled {
			actions = append(actions, a)
		}
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}

// Scope bounds which instances of a resource an action applies to.
type Scope string

const (
	ScopeNone       Scope = "none"
	ScopeOwn        Scope = "own"
	ScopeDepartment Scope = "department"
	ScopeAll        Scope = "all"
)

var scopeRank = map[Scope]int{
	ScopeNone:       0,
	ScopeOwn:        1,
	ScopeDepartment: 2,
	ScopeAll:        3,
}

// Valid reports whether the scope is a known enumeration member.
func (s Scope) Valid() bool {
	_, ok := scopeRank[s]
	return ok
}

// Covers reports whether the scope is at least as broad as other.
func (s Scope) Covers(other Scope) bool {
	return scopeRank[s] >= scopeRank[other]
}

// MaxScope returns the broader of two scopes under none < own < department < all.
func MaxScope(a, b Scope) Scope {
	if scopeRank[b] > scopeRank[a] {
		return b
	}
	return a
}

// ResourcePermission is the atomic authorization unit: a resource name,
// the actions enabled on it, the scope they apply at and an optional
// opaque condition document carried through for downstream filtering.
type ResourcePermission struct {
	Resource   string         `json:"resource"`
	Actions    ActionSet      `json:"actions"`
	Scope      Scope          `json:"scope"`
	Conditions map[string]any `json:"conditions,omitempty"`
}

// ResolvedPermission is a merged permission annotated with the priority
// of the source that produced it.
type ResolvedPermission struct {
	ResourcePermission
	Priority int `json:"priority"`
}

// PermissionMap is the per-actor result of merging all permission
// sources, keyed by resource name.
type PermissionMap map[string]ResolvedPermission

// OverridePriority is the synthetic priority of per-actor permission
// overrides. It sits above the whole role priority range so overrides
// always dominate.
const OverridePriority = 1000

// Role priority bounds.
const (
	MinRolePriority = 1
	MaxRolePriority = 100
)

// Actor is the resolver's view of a user: identity plus the three
// permission sources attached to it.
type Actor struct {
	ID            uuid.UUID
	BaseRole      string
	CustomRoleIDs []uuid.UUID
	Overrides     []ResourcePermission
}

// RoleGrant is the resolver's read model of a role: just what the merge
// needs, decoupled from role management.
type RoleGrant struct {
	ID          uuid.UUID
	Slug        string
	Active      bool
	Priority    int
	Permissions []ResourcePermission
}

// Check is one (resource, action, optional owner) authorization triple.
type Check struct {
	Resource string
	Action   Action
	OwnerID  *uuid.UUID
}
