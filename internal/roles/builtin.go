package roles

import (
	"github.com/nexhub/nexhub/internal/rbac"
)

// Built-in role slugs. SlugSuperAdmin marks the top-privilege class:
// the only actors allowed to mutate system roles or flush the whole
// permission cache.
const (
	SlugSuperAdmin = "super-admin"
	SlugAdmin      = "admin"
	SlugModerator  = "moderator"
	SlugUser       = "user"
)

func fullControl(resource string) rbac.ResourcePermission {
	return rbac.ResourcePermission{
		Resource: resource,
		Actions:  rbac.NewActionSet(rbac.AllActions...),
		Scope:    rbac.ScopeAll,
	}
}

// Builtin returns the platform's seeded system roles. These ship
// active, are never deactivatable and anchor the self-hosted guards.
func Builtin() []Role {
	superPerms := make([]rbac.ResourcePermission, 0, len(rbac.Catalog()))
	for _, entry := range rbac.Catalog() {
		superPerms = append(superPerms, fullControl(entry.Resource))
	}

	return []Role{
		{
			Name:        "Super Admin",
			Slug:        SlugSuperAdmin,
			Description: "Unrestricted access to every platform resource",
			System:      true,
			Status:      StatusActive,
			Priority:    rbac.MaxRolePriority,
			Permissions: superPerms,
		},
		{
			Name:        "Admin",
			Slug:        SlugAdmin,
			Description: "Platform administration without system-level controls",
			System:      true,
			Status:      StatusActive,
			Priority:    90,
			Permissions: []rbac.ResourcePermission{
				fullControl("users"),
				fullControl("roles"),
				fullControl("companies"),
				fullControl("job-offers"),
				fullControl("consulting-services"),
				fullControl("blog-posts"),
				fullControl("forum-threads"),
				{Resource: "permissions", Actions: rbac.NewActionSet(rbac.ActionRead), Scope: rbac.ScopeAll},
				{Resource: "audit-logs", Actions: rbac.NewActionSet(rbac.ActionRead, rbac.ActionExport), Scope: rbac.ScopeAll},
			},
		},
		{
			Name:        "Moderator",
			Slug:        SlugModerator,
			Description: "Content moderation across community surfaces",
			System:      true,
			Status:      StatusActive,
			Priority:    50,
			Permissions: []rbac.ResourcePermission{
				{Resource: "blog-posts", Actions: rbac.NewActionSet(rbac.ActionRead, rbac.ActionUpdate, rbac.ActionDelete, rbac.ActionModerate), Scope: rbac.ScopeAll},
				{Resource: "forum-threads", Actions: rbac.NewActionSet(rbac.ActionRead, rbac.ActionUpdate, rbac.ActionDelete, rbac.ActionModerate), Scope: rbac.ScopeAll},
				{Resource: "users", Actions: rbac.NewActionSet(rbac.ActionRead), Scope: rbac.ScopeAll},
			},
		},
		{
			Name:        "User",
			Slug:        SlugUser,
			Description: "Default member role",
			System:      true,
			Status:      StatusActive,
			Priority:    rbac.MinRolePriority,
			Permissions: []rbac.ResourcePermission{
				{Resource: "companies", Actions: rbac.NewActionSet(rbac.ActionCreate, rbac.ActionRead, rbac.ActionUpdate, rbac.ActionDelete), Scope: rbac.ScopeOwn},
				{Resource: "job-offers", Actions: rbac.NewActionSet(rbac.ActionCreate, rbac.ActionRead, rbac.ActionUpdate, rbac.ActionDelete), Scope: rbac.ScopeOwn},
				{Resource: "consulting-services", Actions: rbac.NewActionSet(rbac.ActionCreate, rbac.ActionRead, rbac.ActionUpdate, rbac.ActionDelete), Scope: rbac.ScopeOwn},
				{Resource: "blog-posts", Actions: rbac.NewActionSet(rbac.ActionCreate, rbac.ActionRead, rbac.ActionUpdate, rbac.ActionDelete), Scope: rbac.ScopeOwn},
				{Resource: "forum-threads", Actions: rbac.NewActionSet(rbac.ActionCreate, rbac.ActionRead, rbac.ActionUpdate, rbac.ActionDelete), Scope: rbac.ScopeOwn},
				{Resource: "users", Actions: rbac.NewActionSet(rbac.ActionRead, rbac.ActionUpdate), Scope: rbac.ScopeOwn},
			},
		},
	}
}
