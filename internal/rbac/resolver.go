package rbac

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
)

// ActorStore fetches the permission sources attached to an actor.
type ActorStore interface {
	FindActor(ctx context.Context, id uuid.UUID) (Actor, error)
}

// RoleStore fetches role grants for resolution.
type RoleStore interface {
	GrantBySlug(ctx context.Context, slug string) (RoleGrant, error)
	GrantsByIDs(ctx context.Context, ids []uuid.UUID) ([]RoleGrant, error)
}

// Source yields a resolved permission map for an actor. Implemented by
// Resolver (direct computation) and Cache (memoized).
type Source interface {
	Resolve(ctx context.Context, actorID uuid.UUID) (PermissionMap, error)
}

// Resolver merges an actor's permission sources into a single map.
// Resolution is a pure computation over a store snapshot; it holds no
// state and is safe for concurrent use.
type Resolver struct {
	actors ActorStore
	roles  RoleStore
}

// NewResolver constructs a Resolver over the given stores.
func NewResolver(actors ActorStore, roles RoleStore) *Resolver {
	return &Resolver{actors: actors, roles: roles}
}

// Resolve computes the actor's permission map from three sources in
// ascending precedence: the base role, custom roles and per-actor
// overrides. Sources are merged by resource key: a higher priority
// replaces wholesale, a lower priority is discarded, and equal
// priorities combine (action union, scope max), so the outcome does not
// depend on visit order among equal-priority sources.
func (r *Resolver) Resolve(ctx context.Context, actorID uuid.UUID) (PermissionMap, error) {
	actor, err := r.actors.FindActor(ctx, actorID)
	if err != nil {
		return nil, err
	}

	resolved := make(PermissionMap)

	if actor.BaseRole != "" {
		grant, err := r.roles.GrantBySlug(ctx, actor.BaseRole)
		switch {
		case errors.Is(err, ErrRoleNotFound):
			// Dangling base role slug grants nothing.
		case err != nil:
			return nil, err
		case grant.Active:
			mergeSource(resolved, grant.Permissions, grant.Priority)
		}
	}

	if len(actor.CustomRoleIDs) > 0 {
		grants, err := r.roles.GrantsByIDs(ctx, actor.CustomRoleIDs)
		if err != nil {
			return nil, err
		}
		sort.Slice(grants, func(i, j int) bool { return grants[i].Priority > grants[j].Priority })
		for _, grant := range grants {
			if !grant.Active {
				continue
			}
			mergeSource(resolved, grant.Permissions, grant.Priority)
		}
	}

	mergeSource(resolved, actor.Overrides, OverridePriority)

	return resolved, nil
}

func mergeSource(resolved PermissionMap, perms []ResourcePermission, priority int) {
	for _, perm := range perms {
		if perm.Resource == "" {
			continue
		}
		mergeEntry(resolved, perm, priority)
	}
}

func mergeEntry(resolved PermissionMap, perm ResourcePermission, priority int) {
	existing, ok := resolved[perm.Resource]
	switch {
	case !ok || priority > existing.Priority:
		resolved[perm.Resource] = ResolvedPermission{
			ResourcePermission: ResourcePermission{
				Resource:   perm.Resource,
				Actions:    perm.Actions.Clone(),
				Scope:      perm.Scope,
				Conditions: cloneConditions(perm.Conditions),
			},
			Priority: priority,
		}
	case priority < existing.Priority:
		// Lower priority never displaces an existing entry.
	default:
		// Equal priority combines commutatively: actions OR together,
		// scope takes the max. Conditions are not merged; the entry
		// seen last wins.
		existing.Actions = existing.Actions.Union(perm.Actions)
		existing.Scope = MaxScope(existing.Scope, perm.Scope)
		existing.Conditions = cloneConditions(perm.Conditions)
		resolved[perm.Resource] = existing
	}
}

func cloneConditions(conditions map[string]any) map[string]any {
	if conditions == nil {
		return nil
	}
	clone := make(map[string]any, len(conditions))
	for k, v := range conditions {
		clone[k] = v
	}
	return clone
}
