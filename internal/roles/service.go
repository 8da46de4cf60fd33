package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/google/uuid"

	"github.com/nexhub/nexhub/internal/audit"
	"github.com/nexhub/nexhub/internal/rbac"
	"github.com/nexhub/nexhub/internal/shared"
)

const slugRetryLimit = 50

// ListFilters selects roles for listing.
type ListFilters struct {
	IncludeInactive bool
	IncludeSystem   bool
	Page            int
	Limit           int
}

// ListResult bundles a page of roles with paging metadata.
type ListResult struct {
	Roles      []Role
	Pagination shared.Pagination
}

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	Create(ctx context.Context, role *Role) error
	Update(ctx context.Context, role *Role) error
	FindByID(ctx context.Context, id uuid.UUID) (Role, error)
	FindBySlug(ctx context.Context, slug string) (Role, error)
	List(ctx context.Context, filters ListFilters) ([]Role, int, error)
}

// UserStore is the slice of the actor store role management needs.
type UserStore interface {
	FindActor(ctx context.Context, id uuid.UUID) (rbac.Actor, error)
	HasCustomRole(ctx context.Context, userID, roleID uuid.UUID) (bool, error)
	AddCustomRole(ctx context.Context, userID, roleID uuid.UUID) error
	RemoveCustomRole(ctx context.Context, userID, roleID uuid.UUID) error
	CountWithCustomRole(ctx context.Context, roleID uuid.UUID) (int, error)
	IDsReferencingRole(ctx context.Context, roleID uuid.UUID, slug string) ([]uuid.UUID, error)
}

// Authorizer gates role administration with the same permission model
// it administers. Satisfied by *rbac.Gate.
type Authorizer interface {
	Can(ctx context.Context, actorID uuid.UUID, resource string, action rbac.Action, owner *uuid.UUID) (bool, error)
}

// CacheInvalidator drops per-actor resolved permission maps after role
// mutations. Satisfied by *rbac.Cache.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, actorID uuid.UUID) error
}

// AuditSink records role mutations. Satisfied by *audit.Service.
type AuditSink interface {
	Log(ctx context.Context, entry audit.Entry) error
}

// CreateRoleInput carries the fields for a new role.
type CreateRoleInput struct {
	Name        string
	Description string
	Permissions []rbac.ResourcePermission
	Priority    int
}

// UpdateRoleInput carries partial updates; nil fields stay untouched.
type UpdateRoleInput struct {
	Name        *string
	Description *string
	Permissions *[]rbac.ResourcePermission
	Priority    *int
	Active      *bool
}

// Service owns role lifecycle and assignment. Every mutation runs
// through the self-hosted permission guard, invalidates affected cache
// entries and appends a best-effort audit record.
type Service struct {
	repo   RepositoryPort
	users  UserStore
	authz  Authorizer
	cache  CacheInvalidator
	audit  AuditSink
	logger *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, users UserStore, authz Authorizer, cache CacheInvalidator, sink AuditSink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, users: users, authz: authz, cache: cache, audit: sink, logger: logger}
}

// Create builds a new role. The slug derives from the name; collisions
// are disambiguated with -1, -2, ... suffixes.
func (s *Service) Create(ctx context.Context, caller uuid.UUID, in CreateRoleInput) (Role, error) {
	if err := s.authorize(ctx, caller, rbac.ActionCreate); err != nil {
		return Role{}, err
	}
	if in.Name == "" {
		return Role{}, fmt.Errorf("%w: name required", ErrValidation)
	}
	if err := ValidatePermissions(in.Permissions); err != nil {
		return Role{}, err
	}
	priority := in.Priority
	if priority == 0 {
		priority = rbac.MinRolePriority
	}

	role := Role{
		ID:          uuid.New(),
		Name:        in.Name,
		Description: in.Description,
		System:      false,
		Status:      StatusActive,
		Permissions: in.Permissions,
		Priority:    ClampPriority(priority),
		CreatedBy:   caller,
	}
	if err := s.createWithUniqueSlug(ctx, &role); err != nil {
		return Role{}, err
	}

	s.emit(ctx, audit.ActionRoleCreated, role, caller, audit.Changes{
		"name":        {To: role.Name},
		"slug":        {To: role.Slug},
		"priority":    {To: role.Priority},
		"permissions": {To: role.Permissions},
	})
	return role, nil
}

// Update applies a partial update, records a field-level diff and
// invalidates the cache for every actor referencing the role. The
// audit record is emitted only when something actually changed.
func (s *Service) Update(ctx context.Context, caller uuid.UUID, id uuid.UUID, in UpdateRoleInput) (Role, error) {
	if err := s.authorize(ctx, caller, rbac.ActionUpdate); err != nil {
		return Role{}, err
	}
	role, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if role.System {
		super, err := s.isSuperAdmin(ctx, caller)
		if err != nil {
			return Role{}, err
		}
		if !super {
			return Role{}, ErrSystemRoleImmutable
		}
	}

	changes := audit.Changes{}
	if in.Name != nil && *in.Name != role.Name {
		if *in.Name == "" {
			return Role{}, fmt.Errorf("%w: name required", ErrValidation)
		}
		changes["name"] = audit.FieldChange{From: role.Name, To: *in.Name}
		role.Name = *in.Name
	}
	if in.Description != nil && *in.Description != role.Description {
		changes["description"] = audit.FieldChange{From: role.Description, To: *in.Description}
		role.Description = *in.Description
	}
	if in.Permissions != nil && !reflect.DeepEqual(*in.Permissions, role.Permissions) {
		if err := ValidatePermissions(*in.Permissions); err != nil {
			return Role{}, err
		}
		changes["permissions"] = audit.FieldChange{From: role.Permissions, To: *in.Permissions}
		role.Permissions = *in.Permissions
	}
	if in.Priority != nil {
		clamped := ClampPriority(*in.Priority)
		if clamped != role.Priority {
			changes["priority"] = audit.FieldChange{From: role.Priority, To: clamped}
			role.Priority = clamped
		}
	}
	if in.Active != nil && *in.Active != role.Active() {
		prev := role.Status
		if *in.Active {
			role.Activate()
		} else if err := role.Deactivate(); err != nil {
			return Role{}, err
		}
		changes["status"] = audit.FieldChange{From: string(prev), To: string(role.Status)}
	}

	if len(changes) == 0 {
		return role, nil
	}

	if err := s.repo.Update(ctx, &role); err != nil {
		return Role{}, err
	}
	s.invalidateReferencingActors(ctx, role)
	s.emit(ctx, audit.ActionRoleUpdated, role, caller, changes)
	return role, nil
}

// Delete soft-deletes a role. System roles and roles still assigned to
// users refuse deletion.
func (s *Service) Delete(ctx context.Context, caller uuid.UUID, id uuid.UUID) error {
	if err := s.authorize(ctx, caller, rbac.ActionDelete); err != nil {
		return err
	}
	role, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if role.System {
		return ErrSystemRoleImmutable
	}
	refs, err := s.users.CountWithCustomRole(ctx, role.ID)
	if err != nil {
		return err
	}
	if refs > 0 {
		return fmt.Errorf("%w: %d users", ErrRoleInUse, refs)
	}
	if err := role.Deactivate(); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, &role); err != nil {
		return err
	}
	s.invalidateReferencingActors(ctx, role)
	s.emit(ctx, audit.ActionRoleDeleted, role, caller, audit.Changes{
		"status": {From: string(StatusActive), To: string(StatusInactive)},
	})
	return nil
}

// Clone copies a role's permissions and priority into a new non-system
// active role under newName.
func (s *Service) Clone(ctx context.Context, caller uuid.UUID, sourceID uuid.UUID, newName string) (Role, error) {
	if err := s.authorize(ctx, caller, rbac.ActionCreate); err != nil {
		return Role{}, err
	}
	if newName == "" {
		return Role{}, fmt.Errorf("%w: name required", ErrValidation)
	}
	source, err := s.repo.FindByID(ctx, sourceID)
	if err != nil {
		return Role{}, err
	}

	clone := Role{
		ID:          uuid.New(),
		Name:        newName,
		Description: source.Description,
		System:      false,
		Status:      StatusActive,
		Permissions: append([]rbac.ResourcePermission(nil), source.Permissions...),
		Priority:    source.Priority,
		CreatedBy:   caller,
	}
	if err := s.createWithUniqueSlug(ctx, &clone); err != nil {
		return Role{}, err
	}

	s.emit(ctx, audit.ActionRoleCloned, clone, caller, audit.Changes{
		"name":       {To: clone.Name},
		"sourceRole": {From: source.ID.String(), To: clone.ID.String()},
	})
	return clone, nil
}

// Assign adds a custom role to a user and invalidates that user's
// cached permissions.
func (s *Service) Assign(ctx context.Context, caller, userID, roleID uuid.UUID) error {
	if err := s.authorize(ctx, caller, rbac.ActionUpdate); err != nil {
		return err
	}
	role, err := s.repo.FindByID(ctx, roleID)
	if err != nil {
		return err
	}
	if !role.Active() {
		return ErrRoleInactive
	}
	if _, err := s.users.FindActor(ctx, userID); err != nil {
		return err
	}
	has, err := s.users.HasCustomRole(ctx, userID, roleID)
	if err != nil {
		return err
	}
	if has {
		return ErrRoleAlreadyAssigned
	}
	if err := s.users.AddCustomRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.invalidateActor(ctx, userID)
	s.emit(ctx, audit.ActionRoleAssignedToUser, role, caller, audit.Changes{
		"userId": {To: userID.String()},
	})
	return nil
}

// Remove detaches a custom role from a user. Removing an absent
// assignment is a no-op, not an error.
func (s *Service) Remove(ctx context.Context, caller, userID, roleID uuid.UUID) error {
	if err := s.authorize(ctx, caller, rbac.ActionUpdate); err != nil {
		return err
	}
	role, err := s.repo.FindByID(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.users.RemoveCustomRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.invalidateActor(ctx, userID)
	s.emit(ctx, audit.ActionRoleRemovedFromUser, role, caller, audit.Changes{
		"userId": {From: userID.String()},
	})
	return nil
}

// Get loads one role.
func (s *Service) Get(ctx context.Context, caller uuid.UUID, id uuid.UUID) (Role, error) {
	if err := s.authorize(ctx, caller, rbac.ActionRead); err != nil {
		return Role{}, err
	}
	return s.repo.FindByID(ctx, id)
}

// List returns a page of roles ordered by priority desc, newest first.
func (s *Service) List(ctx context.Context, caller uuid.UUID, filters ListFilters) (ListResult, error) {
	if err := s.authorize(ctx, caller, rbac.ActionRead); err != nil {
		return ListResult{}, err
	}
	filters.Page, filters.Limit = shared.NormalizePage(filters.Page, filters.Limit, 100)
	list, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Roles: list, Pagination: shared.NewPagination(filters.Page, filters.Limit, total)}, nil
}

// Seed ensures the built-in system roles exist. Run at process
// bootstrap; skips roles whose slug is already present.
func (s *Service) Seed(ctx context.Context) error {
	for _, builtin := range Builtin() {
		_, err := s.repo.FindBySlug(ctx, builtin.Slug)
		if err == nil {
			continue
		}
		if !errors.Is(err, rbac.ErrRoleNotFound) {
			return err
		}
		builtin.ID = uuid.New()
		if err := s.repo.Create(ctx, &builtin); err != nil {
			return fmt.Errorf("seed role %s: %w", builtin.Slug, err)
		}
		s.logger.Info("seeded built-in role", slog.String("slug", builtin.Slug))
	}
	return nil
}

func (s *Service) authorize(ctx context.Context, caller uuid.UUID, action rbac.Action) error {
	ok, err := s.authz.Can(ctx, caller, "roles", action, nil)
	if err != nil {
		return err
	}
	if !ok {
		return rbac.ErrForbidden
	}
	return nil
}

func (s *Service) isSuperAdmin(ctx context.Context, caller uuid.UUID) (bool, error) {
	actor, err := s.users.FindActor(ctx, caller)
	if err != nil {
		return false, err
	}
	return actor.BaseRole == SlugSuperAdmin, nil
}

func (s *Service) createWithUniqueSlug(ctx context.Context, role *Role) error {
	base := role.Slug
	if base == "" {
		base = Slugify(role.Name)
	}
	if base == "" {
		return fmt.Errorf("%w: name yields empty slug", ErrValidation)
	}
	for i := 0; i < slugRetryLimit; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d", base, i)
		}
		_, err := s.repo.FindBySlug(ctx, candidate)
		if err == nil {
			continue
		}
		if !errors.Is(err, rbac.ErrRoleNotFound) {
			return err
		}
		role.Slug = candidate
		err = s.repo.Create(ctx, role)
		if errors.Is(err, ErrSlugTaken) {
			// Lost a create race; try the next suffix.
			continue
		}
		return err
	}
	return fmt.Errorf("%w: could not derive unique slug from %q", ErrValidation, role.Name)
}

func (s *Service) invalidateReferencingActors(ctx context.Context, role Role) {
	ids, err := s.users.IDsReferencingRole(ctx, role.ID, role.Slug)
	if err != nil {
		s.logger.Warn("list role members for cache invalidation",
			slog.String("role", role.Slug), slog.Any("error", err))
		return
	}
	for _, id := range ids {
		s.invalidateActor(ctx, id)
	}
}

func (s *Service) invalidateActor(ctx context.Context, actorID uuid.UUID) {
	if err := s.cache.Invalidate(ctx, actorID); err != nil {
		s.logger.Warn("invalidate permission cache",
			slog.String("actor", actorID.String()), slog.Any("error", err))
	}
}

func (s *Service) emit(ctx context.Context, action audit.Action, role Role, caller uuid.UUID, changes audit.Changes) {
	meta := shared.RequestMetaFromContext(ctx)
	entry := audit.Entry{
		Action:      action,
		RoleID:      role.ID,
		RoleName:    role.Name,
		PerformedBy: caller,
		Changes:     changes,
		IPAddress:   meta.IPAddress,
		UserAgent:   meta.UserAgent,
	}
	// Best effort: a trail outage never blocks the mutation.
	if err := s.audit.Log(ctx, entry); err != nil {
		s.logger.Warn("audit entry dropped", slog.String("action", string(action)))
	}
}
