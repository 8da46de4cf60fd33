package roles

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexhub/nexhub/internal/audit"
	"github.com/nexhub/nexhub/internal/rbac"
)

// ============================================================================
// MOCKS
// ============================================================================

type mockRepository struct {
	byID   map[uuid.UUID]Role
	bySlug map[uuid.UUID]string

	createErr error
	// Slugs that fail with ErrSlugTaken on the first create attempt,
	// simulating a lost insert race.
	raceSlugs map[string]int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		byID:      make(map[uuid.UUID]Role),
		bySlug:    make(map[uuid.UUID]string),
		raceSlugs: make(map[string]int),
	}
}

func (m *mockRepository) add(role Role) {
	m.byID[role.ID] = role
	m.bySlug[role.ID] = role.Slug
}

func (m *mockRepository) Create(ctx context.Context, role *Role) error {
	if m.createErr != nil {
		return m.createErr
	}
	if n := m.raceSlugs[role.Slug]; n > 0 {
		m.raceSlugs[role.Slug] = n - 1
		return ErrSlugTaken
	}
	for _, slug := range m.bySlug {
		if slug == role.Slug {
			return ErrSlugTaken
		}
	}
	m.add(*role)
	return nil
}

func (m *mockRepository) Update(ctx context.Context, role *Role) error {
	if _, ok := m.byID[role.ID]; !ok {
		return rbac.ErrRoleNotFound
	}
	m.add(*role)
	return nil
}

func (m *mockRepository) FindByID(ctx context.Context, id uuid.UUID) (Role, error) {
	role, ok := m.byID[id]
	if !ok {
		return Role{}, rbac.ErrRoleNotFound
	}
	return role, nil
}

func (m *mockRepository) FindBySlug(ctx context.Context, slug string) (Role, error) {
	for id, s := range m.bySlug {
		if s == slug {
			return m.byID[id], nil
		}
	}
	return Role{}, rbac.ErrRoleNotFound
}

func (m *mockRepository) List(ctx context.Context, filters ListFilters) ([]Role, int, error) {
	list := make([]Role, 0, len(m.byID))
	for _, role := range m.byID {
		if !filters.IncludeInactive && !role.Active() {
			continue
		}
		if !filters.IncludeSystem && role.System {
			continue
		}
		list = append(list, role)
	}
	return list, len(list), nil
}

type mockUserStore struct {
	actors      map[uuid.UUID]rbac.Actor
	assignments map[uuid.UUID][]uuid.UUID // userID -> roleIDs
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		actors:      make(map[uuid.UUID]rbac.Actor),
		assignments: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (m *mockUserStore) FindActor(ctx context.Context, id uuid.UUID) (rbac.Actor, error) {
	actor, ok := m.actors[id]
	if !ok {
		return rbac.Actor{}, rbac.ErrActorNotFound
	}
	return actor, nil
}

func (m *mockUserStore) HasCustomRole(ctx context.Context, userID, roleID uuid.UUID) (bool, error) {
	for _, id := range m.assignments[userID] {
		if id == roleID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockUserStore) AddCustomRole(ctx context.Context, userID, roleID uuid.UUID) error {
	m.assignments[userID] = append(m.assignments[userID], roleID)
	return nil
}

func (m *mockUserStore) RemoveCustomRole(ctx context.Context, userID, roleID uuid.UUID) error {
	kept := m.assignments[userID][:0]
	for _, id := range m.assignments[userID] {
		if id != roleID {
			kept = append(kept, id)
		}
	}
	m.assignments[userID] = kept
	return nil
}

func (m *mockUserStore) CountWithCustomRole(ctx context.Context, roleID uuid.UUID) (int, error) {
	count := 0
	for _, roleIDs := range m.assignments {
		for _, id := range roleIDs {
			if id == roleID {
				count++
			}
		}
	}
	return count, nil
}

func (m *mockUserStore) IDsReferencingRole(ctx context.Context, roleID uuid.UUID, slug string) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for userID, actor := range m.actors {
		if actor.BaseRole == slug && !seen[userID] {
			seen[userID] = true
			ids = append(ids, userID)
		}
	}
	for userID, roleIDs := range m.assignments {
		for _, id := range roleIDs {
			if id == roleID && !seen[userID] {
				seen[userID] = true
				ids = append(ids, userID)
			}
		}
	}
	return ids, nil
}

type allowAll struct{ deny bool }

func (a *allowAll) Can(ctx context.Context, actorID uuid.UUID, resource string, action rbac.Action, owner *uuid.UUID) (bool, error) {
	return !a.deny, nil
}

type recordingInvalidator struct {
	actors []uuid.UUID
	err    error
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, actorID uuid.UUID) error {
	r.actors = append(r.actors, actorID)
	return r.err
}

type recordingAudit struct {
	entries []audit.Entry
	err     error
}

func (r *recordingAudit) Log(ctx context.Context, entry audit.Entry) error {
	r.entries = append(r.entries, entry)
	return r.err
}

type fixture struct {
	svc    *Service
	repo   *mockRepository
	users  *mockUserStore
	authz  *allowAll
	cache  *recordingInvalidator
	trail  *recordingAudit
	caller uuid.UUID
}

func newFixture() *fixture {
	repo := newMockRepository()
	users := newMockUserStore()
	authz := &allowAll{}
	cache := &recordingInvalidator{}
	trail := &recordingAudit{}
	return &fixture{
		svc:    NewService(repo, users, authz, cache, trail, nil),
		repo:   repo,
		users:  users,
		authz:  authz,
		cache:  cache,
		trail:  trail,
		caller: uuid.New(),
	}
}

func ownPerm(resource string, actions ...rbac.Action) rbac.ResourcePermission {
	return rbac.ResourcePermission{Resource: resource, Actions: rbac.NewActionSet(actions...), Scope: rbac.ScopeOwn}
}

// ============================================================================
// CREATE
// ============================================================================

func TestCreateRole(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	role, err := f.svc.Create(ctx, f.caller, CreateRoleInput{
		Name:        "Content Editor",
		Description: "Edits blog posts",
		Permissions: []rbac.ResourcePermission{ownPerm("blog-posts", rbac.ActionCreate, rbac.ActionUpdate)},
		Priority:    40,
	})
	require.NoError(t, err)

	assert.Equal(t, "content-editor", role.Slug)
	assert.Equal(t, 40, role.Priority)
	assert.False(t, role.System)
	assert.Equal(t, StatusActive, role.Status)
	assert.Equal(t, f.caller, role.CreatedBy)

	require.Len(t, f.trail.entries, 1)
	assert.Equal(t, audit.ActionRoleCreated, f.trail.entries[0].Action)
	assert.Equal(t, role.ID, f.trail.entries[0].RoleID)
	assert.Equal(t, f.caller, f.trail.entries[0].PerformedBy)
}

func TestCreateRoleDeniedWithoutPermission(t *testing.T) {
	f := newFixture()
	f.authz.deny = true

	_, err := f.svc.Create(context.Background(), f.caller, CreateRoleInput{Name: "Editor"})
	require.ErrorIs(t, err, rbac.ErrForbidden)
	assert.Empty(t, f.trail.entries)
}

func TestCreateRoleValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.caller, CreateRoleInput{Name: ""})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Create(ctx, f.caller, CreateRoleInput{
		Name: "Broken",
		Permissions: []rbac.ResourcePermission{
			{Resource: "blog-posts", Actions: rbac.NewActionSet("fly"), Scope: rbac.ScopeOwn},
		},
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Create(ctx, f.caller, CreateRoleInput{
		Name: "Broken",
		Permissions: []rbac.ResourcePermission{
			ownPerm("blog-posts", rbac.ActionRead),
			ownPerm("blog-posts", rbac.ActionUpdate),
		},
	})
	require.ErrorIs(t, err, ErrValidation, "duplicate resources should be rejected")
}

func TestCreateRoleClampsPriority(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	role, err := f.svc.Create(ctx, f.caller, CreateRoleInput{Name: "Overreach", Priority: 5000})
	require.NoError(t, err)
	assert.Equal(t, rbac.MaxRolePriority, role.Priority)

	role, err = f.svc.Create(ctx, f.caller, CreateRoleInput{Name: "Default Prio"})
	require.NoError(t, err)
	assert.Equal(t, rbac.MinRolePriority, role.Priority)
}

func TestCreateRoleDisambiguatesSlug(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.svc.Create(ctx, f.caller, CreateRoleInput{Name: "Editor"})
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, f.caller, CreateRoleInput{Name: "Editor"})
	require.NoError(t, err)
	third, err := f.svc.Create(ctx, f.caller, CreateRoleInput{Name: "Editor"})
	require.NoError(t, err)

	assert.Equal(t, "editor", first.Slug)
	assert.Equal(t, "editor-1", second.Slug)
	assert.Equal(t, "editor-2", third.Slug)
}

func TestCreateRoleRetriesLostSlugRace(t *testing.T) {
	f := newFixture()
	// FindBySlug sees nothing, but the insert races and loses once.
	f.repo.raceSlugs["editor"] = 1

	role, err := f.svc.Create(context.Background(), f.caller, CreateRoleInput{Name: "Editor"})
	require.NoError(t, err)
	assert.Equal(t, "editor-1", role.Slug)
}

// ============================================================================
// UPDATE
// ============================================================================

func TestUpdateRoleDiffsAndInvalidates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	role, err := f.svc.Create(ctx, f.caller, CreateRoleInput{
		Name:        "Editor",
		Permissions: []rbac.ResourcePermission{ownPerm("blog-posts", rbac.ActionUpdate)},
		Priority:    40,
	})
	require.NoError(t, err)

	member := uuid.New()
	f.users.actors[member] = rbac.Actor{ID: member}
	require.NoError(t, f.users.AddCustomRole(ctx, member, role.ID))
	f.trail.entries = nil
	f.cache.actors = nil

	newName := "Senior Editor"
	newPriority := 60
	updated, err := f.svc.Update(ctx, f.caller, role.ID, UpdateRoleInput{
		Name:     &newName,
		Priority: &newPriority,
	})
	require.NoError(t, err)
	assert.Equal(t, "Senior Editor", updated.Name)
	assert.Equal(t, 60, updated.Priority)
	assert.Equal(t, "editor", updated.Slug, "slug never changes on rename")

	require.Len(t, f.trail.entries, 1)
	entry := f.trail.entries[0]
	assert.Equal(t, audit.ActionRoleUpdated, entry.Action)
	assert.Equal(t, audit.FieldChange{From: "Editor", To: "Senior Editor"}, entry.Changes["name"])
	assert.Equal(t, audit.FieldChange{From: 40, To: 60}, entry.Changes["priority"])
	assert.NotContains(t, entry.Changes, "permissions")

	assert.Contains(t, f.cache.actors, member, "assigned users lose their cached permissions")
}

func TestUpdateRoleNoopSkipsPersistAndAudit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	role, err := f.svc.Create(ctx, f.caller, CreateRoleInput{Name: "Editor", Priority: 40})
	require.NoError(t, err)
	f.trail.entries = nil
	f.cache.actors = nil

	sameName := "Editor"
	_, err = f.svc.Update(ctx, f.caller, role.ID, UpdateRoleInput{Name: &sameName})
	require.NoError(t, err)
	assert.Empty(t, f.trail.entries)
	assert.Empty(t, f.cache.actors)
}

func TestUpdateSystemRoleRequiresSuperAdmin(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	system := Role{ID: uuid.New(), Name: "Admin", Slug: "admin", System: true, Status: StatusActive, Priority: 90}
	f.repo.add(system)

	plain := uuid.New()
	f.users.actors[plain] = rbac.Actor{ID: plain, BaseRole: SlugUser}
	root := uuid.New()
	f.users.actors[root] = rbac.Actor{ID: root, BaseRole: SlugSuperAdmin}

	desc := "tightened"
	_, err := f.svc.Update(ctx, plain, system.ID, UpdateRoleInput{Description: &desc})
	require.ErrorIs(t, err, ErrSystemRoleImmutable)

	updated, err := f.svc.Update(ctx, root, system.ID, UpdateRoleInput{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "tightened", updated.Description)
}

func TestDeactivateSystemRoleRefused(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	system := Role{ID: uuid.New(), Name: "Admin", Slug: "admin", System: true, Status: StatusActive, Priority: 90}
	f.repo.add(system)
	root := uuid.New()
	f.users.actors[root] = rbac.Actor{ID: root, BaseRole: SlugSuperAdmin}

	inactive := false
	_, err := f.svc.Update(ctx, root, system.ID, UpdateRoleInput{Active: &inactive})
	require.ErrorIs(t, err, ErrSystemRoleImmutable, "even super admins cannot deactivate system roles")
}

// ============================================================================
// DELETE
// ============================================================================

func TestDeleteRole(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	role, err := f.svc.Create(ctx, f.caller, CreateRoleInput{Name: "Temp"})
	require.NoError(t, err)

	member := uuid.New()
	f.users.actors[member] = rbac.Actor{ID: member}
	require.NoError(t, f.users.AddCustomRole(ctx, member, role.ID))

	err = f.svc.Delete(ctx, f.caller, role.ID)
	require.ErrorIs(t, err, ErrRoleInUse)

	require.NoError(t, f.users.RemoveCustomRole(ctx, member, role.ID))
	f.trail.entries = nil

	require.NoError(t, f.svc.Delete(ctx, f.caller, role.ID))

	stored, err := f.repo.FindByID(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, stored.Status, "delete is a soft delete")

	require.Len(t, f.trail.entries, 1)
	assert.Equal(t, audit.ActionRoleDeleted, f.trail.entries[0].Action)
}

func TestDeleteSystemRoleRefused(t *testing.T) {
	f := newFixture()
	system := Role{ID: uuid.New(), Name: "Admin", Slug: "admin", System: true, Status: StatusActive}
	f.repo.add(system)

	err := f.svc.Delete(context.Background(), f.caller, system.ID)
	require.ErrorIs(t, err, ErrSystemRoleImmutable)
}

// ============================================================================
// CLONE
// ============================================================================

func TestCloneRole(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	source := Role{
		ID: uuid.New(), Name: "Moderator", Slug: "moderator", System: true,
		Status: StatusActive, Priority: 50,
		Permissions: []rbac.ResourcePermission{ownPerm("forum-threads", rbac.ActionModerate)},
	}
	f.repo.add(source)

	clone, err := f.svc.Clone(ctx, f.caller, source.ID, "Community Lead")
	require.NoError(t, err)

	assert.Equal(t, "community-lead", clone.Slug)
	assert.Equal(t, source.Priority, clone.Priority)
	assert.Equal(t, source.Permissions, clone.Permissions)
	assert.False(t, clone.System, "clones of system roles are ordinary roles")

	require.Len(t, f.trail.entries, 1)
	assert.Equal(t, audit.ActionRoleCloned, f.trail.entries[0].Action)
}

// ============================================================================
// ASSIGNMENT
// ============================================================================

func TestAssignAndRemoveRole(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	role, err := f.svc.Create(ctx, f.caller, CreateRoleInput{Name: "Editor"})
	require.NoError(t, err)
	user := uuid.New()
	f.users.actors[user] = rbac.Actor{ID: user}
	f.cache.actors = nil
	f.trail.entries = nil

	require.NoError(t, f.svc.Assign(ctx, f.caller, user, role.ID))
	assert.Contains(t, f.cache.actors, user)

	err = f.svc.Assign(ctx, f.caller, user, role.ID)
	require.ErrorIs(t, err, ErrRoleAlreadyAssigned)

	require.NoError(t, f.svc.Remove(ctx, f.caller, user, role.ID))
	// Removing an absent assignment stays a no-op.
	require.NoError(t, f.svc.Remove(ctx, f.caller, user, role.ID))

	actions := make([]audit.Action, 0, len(f.trail.entries))
	for _, e := range f.trail.entries {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []audit.Action{
		audit.ActionRoleAssignedToUser,
		audit.ActionRoleRemovedFromUser,
		audit.ActionRoleRemovedFromUser,
	}, actions)
}

func TestAssignInactiveRoleRefused(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	role := Role{ID: uuid.New(), Name: "Retired", Slug: "retired", Status: StatusInactive}
	f.repo.add(role)
	user := uuid.New()
	f.users.actors[user] = rbac.Actor{ID: user}

	err := f.svc.Assign(ctx, f.caller, user, role.ID)
	require.ErrorIs(t, err, ErrRoleInactive)
}

func TestAssignUnknownUserRefused(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	role, err := f.svc.Create(ctx, f.caller, CreateRoleInput{Name: "Editor"})
	require.NoError(t, err)

	err = f.svc.Assign(ctx, f.caller, uuid.New(), role.ID)
	require.ErrorIs(t, err, rbac.ErrActorNotFound)
}

// ============================================================================
// AUDIT DURABILITY
// ============================================================================

func TestMutationsSurviveAuditOutage(t *testing.T) {
	f := newFixture()
	f.trail.err = errors.New("trail store down")

	role, err := f.svc.Create(context.Background(), f.caller, CreateRoleInput{Name: "Editor"})
	require.NoError(t, err, "audit failures never block the mutation")
	assert.NotEqual(t, uuid.Nil, role.ID)
}

// ============================================================================
// SEED
// ============================================================================

func TestSeedIsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.svc.Seed(ctx))
	require.NoError(t, f.svc.Seed(ctx))

	count := 0
	for _, role := range f.repo.byID {
		require.True(t, role.System)
		count++
	}
	assert.Equal(t, len(Builtin()), count)

	super, err := f.repo.FindBySlug(ctx, SlugSuperAdmin)
	require.NoError(t, err)
	assert.Equal(t, rbac.MaxRolePriority, super.Priority)
}
