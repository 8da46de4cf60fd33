package rbac

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingActorStore struct {
	inner ActorStore
	calls atomic.Int64
}

func (s *countingActorStore) FindActor(ctx context.Context, id uuid.UUID) (Actor, error) {
	s.calls.Add(1)
	return s.inner.FindActor(ctx, id)
}

func newTestCache(t *testing.T, ttl time.Duration, actors ...Actor) (*Cache, *countingActorStore, *miniredis.Miniredis) {
	t.Helper()

	roleStore := &stubRoleStore{
		bySlug: map[string]RoleGrant{
			"member": {
				ID: uuid.New(), Slug: "member", Active: true, Priority: 1,
				Permissions: []ResourcePermission{perm("blog-posts", ScopeOwn, ActionCreate, ActionRead)},
			},
		},
	}
	byID := make(map[uuid.UUID]Actor, len(actors))
	for _, a := range actors {
		byID[a.ID] = a
	}
	store := &countingActorStore{inner: &stubActorStore{actors: byID}}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache := NewCache(client, NewResolver(store, roleStore), ttl, nil)
	return cache, store, mr
}

func TestCacheMissThenHit(t *testing.T) {
	actor := Actor{ID: uuid.New(), BaseRole: "member"}
	cache, store, _ := newTestCache(t, time.Minute, actor)
	ctx := context.Background()

	first, err := cache.Resolve(ctx, actor.ID)
	require.NoError(t, err)
	require.Contains(t, first, "blog-posts")
	assert.EqualValues(t, 1, store.calls.Load())

	second, err := cache.Resolve(ctx, actor.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, store.calls.Load(), "second lookup should be served from cache")
}

func TestCacheEntryExpires(t *testing.T) {
	actor := Actor{ID: uuid.New(), BaseRole: "member"}
	cache, store, mr := newTestCache(t, time.Minute, actor)
	ctx := context.Background()

	_, err := cache.Resolve(ctx, actor.ID)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = cache.Resolve(ctx, actor.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, store.calls.Load(), "expired entry should re-resolve")
}

func TestCacheInvalidateActor(t *testing.T) {
	alice := Actor{ID: uuid.New(), BaseRole: "member"}
	bob := Actor{ID: uuid.New(), BaseRole: "member"}
	cache, store, _ := newTestCache(t, time.Minute, alice, bob)
	ctx := context.Background()

	_, err := cache.Resolve(ctx, alice.ID)
	require.NoError(t, err)
	_, err = cache.Resolve(ctx, bob.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, store.calls.Load())

	require.NoError(t, cache.Invalidate(ctx, alice.ID))

	_, err = cache.Resolve(ctx, alice.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, store.calls.Load(), "alice should re-resolve")

	_, err = cache.Resolve(ctx, bob.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, store.calls.Load(), "bob should still be cached")
}

func TestCacheInvalidateAll(t *testing.T) {
	alice := Actor{ID: uuid.New(), BaseRole: "member"}
	bob := Actor{ID: uuid.New(), BaseRole: "member"}
	cache, store, _ := newTestCache(t, time.Minute, alice, bob)
	ctx := context.Background()

	_, err := cache.Resolve(ctx, alice.ID)
	require.NoError(t, err)
	_, err = cache.Resolve(ctx, bob.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, store.calls.Load())

	require.NoError(t, cache.InvalidateAll(ctx))

	_, err = cache.Resolve(ctx, alice.ID)
	require.NoError(t, err)
	_, err = cache.Resolve(ctx, bob.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, store.calls.Load(), "version bump should cold-start every actor")
}

func TestCacheServesFreshDataAfterInvalidation(t *testing.T) {
	roleID := uuid.New()
	roleStore := &stubRoleStore{byID: map[uuid.UUID]RoleGrant{
		roleID: {ID: roleID, Active: true, Priority: 50,
			Permissions: []ResourcePermission{perm("users", ScopeAll, ActionRead)}},
	}}
	actor := Actor{ID: uuid.New(), CustomRoleIDs: []uuid.UUID{roleID}}
	store := &stubActorStore{actors: map[uuid.UUID]Actor{actor.ID: actor}}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, NewResolver(store, roleStore), time.Minute, nil)
	ctx := context.Background()

	resolved, err := cache.Resolve(ctx, actor.ID)
	require.NoError(t, err)
	assert.False(t, resolved["users"].Actions.Has(ActionDelete))

	// Widen the role, then invalidate. The next read must reflect it.
	grant := roleStore.byID[roleID]
	grant.Permissions = []ResourcePermission{perm("users", ScopeAll, ActionRead, ActionDelete)}
	roleStore.byID[roleID] = grant
	require.NoError(t, cache.Invalidate(ctx, actor.ID))

	resolved, err = cache.Resolve(ctx, actor.ID)
	require.NoError(t, err)
	assert.True(t, resolved["users"].Actions.Has(ActionDelete))
}

func TestCacheFallsBackWhenRedisDown(t *testing.T) {
	actor := Actor{ID: uuid.New(), BaseRole: "member"}
	cache, store, mr := newTestCache(t, time.Minute, actor)
	ctx := context.Background()

	mr.Close()

	resolved, err := cache.Resolve(ctx, actor.ID)
	require.NoError(t, err, "redis outage must not fail authorization")
	assert.Contains(t, resolved, "blog-posts")
	assert.EqualValues(t, 1, store.calls.Load())
}

func TestCacheNilClientResolvesDirectly(t *testing.T) {
	actor := Actor{ID: uuid.New(), BaseRole: "member"}
	roleStore := &stubRoleStore{bySlug: map[string]RoleGrant{
		"member": {ID: uuid.New(), Slug: "member", Active: true, Priority: 1,
			Permissions: []ResourcePermission{perm("blog-posts", ScopeOwn, ActionRead)}},
	}}
	store := &stubActorStore{actors: map[uuid.UUID]Actor{actor.ID: actor}}
	cache := NewCache(nil, NewResolver(store, roleStore), 0, nil)

	resolved, err := cache.Resolve(context.Background(), actor.ID)
	require.NoError(t, err)
	assert.Contains(t, resolved, "blog-posts")

	require.NoError(t, cache.Invalidate(context.Background(), actor.ID))
	require.NoError(t, cache.InvalidateAll(context.Background()))
}
