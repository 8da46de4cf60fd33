package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	cacheKeyPrefix  = "rbac:perms"
	cacheVersionKey = "rbac:perms:version"
)

// DefaultCacheTTL bounds how stale a resolved permission map may get
// when an invalidation is missed or delayed.
const DefaultCacheTTL = 5 * time.Minute

// Cache memoizes resolved permission maps in Redis, keyed by actor id
// and a global version. Per-actor invalidation deletes one key; global
// invalidation bumps the version so every existing key goes cold at
// once. A Redis outage degrades to direct resolution instead of
// failing authorization checks.
type Cache struct {
	client   *redis.Client
	resolver *Resolver
	ttl      time.Duration
	logger   *slog.Logger
	group    singleflight.Group
}

// NewCache constructs a Cache. A non-positive ttl falls back to
// DefaultCacheTTL.
func NewCache(client *redis.Client, resolver *Resolver, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, resolver: resolver, ttl: ttl, logger: logger}
}

// Resolve implements Source. It returns the cached map when present and
// unexpired, otherwise resolves, stores and returns. Concurrent misses
// for the same actor collapse into a single resolution.
func (c *Cache) Resolve(ctx context.Context, actorID uuid.UUID) (PermissionMap, error) {
	if c.client == nil {
		return c.resolver.Resolve(ctx, actorID)
	}

	key, err := c.key(ctx, actorID)
	if err != nil {
		c.logger.Warn("permission cache key", slog.Any("error", err))
		return c.resolver.Resolve(ctx, actorID)
	}

	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var resolved PermissionMap
		if err := json.Unmarshal(payload, &resolved); err == nil {
			return resolved, nil
		}
		c.logger.Warn("permission cache decode", slog.String("key", key), slog.Any("error", err))
	} else if err != redis.Nil {
		c.logger.Warn("permission cache read", slog.String("key", key), slog.Any("error", err))
		return c.resolver.Resolve(ctx, actorID)
	}

	value, err, _ := c.resolveShared(ctx, key, actorID)
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (c *Cache) resolveShared(ctx context.Context, key string, actorID uuid.UUID) (PermissionMap, error, bool) {
	resultChan := c.group.DoChan(key, func() (interface{}, error) {
		resolved, err := c.resolver.Resolve(ctx, actorID)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(resolved)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("permission cache write", slog.String("key", key), slog.Any("error", err))
		}
		return resolved, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err, res.Shared
		}
		return res.Val.(PermissionMap), nil, res.Shared
	}
}

// Invalidate drops the cached map for one actor.
func (c *Cache) Invalidate(ctx context.Context, actorID uuid.UUID) error {
	if c.client == nil {
		return nil
	}
	key, err := c.key(ctx, actorID)
	if err != nil {
		return err
	}
	return c.client.Del(ctx, key).Err()
}

// InvalidateAll cold-starts the entire cache by bumping the global
// version. Expensive platform-wide: every actor repopulates on next
// check. Reserved for super-admin surfaces.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

func (c *Cache) key(ctx context.Context, actorID uuid.UUID) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d:%s", cacheKeyPrefix, ver, actorID), nil
}

func (c *Cache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}
