package grantkit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the key-value store resolution snapshots are memoized in. It is
// an optimization, never a correctness dependency: any error from Get or Set
// makes the engine recompute from the store instead.
type Cache interface {
	// Get returns the value for key, with false when the key is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value under key for at most ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Forget drops the given keys. Missing keys are not an error.
	Forget(ctx context.Context, keys ...string) error
}

// RedisCache is the shipped Cache implementation: JSON values in Redis with
// an optional extra key prefix for hosts that share one Redis database.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache creates a Redis-backed cache. The prefix may be empty; when
// set it is prepended to every key ("myapp:grantkit_roles_user_17").
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefix,
	}
}

func (c *RedisCache) buildKey(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + key
}

// Get returns the value for key, with false when the key is absent.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.buildKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Set stores a value under key for at most ttl.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.buildKey(key), value, ttl).Err()
}

// Forget drops the given keys.
func (c *RedisCache) Forget(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	built := make([]string, len(keys))
	for i, key := range keys {
		built[i] = c.buildKey(key)
	}
	return c.client.Del(ctx, built...).Err()
}

// Ping checks the Redis connection. Used by the health surface only.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// nopCache is used when caching is disabled or no cache was supplied: every
// read is a miss, every write a no-op.
type nopCache struct{}

func (nopCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (nopCache) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (nopCache) Forget(context.Context, ...string) error { return nil }

// ============================================================================
// CACHE KEYS
// ============================================================================

const (
	cacheKeyPrefix        = "grantkit"
	cacheNamespaceRoles   = "roles"
	cacheNamespacePerms   = "permissions"
	cacheNamespaceGivers  = "giver_roles"
	cacheKeyPermissionMap = cacheKeyPrefix + "_permissions_map"

	// flushBatchSize bounds how many principal keys a cascade invalidation
	// forgets per round trip.
	flushBatchSize = 100
)

func cacheKey(namespace, typeTag, id string) string {
	return cacheKeyPrefix + "_" + namespace + "_" + typeTag + "_" + id
}

func rolesCacheKey(p Principal) string {
	return cacheKey(cacheNamespaceRoles, p.Type, p.ID)
}

func permissionsCacheKey(p Principal) string {
	return cacheKey(cacheNamespacePerms, p.Type, p.ID)
}

// Givers get their own namespace so a giver and a principal sharing a
// (type, id) pair never collide on one key.
func giverRolesCacheKey(g Giver) string {
	return cacheKey(cacheNamespaceGivers, g.Type, g.ID)
}

// ============================================================================
// REMEMBER
// ============================================================================

// remember returns the cached value for key, computing and storing it on a
// miss. Caching disabled means compute directly; a failing cache degrades to
// compute as well. A broken cache costs latency, never correctness.
func remember[T any](ctx context.Context, s *Service, key string, compute func(ctx context.Context) (T, error)) (T, error) {
	if !s.config.CacheEnabled {
		return compute(ctx)
	}

	if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var value T
		if err := json.Unmarshal(data, &value); err == nil {
			return value, nil
		}
		// Undecodable entry: drop it and fall through to compute.
		_ = s.cache.Forget(ctx, key)
	}

	value, err := compute(ctx)
	if err != nil {
		return value, err
	}

	if data, err := json.Marshal(value); err == nil {
		_ = s.cache.Set(ctx, key, data, s.config.CacheTTL)
	}
	return value, nil
}

// forget invalidates cache keys, swallowing cache errors: a key that could
// not be dropped will still age out at the TTL boundary, and resolution
// correctness is maintained by the mutation having already committed.
func (s *Service) forget(ctx context.Context, keys ...string) {
	if !s.config.CacheEnabled {
		return
	}
	_ = s.cache.Forget(ctx, keys...)
}

// flushPrincipalRoles drops a principal's role snapshot.
func (s *Service) flushPrincipalRoles(ctx context.Context, p Principal) {
	s.forget(ctx, rolesCacheKey(p))
}

// flushPrincipalPermissions drops a principal's direct-permission snapshot.
func (s *Service) flushPrincipalPermissions(ctx context.Context, p Principal) {
	s.forget(ctx, permissionsCacheKey(p))
}

// flushPermissionMap drops the global permission-to-roles index.
func (s *Service) flushPermissionMap(ctx context.Context) {
	s.forget(ctx, cacheKeyPermissionMap)
}

// flushGiver drops a giver's role snapshot.
func (s *Service) flushGiver(ctx context.Context, g Giver) {
	s.forget(ctx, giverRolesCacheKey(g))
}
