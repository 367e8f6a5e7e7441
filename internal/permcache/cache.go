package permcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/sentra-iam/sentra/internal/resolver"
)

// ActorKind scopes cache keys by the kind of actor a set belongs to.
type ActorKind string

const (
	// ActorUser caches a user's effective set.
	ActorUser ActorKind = "user"
	// ActorRole caches a role's resolved set.
	ActorRole ActorKind = "role"
)

const keyPrefix = "perm"

// Key builds the scope key for an actor, optionally bound to a group.
func Key(kind ActorKind, id int64, groupID *int64) string {
	if groupID != nil {
		return fmt.Sprintf("%s:%s:%d:g%d", keyPrefix, kind, id, *groupID)
	}
	return fmt.Sprintf("%s:%s:%d", keyPrefix, kind, id)
}

// Cache holds resolved permission sets in Redis. It is advisory only: the
// store stays the source of truth and a miss simply falls through to the
// resolver.
type Cache struct {
	client  *redis.Client
	userTTL time.Duration
	roleTTL time.Duration
	fills   singleflight.Group
	logger  *slog.Logger
}

// New instantiates the cache with the base TTLs per actor kind.
func New(client *redis.Client, userTTL, roleTTL time.Duration, logger *slog.Logger) *Cache {
	if userTTL <= 0 {
		userTTL = 30 * time.Minute
	}
	if roleTTL <= 0 {
		roleTTL = 2 * time.Hour
	}
	return &Cache{client: client, userTTL: userTTL, roleTTL: roleTTL, logger: logger}
}

// Get returns the cached set for key, with a hit flag.
func (c *Cache) Get(ctx context.Context, key string) (resolver.Set, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var values []string
	if err := json.Unmarshal(payload, &values); err != nil {
		// Corrupt entry: drop it and treat as a miss.
		c.drop(ctx, key)
		return nil, false, nil
	}
	return resolver.NewSet(values...), true, nil
}

// Set stores the resolved set under key. The TTL adapts to set size: larger
// sets cost more to recompute, so they live up to twice the base TTL.
func (c *Cache) Set(ctx context.Context, key string, set resolver.Set, kind ActorKind) error {
	if c == nil || c.client == nil {
		return nil
	}
	payload, err := json.Marshal(set.Values())
	if err != nil {
		return fmt.Errorf("permcache: marshal %s: %w", key, err)
	}
	return c.client.Set(ctx, key, payload, c.TTLFor(kind, len(set))).Err()
}

// TTLFor returns the adaptive TTL for a set of the given size.
func (c *Cache) TTLFor(kind ActorKind, size int) time.Duration {
	base := c.userTTL
	if kind == ActorRole {
		base = c.roleTTL
	}
	mult := 1 + float64(size)/100
	if mult > 2 {
		mult = 2
	}
	return time.Duration(float64(base) * mult)
}

// Fetch returns the cached set or fills it with loader. Concurrent fills of
// the same key collapse into one resolution. Nothing is written when the
// caller's context is cancelled mid-resolution.
func (c *Cache) Fetch(ctx context.Context, key string, kind ActorKind, loader func(context.Context) (resolver.Set, error)) (resolver.Set, bool, error) {
	set, hit, err := c.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if hit {
		return set, true, nil
	}

	ch := c.fills.DoChan(key, func() (interface{}, error) {
		loaded, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := c.Set(ctx, key, loaded, kind); err != nil && c.logger != nil {
			c.logger.Warn("permcache: store entry", slog.String("key", key), slog.Any("error", err))
		}
		return loaded, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(resolver.Set), false, nil
	}
}

// Invalidate removes the given keys.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if c == nil || c.client == nil || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// InvalidateActor removes every entry for the actor across all group scopes.
func (c *Cache) InvalidateActor(ctx context.Context, kind ActorKind, id int64) error {
	base := Key(kind, id, nil)
	if err := c.Invalidate(ctx, base); err != nil {
		return err
	}
	return c.InvalidatePattern(ctx, base+":")
}

// InvalidatePattern removes every entry whose key starts with prefix.
func (c *Cache) InvalidatePattern(ctx context.Context, prefix string) error {
	if c == nil || c.client == nil {
		return nil
	}
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, prefix+"*", 256).Result()
		if err != nil {
			return fmt.Errorf("permcache: scan %s: %w", prefix, err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// FlushAll drops every cached permission set. Used when a catalog definition
// changes, where precise invalidation would need a reverse pattern index.
func (c *Cache) FlushAll(ctx context.Context) error {
	return c.InvalidatePattern(ctx, keyPrefix+":")
}

func (c *Cache) drop(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil && c.logger != nil {
		c.logger.Warn("permcache: drop corrupt entry", slog.String("key", key), slog.Any("error", err))
	}
}
