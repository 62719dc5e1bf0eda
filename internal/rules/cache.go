package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	slcache "github.com/logline-run/logline/infrastructure/cache"
)

// localCacheTTL bounds how long a flattened rule set may be served out of
// the in-process L1 cache before falling through to redis. Short enough
// that a write on another instance is visible here well within a
// reasonable staleness window.
const localCacheTTL = 30 * time.Second

// Cache is a two-tier read-through cache of a tenant's flattened, active
// rule set, avoiding re-running Flatten on every evaluation: an
// in-process L1 absorbs the hot path, backed by a shared redis L2 so a
// cold instance still avoids re-flattening from the store. It is
// invalidated explicitly on rule create/update/delete.
type Cache struct {
	client *redis.Client
	local  *slcache.Cache
	prefix string
	ttl    time.Duration
}

// NewCache wraps a redis client. A nil client is valid — every Get
// becomes an L1-only cache and Invalidate only clears the L1 entry, so
// Cache is optional even without redis configured.
func NewCache(client *redis.Client, prefix string, ttl time.Duration) *Cache {
	if prefix == "" {
		prefix = "rules:flattened:"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		client: client,
		local:  slcache.NewCache(slcache.CacheConfig{DefaultTTL: localCacheTTL, MaxSize: 10000}),
		prefix: prefix,
		ttl:    ttl,
	}
}

func (c *Cache) key(tenantID string) string {
	return c.prefix + tenantID
}

// Get returns the cached flattened rule set for tenantID, if present,
// checking the in-process L1 before falling through to redis.
func (c *Cache) Get(ctx context.Context, tenantID string) ([]*Rule, bool) {
	if v, ok := c.local.Get(c.key(tenantID)); ok {
		if rules, ok := v.([]*Rule); ok {
			return rules, true
		}
	}

	if c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, c.key(tenantID)).Bytes()
	if err != nil {
		return nil, false
	}
	var rules []*Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, false
	}
	c.local.Set(c.key(tenantID), rules, localCacheTTL)
	return rules, true
}

// Put stores the flattened rule set for tenantID in both cache tiers.
func (c *Cache) Put(ctx context.Context, tenantID string, rules []*Rule) {
	c.local.Set(c.key(tenantID), rules, localCacheTTL)

	if c.client == nil {
		return
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return
	}
	c.client.Set(ctx, c.key(tenantID), data, c.ttl)
}

// Invalidate drops the cached entry for tenantID from both tiers,
// forcing the next Get to miss and re-flatten from the store.
func (c *Cache) Invalidate(ctx context.Context, tenantID string) error {
	c.local.Invalidate(c.key(tenantID))

	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, c.key(tenantID)).Err(); err != nil {
		return fmt.Errorf("rules: invalidate cache for %s: %w", tenantID, err)
	}
	return nil
}
