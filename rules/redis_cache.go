package rules

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/liamcoop/automate/internal/logger"
)

// RedisRulesCache shares the active rules list between replicas. Each
// replica still invalidates on its own mutations; TTL bounds staleness from
// the others.
type RedisRulesCache struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
}

// NewRedisRulesCache creates a cache under keys prefixed with namespace.
func NewRedisRulesCache(client redis.UniversalClient, namespace string, config CacheConfig) *RedisRulesCache {
	return &RedisRulesCache{client: client, namespace: namespace, ttl: config.TTL}
}

func (c *RedisRulesCache) key() string {
	if c.namespace == "" {
		return activeRulesKey
	}
	return c.namespace + ":" + activeRulesKey
}

func (c *RedisRulesCache) Get(ctx context.Context) []*Rule {
	raw, err := c.client.Get(ctx, c.key()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("rules cache read failed", "error", err)
		}
		return nil
	}
	var rules []*Rule
	if err := json.Unmarshal(raw, &rules); err != nil {
		logger.Warn("rules cache entry is corrupt", "error", err)
		return nil
	}
	return rules
}

func (c *RedisRulesCache) Set(ctx context.Context, rules []*Rule) {
	if rules == nil {
		rules = []*Rule{}
	}
	raw, err := json.Marshal(rules)
	if err != nil {
		logger.Warn("rules cache encode failed", "error", err)
		return
	}
	if err := c.client.Set(ctx, c.key(), raw, c.ttl).Err(); err != nil {
		logger.Warn("rules cache write failed", "error", err)
	}
}

func (c *RedisRulesCache) Invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, c.key()).Err(); err != nil {
		logger.Warn("rules cache invalidate failed", "error", err)
	}
}

func (c *RedisRulesCache) IsValid(ctx context.Context) bool {
	n, err := c.client.Exists(ctx, c.key()).Result()
	return err == nil && n > 0
}
