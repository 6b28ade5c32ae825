package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache backs the query cache with Redis so several console
// instances share one invalidation domain. Group membership is tracked
// in a set per group, which keeps invalidation at SMEMBERS+DEL instead
// of a SCAN over the keyspace.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

var _ QueryCache = (*RedisCache)(nil)

func groupSetKey(group string) string {
	return group + ":keys"
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return err
	}
	// The set outlives individual entries; stale members just Del
	// nothing on the next invalidation.
	return c.rdb.SAdd(ctx, groupSetKey(GroupOf(key)), key).Err()
}

func (c *RedisCache) InvalidateGroup(ctx context.Context, group string) error {
	setKey := groupSetKey(group)

	members, err := c.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}

	if len(members) > 0 {
		if err := c.rdb.Del(ctx, members...).Err(); err != nil {
			return err
		}
	}
	return c.rdb.Del(ctx, setKey).Err()
}
