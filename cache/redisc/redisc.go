// Package redisc implements the cache.Cache interface over Redis.
package redisc

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feedrlabs/identity/cache"
)

const incrScript = `
local v = redis.call("INCR", KEYS[1])
if v == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return v
`

var incrLua = redis.NewScript(incrScript)

// Cache adapts a go-redis client to cache.Cache.
type Cache struct {
	client redis.UniversalClient
}

// New wraps the given Redis client. The client's lifecycle stays with the
// caller.
func New(client redis.UniversalClient) *Cache {
	return &Cache{client: client}
}

// Set stores value under key with the given TTL.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return nil
}

// Get returns the value at key or cache.ErrNotFound.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", cache.ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return val, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return nil
}

// DeletePattern removes every key matching prefix*. SCAN is used instead
// of KEYS so large keyspaces do not block the server.
func (c *Cache) DeletePattern(ctx context.Context, prefix string) error {
	iter := c.client.Scan(ctx, 0, prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return nil
}

// Increment bumps the counter at key, attaching ttl when the key is
// created. INCR and PEXPIRE run as one script so a crash between them
// cannot leave an immortal counter.
func (c *Cache) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	res, err := incrLua.Run(ctx, c.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return res, nil
}
