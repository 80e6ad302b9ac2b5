// Package redis provides a Redis-backed replaycache.Cache whose Record
// runs an atomic check-and-set Lua script (the effect of SET NX EX) so
// that concurrent records of the same JTI race safely: exactly one
// caller's Record succeeds.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// recordScript atomically checks-and-sets a JTI key. It returns 1 if
// the key was newly set (not seen before) and 0 if it already existed,
// refreshing nothing on the existing key -- a replayed JTI must stay
// flagged for its full original TTL, not be silently extended by a
// second presentation.
//
// KEYS[1] = jti key
// ARGV[1] = ttl in seconds
var recordScript = redis.NewScript(`
local existed = redis.call("EXISTS", KEYS[1])
if existed == 1 then
    return 0
end
redis.call("SET", KEYS[1], "1", "EX", ARGV[1])
return 1
`)

const keyPrefix = "sdlp:replay:"

// Cache implements replaycache.Cache over a Redis client.
type Cache struct {
	client *redis.Client
}

// New wraps an existing Redis client. The caller owns the client's
// lifecycle (Close, connection pool sizing); this package never
// constructs one implicitly.
func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// SeenBefore reports whether jti currently has a live replay-cache
// entry.
func (c *Cache) SeenBefore(ctx context.Context, jti string) (bool, error) {
	n, err := c.client.Exists(ctx, keyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("replaycache/redis: EXISTS failed: %w", err)
	}
	return n > 0, nil
}

// Record atomically marks jti as seen for ttl, unless it was already
// recorded (in which case the existing entry and its remaining TTL are
// left untouched).
func (c *Cache) Record(ctx context.Context, jti string, ttl time.Duration) error {
	seconds := int64((ttl + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	res, err := recordScript.Run(ctx, c.client, []string{keyPrefix + jti}, seconds).Result()
	if err != nil {
		return fmt.Errorf("replaycache/redis: script failed: %w", err)
	}
	if n, ok := res.(int64); ok && n == 0 {
		return fmt.Errorf("replaycache/redis: jti %q already recorded", jti)
	}
	return nil
}
