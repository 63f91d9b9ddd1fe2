package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript bumps the window counter and sets its expiry on first use. Both
// steps run inside Redis as one unit.
var incrScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisCounter stores window counters in Redis under
// "<prefix><systemID>:<windowStartUnix>".
type RedisCounter struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// NewRedisCounter wraps an existing client.
func NewRedisCounter(client redis.UniversalClient) *RedisCounter {
	return &RedisCounter{
		client:  client,
		prefix:  "rl:",
		timeout: 2 * time.Second,
	}
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ratelimit: ping redis: %w", err)
	}
	return client, nil
}

func (r *RedisCounter) key(systemID string, windowStart time.Time) string {
	return r.prefix + systemID + ":" + strconv.FormatInt(windowStart.Unix(), 10)
}

// Incr implements Counter.
func (r *RedisCounter) Incr(ctx context.Context, systemID string, windowStart time.Time, ttl time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	n, err := incrScript.Run(ctx, r.client, []string{r.key(systemID, windowStart)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	return n, nil
}

// Ping reports whether Redis is reachable. Used by the health registry.
func (r *RedisCounter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
