package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// releaseScript drops the key only while it still names the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the lease only while it still names the caller.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker keeps leases as expiring Redis keys.
type RedisLocker struct {
	client redis.Cmdable
	prefix string
	holder string
	ttl    time.Duration
}

func NewRedisLocker(client redis.Cmdable, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client: client,
		prefix: "ticketflow:lock:",
		holder: NewHolderID(),
		ttl:    ttl,
	}
}

func (l *RedisLocker) HolderID() string { return l.holder }

func (l *RedisLocker) Acquire(ctx context.Context, key string) (bool, error) {
	k := l.prefix + key
	ok, err := l.client.SetNX(ctx, k, l.holder, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if ok {
		return true, nil
	}
	n, err := refreshScript.Run(ctx, l.client, []string{k}, l.holder, l.ttl.Milliseconds()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("redis refresh %s: %w", key, err)
	}
	return n == 1, nil
}

func (l *RedisLocker) Release(ctx context.Context, key string) error {
	err := releaseScript.Run(ctx, l.client, []string{l.prefix + key}, l.holder).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis release %s: %w", key, err)
	}
	return nil
}
