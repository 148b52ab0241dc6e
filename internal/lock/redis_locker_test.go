package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 需要真实 Redis：REDIS_ADDR=localhost:6379 go test ./internal/lock
func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())

	key := TicketKey("test-" + uuid.NewString())
	a := NewRedisLocker(client, 2*time.Second)
	b := NewRedisLocker(client, 2*time.Second)

	ok, err := a.Acquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.Acquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok, "holder re-acquires its own lease")

	require.NoError(t, b.Release(ctx, key))
	ok, err = b.Acquire(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "release by a non-holder is ignored")

	require.NoError(t, a.Release(ctx, key))
	ok, err = b.Acquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Release(ctx, key))
}
