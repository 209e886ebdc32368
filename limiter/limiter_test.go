package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestFixedWindow(t *testing.T) {
	mr, rdb := newTestRedis(t)
	limit := NewKeyedLimit(NewManager(rdb, NewStrategy("fixed_window")), "limiter:test:", 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := limit.Allow(ctx, "cust-1")
		require.NoError(t, err)
		assert.True(t, ok, "hit %d", i+1)
	}
	ok, err := limit.Allow(ctx, "cust-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = limit.Allow(ctx, "cust-2")
	require.NoError(t, err)
	assert.True(t, ok, "keys are limited independently")

	assert.True(t, mr.Exists("limiter:test:cust-1"))
	mr.FastForward(61 * time.Second)
	ok, err = limit.Allow(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, ok, "window expired")
}

func TestTokenBucket(t *testing.T) {
	_, rdb := newTestRedis(t)
	manager := NewManager(rdb, NewStrategy("token_bucket"))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := manager.Allow(ctx, "bucket", 2, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := manager.Allow(ctx, "bucket", 2, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAllowFailsWhenRedisIsDown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	mr.Close()
	_, err := NewKeyedLimit(NewManager(rdb, &FixedWindowStrategy{}), "p:", 1, time.Second).Allow(context.Background(), "k")
	assert.Error(t, err)
}
