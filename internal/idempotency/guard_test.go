package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseGuard(t *testing.T, g Guard) {
	t.Helper()
	ctx := context.Background()
	key := InboundKey("chat-1", "wamid.1")

	ok, err := g.Claim(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Claim(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "pending claim blocks a concurrent retry")

	require.NoError(t, g.Release(ctx, key))
	ok, err = g.Claim(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok, "released claim can be taken again")

	_, found, err := g.Stashed(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, g.Stash(ctx, key, []byte(`{"text":"hola"}`)))
	require.NoError(t, g.Release(ctx, key))
	val, found, err := g.Stashed(ctx, key)
	require.NoError(t, err)
	assert.True(t, found, "stash survives a release")
	assert.JSONEq(t, `{"text":"hola"}`, string(val))

	ok, err = g.Claim(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, g.Complete(ctx, key))
	ok, err = g.Claim(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "completed key stays claimed")
	_, found, err = g.Stashed(ctx, key)
	require.NoError(t, err)
	assert.False(t, found, "complete drops the stash")
}

func TestRedisGuard(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	g := &RedisGuard{Redis: client, TTL: time.Hour}
	exerciseGuard(t, g)

	key := InboundKey("chat-1", "wamid.1")
	val, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, stateDone, val)
	assert.Equal(t, time.Hour, mr.TTL(key))

	mr.FastForward(2 * time.Hour)
	ok, err := g.Claim(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryGuard(t *testing.T) {
	g := NewMemoryGuard(time.Hour)
	exerciseGuard(t, g)

	now := time.Now()
	g.Now = func() time.Time { return now.Add(2 * time.Hour) }
	ok, err := g.Claim(context.Background(), InboundKey("chat-1", "wamid.1"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInboundKey(t *testing.T) {
	assert.Equal(t, "inbound:c:m", InboundKey("c", "m"))
}
