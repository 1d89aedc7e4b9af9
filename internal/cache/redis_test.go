package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegisshield/compliance-tracker/internal/config"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestNoticeStore(t *testing.T) {
	mr, client := newRedis(t)
	store := NewNoticeStore(client, "ct", time.Hour)
	ctx := context.Background()

	first, err := store.MarkNoticed(ctx, "bc-1|pending-consent|1|warning")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.MarkNoticed(ctx, "bc-1|pending-consent|1|warning")
	require.NoError(t, err)
	assert.False(t, second)

	assert.True(t, mr.Exists("ct:notice:bc-1|pending-consent|1|warning"))

	mr.FastForward(2 * time.Hour)
	again, err := store.MarkNoticed(ctx, "bc-1|pending-consent|1|warning")
	require.NoError(t, err)
	assert.True(t, again)
}

func TestNoticeStoreError(t *testing.T) {
	mr, client := newRedis(t)
	store := NewNoticeStore(client, "ct", time.Hour)
	mr.Close()

	_, err := store.MarkNoticed(context.Background(), "k")
	assert.Error(t, err)
}

func TestSweepLock(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	a := NewSweepLock(client, "ct", time.Minute, zap.NewNop())
	b := NewSweepLock(client, "ct", time.Minute, zap.NewNop())

	releaseA, ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	releaseA()
	releaseB, ok, err := b.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// an expired lease taken over by another holder is not released by the old one
	mr.FastForward(2 * time.Minute)
	releaseC, ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	releaseB()
	assert.True(t, mr.Exists("ct:sweep-lock"))
	releaseC()
	assert.False(t, mr.Exists("ct:sweep-lock"))
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port := mr.Host(), mr.Server().Addr().Port

	client, err := NewClient(context.Background(), configFor(host, port))
	require.NoError(t, err)
	client.Close()

	mr.Close()
	_, err = NewClient(context.Background(), configFor(host, port))
	assert.Error(t, err)
}

func configFor(host string, port int) config.RedisConfig {
	return config.RedisConfig{Host: host, Port: port, PoolSize: 2}
}
