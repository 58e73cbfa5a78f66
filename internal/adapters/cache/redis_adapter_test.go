package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/clinicalnotes/backend/internal/domain/providers"
	redisclient "github.com/zatekoja/clinicalnotes/backend/internal/infrastructure/clients/redis"
)

func newTestRedisAdapter(t *testing.T) (providers.CacheProvider, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisAdapter(redisclient.NewFromClient(client), "clinicalnotes:"), mr
}

func TestRedisAdapter_SetGetDelete(t *testing.T) {
	adapter, mr := newTestRedisAdapter(t)
	ctx := context.Background()

	_, err := adapter.Get(ctx, "workflow:state:s1")
	assert.ErrorIs(t, err, providers.ErrCacheMiss)

	require.NoError(t, adapter.Set(ctx, "workflow:state:s1", []byte(`{"state":"reviewed"}`), 60))
	assert.True(t, mr.Exists("clinicalnotes:workflow:state:s1"))

	got, err := adapter.Get(ctx, "workflow:state:s1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"reviewed"}`, string(got))

	require.NoError(t, adapter.Delete(ctx, "workflow:state:s1"))
	exists, err := adapter.Exists(ctx, "workflow:state:s1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisAdapter_SetIfAbsentHoldsUntilExpiry(t *testing.T) {
	adapter, mr := newTestRedisAdapter(t)
	ctx := context.Background()

	ok, err := adapter.SetIfAbsent(ctx, "workflow:enhance:lock:s1", []byte("owner-1"), 30)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = adapter.SetIfAbsent(ctx, "workflow:enhance:lock:s1", []byte("owner-2"), 30)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(31 * time.Second)

	ok, err = adapter.SetIfAbsent(ctx, "workflow:enhance:lock:s1", []byte("owner-2"), 30)
	require.NoError(t, err)
	assert.True(t, ok)
}
