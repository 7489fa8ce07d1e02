package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-service/internal/storage/cache"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *cache.RedisClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := cache.NewRedisClient(context.Background(), cache.RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCredentialStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	store := cache.NewCredentialStore(client)

	_, ok, err := store.Load(ctx, push.GatewayHuawei)
	require.NoError(t, err)
	assert.False(t, ok, "empty cache must report a miss")

	cred := push.ProviderCredential{
		Gateway:   push.GatewayHuawei,
		Token:     "bearer-1",
		ExpiresAt: time.Now().Add(time.Hour).UTC().Truncate(time.Second),
	}
	require.NoError(t, store.Save(ctx, cred, 55*time.Minute))

	assert.True(t, mr.Exists("huawei_access_token"))
	assert.Equal(t, 55*time.Minute, mr.TTL("huawei_access_token"))

	got, ok, err := store.Load(ctx, push.GatewayHuawei)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cred.Token, got.Token)
	assert.True(t, cred.ExpiresAt.Equal(got.ExpiresAt))

	require.NoError(t, store.Delete(ctx, push.GatewayHuawei))
	assert.False(t, mr.Exists("huawei_access_token"))
}

func TestCredentialStore_ExpiresWithTTL(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	store := cache.NewCredentialStore(client)

	cred := push.ProviderCredential{Gateway: push.GatewayOppo, Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.Save(ctx, cred, time.Minute))

	mr.FastForward(2 * time.Minute)

	_, ok, err := store.Load(ctx, push.GatewayOppo)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisClient_MissAndBadAddress(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)

	var dest map[string]string
	assert.ErrorIs(t, client.Get(ctx, "absent", &dest), cache.ErrCacheMiss)
	assert.Error(t, client.Set(ctx, "forever", "x", 0), "a ttl is mandatory")

	_, err := cache.NewRedisClient(ctx, cache.RedisOptions{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	assert.Error(t, err)
}

func TestCredentialStore_BackendErrorPropagates(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	mockCache.On("Get", ctx, "vivo_access_token", mock.Anything).Return(assert.AnError)

	_, ok, err := cache.NewCredentialStore(mockCache).Load(ctx, push.GatewayVivo)
	require.ErrorIs(t, err, assert.AnError)
	assert.False(t, ok)
}
