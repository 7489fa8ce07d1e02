package registry_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-service/internal/registry"
	"github.com/tinywideclouds/go-push-service/internal/storage/redisstore"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

func newRegistry(t *testing.T) (*registry.Registry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := redisstore.NewTokenStore(rdb, 0, logger)
	return registry.New(store, logger), mr
}

func TestRegistry_RegisterAndList(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)

	require.NoError(t, reg.Register(ctx, "u1", push.GatewayHuawei, "phone", "hw-token"))
	require.NoError(t, reg.Register(ctx, "u1", push.GatewayFCM, "phone", "fcm-token"))
	require.NoError(t, reg.Register(ctx, "u1", push.GatewayFCM, "tablet", "fcm-token-2"))

	set, err := reg.List(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, []string{"hw-token"}, set.Tokens(push.GatewayHuawei))
	assert.ElementsMatch(t, []string{"fcm-token", "fcm-token-2"}, set.Tokens(push.GatewayFCM))
	_, hasVivo := set[push.GatewayVivo]
	assert.False(t, hasVivo, "gateways without registrations must be absent")
}

func TestRegistry_ReRegisterReplaces(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)

	require.NoError(t, reg.Register(ctx, "u1", push.GatewayXiaomi, "phone", "old"))
	require.NoError(t, reg.Register(ctx, "u1", push.GatewayXiaomi, "phone", "new"))

	set, err := reg.List(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, set.Tokens(push.GatewayXiaomi))
}

func TestRegistry_ValidationBeforeMutation(t *testing.T) {
	ctx := context.Background()
	reg, mr := newRegistry(t)

	err := reg.Register(ctx, "u1", push.Gateway("blackberry"), "phone", "tok")
	assert.ErrorIs(t, err, push.ErrInvalidGateway)

	err = reg.Register(ctx, "u1", push.GatewayFCM, "phone", "")
	assert.ErrorIs(t, err, push.ErrInvalidToken)

	err = reg.Register(ctx, "u1", push.GatewayFCM, "", "tok")
	assert.ErrorIs(t, err, push.ErrInvalidToken)

	assert.False(t, mr.Exists("user_device_tokens:u1"), "rejected registrations must not touch the store")
}

func TestRegistry_Remove(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)

	require.NoError(t, reg.Register(ctx, "u1", push.GatewayHuawei, "phone", "hw"))
	require.NoError(t, reg.Register(ctx, "u1", push.GatewayFCM, "phone", "fcm"))
	require.NoError(t, reg.Register(ctx, "u1", push.GatewayFCM, "tablet", "fcm-2"))

	removed, err := reg.Remove(ctx, "u1", "phone")
	require.NoError(t, err)
	assert.True(t, removed)

	set, err := reg.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, set.Tokens(push.GatewayHuawei))
	assert.Equal(t, []string{"fcm-2"}, set.Tokens(push.GatewayFCM))

	removed, err = reg.Remove(ctx, "u1", "phone")
	require.NoError(t, err)
	assert.False(t, removed, "second removal finds nothing")
}

func TestRegistry_UnknownUserIsEmpty(t *testing.T) {
	reg, _ := newRegistry(t)

	set, err := reg.List(context.Background(), "nobody")
	require.NoError(t, err)
	assert.True(t, set.Empty())
}

func TestRegistry_RemoveTokens(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)

	require.NoError(t, reg.Register(ctx, "u1", push.GatewayWeb, "laptop", "sub-a"))
	require.NoError(t, reg.Register(ctx, "u1", push.GatewayWeb, "desktop", "sub-b"))
	require.NoError(t, reg.Register(ctx, "u1", push.GatewayFCM, "phone", "sub-a"))

	n, err := reg.RemoveTokens(ctx, "u1", push.GatewayWeb, []string{"sub-a", "unknown"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	set, err := reg.List(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"sub-b"}, set.Tokens(push.GatewayWeb))
	assert.Equal(t, []string{"sub-a"}, set.Tokens(push.GatewayFCM), "same address on another gateway survives")

	_, err = reg.RemoveTokens(ctx, "u1", push.Gateway("nope"), []string{"x"})
	assert.ErrorIs(t, err, push.ErrInvalidGateway)
}

func TestRegistry_ConcurrentRegistrationsAllSurvive(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)

	devices := []string{"d1", "d2", "d3", "d4", "d5", "d6", "d7", "d8"}
	var wg sync.WaitGroup
	for _, d := range devices {
		wg.Add(1)
		go func(dev string) {
			defer wg.Done()
			assert.NoError(t, reg.Register(ctx, "u1", push.GatewayFCM, dev, "tok-"+dev))
		}(d)
	}
	wg.Wait()

	set, err := reg.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, set[push.GatewayFCM], len(devices))
}
