package config_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-service/pkg/push"
	"github.com/tinywideclouds/go-push-service/pushservice/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	logger := newTestLogger()

	baseConfig := func() *config.Config {
		return &config.Config{
			ProjectID:  "base-project",
			ListenAddr: ":8080",
			Redis:      config.RedisConfig{Addr: "localhost:6379"},
			Auth:       config.AuthConfig{JWTSecret: "base-secret"},
			Vapid: config.VapidConfig{
				PublicKey:  "base-pub",
				PrivateKey: "base-priv",
			},
		}
	}

	t.Run("Success - All overrides applied", func(t *testing.T) {
		cfg := baseConfig()

		t.Setenv("PROJECT_ID", "env-project")
		t.Setenv("PORT", "9090")
		t.Setenv("TOPIC_ID", "env-topic")
		t.Setenv("SUBSCRIPTION_ID", "env-sub")
		t.Setenv("REDIS_DB", "3")
		t.Setenv("ADAPTER_TIMEOUT", "2s")
		t.Setenv("MAX_RETRIES", "2")
		t.Setenv("HUAWEI_APP_ID", "hw-app")
		t.Setenv("HUAWEI_CLIENT_SECRET", "hw-secret")
		t.Setenv("VAPID_PUBLIC_KEY", "env-pub")
		t.Setenv("VAPID_SUB_EMAIL", "env@test.com")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "env-project", finalCfg.ProjectID)
		assert.Equal(t, ":9090", finalCfg.ListenAddr)
		assert.Equal(t, "env-sub", finalCfg.SubscriptionID)
		assert.True(t, finalCfg.ConsumerEnabled())
		assert.Equal(t, 3, finalCfg.Redis.DB)
		assert.Equal(t, 2*time.Second, finalCfg.Delivery.AdapterTimeout)
		assert.Equal(t, uint64(2), finalCfg.Delivery.MaxRetries)

		assert.Equal(t, "env-pub", finalCfg.Vapid.PublicKey)
		assert.Equal(t, "base-priv", finalCfg.Vapid.PrivateKey)
		assert.Equal(t, "env@test.com", finalCfg.Vapid.SubscriberEmail)

		assert.Equal(t, []push.Gateway{push.GatewayHuawei, push.GatewayWeb}, finalCfg.ConfiguredGateways())
	})

	t.Run("Success - Defaults applied", func(t *testing.T) {
		finalCfg, err := config.UpdateConfigWithEnvOverrides(baseConfig(), logger)
		require.NoError(t, err)

		assert.Equal(t, "base-project", finalCfg.ProjectID)
		assert.Equal(t, config.BackendRedis, finalCfg.Registry.Backend)
		assert.Equal(t, push.TokenTTL, finalCfg.Registry.TokenTTL)
		assert.Equal(t, 5*time.Second, finalCfg.Delivery.AdapterTimeout)
		assert.Equal(t, 8, finalCfg.Delivery.BulkConcurrency)
		assert.Zero(t, finalCfg.Delivery.MaxRetries, "retry is opt-in")
		assert.False(t, finalCfg.ConsumerEnabled())
	})

	t.Run("Validation Failure - Missing JWT secret", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Auth.JWTSecret = ""
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "jwt_secret")
	})

	t.Run("Validation Failure - Redis backend without redis", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Redis.Addr = ""
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis")
	})

	t.Run("Validation Failure - Unknown backend", func(t *testing.T) {
		t.Setenv("REGISTRY_BACKEND", "postgres")
		_, err := config.UpdateConfigWithEnvOverrides(baseConfig(), logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "postgres")
	})

	t.Run("Validation Failure - Subscription without topic", func(t *testing.T) {
		cfg := baseConfig()
		cfg.SubscriptionID = "sub"
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "topic_id")
	})

	t.Run("Validation Failure - Bad duration", func(t *testing.T) {
		t.Setenv("ADAPTER_TIMEOUT", "soon")
		_, err := config.UpdateConfigWithEnvOverrides(baseConfig(), logger)
		assert.Error(t, err)
	})
}

func TestGatewaySectionsNeedEveryCredential(t *testing.T) {
	cfg := &config.Config{
		Vivo: config.VivoConfig{AppID: "id", AppKey: "key"},
		APNS: config.APNSConfig{KeyID: "k", TeamID: "t", BundleID: "b", P8Key: "pem"},
		FCM:  config.FCMConfig{Enabled: true},
	}
	assert.Equal(t, []push.Gateway{push.GatewayAPNS, push.GatewayFCM}, cfg.ConfiguredGateways())
}
