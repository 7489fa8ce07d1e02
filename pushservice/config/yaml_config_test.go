package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-push-service/pushservice/config"
)

const sampleYaml = `
project_id: yaml-project
listen_addr: ":9000"
topic_id: yaml-topic
subscription_id: yaml-subscription
subscription_dlq_topic_id: yaml-dlq
redis:
  addr: localhost:6379
  db: 1
registry:
  backend: firestore
  token_ttl: 720h
  cache_ttl: 10m
auth:
  jwt_secret: s3cret
delivery:
  adapter_timeout: 3s
  bulk_concurrency: 4
  max_retries: 1
gateways:
  xiaomi:
    app_secret: mi-secret
    package_name: com.example.app
  vapid:
    public_key: yaml-public-key
    private_key: yaml-private-key
    subscriber_email: yaml@test.com
`

func TestNewConfigFromYaml(t *testing.T) {
	logger := newTestLogger()

	t.Run("Success - maps all fields correctly", func(t *testing.T) {
		var yamlCfg config.YamlConfig
		require.NoError(t, yaml.Unmarshal([]byte(sampleYaml), &yamlCfg))

		cfg, err := config.NewConfigFromYaml(&yamlCfg, logger)

		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "yaml-project", cfg.ProjectID)
		assert.Equal(t, ":9000", cfg.ListenAddr)
		assert.Equal(t, "yaml-topic", cfg.TopicID)
		assert.Equal(t, "yaml-subscription", cfg.SubscriptionID)
		assert.Equal(t, "yaml-dlq", cfg.SubscriptionDLQTopicID)
		assert.Equal(t, 1, cfg.Redis.DB)

		assert.Equal(t, config.BackendFirestore, cfg.Registry.Backend)
		assert.Equal(t, 720*time.Hour, cfg.Registry.TokenTTL)
		assert.Equal(t, 10*time.Minute, cfg.Registry.CacheTTL)
		assert.Equal(t, 3*time.Second, cfg.Delivery.AdapterTimeout)
		assert.Equal(t, 4, cfg.Delivery.BulkConcurrency)
		assert.Equal(t, uint64(1), cfg.Delivery.MaxRetries)

		assert.True(t, cfg.Xiaomi.Configured())
		assert.Equal(t, "yaml-public-key", cfg.Vapid.PublicKey)
		assert.Equal(t, "yaml@test.com", cfg.Vapid.SubscriberEmail)
		assert.False(t, cfg.Huawei.Configured())
	})

	t.Run("Success - Handles missing optional fields gracefully", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			ProjectID:      "minimal-project",
			SubscriptionID: "minimal-sub",
		}

		cfg, err := config.NewConfigFromYaml(yamlCfg, logger)

		require.NoError(t, err)
		assert.Equal(t, "minimal-project", cfg.ProjectID)
		assert.Empty(t, cfg.ListenAddr)
		assert.Zero(t, cfg.Delivery.AdapterTimeout)
		assert.Empty(t, cfg.ConfiguredGateways())
	})

	t.Run("Failure - bad duration", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{DeliveryConfig: config.YamlDeliveryConfig{AdapterTimeout: "five"}}
		_, err := config.NewConfigFromYaml(yamlCfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "delivery.adapter_timeout")
	})
}
