package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

type RegistryBackend string

const (
	BackendRedis     RegistryBackend = "redis"
	BackendFirestore RegistryBackend = "firestore"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

type RegistryConfig struct {
	Backend  RegistryBackend
	TokenTTL time.Duration
	// CacheTTL enables the read-aside cache in front of Firestore.
	CacheTTL time.Duration
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

type DeliveryConfig struct {
	AdapterTimeout  time.Duration
	HTTPTimeout     time.Duration
	BulkConcurrency int
	MaxRetries      uint64
	RateLimit       int
}

type HuaweiConfig struct {
	AppID        string
	ClientSecret string
	AuthURL      string
	PushURL      string
	ValidateOnly bool
}

func (c HuaweiConfig) Configured() bool { return c.AppID != "" && c.ClientSecret != "" }

type XiaomiConfig struct {
	AppSecret   string
	PackageName string
	PushURL     string
	NotifyType  int
}

func (c XiaomiConfig) Configured() bool { return c.AppSecret != "" && c.PackageName != "" }

type OppoConfig struct {
	AppKey       string
	MasterSecret string
	ChannelID    string
	BaseURL      string
}

func (c OppoConfig) Configured() bool { return c.AppKey != "" && c.MasterSecret != "" }

type VivoConfig struct {
	AppID     string
	AppKey    string
	AppSecret string
	BaseURL   string
}

func (c VivoConfig) Configured() bool { return c.AppID != "" && c.AppKey != "" && c.AppSecret != "" }

type APNSConfig struct {
	KeyID     string
	TeamID    string
	BundleID  string
	P8KeyFile string
	// P8Key holds the key content directly, taking precedence over P8KeyFile.
	P8Key   string
	Sandbox bool
}

func (c APNSConfig) Configured() bool {
	return c.KeyID != "" && c.TeamID != "" && c.BundleID != "" && (c.P8Key != "" || c.P8KeyFile != "")
}

type FCMConfig struct {
	Enabled         bool
	CredentialsFile string
}

func (c FCMConfig) Configured() bool { return c.Enabled }

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
	Icon            string
	TTL             int
}

func (c VapidConfig) Configured() bool { return c.PublicKey != "" && c.PrivateKey != "" }

// Config defines the *single*, authoritative configuration.
// A gateway section that is not Configured leaves that gateway out.
type Config struct {
	ProjectID              string
	ListenAddr             string
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string

	Redis    RedisConfig
	Registry RegistryConfig
	Auth     AuthConfig
	Delivery DeliveryConfig

	Huawei HuaweiConfig
	Xiaomi XiaomiConfig
	Oppo   OppoConfig
	Vivo   VivoConfig
	APNS   APNSConfig
	FCM    FCMConfig
	Vapid  VapidConfig
}

// ConsumerEnabled reports whether Pub/Sub ingestion should run.
func (c *Config) ConsumerEnabled() bool {
	return c.SubscriptionID != "" && c.TopicID != ""
}

// ConfiguredGateways lists gateways with a complete section, in stable order.
func (c *Config) ConfiguredGateways() []push.Gateway {
	configured := map[push.Gateway]bool{
		push.GatewayHuawei: c.Huawei.Configured(),
		push.GatewayXiaomi: c.Xiaomi.Configured(),
		push.GatewayOppo:   c.Oppo.Configured(),
		push.GatewayVivo:   c.Vivo.Configured(),
		push.GatewayAPNS:   c.APNS.Configured(),
		push.GatewayFCM:    c.FCM.Configured(),
		push.GatewayWeb:    c.Vapid.Configured(),
	}
	var out []push.Gateway
	for _, g := range push.Gateways {
		if configured[g] {
			out = append(out, g)
		}
	}
	return out
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	strs := map[string]*string{
		"PROJECT_ID":                &cfg.ProjectID,
		"TOPIC_ID":                  &cfg.TopicID,
		"SUBSCRIPTION_ID":           &cfg.SubscriptionID,
		"SUBSCRIPTION_DLQ_TOPIC_ID": &cfg.SubscriptionDLQTopicID,
		"REDIS_ADDR":                &cfg.Redis.Addr,
		"REDIS_PASSWORD":            &cfg.Redis.Password,
		"JWT_SECRET":                &cfg.Auth.JWTSecret,
		"JWT_ISSUER":                &cfg.Auth.Issuer,
		"JWT_AUDIENCE":              &cfg.Auth.Audience,
		"HUAWEI_APP_ID":             &cfg.Huawei.AppID,
		"HUAWEI_CLIENT_SECRET":      &cfg.Huawei.ClientSecret,
		"XIAOMI_APP_SECRET":         &cfg.Xiaomi.AppSecret,
		"XIAOMI_PACKAGE_NAME":       &cfg.Xiaomi.PackageName,
		"OPPO_APP_KEY":              &cfg.Oppo.AppKey,
		"OPPO_MASTER_SECRET":        &cfg.Oppo.MasterSecret,
		"OPPO_CHANNEL_ID":           &cfg.Oppo.ChannelID,
		"VIVO_APP_ID":               &cfg.Vivo.AppID,
		"VIVO_APP_KEY":              &cfg.Vivo.AppKey,
		"VIVO_APP_SECRET":           &cfg.Vivo.AppSecret,
		"APNS_KEY_ID":               &cfg.APNS.KeyID,
		"APNS_TEAM_ID":              &cfg.APNS.TeamID,
		"APNS_BUNDLE_ID":            &cfg.APNS.BundleID,
		"APNS_P8_KEY":               &cfg.APNS.P8Key,
		"APNS_P8_KEY_FILE":          &cfg.APNS.P8KeyFile,
		"FCM_CREDENTIALS_FILE":      &cfg.FCM.CredentialsFile,
		"VAPID_PUBLIC_KEY":          &cfg.Vapid.PublicKey,
		"VAPID_PRIVATE_KEY":         &cfg.Vapid.PrivateKey,
		"VAPID_SUB_EMAIL":           &cfg.Vapid.SubscriberEmail,
	}
	for key, dst := range strs {
		if val := os.Getenv(key); val != "" {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			*dst = val
		}
	}

	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("REGISTRY_BACKEND"); val != "" {
		logger.Debug("Overriding config value", "key", "REGISTRY_BACKEND", "source", "env")
		cfg.Registry.Backend = RegistryBackend(val)
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("ADAPTER_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid ADAPTER_TIMEOUT: %w", err)
		}
		logger.Debug("Overriding config value", "key", "ADAPTER_TIMEOUT", "source", "env")
		cfg.Delivery.AdapterTimeout = d
	}
	if val := os.Getenv("MAX_RETRIES"); val != "" {
		if n, err := strconv.ParseUint(val, 10, 64); err == nil {
			logger.Debug("Overriding config value", "key", "MAX_RETRIES", "source", "env")
			cfg.Delivery.MaxRetries = n
		}
	}
	if val := os.Getenv("FCM_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.FCM.Enabled = enabled
	}
	if val := os.Getenv("APNS_SANDBOX"); val != "" {
		sandbox, _ := strconv.ParseBool(val)
		cfg.APNS.Sandbox = sandbox
	}

	// 2. Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Registry.Backend == "" {
		cfg.Registry.Backend = BackendRedis
	}
	if cfg.Registry.TokenTTL <= 0 {
		cfg.Registry.TokenTTL = push.TokenTTL
	}
	if cfg.Delivery.AdapterTimeout <= 0 {
		cfg.Delivery.AdapterTimeout = 5 * time.Second
	}
	if cfg.Delivery.HTTPTimeout <= 0 {
		cfg.Delivery.HTTPTimeout = 10 * time.Second
	}
	if cfg.Delivery.BulkConcurrency <= 0 {
		cfg.Delivery.BulkConcurrency = 8
	}

	// 3. Final Validation
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger.Debug("Configuration finalized and validated successfully", "gateways", cfg.ConfiguredGateways())
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required (set via YAML or JWT_SECRET env var)"))
	}
	switch c.Registry.Backend {
	case BackendRedis:
		if !c.Redis.Enabled() {
			errs = append(errs, errors.New("redis registry backend requires redis.addr (or REDIS_ADDR)"))
		}
	case BackendFirestore:
		if c.ProjectID == "" {
			errs = append(errs, errors.New("firestore registry backend requires project_id (or PROJECT_ID)"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown registry backend %q", c.Registry.Backend))
	}
	if (c.SubscriptionID != "" || c.FCM.Enabled) && c.ProjectID == "" {
		errs = append(errs, errors.New("project_id is required for pubsub and fcm (set via YAML or PROJECT_ID env var)"))
	}
	if c.SubscriptionID != "" && c.TopicID == "" {
		errs = append(errs, errors.New("topic_id is required when subscription_id is set"))
	}
	return errors.Join(errs...)
}
