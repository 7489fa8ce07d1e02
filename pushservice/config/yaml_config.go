package config

import (
	"fmt"
	"log/slog"
	"time"
)

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type YamlRegistryConfig struct {
	Backend  string `yaml:"backend"`
	TokenTTL string `yaml:"token_ttl"`
	CacheTTL string `yaml:"cache_ttl"`
}

type YamlAuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
}

type YamlDeliveryConfig struct {
	AdapterTimeout  string `yaml:"adapter_timeout"`
	HTTPTimeout     string `yaml:"http_timeout"`
	BulkConcurrency int    `yaml:"bulk_concurrency"`
	MaxRetries      uint64 `yaml:"max_retries"`
	RateLimit       int    `yaml:"rate_limit_per_minute"`
}

type YamlHuaweiConfig struct {
	AppID        string `yaml:"app_id"`
	ClientSecret string `yaml:"client_secret"`
	AuthURL      string `yaml:"auth_url"`
	PushURL      string `yaml:"push_url"`
	ValidateOnly bool   `yaml:"validate_only"`
}

type YamlXiaomiConfig struct {
	AppSecret   string `yaml:"app_secret"`
	PackageName string `yaml:"package_name"`
	PushURL     string `yaml:"push_url"`
	NotifyType  int    `yaml:"notify_type"`
}

type YamlOppoConfig struct {
	AppKey       string `yaml:"app_key"`
	MasterSecret string `yaml:"master_secret"`
	ChannelID    string `yaml:"channel_id"`
	BaseURL      string `yaml:"base_url"`
}

type YamlVivoConfig struct {
	AppID     string `yaml:"app_id"`
	AppKey    string `yaml:"app_key"`
	AppSecret string `yaml:"app_secret"`
	BaseURL   string `yaml:"base_url"`
}

type YamlAPNSConfig struct {
	KeyID     string `yaml:"key_id"`
	TeamID    string `yaml:"team_id"`
	BundleID  string `yaml:"bundle_id"`
	P8KeyFile string `yaml:"p8_key_file"`
	Sandbox   bool   `yaml:"sandbox"`
}

type YamlFCMConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
	Icon            string `yaml:"icon"`
	TTL             int    `yaml:"ttl"`
}

type YamlGatewaysConfig struct {
	Huawei YamlHuaweiConfig `yaml:"huawei"`
	Xiaomi YamlXiaomiConfig `yaml:"xiaomi"`
	Oppo   YamlOppoConfig   `yaml:"oppo"`
	Vivo   YamlVivoConfig   `yaml:"vivo"`
	APNS   YamlAPNSConfig   `yaml:"apns"`
	FCM    YamlFCMConfig    `yaml:"fcm"`
	Vapid  YamlVapidConfig  `yaml:"vapid"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string             `yaml:"project_id"`
	ListenAddr             string             `yaml:"listen_addr"`
	TopicID                string             `yaml:"topic_id"`
	SubscriptionID         string             `yaml:"subscription_id"`
	SubscriptionDLQTopicID string             `yaml:"subscription_dlq_topic_id"`
	RedisConfig            YamlRedisConfig    `yaml:"redis"`
	RegistryConfig         YamlRegistryConfig `yaml:"registry"`
	AuthConfig             YamlAuthConfig     `yaml:"auth"`
	DeliveryConfig         YamlDeliveryConfig `yaml:"delivery"`
	Gateways               YamlGatewaysConfig `yaml:"gateways"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	durations := map[string]string{
		"registry.token_ttl":       baseCfg.RegistryConfig.TokenTTL,
		"registry.cache_ttl":       baseCfg.RegistryConfig.CacheTTL,
		"delivery.adapter_timeout": baseCfg.DeliveryConfig.AdapterTimeout,
		"delivery.http_timeout":    baseCfg.DeliveryConfig.HTTPTimeout,
	}
	parsed := make(map[string]time.Duration, len(durations))
	for key, raw := range durations {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid duration for %s: %w", key, err)
		}
		parsed[key] = d
	}

	gw := baseCfg.Gateways
	cfg := &Config{
		ProjectID:              baseCfg.ProjectID,
		ListenAddr:             baseCfg.ListenAddr,
		TopicID:                baseCfg.TopicID,
		SubscriptionID:         baseCfg.SubscriptionID,
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
		},
		Registry: RegistryConfig{
			Backend:  RegistryBackend(baseCfg.RegistryConfig.Backend),
			TokenTTL: parsed["registry.token_ttl"],
			CacheTTL: parsed["registry.cache_ttl"],
		},
		Auth: AuthConfig{
			JWTSecret: baseCfg.AuthConfig.JWTSecret,
			Issuer:    baseCfg.AuthConfig.Issuer,
			Audience:  baseCfg.AuthConfig.Audience,
		},
		Delivery: DeliveryConfig{
			AdapterTimeout:  parsed["delivery.adapter_timeout"],
			HTTPTimeout:     parsed["delivery.http_timeout"],
			BulkConcurrency: baseCfg.DeliveryConfig.BulkConcurrency,
			MaxRetries:      baseCfg.DeliveryConfig.MaxRetries,
			RateLimit:       baseCfg.DeliveryConfig.RateLimit,
		},
		Huawei: HuaweiConfig{
			AppID:        gw.Huawei.AppID,
			ClientSecret: gw.Huawei.ClientSecret,
			AuthURL:      gw.Huawei.AuthURL,
			PushURL:      gw.Huawei.PushURL,
			ValidateOnly: gw.Huawei.ValidateOnly,
		},
		Xiaomi: XiaomiConfig{
			AppSecret:   gw.Xiaomi.AppSecret,
			PackageName: gw.Xiaomi.PackageName,
			PushURL:     gw.Xiaomi.PushURL,
			NotifyType:  gw.Xiaomi.NotifyType,
		},
		Oppo: OppoConfig{
			AppKey:       gw.Oppo.AppKey,
			MasterSecret: gw.Oppo.MasterSecret,
			ChannelID:    gw.Oppo.ChannelID,
			BaseURL:      gw.Oppo.BaseURL,
		},
		Vivo: VivoConfig{
			AppID:     gw.Vivo.AppID,
			AppKey:    gw.Vivo.AppKey,
			AppSecret: gw.Vivo.AppSecret,
			BaseURL:   gw.Vivo.BaseURL,
		},
		APNS: APNSConfig{
			KeyID:     gw.APNS.KeyID,
			TeamID:    gw.APNS.TeamID,
			BundleID:  gw.APNS.BundleID,
			P8KeyFile: gw.APNS.P8KeyFile,
			Sandbox:   gw.APNS.Sandbox,
		},
		FCM: FCMConfig{
			Enabled:         gw.FCM.Enabled,
			CredentialsFile: gw.FCM.CredentialsFile,
		},
		Vapid: VapidConfig{
			PublicKey:       gw.Vapid.PublicKey,
			PrivateKey:      gw.Vapid.PrivateKey,
			SubscriberEmail: gw.Vapid.SubscriberEmail,
			Icon:            gw.Vapid.Icon,
			TTL:             gw.Vapid.TTL,
		},
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"registry_backend", cfg.Registry.Backend,
	)

	return cfg, nil
}
