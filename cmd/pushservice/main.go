package main

import (
	"context"
	_ "embed"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-push-service/internal/api"
	"github.com/tinywideclouds/go-push-service/internal/credential"
	"github.com/tinywideclouds/go-push-service/internal/metrics"
	"github.com/tinywideclouds/go-push-service/internal/pipeline"
	"github.com/tinywideclouds/go-push-service/internal/platform/resilience"
	"github.com/tinywideclouds/go-push-service/internal/registry"
	"github.com/tinywideclouds/go-push-service/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-service/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-service/internal/storage/redisstore"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pushservice"
	"github.com/tinywideclouds/go-push-service/pushservice/config"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-service")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Config mapping failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Metrics ---
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pushMetrics := metrics.New(promRegistry)

	// --- Redis (registry backend, credential store, read-aside cache) ---
	var redisClient *cache.RedisClient
	if cfg.Redis.Enabled() {
		logger.Info("Connecting to Redis...", "addr", cfg.Redis.Addr)
		redisClient, err = cache.NewRedisClient(ctx, cache.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	// --- Token Store ---
	var tokenStore dispatch.TokenStore
	switch cfg.Registry.Backend {
	case config.BackendFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("Firestore client failed", "err", err)
			os.Exit(1)
		}
		defer fsClient.Close()
		tokenStore = fsStore.NewFirestoreStore(fsClient, cfg.Registry.TokenTTL, logger)
		logger.Info("TokenStore initialized", "type", "firestore")

		if redisClient != nil && cfg.Registry.CacheTTL > 0 {
			tokenStore = cache.NewCachedTokenStore(tokenStore, redisClient, cfg.Registry.CacheTTL)
			logger.Info("TokenStore upgraded", "type", "redis_cached_firestore")
		}
	default:
		tokenStore = redisstore.NewTokenStore(redisClient.Client(), cfg.Registry.TokenTTL, logger)
		logger.Info("TokenStore initialized", "type", "redis")
	}
	tokenRegistry := registry.New(tokenStore, logger)

	// --- Credentials ---
	var credStore credential.Store = credential.NewMemoryStore()
	if redisClient != nil {
		credStore = cache.NewCredentialStore(redisClient)
	}
	creds := credential.NewCache(credStore, logger, credential.WithAcquireHook(pushMetrics.CredentialAcquired))

	// --- Gateways ---
	health := resilience.NewRegistry()
	adapters, err := pushservice.BuildAdapters(ctx, cfg, creds, health, logger)
	if err != nil {
		logger.Error("Gateway setup failed", "err", err)
		os.Exit(1)
	}
	if len(adapters) == 0 {
		logger.Warn("No gateway configured. Every send will report service_unavailable.")
	}

	dispatcher := pipeline.NewDispatcher(tokenRegistry, adapters, pipeline.Config{
		AdapterTimeout:  cfg.Delivery.AdapterTimeout,
		BulkConcurrency: cfg.Delivery.BulkConcurrency,
	}, logger, pipeline.WithObserver(pushMetrics), pipeline.WithHealth(health))

	// --- Auth & API ---
	authMiddleware, err := api.NewJWTAuthMiddleware(api.AuthConfig{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	}, logger)
	if err != nil {
		logger.Error("Auth middleware failed", "err", err)
		os.Exit(1)
	}
	router := api.NewRouter(api.RouterConfig{
		Tokens:        api.NewTokenAPI(tokenRegistry, logger),
		Notify:        api.NewNotifyAPI(dispatcher, logger),
		Auth:          authMiddleware,
		Metrics:       promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		GatewayHealth: health.All,
		RateLimit:     cfg.Delivery.RateLimit,
	})

	// --- Consumer ---
	var consumer pushservice.Runner
	if cfg.ConsumerEnabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()

		subName, err := pipeline.EnsureSubscription(ctx, psClient.SubscriptionAdminClient, pipeline.SubscriptionConfig{
			ProjectID:         cfg.ProjectID,
			SubscriptionID:    cfg.SubscriptionID,
			TopicID:           cfg.TopicID,
			DeadLetterTopicID: cfg.SubscriptionDLQTopicID,
		}, logger)
		if err != nil {
			logger.Error("Subscription setup failed", "err", err)
			os.Exit(1)
		}
		consumer = pipeline.NewConsumer(psClient.Subscriber(subName), dispatcher, logger)
	}

	// --- Service ---
	service := pushservice.New(cfg.ListenAddr, router, consumer, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting service...", "addr", cfg.ListenAddr, "gateways", dispatcher.Gateways())
		errCh <- service.Start(ctx)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("Service stopped with error", "err", err)
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		exitCode = 1
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
