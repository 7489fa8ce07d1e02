package pushservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/tinywideclouds/go-push-service/internal/credential"
	"github.com/tinywideclouds/go-push-service/internal/platform/apns"
	"github.com/tinywideclouds/go-push-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-service/internal/platform/huawei"
	"github.com/tinywideclouds/go-push-service/internal/platform/oppo"
	"github.com/tinywideclouds/go-push-service/internal/platform/resilience"
	"github.com/tinywideclouds/go-push-service/internal/platform/vivo"
	"github.com/tinywideclouds/go-push-service/internal/platform/web"
	"github.com/tinywideclouds/go-push-service/internal/platform/xiaomi"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pkg/push"
	"github.com/tinywideclouds/go-push-service/pushservice/config"
)

// BuildAdapters creates an adapter for every configured gateway. HTTP gateways
// get a resilient transport tracked by health; providers with exchanged
// access tokens register their source with creds.
func BuildAdapters(
	ctx context.Context,
	cfg *config.Config,
	creds *credential.Cache,
	health *resilience.Registry,
	logger *slog.Logger,
) ([]dispatch.Adapter, error) {
	var adapters []dispatch.Adapter

	guarded := func(g push.Gateway) *http.Client {
		tc := resilience.DefaultTransportConfig(string(g))
		tc.MaxRetries = cfg.Delivery.MaxRetries
		t := resilience.NewTransport(nil, tc)
		health.Register(string(g), t)
		return t.Client(cfg.Delivery.HTTPTimeout)
	}

	if c := cfg.Huawei; c.Configured() {
		a := huawei.New(huawei.Config{
			AppID:        c.AppID,
			ClientSecret: c.ClientSecret,
			AuthURL:      c.AuthURL,
			PushURL:      c.PushURL,
			ValidateOnly: c.ValidateOnly,
		}, guarded(push.GatewayHuawei), creds, logger)
		creds.Register(push.GatewayHuawei, a.Source())
		adapters = append(adapters, a)
	}

	if c := cfg.Xiaomi; c.Configured() {
		adapters = append(adapters, xiaomi.New(xiaomi.Config{
			AppSecret:   c.AppSecret,
			PackageName: c.PackageName,
			PushURL:     c.PushURL,
			NotifyType:  c.NotifyType,
		}, guarded(push.GatewayXiaomi), logger))
	}

	if c := cfg.Oppo; c.Configured() {
		a := oppo.New(oppo.Config{
			AppKey:       c.AppKey,
			MasterSecret: c.MasterSecret,
			ChannelID:    c.ChannelID,
			BaseURL:      c.BaseURL,
		}, guarded(push.GatewayOppo), creds, logger)
		creds.Register(push.GatewayOppo, a.Source())
		adapters = append(adapters, a)
	}

	if c := cfg.Vivo; c.Configured() {
		a := vivo.New(vivo.Config{
			AppID:     c.AppID,
			AppKey:    c.AppKey,
			AppSecret: c.AppSecret,
			BaseURL:   c.BaseURL,
		}, guarded(push.GatewayVivo), creds, logger)
		creds.Register(push.GatewayVivo, a.Source())
		adapters = append(adapters, a)
	}

	if c := cfg.APNS; c.Configured() {
		key := c.P8Key
		if key == "" {
			raw, err := os.ReadFile(c.P8KeyFile)
			if err != nil {
				return nil, fmt.Errorf("reading apns key file: %w", err)
			}
			key = string(raw)
		}
		a, err := apns.NewAdapter(apns.Config{
			KeyID:        c.KeyID,
			TeamID:       c.TeamID,
			BundleID:     c.BundleID,
			P8KeyContent: key,
			Sandbox:      c.Sandbox,
		}, logger, apns.WithTransport(func(base http.RoundTripper) http.RoundTripper {
			tc := resilience.DefaultTransportConfig(string(push.GatewayAPNS))
			tc.MaxRetries = cfg.Delivery.MaxRetries
			t := resilience.NewTransport(base, tc)
			health.Register(string(push.GatewayAPNS), t)
			return t
		}))
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}

	if c := cfg.FCM; c.Configured() {
		client, err := fcm.NewClient(ctx, cfg.ProjectID, c.CredentialsFile)
		if err != nil {
			return nil, err
		}
		health.Register(string(push.GatewayFCM), nil)
		adapters = append(adapters, fcm.NewAdapter(client, logger))
	}

	if c := cfg.Vapid; c.Configured() {
		adapters = append(adapters, web.NewAdapter(web.Config{
			PublicKey:       c.PublicKey,
			PrivateKey:      c.PrivateKey,
			SubscriberEmail: c.SubscriberEmail,
			Icon:            c.Icon,
			TTL:             c.TTL,
		}, guarded(push.GatewayWeb), logger))
	}

	for _, a := range adapters {
		logger.Info("Gateway adapter enabled", "gateway", a.Gateway())
	}
	return adapters, nil
}
