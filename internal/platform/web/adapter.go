package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-push-service/internal/payload"
	"github.com/tinywideclouds/go-push-service/internal/platform"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// Config holds the VAPID identity of this server.
type Config struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
	Icon            string
	// TTL is how long, in seconds, the push service should hold the message.
	TTL int
}

type Adapter struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client
}

var _ dispatch.Adapter = (*Adapter)(nil)

func NewAdapter(cfg Config, httpClient *http.Client, logger *slog.Logger) *Adapter {
	if cfg.TTL == 0 {
		cfg.TTL = 60
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Adapter{
		cfg:        cfg,
		logger:     logger.With("component", "WebPushAdapter"),
		httpClient: httpClient,
	}
}

func (a *Adapter) Gateway() push.Gateway { return push.GatewayWeb }

// Send encrypts and posts the notification to each subscription. A token is
// the browser's PushSubscription serialized as JSON.
func (a *Adapter) Send(ctx context.Context, tokens []string, n push.NotificationDescriptor) push.GatewayResult {
	g := a.Gateway()
	if len(tokens) == 0 {
		return platform.NoTokens(g)
	}

	body, err := payload.Web(n, a.cfg.Icon)
	if err != nil {
		return push.Failed(g, fmt.Errorf("%w: failed to marshal payload: %w", push.ErrGatewayRejected, err))
	}

	results := make([]push.TokenResult, 0, len(tokens))
	var cause error
	for _, tok := range tokens {
		tr, err := a.sendOne(ctx, tok, body)
		if err != nil && cause == nil {
			cause = err
		}
		results = append(results, tr)
	}
	return platform.Tally(g, results, cause)
}

func (a *Adapter) sendOne(ctx context.Context, token string, body []byte) (push.TokenResult, error) {
	g := a.Gateway()
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(token), &sub); err != nil || sub.Endpoint == "" {
		// An undecodable subscription can never be delivered.
		err = fmt.Errorf("%w: malformed web push subscription", push.ErrInvalidToken)
		return push.TokenResult{Token: token, Error: err.Error(), Invalid: true}, err
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, &sub, &webpush.Options{
		Subscriber:      a.cfg.SubscriberEmail,
		VAPIDPublicKey:  a.cfg.PublicKey,
		VAPIDPrivateKey: a.cfg.PrivateKey,
		TTL:             a.cfg.TTL,
		Urgency:         webpush.UrgencyHigh,
		HTTPClient:      a.httpClient,
	})
	if err != nil {
		// Transport error (DNS, Timeout) - don't delete
		a.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
		err = platform.Classify(g, err)
		return push.TokenResult{Token: token, Error: err.Error()}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK, http.StatusAccepted:
		return push.TokenResult{Token: token, Success: true, MessageID: resp.Header.Get("Location")}, nil
	case http.StatusGone, http.StatusNotFound:
		// Subscription expired or was revoked by the browser.
		err = platform.Rejected(g, resp.StatusCode, "subscription gone")
		return push.TokenResult{Token: token, Error: err.Error(), Invalid: true}, err
	case http.StatusUnauthorized, http.StatusForbidden:
		err = fmt.Errorf("%w: web push VAPID rejected with %d", push.ErrAuthFailure, resp.StatusCode)
	default:
		a.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
		err = platform.Rejected(g, resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return push.TokenResult{Token: token, Error: err.Error()}, err
}
