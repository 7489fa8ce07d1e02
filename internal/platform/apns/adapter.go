// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-push-service/internal/payload"
	"github.com/tinywideclouds/go-push-service/internal/platform"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type Adapter struct {
	client APNSClient
	topic  string // The App Bundle ID (e.g. com.tinywide.messenger)
	logger *slog.Logger
}

var _ dispatch.Adapter = (*Adapter)(nil)

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	// Sandbox targets api.sandbox.push.apple.com instead of production.
	Sandbox bool
}

// Option customises the underlying apns2 client.
type Option func(*apns2.Client)

// WithTransport wraps the HTTP/2 transport, e.g. with a circuit breaker.
func WithTransport(wrap func(http.RoundTripper) http.RoundTripper) Option {
	return func(c *apns2.Client) {
		c.HTTPClient.Transport = wrap(c.HTTPClient.Transport)
	}
}

// NewAdapter creates a configured APNs adapter.
// It parses the P8 key immediately to fail fast on startup if credentials are bad.
// JWT signing and refresh are handled by apns2's token source.
func NewAdapter(cfg Config, logger *slog.Logger, opts ...Option) (*Adapter, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(tokenSource)
	if cfg.Sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}
	for _, opt := range opts {
		opt(client)
	}

	return NewWithClient(client, cfg.BundleID, logger), nil
}

// NewWithClient wires a pre-built client.
func NewWithClient(client APNSClient, topic string, logger *slog.Logger) *Adapter {
	return &Adapter{
		client: client,
		topic:  topic,
		logger: logger.With("component", "APNSAdapter"),
	}
}

func (a *Adapter) Gateway() push.Gateway { return push.GatewayAPNS }

// Send delivers to each token in turn.
// Note: APNs HTTP/2 API is unary (one request per token). There is no "Multicast" endpoint.
func (a *Adapter) Send(ctx context.Context, tokens []string, n push.NotificationDescriptor) push.GatewayResult {
	g := a.Gateway()
	if len(tokens) == 0 {
		return platform.NoTokens(g)
	}

	body := payload.APNS(n)
	results := make([]push.TokenResult, 0, len(tokens))
	var cause error

	for _, deviceToken := range tokens {
		res, err := a.client.PushWithContext(ctx, &apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       a.topic,
			Payload:     body,
			Priority:    apns2.PriorityHigh,
		})
		if err != nil {
			a.logger.Error("APNs transport failed", "err", err)
			err = platform.Classify(g, err)
			if cause == nil {
				cause = err
			}
			results = append(results, push.TokenResult{Token: deviceToken, Error: err.Error()})
			continue
		}

		if res.Sent() {
			results = append(results, push.TokenResult{Token: deviceToken, Success: true, MessageID: res.ApnsID})
			continue
		}

		// See: https://developer.apple.com/documentation/usernotifications/handling-notification-responses-from-apns
		tr := push.TokenResult{Token: deviceToken, Error: fmt.Sprintf("%d %s", res.StatusCode, res.Reason)}
		switch res.Reason {
		case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
			tr.Invalid = true
			err = platform.Rejected(g, res.StatusCode, res.Reason)
		case apns2.ReasonExpiredProviderToken, apns2.ReasonInvalidProviderToken, apns2.ReasonMissingProviderToken:
			err = fmt.Errorf("%w: apns %s", push.ErrAuthFailure, res.Reason)
		default:
			// The token might be fine while our configuration is wrong (TopicDisallowed, PayloadEmpty).
			a.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
			err = platform.Rejected(g, res.StatusCode, res.Reason)
		}
		if cause == nil {
			cause = err
		}
		results = append(results, tr)
	}

	return platform.Tally(g, results, cause)
}
