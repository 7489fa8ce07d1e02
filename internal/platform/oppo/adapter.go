// Package oppo delivers through OPPO Push.
package oppo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/carlmjohnson/requests"

	"github.com/tinywideclouds/go-push-service/internal/credential"
	"github.com/tinywideclouds/go-push-service/internal/payload"
	"github.com/tinywideclouds/go-push-service/internal/platform"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

const (
	DefaultBaseURL = "https://api.push.oppomobile.com"

	// OPPO auth tokens live a flat 24 hours.
	tokenLifetime = 24 * time.Hour

	codeInvalidAuthToken = 11
)

// OPPO marks these per-target error codes as unusable registration ids.
var invalidTargetCodes = map[int]bool{
	10000: true,
	10001: true,
}

type Config struct {
	AppKey       string
	MasterSecret string
	ChannelID    string
	BaseURL      string
}

type Adapter struct {
	cfg    Config
	client *http.Client
	creds  dispatch.Credentials
	now    func() time.Time
	logger *slog.Logger
}

var _ dispatch.Adapter = (*Adapter)(nil)

func New(cfg Config, client *http.Client, creds dispatch.Credentials, logger *slog.Logger) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Adapter{
		cfg:    cfg,
		client: client,
		creds:  creds,
		now:    time.Now,
		logger: logger.With("component", "OppoAdapter"),
	}
}

func (a *Adapter) Gateway() push.Gateway { return push.GatewayOppo }

// Sign computes the auth challenge: hex(sha256(appKey + timestamp + masterSecret)).
func Sign(appKey, timestamp, masterSecret string) string {
	sum := sha256.Sum256([]byte(appKey + timestamp + masterSecret))
	return hex.EncodeToString(sum[:])
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Source signs a millisecond timestamp and exchanges it for an auth_token.
func (a *Adapter) Source() credential.Source {
	return credential.SourceFunc(func(ctx context.Context) (push.ProviderCredential, error) {
		issued := a.now()
		ts := strconv.FormatInt(issued.UnixMilli(), 10)

		var resp envelope
		err := requests.URL(a.cfg.BaseURL).
			Path("/server/v1/auth").
			Client(a.client).
			BodyForm(url.Values{
				"app_key":   {a.cfg.AppKey},
				"timestamp": {ts},
				"sign":      {Sign(a.cfg.AppKey, ts, a.cfg.MasterSecret)},
			}).
			ToJSON(&resp).
			Fetch(ctx)
		if err != nil {
			return push.ProviderCredential{}, fmt.Errorf("oppo auth exchange: %w", err)
		}
		var data struct {
			AuthToken string `json:"auth_token"`
		}
		if resp.Code != 0 || json.Unmarshal(resp.Data, &data) != nil || data.AuthToken == "" {
			return push.ProviderCredential{}, fmt.Errorf("oppo auth: code=%d %s", resp.Code, resp.Message)
		}
		return push.ProviderCredential{
			Gateway:   push.GatewayOppo,
			Token:     data.AuthToken,
			ExpiresAt: issued.Add(tokenLifetime),
		}, nil
	})
}

type targetResult struct {
	MessageID      string `json:"messageId"`
	RegistrationID string `json:"registrationId"`
	ErrorCode      int    `json:"errorCode"`
	ErrorMessage   string `json:"errorMessage"`
}

func (a *Adapter) Send(ctx context.Context, tokens []string, n push.NotificationDescriptor) push.GatewayResult {
	g := a.Gateway()
	if len(tokens) == 0 {
		return platform.NoTokens(g)
	}

	cred, err := a.creds.Get(ctx, g)
	if err != nil {
		return push.Failed(g, err)
	}

	results := make([]push.TokenResult, 0, len(tokens))
	var cause error
	for _, chunk := range payload.Chunk(tokens, payload.OppoBatchLimit) {
		chunkResults, err := a.sendChunk(ctx, cred.Token, chunk, n)
		if err != nil {
			if cause == nil {
				cause = err
			}
			results = append(results, platform.Batch(chunk, false, "", err.Error())...)
			continue
		}
		results = append(results, chunkResults...)
	}
	return platform.Tally(g, results, cause)
}

func (a *Adapter) sendChunk(ctx context.Context, authToken string, tokens []string, n push.NotificationDescriptor) ([]push.TokenResult, error) {
	g := a.Gateway()
	messages, err := json.Marshal(payload.Oppo(tokens, n, a.cfg.ChannelID))
	if err != nil {
		return nil, fmt.Errorf("%w: encoding oppo messages: %w", push.ErrGatewayRejected, err)
	}

	var resp envelope
	err = requests.URL(a.cfg.BaseURL).
		Path("/server/v1/message/notification/unicast_batch").
		Client(a.client).
		Header("auth_token", authToken).
		BodyForm(url.Values{"messages": {string(messages)}}).
		ToJSON(&resp).
		Fetch(ctx)
	if err != nil {
		a.logger.Warn("OPPO send failed", "err", err)
		if platform.IsAuthStatus(err) {
			a.creds.Invalidate(ctx, g)
		}
		return nil, platform.Classify(g, err)
	}
	if resp.Code == codeInvalidAuthToken {
		a.creds.Invalidate(ctx, g)
		return nil, fmt.Errorf("%w: oppo code=%d %s", push.ErrAuthFailure, resp.Code, resp.Message)
	}
	if resp.Code != 0 {
		return nil, platform.Rejected(g, resp.Code, resp.Message)
	}

	var targets []targetResult
	if err := json.Unmarshal(resp.Data, &targets); err != nil {
		return nil, fmt.Errorf("%w: oppo response: %w", push.ErrGatewayRejected, err)
	}
	byToken := make(map[string]targetResult, len(targets))
	for _, t := range targets {
		byToken[t.RegistrationID] = t
	}

	out := make([]push.TokenResult, 0, len(tokens))
	for _, tok := range tokens {
		t, ok := byToken[tok]
		switch {
		case !ok:
			out = append(out, push.TokenResult{Token: tok, Error: "missing from oppo response"})
		case t.ErrorCode != 0:
			out = append(out, push.TokenResult{
				Token:   tok,
				Error:   fmt.Sprintf("code=%d %s", t.ErrorCode, t.ErrorMessage),
				Invalid: invalidTargetCodes[t.ErrorCode],
			})
		default:
			out = append(out, push.TokenResult{Token: tok, Success: true, MessageID: t.MessageID})
		}
	}
	return out, nil
}
