// Package huawei delivers through Huawei Push Kit (HMS).
package huawei

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/carlmjohnson/requests"

	"github.com/tinywideclouds/go-push-service/internal/credential"
	"github.com/tinywideclouds/go-push-service/internal/payload"
	"github.com/tinywideclouds/go-push-service/internal/platform"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

const (
	DefaultAuthURL = "https://oauth-login.cloud.huawei.com/oauth2/v3/token"
	DefaultPushURL = "https://push-api.cloud.huawei.com"

	codeSuccess        = "80000000"
	codePartialSuccess = "80100000"
	codeAuthFailed     = "80200001"
	codeTokenExpired   = "80200003"
	codeAllInvalid     = "80300007"
)

// Config identifies the HMS app. The OAuth client id is the app id.
type Config struct {
	AppID        string
	ClientSecret string
	AuthURL      string
	PushURL      string
	ValidateOnly bool
}

type Adapter struct {
	cfg    Config
	client *http.Client
	creds  dispatch.Credentials
	logger *slog.Logger
}

var _ dispatch.Adapter = (*Adapter)(nil)

func New(cfg Config, client *http.Client, creds dispatch.Credentials, logger *slog.Logger) *Adapter {
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.PushURL == "" {
		cfg.PushURL = DefaultPushURL
	}
	return &Adapter{
		cfg:    cfg,
		client: client,
		creds:  creds,
		logger: logger.With("component", "HuaweiAdapter"),
	}
}

func (a *Adapter) Gateway() push.Gateway { return push.GatewayHuawei }

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Error       int    `json:"error"`
	Description string `json:"error_description"`
}

// Source performs the OAuth2 client-credentials exchange.
func (a *Adapter) Source() credential.Source {
	return credential.SourceFunc(func(ctx context.Context) (push.ProviderCredential, error) {
		var resp tokenResponse
		err := requests.URL(a.cfg.AuthURL).
			Client(a.client).
			BodyForm(url.Values{
				"grant_type":    {"client_credentials"},
				"client_id":     {a.cfg.AppID},
				"client_secret": {a.cfg.ClientSecret},
			}).
			ToJSON(&resp).
			Fetch(ctx)
		if err != nil {
			return push.ProviderCredential{}, fmt.Errorf("huawei oauth exchange: %w", err)
		}
		if resp.AccessToken == "" {
			return push.ProviderCredential{}, fmt.Errorf("huawei oauth: error %d %s", resp.Error, resp.Description)
		}
		return push.ProviderCredential{
			Gateway:   push.GatewayHuawei,
			Token:     resp.AccessToken,
			ExpiresAt: time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		}, nil
	})
}

type sendResponse struct {
	Code      string `json:"code"`
	Msg       string `json:"msg"`
	RequestID string `json:"requestId"`
}

// partialResult is JSON carried inside msg on a partial success.
type partialResult struct {
	Success       int      `json:"success"`
	Failure       int      `json:"failure"`
	IllegalTokens []string `json:"illegal_tokens"`
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

	var resp sendResponse
	err = requests.URL(a.cfg.PushURL).
		Path(fmt.Sprintf("/v1/%s/messages:send", a.cfg.AppID)).
		Client(a.client).
		Bearer(cred.Token).
		BodyJSON(payload.Huawei(tokens, n, a.cfg.ValidateOnly)).
		AddValidator(requests.ValidatorHandler(requests.DefaultValidator, requests.ToJSON(&resp))).
		ToJSON(&resp).
		Fetch(ctx)
	if err != nil && resp.Code == "" {
		if platform.IsAuthStatus(err) {
			a.creds.Invalidate(ctx, g)
		}
		a.logger.Warn("Huawei send failed", "err", err)
		return push.Failed(g, platform.Classify(g, err))
	}

	switch resp.Code {
	case codeSuccess:
		return push.GatewayResult{
			Gateway:   g,
			Success:   true,
			MessageID: resp.RequestID,
			Tokens:    platform.Batch(tokens, true, resp.RequestID, ""),
		}
	case codePartialSuccess:
		return a.partial(tokens, resp)
	case codeAllInvalid:
		results := platform.Batch(tokens, false, "", resp.Msg)
		for i := range results {
			results[i].Invalid = true
		}
		cause := platform.Rejected(g, resp.Code, resp.Msg)
		return push.GatewayResult{Gateway: g, Error: cause.Error(), Cause: cause, Tokens: results}
	case codeAuthFailed, codeTokenExpired:
		a.creds.Invalidate(ctx, g)
		return push.Failed(g, fmt.Errorf("%w: huawei code=%s %s", push.ErrAuthFailure, resp.Code, resp.Msg))
	default:
		return push.Failed(g, platform.Rejected(g, resp.Code, resp.Msg))
	}
}

func (a *Adapter) partial(tokens []string, resp sendResponse) push.GatewayResult {
	g := a.Gateway()
	var detail partialResult
	if err := json.Unmarshal([]byte(resp.Msg), &detail); err != nil {
		// Without the detail no token can be reported as delivered.
		a.logger.Warn("Unreadable partial-success detail", "msg", resp.Msg, "err", err)
		cause := platform.Rejected(g, resp.Code, "unreadable partial result")
		return platform.Tally(g, platform.Batch(tokens, false, "", cause.Error()), cause)
	}
	illegal := make(map[string]struct{}, len(detail.IllegalTokens))
	for _, t := range detail.IllegalTokens {
		illegal[t] = struct{}{}
	}
	results := make([]push.TokenResult, 0, len(tokens))
	for _, t := range tokens {
		if _, bad := illegal[t]; bad {
			results = append(results, push.TokenResult{Token: t, Error: "illegal token", Invalid: true})
			continue
		}
		results = append(results, push.TokenResult{Token: t, Success: true, MessageID: resp.RequestID})
	}
	return platform.Tally(g, results, platform.Rejected(g, resp.Code, "every token illegal"))
}
