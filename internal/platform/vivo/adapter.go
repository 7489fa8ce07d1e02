// Package vivo delivers through vivo Push. vivo addresses one registration
// id per call, so every token gets its own request and result.
package vivo

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-service/internal/credential"
	"github.com/tinywideclouds/go-push-service/internal/payload"
	"github.com/tinywideclouds/go-push-service/internal/platform"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

const (
	DefaultBaseURL = "https://api-push.vivo.com.cn"

	tokenLifetime = 24 * time.Hour

	codeAuthFailed   = 10000
	codeInvalidRegID = 10302
)

type Config struct {
	AppID     string
	AppKey    string
	AppSecret string
	BaseURL   string
}

type Adapter struct {
	cfg    Config
	client *http.Client
	creds  dispatch.Credentials
	now    func() time.Time
	newID  func() string
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
		newID:  uuid.NewString,
		logger: logger.With("component", "VivoAdapter"),
	}
}

func (a *Adapter) Gateway() push.Gateway { return push.GatewayVivo }

// Sign computes md5(appId + appKey + timestamp + appSecret) in lowercase hex.
func Sign(appID, appKey, timestamp, appSecret string) string {
	sum := md5.Sum([]byte(appID + appKey + timestamp + appSecret))
	return hex.EncodeToString(sum[:])
}

type authRequest struct {
	AppID     string `json:"appId"`
	AppKey    string `json:"appKey"`
	Timestamp string `json:"timestamp"`
	Sign      string `json:"sign"`
}

type response struct {
	Result    int    `json:"result"`
	Desc      string `json:"desc"`
	AuthToken string `json:"authToken"`
	TaskID    string `json:"taskId"`
}

func (a *Adapter) Source() credential.Source {
	return credential.SourceFunc(func(ctx context.Context) (push.ProviderCredential, error) {
		issued := a.now()
		ts := strconv.FormatInt(issued.UnixMilli(), 10)

		var resp response
		err := requests.URL(a.cfg.BaseURL).
			Path("/message/auth").
			Client(a.client).
			BodyJSON(authRequest{
				AppID:     a.cfg.AppID,
				AppKey:    a.cfg.AppKey,
				Timestamp: ts,
				Sign:      Sign(a.cfg.AppID, a.cfg.AppKey, ts, a.cfg.AppSecret),
			}).
			ToJSON(&resp).
			Fetch(ctx)
		if err != nil {
			return push.ProviderCredential{}, fmt.Errorf("vivo auth exchange: %w", err)
		}
		if resp.Result != 0 || resp.AuthToken == "" {
			return push.ProviderCredential{}, fmt.Errorf("vivo auth: result=%d %s", resp.Result, resp.Desc)
		}
		return push.ProviderCredential{
			Gateway:   push.GatewayVivo,
			Token:     resp.AuthToken,
			ExpiresAt: issued.Add(tokenLifetime),
		}, nil
	})
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
	for _, tok := range tokens {
		res, err := a.sendOne(ctx, cred.Token, tok, n)
		if err != nil && cause == nil {
			cause = err
		}
		results = append(results, res)
	}
	return platform.Tally(g, results, cause)
}

func (a *Adapter) sendOne(ctx context.Context, authToken, token string, n push.NotificationDescriptor) (push.TokenResult, error) {
	g := a.Gateway()
	var resp response
	err := requests.URL(a.cfg.BaseURL).
		Path("/message/send").
		Client(a.client).
		Header("authToken", authToken).
		BodyJSON(payload.Vivo(token, n, a.newID())).
		ToJSON(&resp).
		Fetch(ctx)
	if err != nil {
		if platform.IsAuthStatus(err) {
			a.creds.Invalidate(ctx, g)
		}
		err = platform.Classify(g, err)
		return push.TokenResult{Token: token, Error: err.Error()}, err
	}

	switch resp.Result {
	case 0:
		return push.TokenResult{Token: token, Success: true, MessageID: resp.TaskID}, nil
	case codeAuthFailed:
		a.creds.Invalidate(ctx, g)
		err = fmt.Errorf("%w: vivo result=%d %s", push.ErrAuthFailure, resp.Result, resp.Desc)
	default:
		err = platform.Rejected(g, resp.Result, resp.Desc)
	}
	return push.TokenResult{
		Token:   token,
		Error:   err.Error(),
		Invalid: resp.Result == codeInvalidRegID,
	}, err
}
