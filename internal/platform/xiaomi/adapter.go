// Package xiaomi delivers through Xiaomi Mi Push.
package xiaomi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/carlmjohnson/requests"

	"github.com/tinywideclouds/go-push-service/internal/payload"
	"github.com/tinywideclouds/go-push-service/internal/platform"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

const DefaultPushURL = "https://api.xmpush.xiaomi.com/v3/message/regid"

// Config authenticates with the static app secret; Mi Push has no token exchange.
type Config struct {
	AppSecret   string
	PackageName string
	PushURL     string
	NotifyType  int
}

type Adapter struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

var _ dispatch.Adapter = (*Adapter)(nil)

func New(cfg Config, client *http.Client, logger *slog.Logger) *Adapter {
	if cfg.PushURL == "" {
		cfg.PushURL = DefaultPushURL
	}
	return &Adapter{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "XiaomiAdapter"),
	}
}

func (a *Adapter) Gateway() push.Gateway { return push.GatewayXiaomi }

type sendResponse struct {
	Result      string `json:"result"`
	Code        int    `json:"code"`
	Description string `json:"description"`
	Reason      string `json:"reason"`
	Data        struct {
		ID        string `json:"id"`
		BadRegIDs string `json:"bad_regids"`
	} `json:"data"`
}

// Send posts the regids in chunks of payload.XiaomiBatchLimit. The gateway
// succeeds only when at least one regid was accepted.
func (a *Adapter) Send(ctx context.Context, tokens []string, n push.NotificationDescriptor) push.GatewayResult {
	g := a.Gateway()
	if len(tokens) == 0 {
		return platform.NoTokens(g)
	}

	results := make([]push.TokenResult, 0, len(tokens))
	var cause error
	for _, chunk := range payload.Chunk(tokens, payload.XiaomiBatchLimit) {
		chunkResults, err := a.sendChunk(ctx, chunk, n)
		if err != nil {
			if cause == nil {
				cause = err
			}
			results = append(results, platform.Batch(chunk, false, "", err.Error())...)
			continue
		}
		results = append(results, chunkResults...)
	}
	if cause == nil {
		cause = platform.Rejected(g, 0, "every regid rejected")
	}
	return platform.Tally(g, results, cause)
}

func (a *Adapter) sendChunk(ctx context.Context, tokens []string, n push.NotificationDescriptor) ([]push.TokenResult, error) {
	g := a.Gateway()
	var resp sendResponse
	err := requests.URL(a.cfg.PushURL).
		Client(a.client).
		Header("Authorization", "key="+a.cfg.AppSecret).
		BodyForm(payload.Xiaomi(tokens, n, payload.XiaomiOptions{
			PackageName: a.cfg.PackageName,
			NotifyType:  a.cfg.NotifyType,
		})).
		ToJSON(&resp).
		Fetch(ctx)
	if err != nil {
		a.logger.Warn("Xiaomi send failed", "err", err)
		return nil, platform.Classify(g, err)
	}
	if resp.Result != "ok" || resp.Code != 0 {
		reason := resp.Reason
		if reason == "" {
			reason = resp.Description
		}
		return nil, platform.Rejected(g, resp.Code, reason)
	}

	results := platform.Batch(tokens, true, resp.Data.ID, "")
	if resp.Data.BadRegIDs != "" {
		bad := make(map[string]struct{})
		for _, id := range strings.Split(resp.Data.BadRegIDs, ",") {
			bad[strings.TrimSpace(id)] = struct{}{}
		}
		for i := range results {
			if _, dead := bad[results[i].Token]; dead {
				results[i] = push.TokenResult{Token: results[i].Token, Error: "bad regid", Invalid: true}
			}
		}
	}
	return results, nil
}
