package fcm

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/tinywideclouds/go-push-service/internal/payload"
	"github.com/tinywideclouds/go-push-service/internal/platform"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Adapter struct {
	client MessagingClient
	logger *slog.Logger
}

var _ dispatch.Adapter = (*Adapter)(nil)

// NewClient builds a Firebase Messaging client. An empty credentialsFile
// falls back to Application Default Credentials.
func NewClient(ctx context.Context, projectID, credentialsFile string) (*messaging.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to init messaging client: %w", err)
	}
	return client, nil
}

// NewAdapter accepts the concrete client but stores it as the interface.
// Note: *messaging.Client automatically satisfies this interface.
func NewAdapter(client MessagingClient, logger *slog.Logger) *Adapter {
	return &Adapter{
		client: client,
		logger: logger.With("component", "FCMAdapter"),
	}
}

func (a *Adapter) Gateway() push.Gateway { return push.GatewayFCM }

// Send multicasts in chunks of payload.FCMBatchLimit.
func (a *Adapter) Send(ctx context.Context, tokens []string, n push.NotificationDescriptor) push.GatewayResult {
	g := a.Gateway()
	if len(tokens) == 0 {
		return platform.NoTokens(g)
	}

	results := make([]push.TokenResult, 0, len(tokens))
	var cause error
	for _, chunk := range payload.Chunk(tokens, payload.FCMBatchLimit) {
		br, err := a.client.SendEachForMulticast(ctx, payload.FCM(chunk, n))
		if err != nil {
			err = classify(err)
			a.logger.Error("FCM batch failed", "size", len(chunk), "err", err)
			if cause == nil {
				cause = err
			}
			results = append(results, platform.Batch(chunk, false, "", err.Error())...)
			continue
		}

		for idx, resp := range br.Responses {
			if idx >= len(chunk) {
				break
			}
			if resp.Success {
				results = append(results, push.TokenResult{Token: chunk[idx], Success: true, MessageID: resp.MessageID})
				continue
			}
			tr := push.TokenResult{Token: chunk[idx]}
			if resp.Error != nil {
				tr.Error = resp.Error.Error()
			}
			// The token is garbage: malformed or no longer registered.
			if messaging.IsInvalidArgument(resp.Error) || messaging.IsUnregistered(resp.Error) {
				tr.Invalid = true
			}
			if cause == nil {
				cause = classify(resp.Error)
			}
			results = append(results, tr)
		}
		a.logger.Debug("FCM batch sent", "success", br.SuccessCount, "failure", br.FailureCount)
	}

	return platform.Tally(g, results, cause)
}

func classify(err error) error {
	switch {
	case err == nil:
		return fmt.Errorf("%w: fcm: unknown failure", push.ErrGatewayRejected)
	case messaging.IsThirdPartyAuthError(err), messaging.IsSenderIDMismatch(err):
		return fmt.Errorf("%w: fcm: %w", push.ErrAuthFailure, err)
	case messaging.IsInvalidArgument(err), messaging.IsUnregistered(err), messaging.IsQuotaExceeded(err):
		return fmt.Errorf("%w: fcm: %w", push.ErrGatewayRejected, err)
	default:
		return platform.Classify(push.GatewayFCM, err)
	}
}
