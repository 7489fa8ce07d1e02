package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// Receiver is satisfied by *pubsub.Subscriber.
type Receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Sender is the part of the Dispatcher the consumer drives.
type Sender interface {
	SendToUser(ctx context.Context, userID string, n push.NotificationDescriptor) (*push.DeliveryReport, error)
}

// Consumer feeds Pub/Sub notification requests into the dispatcher.
type Consumer struct {
	receiver Receiver
	sender   Sender
	logger   *slog.Logger
}

func NewConsumer(receiver Receiver, sender Sender, logger *slog.Logger) *Consumer {
	return &Consumer{
		receiver: receiver,
		sender:   sender,
		logger:   logger.With("component", "Consumer"),
	}
}

// Run blocks until ctx is cancelled or the subscription fails.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Consumer started")
	err := c.receiver.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.Process(ctx, msg.ID, msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receiving notifications: %w", err)
	}
	c.logger.Info("Consumer stopped")
	return nil
}

// Process handles one message payload and reports whether it should be acked.
// Gateway failures are acked since the report already records them; registry
// failures and malformed payloads are nacked, the latter eventually landing
// on the dead-letter topic.
func (c *Consumer) Process(ctx context.Context, msgID string, payload []byte) bool {
	log := c.logger.With("pubsub_msg_id", msgID)

	req, err := DecodeRequest(msgID, payload)
	if err != nil {
		log.Error("Dropping malformed message", "err", err)
		return false
	}

	report, err := c.sender.SendToUser(ctx, req.UserID, req.Notification)
	if err != nil {
		log.Error("Failed to deliver notification", "recipient_id", req.UserID, "err", err)
		return false
	}
	log.Info("Notification processed",
		"recipient_id", req.UserID,
		"status", report.Status,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
	)
	return true
}

// SubscriptionCreator is satisfied by the Pub/Sub subscription admin client.
type SubscriptionCreator interface {
	CreateSubscription(ctx context.Context, req *pubsubpb.Subscription, opts ...gax.CallOption) (*pubsubpb.Subscription, error)
}

// SubscriptionConfig names the resources of the ingestion subscription.
type SubscriptionConfig struct {
	ProjectID           string
	SubscriptionID      string
	TopicID             string
	DeadLetterTopicID   string
	MaxDeliveryAttempts int32
	AckDeadline         time.Duration
}

// SubscriptionName is the fully-qualified subscription resource name.
func (c SubscriptionConfig) SubscriptionName() string {
	return resourceName(c.ProjectID, "subscriptions", c.SubscriptionID)
}

// EnsureSubscription creates the subscription with its dead-letter policy,
// tolerating one that already exists.
func EnsureSubscription(ctx context.Context, admin SubscriptionCreator, cfg SubscriptionConfig, logger *slog.Logger) (string, error) {
	ackDeadline := cfg.AckDeadline
	if ackDeadline <= 0 {
		ackDeadline = 10 * time.Second
	}
	sub := &pubsubpb.Subscription{
		Name:               cfg.SubscriptionName(),
		Topic:              resourceName(cfg.ProjectID, "topics", cfg.TopicID),
		AckDeadlineSeconds: int32(ackDeadline / time.Second),
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: durationpb.New(10 * time.Second),
			MaximumBackoff: durationpb.New(10 * time.Minute),
		},
	}
	if cfg.DeadLetterTopicID != "" {
		attempts := cfg.MaxDeliveryAttempts
		if attempts <= 0 {
			attempts = 5
		}
		sub.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     resourceName(cfg.ProjectID, "topics", cfg.DeadLetterTopicID),
			MaxDeliveryAttempts: attempts,
		}
	}

	logger.Debug("Ensuring subscription exists", "sub", sub.Name, "topic", sub.Topic)
	if _, err := admin.CreateSubscription(ctx, sub); err != nil {
		if status.Code(err) != codes.AlreadyExists {
			return "", fmt.Errorf("could not create sub %s: %w", sub.Name, err)
		}
		logger.Debug("Subscription already exists, skipping creation", "sub", sub.Name)
	}
	return sub.Name, nil
}

func resourceName(project, kind, id string) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, kind, id)
}
