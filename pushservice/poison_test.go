//go:build integration

package pushservice_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-service/internal/pipeline"
	"github.com/tinywideclouds/go-push-service/pushservice"
)

// Needs PUBSUB_EMULATOR_HOST, e.g. from `gcloud beta emulators pubsub start`.
func TestPushService_PoisonPill(t *testing.T) {
	if os.Getenv("PUBSUB_EMULATOR_HOST") == "" {
		t.Skip("PUBSUB_EMULATOR_HOST not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	t.Cleanup(cancel)
	logger := newTestLogger()

	projectID := "test-project-dlq"
	psClient, err := pubsub.NewClient(ctx, projectID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = psClient.Close() })

	// 1. Arrange: main topic, DLQ topic and a subscription on the DLQ
	runID := uuid.NewString()
	mainTopicID := "push-main-" + runID
	dlqTopicID := "push-dlq-" + runID
	dlqSubID := dlqTopicID + "-sub"
	for _, id := range []string{mainTopicID, dlqTopicID} {
		_, err := psClient.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: fmt.Sprintf("projects/%s/topics/%s", projectID, id)})
		require.NoError(t, err)
	}
	_, err = psClient.SubscriptionAdminClient.CreateSubscription(ctx, &pubsubpb.Subscription{
		Name:  fmt.Sprintf("projects/%s/subscriptions/%s", projectID, dlqSubID),
		Topic: fmt.Sprintf("projects/%s/topics/%s", projectID, dlqTopicID),
	})
	require.NoError(t, err)

	// 2. Main subscription through the production path
	subName, err := pipeline.EnsureSubscription(ctx, psClient.SubscriptionAdminClient, pipeline.SubscriptionConfig{
		ProjectID:           projectID,
		SubscriptionID:      mainTopicID + "-sub",
		TopicID:             mainTopicID,
		DeadLetterTopicID:   dlqTopicID,
		MaxDeliveryAttempts: 5,
	}, logger)
	require.NoError(t, err)

	sender := &countingSender{}
	consumer := pipeline.NewConsumer(psClient.Subscriber(subName), sender, logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	svc := pushservice.New(ln.Addr().String(), http.NotFoundHandler(), consumer, logger)
	go func() {
		if err := svc.Serve(ctx, ln); err != nil {
			t.Logf("service.Serve() returned an error: %v", err)
		}
	}()
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	// 3. Act: publish malformed JSON
	poisonPayload := []byte(`{"this is not valid json"`)
	_, err = psClient.Publisher(mainTopicID).Publish(ctx, &pubsub.Message{Data: poisonPayload}).Get(ctx)
	require.NoError(t, err)

	// 4. Assert: it lands on the DLQ
	var wg sync.WaitGroup
	wg.Add(1)
	var received []byte
	go func() {
		defer wg.Done()
		cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		err := psClient.Subscriber(dlqSubID).Receive(cctx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			received = msg.Data
			cancel()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("DLQ Receive returned an unexpected error: %v", err)
		}
	}()
	wg.Wait()

	require.NotNil(t, received, "Did not receive message on the DLQ subscription")
	assert.Equal(t, poisonPayload, received)
	assert.Zero(t, sender.calls(), "dispatcher must not see a poison pill")
}
