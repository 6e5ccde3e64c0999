package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/illmade-knight/go-customer-registry/pkg/events"
	"github.com/illmade-knight/go-customer-registry/pkg/types"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestPubsubClient(t *testing.T, ctx context.Context) *pubsub.Client {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestCustomerEvents_PublishThroughPubsub(t *testing.T) {
	testCtx, testCancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(testCancel)

	client := newTestPubsubClient(t, testCtx)
	topic, err := client.CreateTopic(testCtx, "customer-events")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(testCtx, "customer-events-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	publisher, err := events.NewGooglePublisher(testCtx, client, "customer-events", zerolog.Nop())
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	emitter := events.NewCustomerEvents(publisher, clockwork.NewFakeClockAt(now), zerolog.Nop())
	customer := types.Customer{ID: 7, FirstName: "Joe", LastName: "Camel", Address: "1 Main St", Created: now, Updated: now}

	require.NoError(t, emitter.Emit(testCtx, events.CustomerCreated, customer))

	var mu sync.Mutex
	var received *pubsub.Message
	receiveCtx, receiveCancel := context.WithCancel(testCtx)
	t.Cleanup(receiveCancel)
	go func() {
		err := sub.Receive(receiveCtx, func(ctx context.Context, msg *pubsub.Message) {
			mu.Lock()
			received = msg
			mu.Unlock()
			msg.Ack()
			receiveCancel()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Subscription receive error: %v", err)
		}
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received != nil
	}, 5*time.Second, 50*time.Millisecond, "did not receive message in time")

	mu.Lock()
	msg := received
	mu.Unlock()
	assert.Equal(t, "customer.created", msg.Attributes[events.AttrEventType])
	assert.Equal(t, "7", msg.Attributes[events.AttrCustomerID])

	var event events.CustomerEvent
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, events.CustomerCreated, event.Type)
	assert.Equal(t, customer.ID, event.Customer.ID)
	assert.Equal(t, "Camel", event.Customer.LastName)
	assert.True(t, now.Equal(event.OccurredAt))

	stopCtx, stopCancel := context.WithTimeout(testCtx, 2*time.Second)
	t.Cleanup(stopCancel)
	require.NoError(t, emitter.Stop(stopCtx))
}

func TestNewGooglePublisher_TopicDoesNotExist(t *testing.T) {
	testCtx, testCancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(testCancel)

	client := newTestPubsubClient(t, testCtx)
	_, err := events.NewGooglePublisher(testCtx, client, "missing-topic", zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestNewGooglePublisher_NilClient(t *testing.T) {
	_, err := events.NewGooglePublisher(context.Background(), nil, "topic", zerolog.Nop())
	require.Error(t, err)
}

type failingPublisher struct{ err error }

func (p failingPublisher) Publish(context.Context, []byte, map[string]string) error { return p.err }
func (p failingPublisher) Stop(context.Context) error                              { return nil }

func TestCustomerEvents_PublishFailure(t *testing.T) {
	boom := errors.New("broker down")
	emitter := events.NewCustomerEvents(failingPublisher{err: boom}, nil, zerolog.Nop())

	err := emitter.Emit(context.Background(), events.CustomerDeleted, types.Customer{ID: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestCustomerEvents_NilPublisherDiscards(t *testing.T) {
	emitter := events.NewCustomerEvents(nil, nil, zerolog.Nop())
	require.NoError(t, emitter.Emit(context.Background(), events.CustomerUpdated, types.Customer{ID: 1}))
	require.NoError(t, emitter.Stop(context.Background()))
}
