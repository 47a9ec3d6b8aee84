package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/pulsarbroker/internal/data"
	"github.com/sawpanic/pulsarbroker/internal/ids"
	"github.com/sawpanic/pulsarbroker/internal/model"
	"github.com/sawpanic/pulsarbroker/internal/persistence"
	"github.com/sawpanic/pulsarbroker/internal/wire"
)

func newTestSubEnv(t *testing.T) (*PubService, *SubService, *AdminService, model.Topic, model.SubscriptionMeta) {
	t.Helper()
	store := &data.Store{
		Entities: persistence.NewInMemoryEntityStore(),
		Events:   persistence.NewInMemoryEventLog(),
	}
	ctx := context.Background()
	require.NoError(t, data.Add(ctx, store, data.TypeCluster, ids.ClusterKey, model.Cluster{Name: "test"}))
	admin := &AdminService{Store: store}
	topic, err := admin.CreateTopic(ctx, "prices", 1, ids.NodeId(1), 0)
	require.NoError(t, err)
	meta, err := admin.CreateSubscription(ctx, topic.Id, "sub", false)
	require.NoError(t, err)
	pub := &PubService{Store: store, SelfNodeId: ids.NodeId(1)}
	sub := &SubService{Store: store}
	return pub, sub, admin, topic, meta
}

func TestSubService_ConsumeAllocatesConsumerAndPopsMessage(t *testing.T) {
	pub, sub, _, topic, meta := newTestSubEnv(t)
	ctx := context.Background()
	_, outcome := pub.Publish(ctx, wire.PublishRequest{TopicId: topic.Id, PartitionId: 0, Key: "k1"})
	require.True(t, outcome.IsSuccess(), "outcome: %+v", outcome)

	result, outcome := sub.Consume(ctx, wire.ConsumeRequest{TopicId: topic.Id, SubscriptionId: meta.Id, MaxMessages: 10})
	require.True(t, outcome.IsSuccess(), "outcome: %+v", outcome)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "k1", result.Messages[0].MessageKey)
	assert.False(t, result.ConsumerId.IsZero(), "expected a non-zero consumer id to be allocated")
}

func TestSubService_ConsumeNoMessagesAvailable(t *testing.T) {
	_, sub, _, topic, meta := newTestSubEnv(t)
	ctx := context.Background()
	result, outcome := sub.Consume(ctx, wire.ConsumeRequest{TopicId: topic.Id, SubscriptionId: meta.Id, MaxMessages: 10})
	assert.False(t, outcome.IsSuccess(), "expected non-success outcome when nothing queued")
	assert.Empty(t, result.Messages)
}

func TestSubService_AckRemovesOutstandingDelivery(t *testing.T) {
	pub, sub, admin, topic, meta := newTestSubEnv(t)
	ctx := context.Background()
	_, outcome := pub.Publish(ctx, wire.PublishRequest{TopicId: topic.Id, PartitionId: 0, Key: "k1"})
	require.True(t, outcome.IsSuccess(), "outcome: %+v", outcome)
	result, outcome := sub.Consume(ctx, wire.ConsumeRequest{TopicId: topic.Id, SubscriptionId: meta.Id, MaxMessages: 10})
	require.True(t, outcome.IsSuccess(), "outcome: %+v", outcome)

	ackResult, ackOutcome := sub.Ack(ctx, wire.AckRequest{SubscriptionId: meta.Id, MessageRefKey: result.Messages[0].MessageAckKey})
	require.True(t, ackOutcome.IsSuccess())
	require.True(t, ackResult.Success)

	rec, err := admin.SubscriptionRecord(ctx, topic.Id, meta.Id)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Subscription().DeliveredCount(), "expected no outstanding deliveries after ack")
}

func TestSubService_AckReclaimsMessageFromLedgerOnceEverySubscriberAcked(t *testing.T) {
	pub, sub, admin, topic, meta := newTestSubEnv(t)
	ctx := context.Background()
	stats := &StatsService{Admin: admin}

	_, outcome := pub.Publish(ctx, wire.PublishRequest{TopicId: topic.Id, PartitionId: 0, Key: "k1"})
	require.True(t, outcome.IsSuccess(), "outcome: %+v", outcome)
	result, outcome := sub.Consume(ctx, wire.ConsumeRequest{TopicId: topic.Id, SubscriptionId: meta.Id, MaxMessages: 10})
	require.True(t, outcome.IsSuccess(), "outcome: %+v", outcome)

	ledgerId := result.Messages[0].MessageRef.LedgerId
	ls, err := stats.Ledger(ctx, topic.Id, 0, ledgerId)
	require.NoError(t, err)
	assert.Equal(t, 1, ls.MessageCount, "expected the published message still in the ledger before ack")

	ackResult, ackOutcome := sub.Ack(ctx, wire.AckRequest{SubscriptionId: meta.Id, MessageRefKey: result.Messages[0].MessageAckKey})
	require.True(t, ackOutcome.IsSuccess())
	require.True(t, ackResult.Success)

	ls, err = stats.Ledger(ctx, topic.Id, 0, ledgerId)
	require.NoError(t, err)
	assert.Equal(t, 0, ls.MessageCount, "expected the message reclaimed from the ledger once its only subscriber acked")
}

func TestSubService_NackRequeuesMessage(t *testing.T) {
	pub, sub, admin, topic, meta := newTestSubEnv(t)
	ctx := context.Background()
	_, outcome := pub.Publish(ctx, wire.PublishRequest{TopicId: topic.Id, PartitionId: 0, Key: "k1"})
	require.True(t, outcome.IsSuccess(), "outcome: %+v", outcome)
	result, outcome := sub.Consume(ctx, wire.ConsumeRequest{TopicId: topic.Id, SubscriptionId: meta.Id, MaxMessages: 10})
	require.True(t, outcome.IsSuccess(), "outcome: %+v", outcome)

	nackResult, nackOutcome := sub.Nack(ctx, wire.NackRequest{SubscriptionId: meta.Id, MessageRefKey: result.Messages[0].MessageAckKey})
	require.True(t, nackOutcome.IsSuccess())
	require.True(t, nackResult.Success)

	rec, err := admin.SubscriptionRecord(ctx, topic.Id, meta.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Subscription().QueueDepth(), "expected nacked message requeued")
}

func TestSubService_DisconnectConsumerRequeuesOutstanding(t *testing.T) {
	pub, sub, admin, topic, meta := newTestSubEnv(t)
	ctx := context.Background()
	_, outcome := pub.Publish(ctx, wire.PublishRequest{TopicId: topic.Id, PartitionId: 0, Key: "k1"})
	require.True(t, outcome.IsSuccess(), "outcome: %+v", outcome)
	result, outcome := sub.Consume(ctx, wire.ConsumeRequest{TopicId: topic.Id, SubscriptionId: meta.Id, MaxMessages: 10})
	require.True(t, outcome.IsSuccess(), "outcome: %+v", outcome)

	require.NoError(t, sub.DisconnectConsumer(ctx, topic.Id, meta.Id, result.ConsumerId))

	rec, err := admin.SubscriptionRecord(ctx, topic.Id, meta.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Subscription().QueueDepth(), "expected outstanding delivery requeued on disconnect")
}
