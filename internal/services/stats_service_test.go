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

func newTestStatsEnv(t *testing.T) (*StatsService, *PubService, *AdminService, model.Topic) {
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
	pub := &PubService{Store: store, SelfNodeId: ids.NodeId(1)}
	return &StatsService{Admin: admin}, pub, admin, topic
}

func publishN(t *testing.T, pub *PubService, topicId ids.TopicId, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		_, outcome := pub.Publish(ctx, wire.PublishRequest{TopicId: topicId, PartitionId: 0, Key: "k"})
		require.Truef(t, outcome.IsSuccess(), "publish %d: %+v", i, outcome)
	}
}

func TestStatsService_LedgerReflectsPublishedMessages(t *testing.T) {
	stats, pub, admin, topic := newTestStatsEnv(t)
	ctx := context.Background()
	publishN(t, pub, topic.Id, 3)

	partition, err := admin.Partition(ctx, topic.Id, 0)
	require.NoError(t, err)
	ledgerId := partition.LedgerIds[len(partition.LedgerIds)-1]

	ls, err := stats.Ledger(ctx, topic.Id, 0, ledgerId)
	require.NoError(t, err)
	assert.Equal(t, 3, ls.MessageCount)
	assert.Equal(t, ids.MessageId(4), ls.NextMessageId)
	assert.False(t, ls.Exhausted, "expected an unbounded-capacity ledger to not report exhausted")
}

func TestStatsService_PartitionAggregatesAcrossLedgers(t *testing.T) {
	stats, pub, _, topic := newTestStatsEnv(t)
	ctx := context.Background()
	publishN(t, pub, topic.Id, 5)

	ps, err := stats.Partition(ctx, topic.Id, 0)
	require.NoError(t, err)
	assert.Equal(t, ids.NodeId(1), ps.OwnerNodeId)
	assert.Equal(t, 5, ps.TotalMessages)
	assert.GreaterOrEqual(t, ps.LedgerCount, 1)
}

func TestStatsService_TopicAggregatesPartitionsAndSubscriptions(t *testing.T) {
	stats, pub, admin, topic := newTestStatsEnv(t)
	ctx := context.Background()

	_, err := admin.CreateSubscription(ctx, topic.Id, "sub-a", false)
	require.NoError(t, err)
	publishN(t, pub, topic.Id, 1)

	ts, err := stats.Topic(ctx, topic.Id)
	require.NoError(t, err)
	assert.Equal(t, "prices", ts.Name)
	assert.Equal(t, 1, ts.PartitionCount)
	assert.Equal(t, 1, ts.SubscriptionCount)
	assert.Equal(t, 1, ts.TotalMessages)
}

func TestStatsService_ClusterAggregatesQueueDepth(t *testing.T) {
	stats, pub, admin, topic := newTestStatsEnv(t)
	ctx := context.Background()

	_, err := admin.CreateSubscription(ctx, topic.Id, "sub-a", false)
	require.NoError(t, err)
	publishN(t, pub, topic.Id, 2)

	cs, err := stats.Cluster(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test", cs.Name)
	assert.Equal(t, 0, cs.NodeCount, "expected no joined nodes yet")
	assert.Equal(t, 1, cs.TopicCount)
	assert.Equal(t, 2, cs.TotalQueued, "expected 2 queued messages across subscriptions")
}

func TestStatsService_LedgerUnknownTopicReturnsError(t *testing.T) {
	stats, _, _, _ := newTestStatsEnv(t)
	ctx := context.Background()
	_, err := stats.Ledger(ctx, ids.TopicId(999), 0, 0)
	assert.Error(t, err)
}
