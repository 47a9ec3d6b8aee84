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
)

func newTestAdmin(t *testing.T) *AdminService {
	t.Helper()
	store := &data.Store{
		Entities: persistence.NewInMemoryEntityStore(),
		Events:   persistence.NewInMemoryEventLog(),
	}
	ctx := context.Background()
	require.NoError(t, data.Add(ctx, store, data.TypeCluster, ids.ClusterKey, model.Cluster{Name: "test"}))
	return &AdminService{Store: store}
}

func TestAdminService_CreateTopicRegistersPartitionsAndLedgers(t *testing.T) {
	a := newTestAdmin(t)
	ctx := context.Background()

	topic, err := a.CreateTopic(ctx, "prices", 3, ids.NodeId(1), 0)
	require.NoError(t, err)
	assert.Len(t, topic.PartitionIds, 3)

	cluster, err := a.Cluster(ctx)
	require.NoError(t, err)
	require.Len(t, cluster.TopicIds, 1)
	assert.Equal(t, topic.Id, cluster.TopicIds[0])

	partitions, err := a.Partitions(ctx, topic.Id)
	require.NoError(t, err)
	require.Len(t, partitions, 3)
	for _, p := range partitions {
		assert.Equal(t, ids.NodeId(1), p.OwnerNodeId)
		ledgers, err := a.Ledgers(ctx, topic.Id, p.Id)
		require.NoError(t, err)
		assert.Len(t, ledgers, 1)
	}
}

func TestAdminService_CreateSubscriptionSharedAndKeyShared(t *testing.T) {
	a := newTestAdmin(t)
	ctx := context.Background()
	topic, err := a.CreateTopic(ctx, "events", 1, ids.NodeId(1), 0)
	require.NoError(t, err)

	meta, err := a.CreateSubscription(ctx, topic.Id, "consumer-group-a", false)
	require.NoError(t, err)
	assert.False(t, meta.KeyShared)

	rec, err := a.SubscriptionRecord(ctx, topic.Id, meta.Id)
	require.NoError(t, err)
	assert.False(t, rec.KeyShared)

	ksMeta, err := a.CreateSubscription(ctx, topic.Id, "consumer-group-b", true)
	require.NoError(t, err)
	assert.True(t, ksMeta.KeyShared)

	updatedTopic, err := a.Topic(ctx, topic.Id)
	require.NoError(t, err)
	assert.Len(t, updatedTopic.Subscriptions, 2)
}

func TestAdminService_JoinNodeIsIdempotent(t *testing.T) {
	a := newTestAdmin(t)
	ctx := context.Background()
	node := model.Node{Id: ids.NodeId(1), Address: "127.0.0.1"}

	require.NoError(t, a.JoinNode(ctx, node))
	require.NoError(t, a.JoinNode(ctx, node), "repeated join of the same node should succeed")

	cluster, err := a.Cluster(ctx)
	require.NoError(t, err)
	assert.Len(t, cluster.NodeIds, 1, "node should be registered exactly once")
}

func TestAdminService_DeleteTopicCascadesSubscriptionsPartitionsLedgers(t *testing.T) {
	a := newTestAdmin(t)
	ctx := context.Background()
	topic, err := a.CreateTopic(ctx, "events", 2, ids.NodeId(1), 0)
	require.NoError(t, err)
	meta, err := a.CreateSubscription(ctx, topic.Id, "sub", false)
	require.NoError(t, err)

	require.NoError(t, a.DeleteTopic(ctx, topic.Id))

	_, err = a.Topic(ctx, topic.Id)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	_, err = a.SubscriptionRecord(ctx, topic.Id, meta.Id)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	for _, pid := range topic.PartitionIds {
		_, err := a.Partition(ctx, topic.Id, pid)
		assert.ErrorIsf(t, err, persistence.ErrNotFound, "partition %d should be gone", pid)
	}

	cluster, err := a.Cluster(ctx)
	require.NoError(t, err)
	assert.Empty(t, cluster.TopicIds)
}

func TestAdminService_DeleteTopicTwiceIsIdempotent(t *testing.T) {
	a := newTestAdmin(t)
	ctx := context.Background()
	topic, err := a.CreateTopic(ctx, "events", 1, ids.NodeId(1), 0)
	require.NoError(t, err)
	require.NoError(t, a.DeleteTopic(ctx, topic.Id))
	assert.NoError(t, a.DeleteTopic(ctx, topic.Id), "second delete of an already-deleted topic should succeed")
}

func TestAdminService_DeleteNodeLeavesPartitionsInPlace(t *testing.T) {
	a := newTestAdmin(t)
	ctx := context.Background()
	node := model.Node{Id: ids.NodeId(1), Address: "127.0.0.1"}
	require.NoError(t, a.JoinNode(ctx, node))
	topic, err := a.CreateTopic(ctx, "events", 1, ids.NodeId(1), 0)
	require.NoError(t, err)

	require.NoError(t, a.DeleteNode(ctx, node.Id))

	_, err = a.Node(ctx, node.Id)
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	partition, err := a.Partition(ctx, topic.Id, 0)
	require.NoError(t, err, "partition should remain after its owning node is deleted")
	assert.Equal(t, node.Id, partition.OwnerNodeId, "partition ownership should be left unchanged")
}

func TestAdminService_DeleteSubscriptionDoesNotTouchPartitions(t *testing.T) {
	a := newTestAdmin(t)
	ctx := context.Background()
	topic, err := a.CreateTopic(ctx, "events", 1, ids.NodeId(1), 0)
	require.NoError(t, err)
	meta, err := a.CreateSubscription(ctx, topic.Id, "sub", false)
	require.NoError(t, err)

	require.NoError(t, a.DeleteSubscription(ctx, topic.Id, meta.Id))
	_, err = a.SubscriptionRecord(ctx, topic.Id, meta.Id)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	_, err = a.Partition(ctx, topic.Id, 0)
	assert.NoError(t, err, "partition should be untouched by subscription deletion")
}
