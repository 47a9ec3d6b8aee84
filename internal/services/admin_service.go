package services

import (
	"context"
	"errors"

	"github.com/sawpanic/pulsarbroker/internal/data"
	"github.com/sawpanic/pulsarbroker/internal/ids"
	"github.com/sawpanic/pulsarbroker/internal/model"
	"github.com/sawpanic/pulsarbroker/internal/persistence"
)

// AdminService is the read-only view over the cluster graph that both
// internal/httpadmin and cluster-management operations (node join,
// topic/partition/subscription creation) are built on.
type AdminService struct {
	Store *data.Store
}

func (a *AdminService) Cluster(ctx context.Context) (model.Cluster, error) {
	c, _, err := data.Get[model.Cluster](ctx, a.Store, data.TypeCluster, ids.ClusterKey)
	return c, err
}

func (a *AdminService) AllNodes(ctx context.Context) ([]model.Node, error) {
	cluster, err := a.Cluster(ctx)
	if err != nil {
		return nil, err
	}
	nodes := make([]model.Node, 0, len(cluster.NodeIds))
	for _, id := range cluster.NodeIds {
		n, _, err := data.Get[model.Node](ctx, a.Store, data.TypeNode, ids.NodeKey(id))
		if err != nil {
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (a *AdminService) Node(ctx context.Context, id ids.NodeId) (model.Node, error) {
	n, _, err := data.Get[model.Node](ctx, a.Store, data.TypeNode, ids.NodeKey(id))
	return n, err
}

func (a *AdminService) AllTopics(ctx context.Context) ([]model.Topic, error) {
	cluster, err := a.Cluster(ctx)
	if err != nil {
		return nil, err
	}
	topics := make([]model.Topic, 0, len(cluster.TopicIds))
	for _, id := range cluster.TopicIds {
		t, _, err := data.Get[model.Topic](ctx, a.Store, data.TypeTopic, ids.TopicKey(id))
		if err != nil {
			continue
		}
		topics = append(topics, t)
	}
	return topics, nil
}

func (a *AdminService) Topic(ctx context.Context, topicId ids.TopicId) (model.Topic, error) {
	t, _, err := data.Get[model.Topic](ctx, a.Store, data.TypeTopic, ids.TopicKey(topicId))
	return t, err
}

func (a *AdminService) Partition(ctx context.Context, topicId ids.TopicId, partitionId ids.PartitionId) (model.Partition, error) {
	p, _, err := data.Get[model.Partition](ctx, a.Store, data.TypePartition, ids.PartitionKey(topicId, partitionId))
	return p, err
}

func (a *AdminService) Partitions(ctx context.Context, topicId ids.TopicId) ([]model.Partition, error) {
	topic, err := a.Topic(ctx, topicId)
	if err != nil {
		return nil, err
	}
	out := make([]model.Partition, 0, len(topic.PartitionIds))
	for _, pid := range topic.PartitionIds {
		p, err := a.Partition(ctx, topicId, pid)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (a *AdminService) Ledger(ctx context.Context, topicId ids.TopicId, partitionId ids.PartitionId, ledgerId ids.LedgerId) (model.Ledger, error) {
	l, _, err := data.Get[model.Ledger](ctx, a.Store, data.TypeLedger, ids.LedgerKey(topicId, partitionId, ledgerId))
	return l, err
}

func (a *AdminService) Ledgers(ctx context.Context, topicId ids.TopicId, partitionId ids.PartitionId) ([]model.Ledger, error) {
	p, err := a.Partition(ctx, topicId, partitionId)
	if err != nil {
		return nil, err
	}
	out := make([]model.Ledger, 0, len(p.LedgerIds))
	for _, lid := range p.LedgerIds {
		l, err := a.Ledger(ctx, topicId, partitionId, lid)
		if err != nil {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (a *AdminService) SubscriptionRecord(ctx context.Context, topicId ids.TopicId, subscriptionId ids.SubscriptionId) (model.SubscriptionRecord, error) {
	rec, _, err := data.Get[model.SubscriptionRecord](ctx, a.Store, data.TypeSubscription, ids.SubscriptionKey(topicId, subscriptionId))
	return rec, err
}

// CreateTopic registers a new topic with the cluster and creates its
// partitions, each owned by selfNodeId with a single starting ledger.
func (a *AdminService) CreateTopic(ctx context.Context, name string, partitionCount int, selfNodeId ids.NodeId, capacity ids.MessageId) (model.Topic, error) {
	cluster, _, err := data.Get[model.Cluster](ctx, a.Store, data.TypeCluster, ids.ClusterKey)
	if err != nil {
		return model.Topic{}, err
	}

	topicId := ids.TopicId(len(cluster.TopicIds) + 1)
	topic := model.Topic{Id: topicId, Name: name}

	for i := 0; i < partitionCount; i++ {
		partitionId := ids.PartitionId(i)
		ledgerId := ids.LedgerId(1)

		if err := data.Add(ctx, a.Store, data.TypeLedger, ids.LedgerKey(topicId, partitionId, ledgerId), model.NewLedger(ledgerId, topicId, partitionId, capacity)); err != nil {
			return model.Topic{}, err
		}
		partition := model.Partition{Id: partitionId, TopicId: topicId, OwnerNodeId: selfNodeId}
		partition.AddLedger(ledgerId)
		if err := data.Add(ctx, a.Store, data.TypePartition, ids.PartitionKey(topicId, partitionId), partition); err != nil {
			return model.Topic{}, err
		}
		topic.AddPartition(partitionId)
	}

	if err := data.Add(ctx, a.Store, data.TypeTopic, ids.TopicKey(topicId), topic); err != nil {
		return model.Topic{}, err
	}
	if _, err := data.Update[model.Cluster](ctx, a.Store, data.TypeCluster, ids.ClusterKey, func(c *model.Cluster) bool {
		return c.AddTopic(topicId)
	}); err != nil {
		return model.Topic{}, err
	}
	return topic, nil
}

// CreateSubscription registers a new subscription on a topic, with
// either shared or key-shared delivery semantics.
func (a *AdminService) CreateSubscription(ctx context.Context, topicId ids.TopicId, name string, keyShared bool) (model.SubscriptionMeta, error) {
	topic, err := a.Topic(ctx, topicId)
	if err != nil {
		return model.SubscriptionMeta{}, err
	}
	subscriptionId := ids.SubscriptionId(len(topic.Subscriptions) + 1)
	meta := model.SubscriptionMeta{Id: subscriptionId, Name: name, KeyShared: keyShared}

	var sub model.Subscription
	if keyShared {
		sub = model.NewKeySharedSubscription(subscriptionId, topicId, name)
	} else {
		sub = model.NewSharedSubscription(subscriptionId, topicId, name)
	}
	rec := model.NewSubscriptionRecord(sub)
	if err := data.Add(ctx, a.Store, data.TypeSubscription, ids.SubscriptionKey(topicId, subscriptionId), rec); err != nil {
		return model.SubscriptionMeta{}, err
	}
	if _, err := data.Update[model.Topic](ctx, a.Store, data.TypeTopic, ids.TopicKey(topicId), func(t *model.Topic) bool {
		return t.AddSubscription(meta)
	}); err != nil {
		return model.SubscriptionMeta{}, err
	}
	return meta, nil
}

// JoinNode registers node with the cluster (idempotent on node.Id).
func (a *AdminService) JoinNode(ctx context.Context, node model.Node) error {
	if _, err := data.AddIfNone(ctx, a.Store, data.TypeNode, ids.NodeKey(node.Id), node); err != nil {
		return err
	}
	_, err := data.Update[model.Cluster](ctx, a.Store, data.TypeCluster, ids.ClusterKey, func(c *model.Cluster) bool {
		return c.AddNode(node.Id)
	})
	return err
}

// DeleteTopic cascades: every subscription and partition (with its
// ledgers) is removed before the topic itself, and finally the topic id
// is dropped from the cluster. Every step is idempotent against
// NotFound, so a delete interrupted partway through (crash, retry) can
// simply run again to completion.
func (a *AdminService) DeleteTopic(ctx context.Context, topicId ids.TopicId) error {
	topic, err := a.Topic(ctx, topicId)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return a.removeTopicFromCluster(ctx, topicId)
		}
		return err
	}

	for _, sm := range topic.Subscriptions {
		if err := data.DeleteIdempotent(ctx, a.Store, data.TypeSubscription, ids.SubscriptionKey(topicId, sm.Id)); err != nil {
			return err
		}
	}
	for _, pid := range topic.PartitionIds {
		if err := a.deletePartition(ctx, topicId, pid); err != nil {
			return err
		}
	}
	if err := data.DeleteIdempotent(ctx, a.Store, data.TypeTopic, ids.TopicKey(topicId)); err != nil {
		return err
	}
	return a.removeTopicFromCluster(ctx, topicId)
}

func (a *AdminService) removeTopicFromCluster(ctx context.Context, topicId ids.TopicId) error {
	_, err := data.Update[model.Cluster](ctx, a.Store, data.TypeCluster, ids.ClusterKey, func(c *model.Cluster) bool {
		return c.RemoveTopic(topicId)
	})
	return err
}

// deletePartition removes every ledger in the partition, then the
// partition itself. It does not touch the parent topic's PartitionIds;
// callers that delete a single partition out from under a live topic
// (as opposed to cascading from DeleteTopic) must also update the topic.
func (a *AdminService) deletePartition(ctx context.Context, topicId ids.TopicId, partitionId ids.PartitionId) error {
	partition, err := a.Partition(ctx, topicId, partitionId)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil
		}
		return err
	}
	for _, lid := range partition.LedgerIds {
		if err := data.DeleteIdempotent(ctx, a.Store, data.TypeLedger, ids.LedgerKey(topicId, partitionId, lid)); err != nil {
			return err
		}
	}
	return data.DeleteIdempotent(ctx, a.Store, data.TypePartition, ids.PartitionKey(topicId, partitionId))
}

// DeleteSubscription removes one subscription from a topic without
// touching its partitions.
func (a *AdminService) DeleteSubscription(ctx context.Context, topicId ids.TopicId, subscriptionId ids.SubscriptionId) error {
	if err := data.DeleteIdempotent(ctx, a.Store, data.TypeSubscription, ids.SubscriptionKey(topicId, subscriptionId)); err != nil {
		return err
	}
	_, err := data.Update[model.Topic](ctx, a.Store, data.TypeTopic, ids.TopicKey(topicId), func(t *model.Topic) bool {
		return t.RemoveSubscription(subscriptionId)
	})
	return err
}

// DeleteNode removes a node from the cluster. Partitions owned by it
// are left in place — ownership handoff/rebalancing isn't implemented —
// so a deleted node's partitions simply become unreachable until
// reassigned by an administrator.
func (a *AdminService) DeleteNode(ctx context.Context, nodeId ids.NodeId) error {
	if err := data.DeleteIdempotent(ctx, a.Store, data.TypeNode, ids.NodeKey(nodeId)); err != nil {
		return err
	}
	_, err := data.Update[model.Cluster](ctx, a.Store, data.TypeCluster, ids.ClusterKey, func(c *model.Cluster) bool {
		for i, n := range c.NodeIds {
			if n == nodeId {
				c.NodeIds = append(c.NodeIds[:i], c.NodeIds[i+1:]...)
				return true
			}
		}
		return false
	})
	return err
}
