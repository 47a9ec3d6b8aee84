package services

import (
	"context"

	"github.com/sawpanic/pulsarbroker/internal/ids"
)

// LedgerStats summarizes one ledger's occupancy.
type LedgerStats struct {
	LedgerId      ids.LedgerId  `json:"ledger_id"`
	Capacity      ids.MessageId `json:"capacity"`
	MessageCount  int           `json:"message_count"`
	NextMessageId ids.MessageId `json:"next_message_id"`
	Exhausted     bool          `json:"exhausted"`
}

// PartitionStats summarizes a partition: its ledger chain and total
// backlog across all of them.
type PartitionStats struct {
	PartitionId   ids.PartitionId `json:"partition_id"`
	OwnerNodeId   ids.NodeId      `json:"owner_node_id"`
	LedgerCount   int             `json:"ledger_count"`
	TotalMessages int             `json:"total_messages"`
}

// TopicStats summarizes a topic: partition and subscription counts plus
// aggregate backlog across all its partitions.
type TopicStats struct {
	TopicId           ids.TopicId `json:"topic_id"`
	Name              string      `json:"name"`
	PartitionCount    int         `json:"partition_count"`
	SubscriptionCount int         `json:"subscription_count"`
	TotalMessages     int         `json:"total_messages"`
}

// ClusterStats summarizes the whole cluster.
type ClusterStats struct {
	Name        string `json:"name"`
	NodeCount   int    `json:"node_count"`
	TopicCount  int    `json:"topic_count"`
	TotalQueued int    `json:"total_queued"`
}

// StatsService derives read-only occupancy/backlog statistics from the
// same entity graph AdminService reads, without exposing the raw
// entities.
type StatsService struct {
	Admin *AdminService
}

func (s *StatsService) Ledger(ctx context.Context, topicId ids.TopicId, partitionId ids.PartitionId, ledgerId ids.LedgerId) (LedgerStats, error) {
	l, err := s.Admin.Ledger(ctx, topicId, partitionId, ledgerId)
	if err != nil {
		return LedgerStats{}, err
	}
	return LedgerStats{
		LedgerId:      l.Id,
		Capacity:      l.Capacity,
		MessageCount:  len(l.Messages),
		NextMessageId: l.NextMessageId,
		Exhausted:     l.IsExhausted(),
	}, nil
}

func (s *StatsService) Partition(ctx context.Context, topicId ids.TopicId, partitionId ids.PartitionId) (PartitionStats, error) {
	p, err := s.Admin.Partition(ctx, topicId, partitionId)
	if err != nil {
		return PartitionStats{}, err
	}
	ledgers, err := s.Admin.Ledgers(ctx, topicId, partitionId)
	if err != nil {
		return PartitionStats{}, err
	}
	total := 0
	for _, l := range ledgers {
		total += len(l.Messages)
	}
	return PartitionStats{
		PartitionId:   p.Id,
		OwnerNodeId:   p.OwnerNodeId,
		LedgerCount:   len(p.LedgerIds),
		TotalMessages: total,
	}, nil
}

func (s *StatsService) Topic(ctx context.Context, topicId ids.TopicId) (TopicStats, error) {
	t, err := s.Admin.Topic(ctx, topicId)
	if err != nil {
		return TopicStats{}, err
	}
	total := 0
	for _, pid := range t.PartitionIds {
		ps, err := s.Partition(ctx, topicId, pid)
		if err != nil {
			continue
		}
		total += ps.TotalMessages
	}
	return TopicStats{
		TopicId:           t.Id,
		Name:              t.Name,
		PartitionCount:    len(t.PartitionIds),
		SubscriptionCount: len(t.Subscriptions),
		TotalMessages:     total,
	}, nil
}

func (s *StatsService) Cluster(ctx context.Context) (ClusterStats, error) {
	c, err := s.Admin.Cluster(ctx)
	if err != nil {
		return ClusterStats{}, err
	}
	totalQueued := 0
	for _, tid := range c.TopicIds {
		t, err := s.Admin.Topic(ctx, tid)
		if err != nil {
			continue
		}
		for _, sm := range t.Subscriptions {
			rec, err := s.Admin.SubscriptionRecord(ctx, tid, sm.Id)
			if err != nil {
				continue
			}
			totalQueued += rec.Subscription().QueueDepth()
		}
	}
	return ClusterStats{
		Name:        c.Name,
		NodeCount:   len(c.NodeIds),
		TopicCount:  len(c.TopicIds),
		TotalQueued: totalQueued,
	}, nil
}
