package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pulsarbroker/internal/data"
	"github.com/sawpanic/pulsarbroker/internal/ids"
	"github.com/sawpanic/pulsarbroker/internal/model"
	"github.com/sawpanic/pulsarbroker/internal/persistence"
	"github.com/sawpanic/pulsarbroker/internal/wire"
)

// DefaultLedgerCapacity bounds how many messages a ledger holds before
// the owning partition rolls onto a freshly created one. A deployment
// can run with a smaller capacity (tests use a handful) to exercise
// rollover without publishing thousands of messages.
const DefaultLedgerCapacity ids.MessageId = 100_000

// PubService publishes messages onto a partition's current ledger,
// rolling the partition onto a new ledger when the current one is
// exhausted, and fans each published message out to every subscription
// on the topic.
type PubService struct {
	Store      *data.Store
	SelfNodeId ids.NodeId
	// LedgerCapacity overrides DefaultLedgerCapacity when non-zero, for
	// tests that want rollover to happen after a handful of messages.
	LedgerCapacity ids.MessageId
	// FailOnNoSubscribers rejects a publish outright when the topic has
	// no active subscriptions. When false (the default) the publish
	// still succeeds, but the outcome carries a warning rather than a
	// plain success.
	FailOnNoSubscribers bool
}

func (p *PubService) capacity() ids.MessageId {
	if p.LedgerCapacity != 0 {
		return p.LedgerCapacity
	}
	return DefaultLedgerCapacity
}

// Publish appends req to the current ledger of (req.TopicId,
// req.PartitionId), rolling onto a new ledger if the current one is
// full, then enqueues the resulting message onto every subscription
// registered on the topic and records the publish in the event log.
func (p *PubService) Publish(ctx context.Context, req wire.PublishRequest) (wire.PublishResultData, wire.Outcome) {
	topic, _, err := data.Get[model.Topic](ctx, p.Store, data.TypeTopic, ids.TopicKey(req.TopicId))
	if err != nil {
		return wire.PublishResultData{}, notFoundOutcome(err, "topic")
	}
	if !topic.HasPartition(req.PartitionId) {
		return wire.PublishResultData{}, wire.NoDataOutcome("partition not found on topic")
	}

	partitionKey := ids.PartitionKey(req.TopicId, req.PartitionId)
	partition, _, err := data.Get[model.Partition](ctx, p.Store, data.TypePartition, partitionKey)
	if err != nil {
		return wire.PublishResultData{}, notFoundOutcome(err, "partition")
	}

	ledgerId, err := partition.CurrentLedger(p.SelfNodeId)
	if err != nil {
		if errors.Is(err, model.ErrWrongNode) {
			return wire.PublishResultData{}, wire.ErrorOutcome(
				fmt.Sprintf("partition %d:%d is owned by node %d", req.TopicId, req.PartitionId, partition.OwnerNodeId),
				wire.ErrorCodeIncorrectNode,
			)
		}
		return wire.PublishResultData{}, wire.ErrorOutcome(err.Error(), wire.ErrorCodeGeneralFailure)
	}

	subscriberCount := len(topic.Subscriptions)
	if subscriberCount == 0 && p.FailOnNoSubscribers {
		return wire.PublishResultData{}, wire.ErrorOutcome(
			fmt.Sprintf("topic %d has no active subscriptions", req.TopicId),
			wire.ErrorCodeNoSubscribers,
		)
	}

	timestamp := req.Timestamp
	if timestamp == nil {
		now := ids.Timestamp(persistence.NowTimestamp())
		timestamp = &now
	}
	msg := model.Message{
		Key:             req.Key,
		Published:       *timestamp,
		Attributes:      req.Attributes,
		SubscriberCount: subscriberCount,
	}

	ref, err := p.allocate(ctx, req.TopicId, req.PartitionId, ledgerId, msg)
	if err != nil {
		if errors.Is(err, errBacklogFull) {
			return wire.PublishResultData{}, wire.ErrorOutcome("ledger capacity exceeded", wire.ErrorCodeBacklogFull)
		}
		return wire.PublishResultData{}, wire.ErrorOutcome(err.Error(), wire.ErrorCodeGeneralFailure)
	}

	// The publish event gates everything downstream: a message that
	// failed to reach the transaction log must not be fanned out, since
	// it could never be replayed after a crash.
	if err := p.Store.Events.Append(ctx, persistence.LogEntry{
		Key:       ref.Key(),
		Timestamp: uint64(*timestamp),
	}); err != nil {
		log.Warn().Err(err).Str("message_ref", ref.Key()).Msg("failed to append publish event")
		return wire.PublishResultData{}, wire.ErrorOutcome(
			fmt.Sprintf("failed to write publish event to transaction log: %v", err),
			wire.ErrorCodeGeneralFailure,
		)
	}

	p.fanOut(ctx, topic, ref, req.Key)

	if subscriberCount == 0 {
		return wire.PublishResultData{MessageRef: ref}, wire.WarningOutcome("published with no active subscriptions")
	}
	return wire.PublishResultData{MessageRef: ref}, wire.SuccessOutcome()
}

var errBacklogFull = errors.New("services: ledger backlog full")

// allocate assigns msg a message id on the named ledger, rolling the
// partition onto a freshly created ledger and retrying exactly once if
// the current ledger is exhausted.
func (p *PubService) allocate(ctx context.Context, topicId ids.TopicId, partitionId ids.PartitionId, ledgerId ids.LedgerId, msg model.Message) (ids.MessageRef, error) {
	ledgerKey := ids.LedgerKey(topicId, partitionId, ledgerId)

	var allocated bool
	var messageId ids.MessageId
	if _, err := data.Update[model.Ledger](ctx, p.Store, data.TypeLedger, ledgerKey, func(l *model.Ledger) bool {
		id, ok := l.AllocateMessageId(msg)
		if !ok {
			return false
		}
		allocated, messageId = true, id
		return true
	}); err != nil {
		return ids.MessageRef{}, err
	}
	if allocated {
		return ids.MessageRef{TopicId: topicId, PartitionId: partitionId, LedgerId: ledgerId, MessageId: messageId}, nil
	}

	newLedgerId, err := p.rollLedger(ctx, topicId, partitionId)
	if err != nil {
		return ids.MessageRef{}, err
	}

	newLedgerKey := ids.LedgerKey(topicId, partitionId, newLedgerId)
	if _, err := data.Update[model.Ledger](ctx, p.Store, data.TypeLedger, newLedgerKey, func(l *model.Ledger) bool {
		id, ok := l.AllocateMessageId(msg)
		if !ok {
			return false
		}
		allocated, messageId = true, id
		return true
	}); err != nil {
		return ids.MessageRef{}, err
	}
	if !allocated {
		// The freshly rolled ledger was exhausted too: only possible with
		// a pathologically small capacity. Surface as backlog-full rather
		// than looping indefinitely.
		return ids.MessageRef{}, errBacklogFull
	}
	return ids.MessageRef{TopicId: topicId, PartitionId: partitionId, LedgerId: newLedgerId, MessageId: messageId}, nil
}

// rollLedger creates a new ledger for the partition and makes it
// current, returning its id. Creating the ledger entity is idempotent
// (AddIfNone), so a retry of the enclosing Update loop caused by a
// concurrent roll never creates a duplicate.
func (p *PubService) rollLedger(ctx context.Context, topicId ids.TopicId, partitionId ids.PartitionId) (ids.LedgerId, error) {
	partitionKey := ids.PartitionKey(topicId, partitionId)
	var newLedgerId ids.LedgerId

	updated, err := data.Update[model.Partition](ctx, p.Store, data.TypePartition, partitionKey, func(part *model.Partition) bool {
		newLedgerId = ids.LedgerId(len(part.LedgerIds) + 1)
		part.AddLedger(newLedgerId)
		return true
	})
	if err != nil {
		return 0, err
	}

	newLedgerKey := ids.LedgerKey(topicId, partitionId, newLedgerId)
	if _, err := data.AddIfNone(ctx, p.Store, data.TypeLedger, newLedgerKey, model.NewLedger(newLedgerId, topicId, partitionId, p.capacity())); err != nil {
		return 0, err
	}

	log.Info().
		Uint32("topic_id", uint32(topicId)).
		Uint16("partition_id", uint16(partitionId)).
		Uint32("ledger_id", uint32(newLedgerId)).
		Msg("rolled partition onto new ledger")

	return updated.CurrentLedgerId, nil
}

// fanOut enqueues the published message onto every subscription
// registered on topic. A subscription that fails to update (e.g. a
// transient storage error) is logged and skipped rather than failing
// the whole publish — other subscribers must still receive it.
func (p *PubService) fanOut(ctx context.Context, topic model.Topic, ref ids.MessageRef, key string) {
	for _, sm := range topic.Subscriptions {
		subKey := ids.SubscriptionKey(topic.Id, sm.Id)
		_, err := data.Update[model.SubscriptionRecord](ctx, p.Store, data.TypeSubscription, subKey, func(rec *model.SubscriptionRecord) bool {
			return rec.Subscription().Enqueue(model.QueuedMessage{RefKey: ref.Key(), Key: key})
		})
		if err != nil {
			log.Warn().Err(err).Str("subscription", subKey).Str("message_ref", ref.Key()).Msg("failed to enqueue message onto subscription")
		}
	}
}

func notFoundOutcome(err error, kind string) wire.Outcome {
	if errors.Is(err, persistence.ErrNotFound) {
		return wire.NoDataOutcome(kind + " not found")
	}
	return wire.ErrorOutcome(err.Error(), wire.ErrorCodeGeneralFailure)
}
