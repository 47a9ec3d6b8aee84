package services

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pulsarbroker/internal/data"
	"github.com/sawpanic/pulsarbroker/internal/ids"
	"github.com/sawpanic/pulsarbroker/internal/model"
	"github.com/sawpanic/pulsarbroker/internal/persistence"
	"github.com/sawpanic/pulsarbroker/internal/wire"
)

// SubService implements consumer-facing operations: connecting a
// consumer, popping the next batch of messages a subscription's
// delivery semantics assigns it, and acking/nacking what was delivered.
type SubService struct {
	Store *data.Store
}

// AllocateConsumerId registers a new consumer against a subscription,
// matching the source's separate connect step so a client can hold a
// stable consumer id across many Consume calls (load-bearing for
// key-shared affinity).
func (s *SubService) AllocateConsumerId(ctx context.Context, topicId ids.TopicId, subscriptionId ids.SubscriptionId) (ids.ConsumerId, error) {
	subKey := ids.SubscriptionKey(topicId, subscriptionId)
	var consumerId ids.ConsumerId
	_, err := data.Update[model.SubscriptionRecord](ctx, s.Store, data.TypeSubscription, subKey, func(rec *model.SubscriptionRecord) bool {
		consumerId = rec.Subscription().ConnectConsumer()
		return true
	})
	return consumerId, err
}

// Consume pops up to req.MaxMessages undelivered messages for
// req.ConsumerId (allocating a new consumer first if the caller didn't
// supply one), resolving each against its owning ledger for the wire
// response.
func (s *SubService) Consume(ctx context.Context, req wire.ConsumeRequest) (wire.ConsumeResultData, wire.Outcome) {
	subKey := ids.SubscriptionKey(req.TopicId, req.SubscriptionId)

	consumerId := ids.ZeroConsumerId
	if req.ConsumerId != nil {
		consumerId = *req.ConsumerId
	}

	var popped []model.QueuedMessage
	var subAfter model.Subscription
	if _, err := data.Update[model.SubscriptionRecord](ctx, s.Store, data.TypeSubscription, subKey, func(rec *model.SubscriptionRecord) bool {
		sub := rec.Subscription()
		if req.ConsumerId == nil {
			consumerId = sub.ConnectConsumer()
		}
		popped = sub.Pop(consumerId, int(req.MaxMessages))
		subAfter = sub
		return true
	}); err != nil {
		return wire.ConsumeResultData{}, notFoundOutcome(err, "subscription")
	}
	if len(popped) == 0 {
		return wire.ConsumeResultData{ConsumerId: consumerId}, wire.NoDataOutcome("no messages available")
	}

	messages := make([]wire.MessageData, 0, len(popped))
	for _, qm := range popped {
		ref, err := ids.MessageRefFromKey(qm.RefKey)
		if err != nil {
			continue
		}
		ledgerKey := ids.LedgerKey(ref.TopicId, ref.PartitionId, ref.LedgerId)
		ledger, err := data.Update[model.Ledger](ctx, s.Store, data.TypeLedger, ledgerKey, func(l *model.Ledger) bool {
			l.RecordDelivery(ref.MessageId)
			return true
		})
		if err != nil {
			continue
		}
		msg, ok := ledger.Message(ref.MessageId)
		if !ok {
			continue
		}
		delivery, _ := subAfter.DeliveryInfo(qm.RefKey)
		messages = append(messages, wire.MessageData{
			MessageRef:    ref,
			MessageKey:    qm.Key,
			MessageAckKey: qm.RefKey,
			Published:     msg.Published,
			Delivered:     delivery.DeliveredAt,
			DeliveryCount: delivery.DeliveryCount,
			Attributes:    msg.Attributes,
		})
	}

	return wire.ConsumeResultData{ConsumerId: consumerId, Messages: messages}, wire.SuccessOutcome()
}

// Ack permanently removes a delivered message from the subscription's
// outstanding set and records the ack against the message's owning
// ledger, which logically deletes the message once every subscription
// that was active at publish time has acked it.
func (s *SubService) Ack(ctx context.Context, req wire.AckRequest) (wire.AckResultData, wire.Outcome) {
	ref, err := ids.MessageRefFromKey(req.MessageRefKey)
	if err != nil {
		return wire.AckResultData{}, wire.ErrorOutcome(err.Error(), wire.ErrorCodeGeneralFailure)
	}
	subKey := ids.SubscriptionKey(ref.TopicId, req.SubscriptionId)

	var success bool
	if _, err := data.Update[model.SubscriptionRecord](ctx, s.Store, data.TypeSubscription, subKey, func(rec *model.SubscriptionRecord) bool {
		success = rec.Subscription().Ack(req.MessageRefKey)
		return success
	}); err != nil {
		return wire.AckResultData{}, notFoundOutcome(err, "subscription")
	}

	if success {
		ledgerKey := ids.LedgerKey(ref.TopicId, ref.PartitionId, ref.LedgerId)
		if _, err := data.Update[model.Ledger](ctx, s.Store, data.TypeLedger, ledgerKey, func(l *model.Ledger) bool {
			return l.Ack(ref.MessageId)
		}); err != nil {
			log.Warn().Err(err).Str("message_ref", req.MessageRefKey).Msg("failed to record ack against ledger")
		}
	}

	return wire.AckResultData{Success: success}, wire.SuccessOutcome()
}

// Nack requeues a delivered message at the front of the subscription's
// queue for redelivery, recording the nack in the event log for replay
// and audit.
func (s *SubService) Nack(ctx context.Context, req wire.NackRequest) (wire.NackResultData, wire.Outcome) {
	ref, err := ids.MessageRefFromKey(req.MessageRefKey)
	if err != nil {
		return wire.NackResultData{}, wire.ErrorOutcome(err.Error(), wire.ErrorCodeGeneralFailure)
	}
	subKey := ids.SubscriptionKey(ref.TopicId, req.SubscriptionId)

	var success bool
	if _, err := data.Update[model.SubscriptionRecord](ctx, s.Store, data.TypeSubscription, subKey, func(rec *model.SubscriptionRecord) bool {
		success = rec.Subscription().Nack(req.MessageRefKey)
		return success
	}); err != nil {
		return wire.NackResultData{}, notFoundOutcome(err, "subscription")
	}

	_ = s.Store.Events.Append(ctx, persistence.LogEntry{
		Key:       "nack:" + req.MessageRefKey,
		Timestamp: persistence.NowTimestamp(),
	})

	return wire.NackResultData{Success: success}, wire.SuccessOutcome()
}

// DisconnectConsumer releases a consumer's connection and requeues
// anything it had outstanding, used when a transport connection drops.
func (s *SubService) DisconnectConsumer(ctx context.Context, topicId ids.TopicId, subscriptionId ids.SubscriptionId, consumerId ids.ConsumerId) error {
	subKey := ids.SubscriptionKey(topicId, subscriptionId)
	_, err := data.Update[model.SubscriptionRecord](ctx, s.Store, data.TypeSubscription, subKey, func(rec *model.SubscriptionRecord) bool {
		return rec.Subscription().DisconnectConsumer(consumerId)
	})
	return err
}
