package model

import (
	"time"

	"github.com/sawpanic/pulsarbroker/internal/ids"
)

func nowTimestamp() ids.Timestamp { return ids.Timestamp(time.Now().UnixMilli()) }

// QueuedMessage is a reference sitting in a subscription's undelivered
// queue. Key is the message's partition key (not the subscription's own
// id), carried alongside the ref so key-shared subscriptions can route
// without reaching back into the ledger.
type QueuedMessage struct {
	RefKey string `msgpack:"ref_key" json:"ref_key"`
	Key    string `msgpack:"key" json:"key"`
}

// DeliveryState tracks one message currently assigned to a consumer but
// not yet acked.
type DeliveryState struct {
	ConsumerId    ids.ConsumerId `msgpack:"consumer_id" json:"consumer_id"`
	Key           string         `msgpack:"key" json:"key"`
	DeliveredAt   ids.Timestamp  `msgpack:"delivered_at" json:"delivered_at"`
	DeliveryCount int            `msgpack:"delivery_count" json:"delivery_count"`
}

// Subscription is the behavior shared by both delivery semantics: shared
// (plain FIFO, any consumer may take the next message) and key-shared
// (messages with the same key go to the same consumer while any message
// with that key is in flight to it).
type Subscription interface {
	ID() ids.SubscriptionId
	IsKeyShared() bool
	ConnectConsumer() ids.ConsumerId
	DisconnectConsumer(consumerId ids.ConsumerId) bool
	Enqueue(msg QueuedMessage) bool
	// Pop assigns up to max undelivered messages to consumerId, moving
	// them from Queued to Delivered, and returns what was assigned.
	Pop(consumerId ids.ConsumerId, max int) []QueuedMessage
	Ack(refKey string) bool
	Nack(refKey string) bool
	QueueDepth() int
	DeliveredCount() int
	// DeliveryInfo reports the delivery bookkeeping for a still-outstanding
	// message, for building the wire response after Pop.
	DeliveryInfo(refKey string) (DeliveryState, bool)
}

type Base struct {
	Id                 ids.SubscriptionId       `msgpack:"id" json:"id"`
	TopicId            ids.TopicId              `msgpack:"topic_id" json:"topic_id"`
	Name               string                   `msgpack:"name" json:"name"`
	NextConsumerId     ids.ConsumerId           `msgpack:"next_consumer_id" json:"next_consumer_id"`
	ConnectedConsumers map[ids.ConsumerId]bool  `msgpack:"connected_consumers" json:"-"`
	Queued             []QueuedMessage          `msgpack:"queued" json:"queued"`
	Delivered          map[string]DeliveryState `msgpack:"delivered" json:"delivered"`
}

func newBase(id ids.SubscriptionId, topicId ids.TopicId, name string) Base {
	return Base{
		Id:                 id,
		TopicId:            topicId,
		Name:               name,
		ConnectedConsumers: make(map[ids.ConsumerId]bool),
		Delivered:          make(map[string]DeliveryState),
	}
}

func (b *Base) ID() ids.SubscriptionId { return b.Id }

func (b *Base) ConnectConsumer() ids.ConsumerId {
	b.NextConsumerId = b.NextConsumerId.Next()
	id := b.NextConsumerId
	if b.ConnectedConsumers == nil {
		b.ConnectedConsumers = make(map[ids.ConsumerId]bool)
	}
	b.ConnectedConsumers[id] = true
	return id
}

func (b *Base) DisconnectConsumer(consumerId ids.ConsumerId) bool {
	if _, ok := b.ConnectedConsumers[consumerId]; !ok {
		return false
	}
	delete(b.ConnectedConsumers, consumerId)
	// Redeliverable work follows the consumer: requeue at front, ahead of
	// everything already queued. The requeued messages are collected from
	// a map, so their order relative to each other is not defined.
	var requeued []QueuedMessage
	for refKey, d := range b.Delivered {
		if d.ConsumerId == consumerId {
			requeued = append(requeued, QueuedMessage{RefKey: refKey, Key: d.Key})
			delete(b.Delivered, refKey)
		}
	}
	if len(requeued) > 0 {
		b.Queued = append(requeued, b.Queued...)
	}
	return true
}

func (b *Base) Enqueue(msg QueuedMessage) bool {
	b.Queued = append(b.Queued, msg)
	return true
}

func (b *Base) Ack(refKey string) bool {
	if _, ok := b.Delivered[refKey]; !ok {
		return false
	}
	delete(b.Delivered, refKey)
	return true
}

func (b *Base) Nack(refKey string) bool {
	d, ok := b.Delivered[refKey]
	if !ok {
		return false
	}
	delete(b.Delivered, refKey)
	b.Queued = append([]QueuedMessage{{RefKey: refKey, Key: d.Key}}, b.Queued...)
	return true
}

func (b *Base) QueueDepth() int { return len(b.Queued) }

func (b *Base) DeliveredCount() int { return len(b.Delivered) }

func (b *Base) DeliveryInfo(refKey string) (DeliveryState, bool) {
	d, ok := b.Delivered[refKey]
	return d, ok
}

func (b *Base) markDelivered(consumerId ids.ConsumerId, refKey, key string, now ids.Timestamp) {
	prior := b.Delivered[refKey]
	b.Delivered[refKey] = DeliveryState{
		ConsumerId:    consumerId,
		Key:           key,
		DeliveredAt:   now,
		DeliveryCount: prior.DeliveryCount + 1,
	}
}

// SharedSubscription delivers each message to exactly one of its
// connected consumers, in FIFO order, with no affinity between a message
// key and a particular consumer.
type SharedSubscription struct {
	Base `msgpack:",inline"`
}

func NewSharedSubscription(id ids.SubscriptionId, topicId ids.TopicId, name string) *SharedSubscription {
	return &SharedSubscription{Base: newBase(id, topicId, name)}
}

func (s *SharedSubscription) IsKeyShared() bool { return false }

func (s *SharedSubscription) Pop(consumerId ids.ConsumerId, max int) []QueuedMessage {
	if max <= 0 || len(s.Queued) == 0 {
		return nil
	}
	n := max
	if n > len(s.Queued) {
		n = len(s.Queued)
	}
	popped := s.Queued[:n]
	s.Queued = s.Queued[n:]

	now := nowTimestamp()
	for _, m := range popped {
		s.markDelivered(consumerId, m.RefKey, m.Key, now)
	}
	return popped
}

// KeyAffinity pins a message key to the consumer currently handling it,
// for as long as any message with that key is in flight (delivered but
// not yet acked/nacked). InFlight counts those outstanding deliveries;
// once it reaches zero the pin is released and the key is free to be
// claimed by whichever consumer next receives a message with that key.
type KeyAffinity struct {
	ConsumerId ids.ConsumerId `msgpack:"consumer_id" json:"consumer_id"`
	InFlight   int            `msgpack:"in_flight" json:"in_flight"`
}

// KeySharedSubscription pins every message key to whichever consumer is
// currently handling messages with that key, so long as at least one
// such delivery remains unacked; acking (or nacking) the last in-flight
// message for a key releases it for reassignment, as does disconnecting
// the owning consumer.
type KeySharedSubscription struct {
	Base        `msgpack:",inline"`
	KeyAffinity map[string]KeyAffinity `msgpack:"key_affinity" json:"key_affinity"`
}

func NewKeySharedSubscription(id ids.SubscriptionId, topicId ids.TopicId, name string) *KeySharedSubscription {
	return &KeySharedSubscription{
		Base:        newBase(id, topicId, name),
		KeyAffinity: make(map[string]KeyAffinity),
	}
}

func (s *KeySharedSubscription) IsKeyShared() bool { return true }

func (s *KeySharedSubscription) DisconnectConsumer(consumerId ids.ConsumerId) bool {
	changed := s.Base.DisconnectConsumer(consumerId)
	for key, affinity := range s.KeyAffinity {
		if affinity.ConsumerId == consumerId {
			delete(s.KeyAffinity, key)
			changed = true
		}
	}
	return changed
}

// Ack releases the delivered message as usual, then decrements (and
// possibly releases) the key's affinity pin now that this delivery is
// no longer in flight.
func (s *KeySharedSubscription) Ack(refKey string) bool {
	d, ok := s.Base.DeliveryInfo(refKey)
	if !ok {
		return false
	}
	if !s.Base.Ack(refKey) {
		return false
	}
	s.releaseAffinity(d.Key, d.ConsumerId)
	return true
}

// Nack requeues the message as usual, then decrements (and possibly
// releases) the key's affinity pin now that this delivery is no longer
// in flight. The requeued message re-enters the shared queue, where
// Pop's affinity check still routes it back to the same consumer as
// long as the pin survives (i.e. other messages for the same key are
// still in flight).
func (s *KeySharedSubscription) Nack(refKey string) bool {
	d, ok := s.Base.DeliveryInfo(refKey)
	if !ok {
		return false
	}
	if !s.Base.Nack(refKey) {
		return false
	}
	s.releaseAffinity(d.Key, d.ConsumerId)
	return true
}

// releaseAffinity decrements the in-flight count for key, removing the
// affinity entry once it reaches zero. A mismatched consumerId (the
// pin changed hands, or was already released) is a no-op.
func (s *KeySharedSubscription) releaseAffinity(key string, consumerId ids.ConsumerId) {
	affinity, ok := s.KeyAffinity[key]
	if !ok || affinity.ConsumerId != consumerId {
		return
	}
	if affinity.InFlight <= 1 {
		delete(s.KeyAffinity, key)
		return
	}
	affinity.InFlight--
	s.KeyAffinity[key] = affinity
}

// Pop scans the queue front-to-back, assigning to consumerId only
// messages whose key is unaffiliated or already pinned to consumerId,
// leaving messages pinned to other consumers in place for their rightful
// owner. This partial-scan semantics is what makes key-shared delivery
// safe: a slow consumer for one key never blocks fast consumers for
// other keys, but never steals another consumer's key either.
func (s *KeySharedSubscription) Pop(consumerId ids.ConsumerId, max int) []QueuedMessage {
	if max <= 0 || len(s.Queued) == 0 {
		return nil
	}
	if s.KeyAffinity == nil {
		s.KeyAffinity = make(map[string]KeyAffinity)
	}

	var popped []QueuedMessage
	remaining := s.Queued[:0]
	now := nowTimestamp()

	for _, m := range s.Queued {
		if len(popped) >= max {
			remaining = append(remaining, m)
			continue
		}
		affinity, pinned := s.KeyAffinity[m.Key]
		if pinned && affinity.ConsumerId != consumerId {
			remaining = append(remaining, m)
			continue
		}
		if pinned {
			affinity.InFlight++
		} else {
			affinity = KeyAffinity{ConsumerId: consumerId, InFlight: 1}
		}
		s.KeyAffinity[m.Key] = affinity
		s.markDelivered(consumerId, m.RefKey, m.Key, now)
		popped = append(popped, m)
	}
	s.Queued = remaining
	return popped
}

// SubscriptionRecord is the serializable envelope stored in the entity
// store for a subscription: msgpack has no native tagged-union support,
// so the concrete variant travels as a discriminator plus exactly one of
// the two payload fields populated.
type SubscriptionRecord struct {
	KeyShared    bool                   `msgpack:"key_shared" json:"key_shared"`
	Shared       *SharedSubscription    `msgpack:"shared,omitempty" json:"shared,omitempty"`
	KeySharedSub *KeySharedSubscription `msgpack:"key_shared_sub,omitempty" json:"key_shared_sub,omitempty"`
}

// NewSubscriptionRecord wraps a live Subscription for persistence.
func NewSubscriptionRecord(sub Subscription) SubscriptionRecord {
	switch s := sub.(type) {
	case *SharedSubscription:
		return SubscriptionRecord{KeyShared: false, Shared: s}
	case *KeySharedSubscription:
		return SubscriptionRecord{KeyShared: true, KeySharedSub: s}
	default:
		panic("model: unknown Subscription implementation")
	}
}

// Subscription unwraps the record back to the behavior interface.
func (r *SubscriptionRecord) Subscription() Subscription {
	if r.KeyShared {
		if r.KeySharedSub == nil {
			r.KeySharedSub = NewKeySharedSubscription(0, 0, "")
		}
		return r.KeySharedSub
	}
	if r.Shared == nil {
		r.Shared = NewSharedSubscription(0, 0, "")
	}
	return r.Shared
}
