package model

import "github.com/sawpanic/pulsarbroker/internal/ids"

// Message is one published message body, stored in its owning ledger and
// referenced everywhere else (subscriptions, event log) by MessageRef.
// SubscriberCount is a snapshot of how many subscriptions were active at
// publish time; it never changes afterward, even if subscriptions are
// later added or removed. AckCount counts distinct subscriptions that
// have acked; once it reaches SubscriberCount the message is logically
// deleted from its ledger (see Ledger.Ack).
type Message struct {
	Key             string            `msgpack:"key" json:"key"`
	Published       ids.Timestamp     `msgpack:"published" json:"published"`
	Attributes      map[string]string `msgpack:"attributes" json:"attributes"`
	SubscriberCount int               `msgpack:"subscriber_count" json:"subscriber_count"`
	DeliveryCount   int               `msgpack:"delivery_count" json:"delivery_count"`
	AckCount        int               `msgpack:"ack_count" json:"ack_count"`
}

// Ledger is an append-only segment of a partition. NextMessageId starts
// at 1 and counts up; 0 is reserved as the exhausted sentinel and is
// never handed out as a real message id. Capacity 0 means unbounded
// (used in tests); once NextMessageId would exceed Capacity the ledger
// reports itself exhausted and the partition must roll to a new one
// (see internal/services.PubService).
type Ledger struct {
	Id            ids.LedgerId              `msgpack:"id" json:"id"`
	TopicId       ids.TopicId               `msgpack:"topic_id" json:"topic_id"`
	PartitionId   ids.PartitionId           `msgpack:"partition_id" json:"partition_id"`
	Capacity      ids.MessageId             `msgpack:"capacity" json:"capacity"`
	NextMessageId ids.MessageId             `msgpack:"next_message_id" json:"next_message_id"`
	Messages      map[ids.MessageId]Message `msgpack:"messages" json:"messages"`
}

func NewLedger(id ids.LedgerId, topicId ids.TopicId, partitionId ids.PartitionId, capacity ids.MessageId) *Ledger {
	return &Ledger{
		Id:            id,
		TopicId:       topicId,
		PartitionId:   partitionId,
		Capacity:      capacity,
		NextMessageId: 1,
		Messages:      make(map[ids.MessageId]Message),
	}
}

// IsExhausted reports whether the ledger can allocate no further ids:
// either NextMessageId wrapped back around to the reserved 0 sentinel,
// or (for a capacity-bound ledger) the next id would exceed Capacity.
func (l *Ledger) IsExhausted() bool {
	return l.NextMessageId == 0 || (l.Capacity != 0 && l.NextMessageId > l.Capacity)
}

// AllocateMessageId appends msg under the next message id and returns
// it. ok is false if the ledger is exhausted; the caller (PubService)
// must then roll the partition onto a new ledger and retry. Advancing
// past the id type's maximum value wraps NextMessageId to 0, the
// exhausted sentinel, rather than back to a reusable id.
func (l *Ledger) AllocateMessageId(msg Message) (id ids.MessageId, ok bool) {
	if l.IsExhausted() {
		return 0, false
	}
	id = l.NextMessageId
	if l.Messages == nil {
		l.Messages = make(map[ids.MessageId]Message)
	}
	l.Messages[id] = msg
	if id == ^ids.MessageId(0) {
		l.NextMessageId = 0
	} else {
		l.NextMessageId = id + 1
	}
	return id, true
}

func (l *Ledger) Message(id ids.MessageId) (Message, bool) {
	m, ok := l.Messages[id]
	return m, ok
}

// RecordDelivery bumps a message's ledger-level delivery count, alongside
// the per-consumer delivery bookkeeping the owning subscription keeps.
func (l *Ledger) RecordDelivery(id ids.MessageId) {
	m, ok := l.Messages[id]
	if !ok {
		return
	}
	m.DeliveryCount++
	l.Messages[id] = m
}

// Ack increments a message's ack count and, once every subscription that
// was active when it was published has acked, logically deletes it from
// the ledger. ok is false if the message no longer exists (already GC'd,
// or never allocated on this ledger).
func (l *Ledger) Ack(id ids.MessageId) (ok bool) {
	m, ok := l.Messages[id]
	if !ok {
		return false
	}
	m.AckCount++
	if m.AckCount >= m.SubscriberCount {
		delete(l.Messages, id)
		return true
	}
	l.Messages[id] = m
	return true
}
