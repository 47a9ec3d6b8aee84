package model

import "github.com/sawpanic/pulsarbroker/internal/ids"

// SubscriptionMeta is the topic's record of one subscription: enough to
// route a Consume request to the right subscription entity and know
// which delivery semantics it uses without loading the subscription
// itself.
type SubscriptionMeta struct {
	Id        ids.SubscriptionId `msgpack:"id" json:"id"`
	Name      string             `msgpack:"name" json:"name"`
	KeyShared bool               `msgpack:"key_shared" json:"key_shared"`
}

// Topic is a named message stream split into partitions, each owned by
// exactly one node, with zero or more independent subscriptions.
type Topic struct {
	Id            ids.TopicId        `msgpack:"id" json:"id"`
	Name          string             `msgpack:"name" json:"name"`
	PartitionIds  []ids.PartitionId  `msgpack:"partition_ids" json:"partition_ids"`
	Subscriptions []SubscriptionMeta `msgpack:"subscriptions" json:"subscriptions"`
}

func (t *Topic) HasPartition(id ids.PartitionId) bool {
	for _, p := range t.PartitionIds {
		if p == id {
			return true
		}
	}
	return false
}

func (t *Topic) AddPartition(id ids.PartitionId) bool {
	if t.HasPartition(id) {
		return false
	}
	t.PartitionIds = append(t.PartitionIds, id)
	return true
}

func (t *Topic) RemovePartition(id ids.PartitionId) bool {
	for i, p := range t.PartitionIds {
		if p == id {
			t.PartitionIds = append(t.PartitionIds[:i], t.PartitionIds[i+1:]...)
			return true
		}
	}
	return false
}

func (t *Topic) Subscription(id ids.SubscriptionId) (SubscriptionMeta, bool) {
	for _, s := range t.Subscriptions {
		if s.Id == id {
			return s, true
		}
	}
	return SubscriptionMeta{}, false
}

func (t *Topic) AddSubscription(meta SubscriptionMeta) bool {
	if _, ok := t.Subscription(meta.Id); ok {
		return false
	}
	t.Subscriptions = append(t.Subscriptions, meta)
	return true
}

func (t *Topic) RemoveSubscription(id ids.SubscriptionId) bool {
	for i, s := range t.Subscriptions {
		if s.Id == id {
			t.Subscriptions = append(t.Subscriptions[:i], t.Subscriptions[i+1:]...)
			return true
		}
	}
	return false
}
