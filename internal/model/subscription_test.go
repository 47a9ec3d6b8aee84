package model

import (
	"testing"

	"github.com/sawpanic/pulsarbroker/internal/ids"
)

func TestSharedSubscription_FIFODelivery(t *testing.T) {
	s := NewSharedSubscription(1, 1, "shared")
	c1 := s.ConnectConsumer()

	s.Enqueue(QueuedMessage{RefKey: "r1", Key: "k1"})
	s.Enqueue(QueuedMessage{RefKey: "r2", Key: "k2"})

	popped := s.Pop(c1, 10)
	if len(popped) != 2 {
		t.Fatalf("expected both messages delivered, got %d", len(popped))
	}
	if popped[0].RefKey != "r1" || popped[1].RefKey != "r2" {
		t.Fatalf("expected FIFO order, got %+v", popped)
	}
	if s.QueueDepth() != 0 {
		t.Fatalf("expected empty queue after pop, got depth %d", s.QueueDepth())
	}
	if s.DeliveredCount() != 2 {
		t.Fatalf("expected 2 delivered, got %d", s.DeliveredCount())
	}
}

func TestSharedSubscription_AckRemovesDelivery(t *testing.T) {
	s := NewSharedSubscription(1, 1, "shared")
	c1 := s.ConnectConsumer()
	s.Enqueue(QueuedMessage{RefKey: "r1", Key: "k1"})
	s.Pop(c1, 1)

	if !s.Ack("r1") {
		t.Fatalf("expected ack to succeed")
	}
	if s.DeliveredCount() != 0 {
		t.Fatalf("expected delivery cleared after ack")
	}
	if s.Ack("r1") {
		t.Fatalf("second ack of same ref should fail")
	}
}

func TestSharedSubscription_NackRequeuesAtFront(t *testing.T) {
	s := NewSharedSubscription(1, 1, "shared")
	c1 := s.ConnectConsumer()
	s.Enqueue(QueuedMessage{RefKey: "r1", Key: "k1"})
	s.Enqueue(QueuedMessage{RefKey: "r2", Key: "k2"})
	s.Pop(c1, 1) // delivers r1

	if !s.Nack("r1") {
		t.Fatalf("expected nack to succeed")
	}
	if s.QueueDepth() != 2 {
		t.Fatalf("expected nacked message requeued, depth=%d", s.QueueDepth())
	}
	if s.Queued[0].RefKey != "r1" {
		t.Fatalf("expected nacked message at front, got %+v", s.Queued[0])
	}
}

func TestSharedSubscription_DisconnectRequeuesOutstandingDeliveries(t *testing.T) {
	s := NewSharedSubscription(1, 1, "shared")
	c1 := s.ConnectConsumer()
	s.Enqueue(QueuedMessage{RefKey: "r1", Key: "k1"})
	s.Pop(c1, 1)

	if !s.DisconnectConsumer(c1) {
		t.Fatalf("expected disconnect to report a change")
	}
	if s.QueueDepth() != 1 {
		t.Fatalf("expected undelivered message requeued on disconnect")
	}
	if s.DeliveredCount() != 0 {
		t.Fatalf("expected delivered map cleared for disconnected consumer")
	}
}

func TestKeySharedSubscription_PinsKeyToFirstConsumer(t *testing.T) {
	s := NewKeySharedSubscription(1, 1, "key-shared")
	c1 := s.ConnectConsumer()
	c2 := s.ConnectConsumer()

	s.Enqueue(QueuedMessage{RefKey: "r1", Key: "same-key"})
	s.Enqueue(QueuedMessage{RefKey: "r2", Key: "same-key"})

	popped1 := s.Pop(c1, 10)
	if len(popped1) != 2 {
		t.Fatalf("expected both same-key messages to go to the first consumer, got %d", len(popped1))
	}

	s.Enqueue(QueuedMessage{RefKey: "r3", Key: "same-key"})
	popped2 := s.Pop(c2, 10)
	if len(popped2) != 0 {
		t.Fatalf("expected a pinned key not to be stolen by another consumer, got %+v", popped2)
	}
}

func TestKeySharedSubscription_DisconnectReleasesKeyAffinity(t *testing.T) {
	s := NewKeySharedSubscription(1, 1, "key-shared")
	c1 := s.ConnectConsumer()
	c2 := s.ConnectConsumer()

	s.Enqueue(QueuedMessage{RefKey: "r1", Key: "k"})
	s.Pop(c1, 10)
	s.DisconnectConsumer(c1)

	s.Enqueue(QueuedMessage{RefKey: "r2", Key: "k"})
	popped := s.Pop(c2, 10)
	if len(popped) != 2 || popped[0].RefKey != "r1" || popped[1].RefKey != "r2" {
		t.Fatalf("expected key reassignable after owner disconnects, with the requeued r1 ahead of r2, got %+v", popped)
	}
}

func TestKeySharedSubscription_AckReleasesAffinityOnceInFlightReachesZero(t *testing.T) {
	s := NewKeySharedSubscription(1, 1, "key-shared")
	c1 := s.ConnectConsumer()
	c2 := s.ConnectConsumer()

	s.Enqueue(QueuedMessage{RefKey: "r1", Key: "k"})
	s.Enqueue(QueuedMessage{RefKey: "r2", Key: "k"})
	popped := s.Pop(c1, 10)
	if len(popped) != 2 {
		t.Fatalf("expected both same-key messages delivered to c1, got %d", len(popped))
	}
	if got := s.KeyAffinity["k"].InFlight; got != 2 {
		t.Fatalf("expected in_flight count 2 after two deliveries, got %d", got)
	}

	if !s.Ack("r1") {
		t.Fatalf("expected ack of r1 to succeed")
	}
	if _, ok := s.KeyAffinity["k"]; !ok {
		t.Fatalf("affinity should survive while r2 is still in flight")
	}
	if got := s.KeyAffinity["k"].InFlight; got != 1 {
		t.Fatalf("expected in_flight count 1 after one ack, got %d", got)
	}

	if !s.Ack("r2") {
		t.Fatalf("expected ack of r2 to succeed")
	}
	if _, ok := s.KeyAffinity["k"]; ok {
		t.Fatalf("expected affinity released once every in-flight delivery for the key is acked")
	}

	// The key must now be claimable by a different consumer.
	s.Enqueue(QueuedMessage{RefKey: "r3", Key: "k"})
	popped = s.Pop(c2, 10)
	if len(popped) != 1 || popped[0].RefKey != "r3" {
		t.Fatalf("expected a released key to be claimable by another consumer, got %+v", popped)
	}
}

func TestKeySharedSubscription_NackReleasesAffinityOnceInFlightReachesZero(t *testing.T) {
	s := NewKeySharedSubscription(1, 1, "key-shared")
	c1 := s.ConnectConsumer()
	c2 := s.ConnectConsumer()

	s.Enqueue(QueuedMessage{RefKey: "r1", Key: "k"})
	s.Pop(c1, 10)

	if !s.Nack("r1") {
		t.Fatalf("expected nack to succeed")
	}
	if _, ok := s.KeyAffinity["k"]; ok {
		t.Fatalf("expected affinity released once the only in-flight delivery for the key is nacked")
	}
	if s.QueueDepth() != 1 {
		t.Fatalf("expected nacked message requeued, depth=%d", s.QueueDepth())
	}

	// A different consumer may now pick up the requeued message.
	popped := s.Pop(c2, 10)
	if len(popped) != 1 || popped[0].RefKey != "r1" {
		t.Fatalf("expected requeued message claimable by another consumer, got %+v", popped)
	}
}

func TestKeySharedSubscription_DifferentKeysDeliverIndependently(t *testing.T) {
	s := NewKeySharedSubscription(1, 1, "key-shared")
	c1 := s.ConnectConsumer()

	s.Enqueue(QueuedMessage{RefKey: "r1", Key: "k1"})
	s.Enqueue(QueuedMessage{RefKey: "r2", Key: "k2"})

	popped := s.Pop(c1, 10)
	if len(popped) != 2 {
		t.Fatalf("expected distinct keys both delivered to the requesting consumer, got %d", len(popped))
	}
}

func TestSubscriptionRecord_RoundTripsSharedAndKeyShared(t *testing.T) {
	shared := NewSharedSubscription(1, 1, "shared")
	rec := NewSubscriptionRecord(shared)
	if rec.KeyShared {
		t.Fatalf("expected KeyShared false for shared subscription")
	}
	if _, ok := rec.Subscription().(*SharedSubscription); !ok {
		t.Fatalf("expected Subscription() to unwrap to *SharedSubscription")
	}

	ks := NewKeySharedSubscription(2, 1, "key-shared")
	rec2 := NewSubscriptionRecord(ks)
	if !rec2.KeyShared {
		t.Fatalf("expected KeyShared true for key-shared subscription")
	}
	if _, ok := rec2.Subscription().(*KeySharedSubscription); !ok {
		t.Fatalf("expected Subscription() to unwrap to *KeySharedSubscription")
	}
}

func TestConsumerId_NextIncrements(t *testing.T) {
	var id ids.ConsumerId
	next := id.Next()
	if next.IsZero() {
		t.Fatalf("expected Next() to advance away from zero")
	}
}
