package model

import (
	"testing"

	"github.com/sawpanic/pulsarbroker/internal/ids"
)

func TestLedger_AllocateMessageId_Sequential(t *testing.T) {
	l := NewLedger(1, 10, 0, 0)

	id1, ok := l.AllocateMessageId(Message{Key: "a"})
	if !ok || id1 != 1 {
		t.Fatalf("expected id 1, got %d ok=%v", id1, ok)
	}
	id2, ok := l.AllocateMessageId(Message{Key: "b"})
	if !ok || id2 != 2 {
		t.Fatalf("expected id 2, got %d ok=%v", id2, ok)
	}
	if l.NextMessageId != 3 {
		t.Fatalf("expected next message id 3, got %d", l.NextMessageId)
	}
}

func TestLedger_AllocateMessageId_WrapsToExhaustedSentinel(t *testing.T) {
	l := NewLedger(1, 10, 0, 0)
	l.NextMessageId = ^ids.MessageId(0)

	id, ok := l.AllocateMessageId(Message{Key: "last"})
	if !ok || id != ^ids.MessageId(0) {
		t.Fatalf("expected the max id to still allocate, got %d ok=%v", id, ok)
	}
	if l.NextMessageId != 0 {
		t.Fatalf("expected next message id to wrap to the exhausted sentinel, got %d", l.NextMessageId)
	}
	if !l.IsExhausted() {
		t.Fatalf("ledger should report exhausted once next_message_id wraps to 0")
	}
	if _, ok := l.AllocateMessageId(Message{Key: "after-wrap"}); ok {
		t.Fatalf("allocation after wraparound should fail")
	}
}

func TestLedger_Ack_DeletesMessageOnceEverySubscriberAcked(t *testing.T) {
	l := NewLedger(1, 10, 0, 0)
	id, ok := l.AllocateMessageId(Message{Key: "a", SubscriberCount: 2})
	if !ok {
		t.Fatalf("allocation should succeed")
	}

	if !l.Ack(id) {
		t.Fatalf("first ack should succeed")
	}
	if _, stillThere := l.Message(id); !stillThere {
		t.Fatalf("message should survive until every subscriber has acked")
	}

	if !l.Ack(id) {
		t.Fatalf("second ack should succeed")
	}
	if _, stillThere := l.Message(id); stillThere {
		t.Fatalf("message should be logically deleted once ack_count reaches subscriber_count")
	}

	if l.Ack(id) {
		t.Fatalf("acking an already-deleted message should report not-ok")
	}
}

func TestLedger_Ack_NoSubscribersDeletesImmediately(t *testing.T) {
	l := NewLedger(1, 10, 0, 0)
	id, ok := l.AllocateMessageId(Message{Key: "a", SubscriberCount: 0})
	if !ok {
		t.Fatalf("allocation should succeed")
	}
	if !l.Ack(id) {
		t.Fatalf("ack of a zero-subscriber message should still report ok")
	}
	if _, stillThere := l.Message(id); stillThere {
		t.Fatalf("a message with subscriber_count 0 should be deleted on its first ack")
	}
}

func TestLedger_ExhaustedRefusesAllocation(t *testing.T) {
	l := NewLedger(1, 10, 0, 2)
	if _, ok := l.AllocateMessageId(Message{Key: "a"}); !ok {
		t.Fatalf("first allocation should succeed")
	}
	if _, ok := l.AllocateMessageId(Message{Key: "b"}); !ok {
		t.Fatalf("second allocation should succeed")
	}
	if !l.IsExhausted() {
		t.Fatalf("ledger should be exhausted at capacity")
	}
	if _, ok := l.AllocateMessageId(Message{Key: "c"}); ok {
		t.Fatalf("allocation past capacity should fail")
	}
}

func TestLedger_UnboundedCapacityNeverExhausted(t *testing.T) {
	l := NewLedger(1, 10, 0, 0)
	for i := 0; i < 1000; i++ {
		if _, ok := l.AllocateMessageId(Message{Key: "x"}); !ok {
			t.Fatalf("allocation %d should succeed under unbounded capacity", i)
		}
	}
	if l.IsExhausted() {
		t.Fatalf("capacity 0 must never report exhausted")
	}
}

func TestPartition_CurrentLedger_WrongNodeRejected(t *testing.T) {
	p := &Partition{Id: 0, TopicId: 1, OwnerNodeId: ids.NodeId(1)}
	p.AddLedger(1)

	if _, err := p.CurrentLedger(ids.NodeId(1)); err != nil {
		t.Fatalf("owning node should be allowed: %v", err)
	}
	if _, err := p.CurrentLedger(ids.NodeId(2)); err != ErrWrongNode {
		t.Fatalf("expected ErrWrongNode, got %v", err)
	}
}

func TestPartition_AddLedger_MakesItCurrent(t *testing.T) {
	p := &Partition{Id: 0, TopicId: 1}
	p.AddLedger(1)
	p.AddLedger(2)
	if p.CurrentLedgerId != 2 {
		t.Fatalf("expected current ledger 2, got %d", p.CurrentLedgerId)
	}
	if !p.HasLedger(1) || !p.HasLedger(2) {
		t.Fatalf("expected both ledgers tracked")
	}
}
