// Package ids defines the identifier types shared by the model, wire and
// persistence layers. All are little-endian on the wire.
package ids

import (
	"encoding/binary"
	"fmt"
)

type (
	NodeId         uint16
	TopicId        uint32
	PartitionId    uint16
	LedgerId       uint32
	MessageId      uint32
	SubscriptionId uint32
	Timestamp      uint64
	VersionNumber  uint32
	PortNumber     uint16
	ErrorCode      uint16
)

// ConsumerId is the Go stand-in for the source's 128-bit consumer identifier.
// Go has no native u128, so it is represented as two uint64 halves, written
// to the wire as 16 bytes little-endian (Lo first, then Hi) to match the
// byte order used for the other integer ids.
type ConsumerId struct {
	Hi uint64 `json:"hi"`
	Lo uint64 `json:"lo"`
}

// ZeroConsumerId is the "no consumer" / exhausted sentinel, matching the source's use
// of 0 to mean "allocation exhausted".
var ZeroConsumerId = ConsumerId{}

func (c ConsumerId) IsZero() bool {
	return c.Hi == 0 && c.Lo == 0
}

func (c ConsumerId) String() string {
	return fmt.Sprintf("%016x%016x", c.Hi, c.Lo)
}

// Next returns c+1, wrapping the full 128-bit range back to zero.
func (c ConsumerId) Next() ConsumerId {
	lo := c.Lo + 1
	hi := c.Hi
	if lo == 0 {
		hi++
	}
	if hi == 0 && lo == 0 {
		// wrapped past the top of the 128-bit range
		return ConsumerId{}
	}
	return ConsumerId{Hi: hi, Lo: lo}
}

func (c ConsumerId) Bytes() [16]byte {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], c.Lo)
	binary.LittleEndian.PutUint64(b[8:16], c.Hi)
	return b
}

func ConsumerIdFromBytes(b [16]byte) ConsumerId {
	return ConsumerId{
		Lo: binary.LittleEndian.Uint64(b[0:8]),
		Hi: binary.LittleEndian.Uint64(b[8:16]),
	}
}

// MessageRef is the fully qualified identity of a message: (topic,
// partition, ledger, message). Its canonical string key is "T:P:L:M" and is
// prefix-compatible with the shorter T / T:P / T:P:L forms used by the event
// log's key-prefix queries.
type MessageRef struct {
	TopicId     TopicId
	PartitionId PartitionId
	LedgerId    LedgerId
	MessageId   MessageId
}

func (r MessageRef) Key() string {
	return fmt.Sprintf("%d:%d:%d:%d", r.TopicId, r.PartitionId, r.LedgerId, r.MessageId)
}

func MessageRefFromKey(key string) (MessageRef, error) {
	var r MessageRef
	_, err := fmt.Sscanf(key, "%d:%d:%d:%d", &r.TopicId, &r.PartitionId, &r.LedgerId, &r.MessageId)
	if err != nil {
		return MessageRef{}, fmt.Errorf("ids: malformed message ref key %q: %w", key, err)
	}
	return r, nil
}

func TopicKey(t TopicId) string { return fmt.Sprintf("%d", t) }

func PartitionKey(t TopicId, p PartitionId) string { return fmt.Sprintf("%d:%d", t, p) }

func LedgerKey(t TopicId, p PartitionId, l LedgerId) string {
	return fmt.Sprintf("%d:%d:%d", t, p, l)
}

func SubscriptionKey(t TopicId, s SubscriptionId) string { return fmt.Sprintf("%d:%d", t, s) }

func NodeKey(n NodeId) string { return fmt.Sprintf("%d", n) }

// ClusterKey is the entity store key for the cluster's single row.
const ClusterKey = "cluster"
