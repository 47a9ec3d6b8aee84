package model

import (
	"errors"

	"github.com/sawpanic/pulsarbroker/internal/ids"
)

// ErrWrongNode is returned by Partition.CurrentLedger when the requesting
// node does not own the partition; the caller must redirect (or, for an
// inter-node client, trip its circuit breaker and retry elsewhere).
var ErrWrongNode = errors.New("model: partition is not owned by requesting node")

// Partition is one ordered shard of a topic, owned by exactly one node at
// a time, backed by a chain of ledgers of which only the last is
// currently accepting new messages.
type Partition struct {
	Id              ids.PartitionId `msgpack:"id" json:"id"`
	TopicId         ids.TopicId     `msgpack:"topic_id" json:"topic_id"`
	OwnerNodeId     ids.NodeId      `msgpack:"owner_node_id" json:"owner_node_id"`
	LedgerIds       []ids.LedgerId  `msgpack:"ledger_ids" json:"ledger_ids"`
	CurrentLedgerId ids.LedgerId    `msgpack:"current_ledger_id" json:"current_ledger_id"`
}

// CurrentLedger returns the ledger new messages should be appended to,
// provided requestingNodeId owns this partition.
func (p *Partition) CurrentLedger(requestingNodeId ids.NodeId) (ids.LedgerId, error) {
	if p.OwnerNodeId != requestingNodeId {
		return 0, ErrWrongNode
	}
	return p.CurrentLedgerId, nil
}

// AddLedger appends a new ledger and makes it current, used both at
// partition creation and when the current ledger is exhausted.
func (p *Partition) AddLedger(newLedgerId ids.LedgerId) bool {
	p.LedgerIds = append(p.LedgerIds, newLedgerId)
	p.CurrentLedgerId = newLedgerId
	return true
}

func (p *Partition) HasLedger(id ids.LedgerId) bool {
	for _, l := range p.LedgerIds {
		if l == id {
			return true
		}
	}
	return false
}

func (p *Partition) RemoveLedger(id ids.LedgerId) bool {
	for i, l := range p.LedgerIds {
		if l == id {
			p.LedgerIds = append(p.LedgerIds[:i], p.LedgerIds[i+1:]...)
			return true
		}
	}
	return false
}
