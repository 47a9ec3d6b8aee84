// Package services implements the broker's business logic: publishing
// (with ledger rollover), consuming (with shared/key-shared delivery),
// ack/nack, and read-only admin/stats accessors. Each service is a thin
// orchestration layer over internal/data and internal/model; none of
// them hold state of their own beyond a *data.Store and the local node's
// identity.
package services

import "errors"

// ErrTopicNotFound, ErrPartitionNotFound and friends wrap
// persistence.ErrNotFound with the entity kind that was missing, so
// callers (internal/transport) can map them to the right wire.Outcome
// without string-matching.
var (
	ErrTopicNotFound        = errors.New("services: topic not found")
	ErrPartitionNotFound    = errors.New("services: partition not found")
	ErrLedgerNotFound       = errors.New("services: ledger not found")
	ErrSubscriptionNotFound = errors.New("services: subscription not found")
	ErrNodeNotFound         = errors.New("services: node not found")
	ErrMessageNotFound      = errors.New("services: message not found")
	ErrNoneAvailable        = errors.New("services: no messages available")
)
