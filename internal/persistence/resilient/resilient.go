// Package resilient wraps a durable persistence backend in a circuit
// breaker so a struggling Postgres instance fails fast instead of
// letting every request pile up behind its connection timeouts; it is
// the concrete home for internal/net/circuit, the hand-rolled breaker
// this broker uses for protecting its own storage calls (as distinct
// from internal/client's gobreaker-based reconnect breaker, which
// protects a remote dial rather than a local backend call).
package resilient

import (
	"context"
	"errors"
	"time"

	"github.com/sawpanic/pulsarbroker/internal/net/circuit"
	"github.com/sawpanic/pulsarbroker/internal/persistence"
)

// DefaultConfig trips after 5 consecutive failures, probing recovery
// every 10s, and budgets 3s per backend call.
func DefaultConfig() circuit.Config {
	return circuit.Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          10 * time.Second,
		RequestTimeout:   3 * time.Second,
	}
}

// isExpectedPersistenceError reports whether err is a normal business
// outcome of a Save/Load/Delete call (stale version, missing entity,
// duplicate create) rather than a sign the backend itself is unhealthy;
// only the latter should count against the breaker.
func isExpectedPersistenceError(err error) bool {
	return errors.Is(err, persistence.ErrNotFound) ||
		errors.Is(err, persistence.ErrVersionMismatch) ||
		errors.Is(err, persistence.ErrAlreadyExists)
}

// EntityPersister wraps a persistence.EntityPersister with a circuit
// breaker around the underlying backend call.
type EntityPersister struct {
	inner   persistence.EntityPersister
	breaker *circuit.Breaker
}

func NewEntityPersister(inner persistence.EntityPersister, cfg circuit.Config) *EntityPersister {
	return &EntityPersister{inner: inner, breaker: circuit.NewBreaker(cfg)}
}

func (p *EntityPersister) Save(ctx context.Context, entityType, key string, expectedVersion uint32, data []byte) (uint32, error) {
	var newVersion uint32
	var saveErr error
	breakerErr := p.breaker.Call(ctx, func(ctx context.Context) error {
		newVersion, saveErr = p.inner.Save(ctx, entityType, key, expectedVersion, data)
		if saveErr != nil && !isExpectedPersistenceError(saveErr) {
			return saveErr
		}
		return nil
	})
	if breakerErr != nil {
		return 0, breakerErr
	}
	return newVersion, saveErr
}

func (p *EntityPersister) Load(ctx context.Context, entityType, key string) (persistence.StoredEntity, error) {
	var entity persistence.StoredEntity
	var loadErr error
	breakerErr := p.breaker.Call(ctx, func(ctx context.Context) error {
		entity, loadErr = p.inner.Load(ctx, entityType, key)
		if loadErr != nil && !isExpectedPersistenceError(loadErr) {
			return loadErr
		}
		return nil
	})
	if breakerErr != nil {
		return persistence.StoredEntity{}, breakerErr
	}
	return entity, loadErr
}

func (p *EntityPersister) Delete(ctx context.Context, entityType, key string) error {
	var deleteErr error
	breakerErr := p.breaker.Call(ctx, func(ctx context.Context) error {
		deleteErr = p.inner.Delete(ctx, entityType, key)
		if deleteErr != nil && !isExpectedPersistenceError(deleteErr) {
			return deleteErr
		}
		return nil
	})
	if breakerErr != nil {
		return breakerErr
	}
	return deleteErr
}

func (p *EntityPersister) Keys(ctx context.Context, entityType string) ([]string, error) {
	var keys []string
	var keysErr error
	breakerErr := p.breaker.Call(ctx, func(ctx context.Context) error {
		keys, keysErr = p.inner.Keys(ctx, entityType)
		return keysErr
	})
	if breakerErr != nil {
		return nil, breakerErr
	}
	return keys, nil
}

// EventPersister wraps a persistence.EventPersister the same way.
type EventPersister struct {
	inner   persistence.EventPersister
	breaker *circuit.Breaker
}

func NewEventPersister(inner persistence.EventPersister, cfg circuit.Config) *EventPersister {
	return &EventPersister{inner: inner, breaker: circuit.NewBreaker(cfg)}
}

func (p *EventPersister) Append(ctx context.Context, entry persistence.LogEntry) error {
	return p.breaker.Call(ctx, func(ctx context.Context) error {
		return p.inner.Append(ctx, entry)
	})
}

func (p *EventPersister) Query(ctx context.Context, keyOrPrefix string, opts persistence.EventQueryOptions) ([]persistence.LogEntry, error) {
	var entries []persistence.LogEntry
	var queryErr error
	breakerErr := p.breaker.Call(ctx, func(ctx context.Context) error {
		entries, queryErr = p.inner.Query(ctx, keyOrPrefix, opts)
		return queryErr
	})
	if breakerErr != nil {
		return nil, breakerErr
	}
	return entries, nil
}

func (p *EventPersister) DeleteBefore(ctx context.Context, timestamp uint64) error {
	return p.breaker.Call(ctx, func(ctx context.Context) error {
		return p.inner.DeleteBefore(ctx, timestamp)
	})
}

func (p *EventPersister) DeleteByKeyPrefix(ctx context.Context, prefix string) error {
	return p.breaker.Call(ctx, func(ctx context.Context) error {
		return p.inner.DeleteByKeyPrefix(ctx, prefix)
	})
}
