// Package data is the broker's data access layer: a generic
// read-modify-write-retry helper over internal/persistence's versioned
// entity store, plus the cascading add/delete operations the
// cluster/node/topic/partition/ledger/subscription graph needs (deleting
// a topic must delete its partitions, subscriptions and their ledgers).
package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/sawpanic/pulsarbroker/internal/persistence"
)

// Entity type namespaces used as the first key component in the
// underlying EntityPersister.
const (
	TypeCluster      = "cluster"
	TypeNode         = "node"
	TypeTopic        = "topic"
	TypePartition    = "partition"
	TypeLedger       = "ledger"
	TypeSubscription = "subscription"
)

// Store bundles the entity store and event log the data layer is built
// on. A Broker holds exactly one.
type Store struct {
	Entities persistence.EntityPersister
	Events   persistence.EventPersister
}

// Get loads and deserializes the entity at (entityType, key), returning
// its current version for use in a subsequent Save/Update.
func Get[T any](ctx context.Context, s *Store, entityType, key string) (T, uint32, error) {
	var zero T
	stored, err := s.Entities.Load(ctx, entityType, key)
	if err != nil {
		return zero, 0, err
	}
	var v T
	if err := msgpack.Unmarshal(stored.Serialization, &v); err != nil {
		return zero, 0, fmt.Errorf("data: unmarshal %s/%s: %w", entityType, key, err)
	}
	return v, stored.Version, nil
}

// Add creates a new entity at (entityType, key). It fails with
// persistence.ErrAlreadyExists if one is already present.
func Add[T any](ctx context.Context, s *Store, entityType, key string, v T) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("data: marshal %s/%s: %w", entityType, key, err)
	}
	_, err = s.Entities.Save(ctx, entityType, key, 0, data)
	return err
}

// AddIfNone is Add but treats ErrAlreadyExists as success, returning the
// existing entity instead of creating a duplicate.
func AddIfNone[T any](ctx context.Context, s *Store, entityType, key string, v T) (T, error) {
	if err := Add(ctx, s, entityType, key, v); err != nil {
		if errors.Is(err, persistence.ErrAlreadyExists) {
			existing, _, loadErr := Get[T](ctx, s, entityType, key)
			return existing, loadErr
		}
		var zero T
		return zero, err
	}
	return v, nil
}

// Update runs the read-modify-write-retry loop that is the data layer's
// sole concurrency primitive: load the current entity, apply f (which
// mutates it in place and returns whether a change was made), and save
// under the loaded version. A persistence.ErrVersionMismatch from a
// concurrent writer causes the whole cycle to retry from the load.
func Update[T any](ctx context.Context, s *Store, entityType, key string, f func(*T) bool) (T, error) {
	for {
		v, version, err := Get[T](ctx, s, entityType, key)
		if err != nil {
			return v, err
		}
		if !f(&v) {
			return v, nil
		}
		data, err := msgpack.Marshal(v)
		if err != nil {
			return v, fmt.Errorf("data: marshal %s/%s: %w", entityType, key, err)
		}
		_, err = s.Entities.Save(ctx, entityType, key, version, data)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, persistence.ErrVersionMismatch) {
			continue
		}
		return v, err
	}
}

// Delete removes the entity at (entityType, key). Callers needing
// cascading deletes should use the Delete* helpers in graph.go instead.
func Delete(ctx context.Context, s *Store, entityType, key string) error {
	return s.Entities.Delete(ctx, entityType, key)
}

// List returns every key currently stored under entityType.
func List(ctx context.Context, s *Store, entityType string) ([]string, error) {
	return s.Entities.Keys(ctx, entityType)
}
