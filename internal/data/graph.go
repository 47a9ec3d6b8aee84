package data

import (
	"context"
	"errors"

	"github.com/sawpanic/pulsarbroker/internal/persistence"
)

// DeleteIdempotent removes the entity at (entityType, key), treating
// persistence.ErrNotFound as success. Cascading deletes walk parent to
// child; by the time a child delete runs, a concurrent cascade (or a
// retry of this same cascade after a crash) may have already removed
// it, and that must not surface as an error.
func DeleteIdempotent(ctx context.Context, s *Store, entityType, key string) error {
	err := s.Entities.Delete(ctx, entityType, key)
	if err != nil && errors.Is(err, persistence.ErrNotFound) {
		return nil
	}
	return err
}
