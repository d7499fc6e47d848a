// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/placesync/internal/model"
)

// PlaceRepository stores the authoritative place records of every owner.
type PlaceRepository interface {
	// WithOwner runs fn in one transaction holding the owner's sync lock.
	// The transaction commits when fn returns nil and rolls back otherwise.
	WithOwner(ctx context.Context, ownerID uuid.UUID, fn func(ctx context.Context, tx PlaceTx) error) error

	// GetStatus returns the owner's sync bookkeeping without locking.
	GetStatus(ctx context.Context, ownerID uuid.UUID) (model.SyncStatus, error)
}

// PlaceTx is the set of operations available inside WithOwner. Every call is
// scoped to the locked owner.
type PlaceTx interface {
	// Status returns the locked bookkeeping row; zero values before the first cycle.
	Status(ctx context.Context) (model.SyncStatus, error)

	// Get loads a record by id, or errs.ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (model.PlaceRecord, error)

	// FindActiveByKey loads the non-deleted record for a region key, or errs.ErrNotFound.
	FindActiveByKey(ctx context.Context, key model.RegionKey) (model.PlaceRecord, error)

	// Put inserts or replaces a record version, stamped with the service clock.
	Put(ctx context.Context, rec model.PlaceRecord, updatedAt time.Time) error

	// ChangedSince lists records whose service clock is strictly after since,
	// ordered by that clock. A zero since lists everything, tombstones included.
	ChangedSince(ctx context.Context, since time.Time) ([]model.PlaceRecord, error)

	// SaveStatus stores the bookkeeping row.
	SaveStatus(ctx context.Context, st model.SyncStatus) error
}
