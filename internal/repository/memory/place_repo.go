// Package memory is an in-process repository.PlaceRepository for tests and
// single-node development servers.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/placesync/internal/errs"
	"github.com/and161185/placesync/internal/model"
	"github.com/and161185/placesync/internal/repository"
)

type row struct {
	rec       model.PlaceRecord
	updatedAt time.Time
}

type ownerData struct {
	rows   map[uuid.UUID]row
	status model.SyncStatus
}

func (d *ownerData) clone() *ownerData {
	c := &ownerData{rows: make(map[uuid.UUID]row, len(d.rows)), status: d.status}
	for k, v := range d.rows {
		c.rows[k] = v
	}
	return c
}

// PlaceRepo keeps all owners in memory. WithOwner works on a copy of the
// owner's data and swaps it in on success.
type PlaceRepo struct {
	mu     sync.Mutex
	owners map[uuid.UUID]*ownerData
}

var _ repository.PlaceRepository = (*PlaceRepo)(nil)

// NewPlaceRepo returns an empty repository.
func NewPlaceRepo() *PlaceRepo {
	return &PlaceRepo{owners: make(map[uuid.UUID]*ownerData)}
}

func (r *PlaceRepo) owner(id uuid.UUID) *ownerData {
	d, ok := r.owners[id]
	if !ok {
		d = &ownerData{rows: make(map[uuid.UUID]row), status: model.SyncStatus{OwnerID: id}}
		r.owners[id] = d
	}
	return d
}

// WithOwner serializes all owners on one mutex.
func (r *PlaceRepo) WithOwner(
	ctx context.Context, ownerID uuid.UUID, fn func(ctx context.Context, tx repository.PlaceTx) error,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	work := r.owner(ownerID).clone()
	if err := fn(ctx, &placeTx{owner: ownerID, data: work}); err != nil {
		return err
	}
	r.owners[ownerID] = work
	return nil
}

// GetStatus returns the owner's bookkeeping.
func (r *PlaceRepo) GetStatus(_ context.Context, ownerID uuid.UUID) (model.SyncStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.owners[ownerID]; ok {
		return d.status, nil
	}
	return model.SyncStatus{OwnerID: ownerID}, nil
}

type placeTx struct {
	owner uuid.UUID
	data  *ownerData
}

func (t *placeTx) Status(context.Context) (model.SyncStatus, error) { return t.data.status, nil }

func (t *placeTx) Get(_ context.Context, id uuid.UUID) (model.PlaceRecord, error) {
	rw, ok := t.data.rows[id]
	if !ok {
		return model.PlaceRecord{}, errs.ErrNotFound
	}
	return rw.rec, nil
}

func (t *placeTx) FindActiveByKey(_ context.Context, key model.RegionKey) (model.PlaceRecord, error) {
	for _, rw := range t.data.rows {
		if !rw.rec.IsDeleted && rw.rec.Key() == key {
			return rw.rec, nil
		}
	}
	return model.PlaceRecord{}, errs.ErrNotFound
}

// Put enforces the single-active-key index like the SQL backend does.
func (t *placeTx) Put(_ context.Context, rec model.PlaceRecord, updatedAt time.Time) error {
	if !rec.IsDeleted {
		for id, rw := range t.data.rows {
			if id != rec.ID && !rw.rec.IsDeleted && rw.rec.Key() == rec.Key() {
				return fmt.Errorf("place %s: active key %s taken: %w", rec.ID, rec.Key(), errs.ErrVersionConflict)
			}
		}
	}
	rec.OwnerID = t.owner
	rec.IsSynced = true
	t.data.rows[rec.ID] = row{rec: rec, updatedAt: updatedAt}
	return nil
}

func (t *placeTx) ChangedSince(_ context.Context, since time.Time) ([]model.PlaceRecord, error) {
	var rows []row
	for _, rw := range t.data.rows {
		if rw.updatedAt.After(since) {
			rows = append(rows, rw)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].updatedAt.Equal(rows[j].updatedAt) {
			return rows[i].updatedAt.Before(rows[j].updatedAt)
		}
		return rows[i].rec.ID.String() < rows[j].rec.ID.String()
	})
	out := make([]model.PlaceRecord, 0, len(rows))
	for _, rw := range rows {
		out = append(out, rw.rec)
	}
	return out, nil
}

func (t *placeTx) SaveStatus(_ context.Context, st model.SyncStatus) error {
	st.OwnerID = t.owner
	t.data.status = st
	return nil
}
