package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/placesync/internal/errs"
	"github.com/and161185/placesync/internal/model"
	"github.com/and161185/placesync/internal/repository"
)

// PlaceRepo implements repository.PlaceRepository using PostgreSQL.
type PlaceRepo struct{ db *DB }

var _ repository.PlaceRepository = (*PlaceRepo)(nil)

// NewPlaceRepo constructs a place repository.
func NewPlaceRepo(db *DB) *PlaceRepo { return &PlaceRepo{db: db} }

const placeCols = `id, region_type, region_code, region_name, status, visit_type, ` +
	`visited_date, departure_date, notes, sync_version, last_modified_at, is_deleted`

const (
	qEnsureState = `INSERT INTO sync_state (owner_id) VALUES ($1) ON CONFLICT (owner_id) DO NOTHING`
	qLockState   = `SELECT last_server_time, last_sync_device, sync_count FROM sync_state WHERE owner_id=$1 FOR UPDATE`
	qGetState    = `SELECT last_server_time, last_sync_device, sync_count FROM sync_state WHERE owner_id=$1`
	qSaveState   = `UPDATE sync_state SET last_server_time=$2, last_sync_device=$3, sync_count=$4 WHERE owner_id=$1`

	qGet       = `SELECT ` + placeCols + ` FROM places WHERE owner_id=$1 AND id=$2`
	qActiveKey = `SELECT ` + placeCols + ` FROM places WHERE owner_id=$1 AND region_type=$2 AND region_code=$3 AND NOT is_deleted`
	qSince     = `SELECT ` + placeCols + ` FROM places WHERE owner_id=$1 AND updated_at>$2 ORDER BY updated_at, id`
	qPut       = `
INSERT INTO places (owner_id, id, region_type, region_code, region_name, status, visit_type,
	visited_date, departure_date, notes, sync_version, last_modified_at, is_deleted, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (owner_id, id) DO UPDATE SET
	region_type=EXCLUDED.region_type, region_code=EXCLUDED.region_code,
	region_name=EXCLUDED.region_name, status=EXCLUDED.status, visit_type=EXCLUDED.visit_type,
	visited_date=EXCLUDED.visited_date, departure_date=EXCLUDED.departure_date,
	notes=EXCLUDED.notes, sync_version=EXCLUDED.sync_version,
	last_modified_at=EXCLUDED.last_modified_at, is_deleted=EXCLUDED.is_deleted,
	updated_at=EXCLUDED.updated_at`
)

// WithOwner locks the owner's sync_state row for the duration of fn.
func (r *PlaceRepo) WithOwner(
	ctx context.Context, ownerID uuid.UUID, fn func(ctx context.Context, tx repository.PlaceTx) error,
) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	if _, err = tx.Exec(ctx, qEnsureState, ownerID); err != nil {
		return fmt.Errorf("ensure sync state: %w", err)
	}
	st, err := scanStatus(tx.QueryRow(ctx, qLockState, ownerID), ownerID)
	if err != nil {
		return fmt.Errorf("lock sync state: %w", err)
	}
	return fn(ctx, &placeTx{tx: tx, owner: ownerID, status: st})
}

// GetStatus returns the owner's bookkeeping; an owner that never synced gets zero values.
func (r *PlaceRepo) GetStatus(ctx context.Context, ownerID uuid.UUID) (model.SyncStatus, error) {
	st, err := scanStatus(r.db.Pool.QueryRow(ctx, qGetState, ownerID), ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.SyncStatus{OwnerID: ownerID}, nil
	}
	return st, err
}

type placeTx struct {
	tx     pgx.Tx
	owner  uuid.UUID
	status model.SyncStatus
}

func (t *placeTx) Status(context.Context) (model.SyncStatus, error) { return t.status, nil }

func (t *placeTx) Get(ctx context.Context, id uuid.UUID) (model.PlaceRecord, error) {
	rec, err := scanPlace(t.tx.QueryRow(ctx, qGet, t.owner, id), t.owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PlaceRecord{}, errs.ErrNotFound
	}
	return rec, err
}

func (t *placeTx) FindActiveByKey(ctx context.Context, key model.RegionKey) (model.PlaceRecord, error) {
	rec, err := scanPlace(t.tx.QueryRow(ctx, qActiveKey, t.owner, key.Type.String(), key.Code), t.owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PlaceRecord{}, errs.ErrNotFound
	}
	return rec, err
}

func (t *placeTx) Put(ctx context.Context, rec model.PlaceRecord, updatedAt time.Time) error {
	_, err := t.tx.Exec(ctx, qPut,
		t.owner, rec.ID, rec.RegionType.String(), rec.RegionCode, rec.RegionName,
		string(rec.Status), string(rec.VisitType), rec.VisitedDate, rec.DepartureDate,
		rec.Notes, rec.SyncVersion, rec.LastModifiedAt, rec.IsDeleted, updatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("place %s: active key %s taken: %w", rec.ID, rec.Key(), errs.ErrVersionConflict)
	}
	return err
}

func (t *placeTx) ChangedSince(ctx context.Context, since time.Time) ([]model.PlaceRecord, error) {
	rows, err := t.tx.Query(ctx, qSince, t.owner, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PlaceRecord
	for rows.Next() {
		rec, err := scanPlace(rows, t.owner)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *placeTx) SaveStatus(ctx context.Context, st model.SyncStatus) error {
	var last *time.Time
	if !st.LastServerTime.IsZero() {
		ts := st.LastServerTime
		last = &ts
	}
	if _, err := t.tx.Exec(ctx, qSaveState, t.owner, last, st.LastSyncDevice, st.SyncCount); err != nil {
		return err
	}
	t.status = st
	return nil
}

func scanStatus(row pgx.Row, owner uuid.UUID) (model.SyncStatus, error) {
	var (
		last   *time.Time
		device string
		count  int64
	)
	if err := row.Scan(&last, &device, &count); err != nil {
		return model.SyncStatus{}, err
	}
	st := model.SyncStatus{OwnerID: owner, LastSyncDevice: device, SyncCount: count}
	if last != nil {
		st.LastServerTime = model.NormalizeTime(*last)
	}
	return st, nil
}

func scanPlace(row pgx.Row, owner uuid.UUID) (model.PlaceRecord, error) {
	var (
		rec                model.PlaceRecord
		regionType, status string
		visitType          string
	)
	err := row.Scan(&rec.ID, &regionType, &rec.RegionCode, &rec.RegionName, &status, &visitType,
		&rec.VisitedDate, &rec.DepartureDate, &rec.Notes, &rec.SyncVersion, &rec.LastModifiedAt, &rec.IsDeleted)
	if err != nil {
		return model.PlaceRecord{}, err
	}
	if rec.RegionType, err = model.ParseRegionType(regionType); err != nil {
		return model.PlaceRecord{}, fmt.Errorf("place %s: %w", rec.ID, err)
	}
	rec.Status = model.PlaceStatus(status)
	rec.VisitType = model.VisitType(visitType)
	rec.OwnerID = owner
	rec.LastModifiedAt = model.NormalizeTime(rec.LastModifiedAt)
	rec.VisitedDate = normalizeOpt(rec.VisitedDate)
	rec.DepartureDate = normalizeOpt(rec.DepartureDate)
	// rows on the service are always acknowledged
	rec.IsSynced = true
	return rec, nil
}

func normalizeOpt(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	n := model.NormalizeTime(*t)
	return &n
}
