package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/placesync/internal/dbx"
	"github.com/and161185/placesync/internal/errs"
	"github.com/and161185/placesync/internal/model"
)

// repo is the SQL layer over either the database or an open transaction.
type repo struct {
	db dbx.DBTX
}

const placeCols = `id, region_type, region_code, region_name, status, visit_type, ` +
	`visited_date, departure_date, notes, sync_version, last_modified_at, is_deleted, is_synced`

const (
	qGet       = `SELECT ` + placeCols + ` FROM places WHERE id = ?`
	qActiveKey = `SELECT ` + placeCols + ` FROM places WHERE region_type = ? AND region_code = ? AND is_deleted = 0 ORDER BY last_modified_at DESC, id`
	qUnsynced  = `SELECT ` + placeCols + ` FROM places WHERE is_synced = 0 ORDER BY last_modified_at, id LIMIT ?`
	qActive    = `SELECT ` + placeCols + ` FROM places WHERE is_deleted = 0 ORDER BY region_type, region_code`
	qPending   = `SELECT COUNT(*) FROM places WHERE is_synced = 0`
	qMarkSync  = `UPDATE places SET is_synced = 1 WHERE id = ? AND sync_version = ? AND is_synced = 0`
	qPut       = `
INSERT INTO places (id, region_type, region_code, region_name, status, visit_type,
	visited_date, departure_date, notes, sync_version, last_modified_at, is_deleted, is_synced)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	region_type = excluded.region_type, region_code = excluded.region_code,
	region_name = excluded.region_name, status = excluded.status, visit_type = excluded.visit_type,
	visited_date = excluded.visited_date, departure_date = excluded.departure_date,
	notes = excluded.notes, sync_version = excluded.sync_version,
	last_modified_at = excluded.last_modified_at, is_deleted = excluded.is_deleted,
	is_synced = excluded.is_synced`

	qMetaGet = `SELECT value FROM metadata WHERE key = ?`
	qMetaSet = `
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`
)

func (r repo) get(ctx context.Context, id uuid.UUID) (model.PlaceRecord, error) {
	rec, err := scanPlace(r.db.QueryRowContext(ctx, qGet, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return model.PlaceRecord{}, errs.ErrNotFound
	}
	return rec, err
}

// activeByKey returns every active record for key, latest first. More than one
// only occurs transiently, after ApplyRemote and before merge settles the key.
func (r repo) activeByKey(ctx context.Context, key model.RegionKey) ([]model.PlaceRecord, error) {
	return r.list(ctx, qActiveKey, key.Type.String(), key.Code)
}

func (r repo) findActive(ctx context.Context, key model.RegionKey) (model.PlaceRecord, error) {
	recs, err := r.activeByKey(ctx, key)
	if err != nil {
		return model.PlaceRecord{}, err
	}
	if len(recs) == 0 {
		return model.PlaceRecord{}, errs.ErrNotFound
	}
	return recs[0], nil
}

func (r repo) list(ctx context.Context, q string, args ...any) ([]model.PlaceRecord, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select places: %w", err)
	}
	defer rows.Close()

	var out []model.PlaceRecord
	for rows.Next() {
		rec, err := scanPlace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r repo) put(ctx context.Context, rec model.PlaceRecord) error {
	_, err := r.db.ExecContext(ctx, qPut,
		rec.ID.String(), rec.RegionType.String(), rec.RegionCode, rec.RegionName,
		string(rec.Status), string(rec.VisitType),
		optMicros(rec.VisitedDate), optMicros(rec.DepartureDate), optString(rec.Notes),
		rec.SyncVersion, toMicros(rec.LastModifiedAt), rec.IsDeleted, rec.IsSynced,
	)
	if err != nil {
		return fmt.Errorf("upsert place %s: %w", rec.ID, err)
	}
	return nil
}

func (r repo) markSynced(ctx context.Context, id uuid.UUID, version int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, qMarkSync, id.String(), version)
	if err != nil {
		return false, fmt.Errorf("mark synced %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (r repo) pendingCount(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, qPending).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

func (r repo) metaGet(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, qMetaGet, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata[%s]: %w", key, err)
	}
	return value, nil
}

func (r repo) metaSet(ctx context.Context, key string, value []byte) error {
	if _, err := r.db.ExecContext(ctx, qMetaSet, key, value); err != nil {
		return fmt.Errorf("failed to set metadata[%s]: %w", key, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlace(row scanner) (model.PlaceRecord, error) {
	var (
		rec                               model.PlaceRecord
		id, regionType, status, visitType string
		visited, departed                 sql.NullInt64
		notes                             sql.NullString
		modified                          int64
	)
	err := row.Scan(&id, &regionType, &rec.RegionCode, &rec.RegionName, &status, &visitType,
		&visited, &departed, &notes, &rec.SyncVersion, &modified, &rec.IsDeleted, &rec.IsSynced)
	if err != nil {
		return model.PlaceRecord{}, err
	}
	if rec.ID, err = uuid.FromString(id); err != nil {
		return model.PlaceRecord{}, fmt.Errorf("place id %q: %w", id, err)
	}
	if rec.RegionType, err = model.ParseRegionType(regionType); err != nil {
		return model.PlaceRecord{}, fmt.Errorf("place %s: %w", id, err)
	}
	rec.Status = model.PlaceStatus(status)
	rec.VisitType = model.VisitType(visitType)
	rec.VisitedDate = fromOptMicros(visited)
	rec.DepartureDate = fromOptMicros(departed)
	if notes.Valid {
		n := notes.String
		rec.Notes = &n
	}
	rec.LastModifiedAt = fromMicros(modified)
	return rec, nil
}

func toMicros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }

func optMicros(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMicro()
}

func fromOptMicros(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMicros(v.Int64)
	return &t
}

func optString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
