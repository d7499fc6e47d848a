// Package store is the device-side Record Store and Cursor Store over SQLite.
//
// All writes (local mutations and sync merges) serialize on one store-wide
// lock and run in SQLite transactions, so a merge never interleaves with a
// toggle and either commits completely or leaves no trace.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/and161185/placesync/internal/dbx"
	"github.com/and161185/placesync/internal/errs"
	"github.com/and161185/placesync/internal/model"
	"github.com/and161185/placesync/internal/protocol"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultBatch is the number of pending records handed to one push.
const DefaultBatch = 50

const (
	keyCursor   = "last_sync_at"
	keyDeviceID = "device_id"
)

// Store is safe for concurrent use.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
	log *zap.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces time.Now for mutation timestamps.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.log = l } }

// Open opens (creating if needed) the SQLite database at path and migrates it.
// ":memory:" gives a private in-memory store.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// one connection: in-memory databases are per connection, and writers serialize anyway
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db, opts...), nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, sub)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// New wraps an already-migrated database.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) write(ctx context.Context, fn func(ctx context.Context, r repo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, repo{db: tx})
	})
}

// stamp returns a mutation clock never earlier than prev.
func (s *Store) stamp(prev time.Time) time.Time {
	t := model.NormalizeTime(s.now())
	if !t.After(prev) {
		t = prev.Add(model.ClockPrecision)
	}
	return t
}

// --- Record Store ---

// UpsertByKey sets the content of the region named by in. An active record
// for the key is replaced in place (same id, next version); otherwise a new
// record with a fresh id and version 1 is created. The result is unsynced.
func (s *Store) UpsertByKey(ctx context.Context, in model.PlaceInput) (model.PlaceRecord, error) {
	if err := in.Validate(); err != nil {
		return model.PlaceRecord{}, err
	}
	key := model.RegionKey{Type: in.RegionType, Code: in.RegionCode}

	var out model.PlaceRecord
	err := s.write(ctx, func(ctx context.Context, r repo) error {
		cur, err := r.findActive(ctx, key)
		switch {
		case errors.Is(err, errs.ErrNotFound):
			id, err := uuid.NewV4()
			if err != nil {
				return err
			}
			out = model.PlaceRecord{ID: id, SyncVersion: 1, LastModifiedAt: s.stamp(time.Time{})}
		case err != nil:
			return err
		default:
			out = cur
			out.SyncVersion = cur.SyncVersion + 1
			out.LastModifiedAt = s.stamp(cur.LastModifiedAt)
		}
		out.RegionType = in.RegionType
		out.RegionCode = in.RegionCode
		out.RegionName = in.RegionName
		out.Status = in.Status
		out.VisitType = in.VisitType
		out.VisitedDate = normalizeOpt(in.VisitedDate)
		out.DepartureDate = normalizeOpt(in.DepartureDate)
		out.Notes = nil
		if in.Notes != nil {
			n := *in.Notes
			out.Notes = &n
		}
		out.IsDeleted = false
		out.IsSynced = false
		return r.put(ctx, out)
	})
	if err != nil {
		return model.PlaceRecord{}, err
	}
	s.log.Debug("place upserted", zap.String("id", out.ID.String()), zap.Int64("version", out.SyncVersion))
	return out, nil
}

// SoftDelete writes a tombstone version of the record. Deleting a tombstone
// again returns it unchanged.
func (s *Store) SoftDelete(ctx context.Context, id uuid.UUID) (model.PlaceRecord, error) {
	var out model.PlaceRecord
	err := s.write(ctx, func(ctx context.Context, r repo) error {
		cur, err := r.get(ctx, id)
		if err != nil {
			return err
		}
		out, err = s.tombstone(ctx, r, cur)
		return err
	})
	return out, err
}

// SoftDeleteByKey tombstones the active record for key, or returns errs.ErrNotFound.
func (s *Store) SoftDeleteByKey(ctx context.Context, key model.RegionKey) (model.PlaceRecord, error) {
	var out model.PlaceRecord
	err := s.write(ctx, func(ctx context.Context, r repo) error {
		cur, err := r.findActive(ctx, key)
		if err != nil {
			return err
		}
		out, err = s.tombstone(ctx, r, cur)
		return err
	})
	return out, err
}

func (s *Store) tombstone(ctx context.Context, r repo, cur model.PlaceRecord) (model.PlaceRecord, error) {
	if cur.IsDeleted {
		return cur, nil
	}
	out := cur
	out.IsDeleted = true
	out.IsSynced = false
	out.SyncVersion = cur.SyncVersion + 1
	out.LastModifiedAt = s.stamp(cur.LastModifiedAt)
	if err := r.put(ctx, out); err != nil {
		return model.PlaceRecord{}, err
	}
	s.log.Debug("place deleted", zap.String("id", out.ID.String()), zap.Int64("version", out.SyncVersion))
	return out, nil
}

// Get loads a record by id, tombstones included.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (model.PlaceRecord, error) {
	return repo{db: s.db}.get(ctx, id)
}

// FindActiveByKey loads the active record for key.
func (s *Store) FindActiveByKey(ctx context.Context, key model.RegionKey) (model.PlaceRecord, error) {
	return repo{db: s.db}.findActive(ctx, key)
}

// ListActive returns every non-deleted record ordered by region.
func (s *Store) ListActive(ctx context.Context) ([]model.PlaceRecord, error) {
	return repo{db: s.db}.list(ctx, qActive)
}

// --- Change Extractor ---

// ListUnsynced returns up to limit records awaiting acknowledgement, oldest
// mutation first. limit <= 0 uses DefaultBatch.
func (s *Store) ListUnsynced(ctx context.Context, limit int) ([]model.PlaceRecord, error) {
	if limit <= 0 {
		limit = DefaultBatch
	}
	return repo{db: s.db}.list(ctx, qUnsynced, limit)
}

// PendingCount reports how many records await acknowledgement.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	return repo{db: s.db}.pendingCount(ctx)
}

// --- Cursor Store ---

// Cursor returns the last successful sync time; zero before the first sync.
func (s *Store) Cursor(ctx context.Context) (time.Time, error) {
	return readCursor(ctx, repo{db: s.db})
}

func readCursor(ctx context.Context, r repo) (time.Time, error) {
	v, err := r.metaGet(ctx, keyCursor)
	if err != nil || v == nil {
		return time.Time{}, err
	}
	t, err := protocol.ParseTime(string(v))
	if err != nil {
		return time.Time{}, fmt.Errorf("stored cursor: %w", err)
	}
	return model.NormalizeTime(t), nil
}

// DeviceID returns the persistent identifier of this device, creating it on first use.
func (s *Store) DeviceID(ctx context.Context) (string, error) {
	var id string
	err := s.write(ctx, func(ctx context.Context, r repo) error {
		v, err := r.metaGet(ctx, keyDeviceID)
		if err != nil {
			return err
		}
		if v != nil {
			id = string(v)
			return nil
		}
		u, err := uuid.NewV4()
		if err != nil {
			return err
		}
		id = u.String()
		return r.metaSet(ctx, keyDeviceID, []byte(id))
	})
	return id, err
}

// --- merge ---

// Tx is the merge view of the store; it exists only inside Apply.
type Tx struct {
	r repo
}

// Apply runs fn in one transaction under the store-wide write lock. Nothing
// fn wrote is visible unless it returns nil.
func (s *Store) Apply(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	return s.write(ctx, func(ctx context.Context, r repo) error {
		return fn(ctx, &Tx{r: r})
	})
}

// Get loads a record by id.
func (t *Tx) Get(ctx context.Context, id uuid.UUID) (model.PlaceRecord, error) {
	return t.r.get(ctx, id)
}

// ActiveByKey returns all active records for key, latest first.
func (t *Tx) ActiveByKey(ctx context.Context, key model.RegionKey) ([]model.PlaceRecord, error) {
	return t.r.activeByKey(ctx, key)
}

// ApplyRemote installs a service version as synced. It skips the write when
// the local version is already at or beyond it, and does not enforce the
// single-active rule. It reports whether a write happened.
func (t *Tx) ApplyRemote(ctx context.Context, rec model.PlaceRecord) (bool, error) {
	cur, err := t.r.get(ctx, rec.ID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
	case err != nil:
		return false, err
	case cur.SyncVersion >= rec.SyncVersion:
		return false, nil
	}
	rec.OwnerID = uuid.Nil
	rec.IsSynced = true
	return true, t.r.put(ctx, rec)
}

// Put writes rec as given, including its IsSynced flag.
func (t *Tx) Put(ctx context.Context, rec model.PlaceRecord) error {
	rec.OwnerID = uuid.Nil
	return t.r.put(ctx, rec)
}

// MarkSynced flags id as acknowledged if its stored version still equals version.
func (t *Tx) MarkSynced(ctx context.Context, id uuid.UUID, version int64) (bool, error) {
	return t.r.markSynced(ctx, id, version)
}

// SetCursor persists the sync cursor.
func (t *Tx) SetCursor(ctx context.Context, at time.Time) error {
	return t.r.metaSet(ctx, keyCursor, []byte(protocol.FormatTime(at)))
}

func normalizeOpt(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	n := model.NormalizeTime(*t)
	return &n
}
