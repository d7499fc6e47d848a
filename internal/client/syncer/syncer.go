// Package syncer runs push/pull cycles between the device store and the sync service.
//
// A cycle moves Idle -> Pushing -> AwaitingResponse -> Merging -> Idle. Any
// failure returns to Idle with the cursor and every isSynced flag untouched:
// the merge, the acknowledgements and the cursor advance commit in one store
// transaction. Cancellation is honoured until the response arrives; the merge
// itself always runs to completion or rolls back.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/and161185/placesync/internal/client/credentials"
	"github.com/and161185/placesync/internal/client/store"
	"github.com/and161185/placesync/internal/client/transport"
	"github.com/and161185/placesync/internal/convert"
	"github.com/and161185/placesync/internal/errs"
	"github.com/and161185/placesync/internal/model"
	"github.com/and161185/placesync/internal/protocol"
	"github.com/and161185/placesync/internal/resolve"
)

// LocalStore is the part of the device store a cycle needs.
type LocalStore interface {
	Cursor(ctx context.Context) (time.Time, error)
	ListUnsynced(ctx context.Context, limit int) ([]model.PlaceRecord, error)
	DeviceID(ctx context.Context) (string, error)
	Apply(ctx context.Context, fn func(ctx context.Context, tx *store.Tx) error) error
}

// Client orchestrates sync cycles for one device.
type Client struct {
	store    LocalStore
	tr       transport.Transport
	creds    credentials.Provider
	resolver resolve.Resolver
	batch    int
	log      *zap.Logger

	inflight *semaphore.Weighted
}

// Option customizes a Client.
type Option func(*Client)

// WithBatch caps the number of local changes pushed per cycle.
func WithBatch(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.batch = n
		}
	}
}

// WithPolicy selects the policy of the local re-check. It should match the service's.
func WithPolicy(p resolve.Policy) Option {
	return func(c *Client) { c.resolver = resolve.New(p) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New returns a Client.
func New(st LocalStore, tr transport.Transport, creds credentials.Provider, opts ...Option) *Client {
	c := &Client{
		store:    st,
		tr:       tr,
		creds:    creds,
		resolver: resolve.New(resolve.LastWriteWins),
		batch:    store.DefaultBatch,
		log:      zap.NewNop(),
		inflight: semaphore.NewWeighted(1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Policy returns the policy of the local re-check.
func (c *Client) Policy() resolve.Policy { return c.resolver.Policy() }

// RunCycle performs one push/pull cycle. It never returns an error: failures
// are reported through Result.Outcome and Result.Err. A cycle started while
// another is in flight returns OutcomeBusy immediately.
func (c *Client) RunCycle(ctx context.Context) Result {
	if !c.inflight.TryAcquire(1) {
		return Result{Outcome: OutcomeBusy, Err: errs.ErrBusy}
	}
	defer c.inflight.Release(1)

	start := time.Now()
	res, err := c.cycle(ctx)
	if err != nil {
		res = Result{Outcome: classify(err), Err: err}
		c.log.Warn("sync cycle failed",
			zap.Stringer("outcome", res.Outcome),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)
		return res
	}
	c.log.Info("sync cycle done",
		zap.Int("pushed", res.Pushed),
		zap.Int("pulled", res.Pulled),
		zap.Int("applied", res.Applied),
		zap.Int("conflicts", res.Conflicts),
		zap.Duration("took", time.Since(start)),
	)
	return res
}

func (c *Client) cycle(ctx context.Context) (Result, error) {
	// Pushing
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	since, err := c.store.Cursor(ctx)
	if err != nil {
		return Result{}, c.localErr(ctx, "read cursor", err)
	}
	pending, err := c.store.ListUnsynced(ctx, c.batch)
	if err != nil {
		return Result{}, c.localErr(ctx, "list unsynced", err)
	}
	device, err := c.store.DeviceID(ctx)
	if err != nil {
		return Result{}, c.localErr(ctx, "device id", err)
	}
	req := protocol.SyncRequest{
		Changes:    convert.ToEnvelopes(pending),
		LastSyncAt: convert.FormatCursor(since),
		DeviceID:   device,
	}

	// AwaitingResponse
	resp, err := WithAuthRetry(ctx, c.creds, func(ctx context.Context, token string) (protocol.SyncResponse, error) {
		return c.tr.Sync(ctx, token, req)
	})
	if err != nil {
		return Result{}, err
	}
	p, err := decodeResponse(resp, since)
	if err != nil {
		return Result{}, err
	}

	// Merging
	applied, conflicts, err := c.merge(context.WithoutCancel(ctx), pending, p)
	if err != nil {
		return Result{}, &errs.LocalStorageError{Op: "merge", Err: err}
	}
	return Result{
		Outcome:    OutcomeSynced,
		Pushed:     len(pending),
		Pulled:     len(p.changes),
		Applied:    applied,
		Conflicts:  p.conflicts + conflicts,
		ServerTime: p.serverTime,
	}, nil
}

// localErr reports a read failure before the request as cancellation when the
// caller gave up, and as a storage failure otherwise.
func (c *Client) localErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &errs.LocalStorageError{Op: op, Err: err}
}

// pull is a validated response.
type pull struct {
	serverTime time.Time
	changes    []model.PlaceRecord
	conflicts  int
}

func decodeResponse(resp protocol.SyncResponse, since time.Time) (pull, error) {
	var p pull
	if resp.ServerTime == "" {
		return p, &errs.MalformedResponseError{Reason: "missing server_time"}
	}
	t, err := protocol.ParseTime(resp.ServerTime)
	if err != nil {
		return p, &errs.MalformedResponseError{Reason: "server_time", Err: err}
	}
	p.serverTime = model.NormalizeTime(t)
	if p.serverTime.Before(since) {
		return p, &errs.MalformedResponseError{Reason: "server_time " + resp.ServerTime + " is before the cursor"}
	}

	p.changes, err = convert.FromEnvelopes(resp.Changes)
	if err != nil {
		return p, &errs.MalformedResponseError{Reason: "changes", Err: err}
	}
	owner := uuid.Nil
	seen := make(map[uuid.UUID]struct{}, len(p.changes))
	for i, rec := range p.changes {
		if err := rec.Validate(); err != nil {
			return p, &errs.MalformedResponseError{Reason: fmt.Sprintf("changes[%d]", i), Err: err}
		}
		if rec.OwnerID == uuid.Nil || (owner != uuid.Nil && rec.OwnerID != owner) {
			return p, &errs.MalformedResponseError{Reason: fmt.Sprintf("changes[%d]: owner_id %q", i, rec.OwnerID)}
		}
		owner = rec.OwnerID
		if _, dup := seen[rec.ID]; dup {
			return p, &errs.MalformedResponseError{Reason: fmt.Sprintf("changes[%d]: duplicate id %s", i, rec.ID)}
		}
		seen[rec.ID] = struct{}{}
	}

	conflicts, err := convert.FromEnvelopes(resp.Conflicts)
	if err != nil {
		return p, &errs.MalformedResponseError{Reason: "conflicts", Err: err}
	}
	p.conflicts = len(conflicts)
	return p, nil
}

func (c *Client) merge(ctx context.Context, pushed []model.PlaceRecord, p pull) (applied, conflicts int, err error) {
	sent := make(map[uuid.UUID]int64, len(pushed))
	for _, r := range pushed {
		sent[r.ID] = r.SyncVersion
	}

	err = c.store.Apply(ctx, func(ctx context.Context, tx *store.Tx) error {
		m := &merger{tx: tx, resolver: c.resolver, sent: sent, log: c.log, echoed: map[uuid.UUID]int64{}}
		for _, in := range p.changes {
			if err := m.apply(ctx, in); err != nil {
				return fmt.Errorf("apply %s: %w", in.ID, err)
			}
		}
		// acknowledge only versions the service echoed back unchanged
		for _, r := range pushed {
			if v, ok := m.echoed[r.ID]; ok && v == r.SyncVersion {
				if _, err := tx.MarkSynced(ctx, r.ID, r.SyncVersion); err != nil {
					return err
				}
			}
		}
		if err := tx.SetCursor(ctx, p.serverTime); err != nil {
			return err
		}
		applied, conflicts = m.applied, m.conflicts
		return nil
	})
	return applied, conflicts, err
}

// merger applies the authoritative versions of one response inside a store transaction.
type merger struct {
	tx       *store.Tx
	resolver resolve.Resolver
	sent     map[uuid.UUID]int64
	log      *zap.Logger

	echoed    map[uuid.UUID]int64
	applied   int
	conflicts int
}

func (m *merger) apply(ctx context.Context, in model.PlaceRecord) error {
	m.echoed[in.ID] = in.SyncVersion

	local, err := m.tx.Get(ctx, in.ID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return m.remote(ctx, in)
	case err != nil:
		return err
	case local.IsSynced:
		return m.remote(ctx, in)
	}

	if v, ok := m.sent[in.ID]; ok && v == local.SyncVersion {
		// the service answered exactly the version we pushed
		if local.SameVersion(in) {
			return nil
		}
		return m.overwrite(ctx, in)
	}

	// a pending version the service has not seen: edited mid-flight or over the batch cap
	d := m.resolver.Resolve(in, local)
	if d.Concurrent() {
		m.conflicts++
	}
	if d.Winner == resolve.Stored {
		return m.overwrite(ctx, in)
	}
	rebased := local
	if rebased.SyncVersion <= in.SyncVersion {
		rebased.SyncVersion = in.SyncVersion + 1
	}
	rebased.IsSynced = false
	if err := m.tx.Put(ctx, rebased); err != nil {
		return err
	}
	m.applied++
	m.log.Debug("local edit kept over remote",
		zap.String("id", in.ID.String()),
		zap.Stringer("reason", d.Reason),
		zap.Int64("version", rebased.SyncVersion),
	)
	return m.settleKey(ctx, rebased)
}

// remote installs in through ApplyRemote, which skips stale versions.
func (m *merger) remote(ctx context.Context, in model.PlaceRecord) error {
	written, err := m.tx.ApplyRemote(ctx, in)
	if err != nil || !written {
		return err
	}
	m.applied++
	return m.settleKey(ctx, in)
}

// overwrite installs in as synced regardless of the local version.
func (m *merger) overwrite(ctx context.Context, in model.PlaceRecord) error {
	in.IsSynced = true
	if err := m.tx.Put(ctx, in); err != nil {
		return err
	}
	m.applied++
	return m.settleKey(ctx, in)
}

// settleKey restores the single-active rule for rec's region after rec was
// written. Losers are tombstoned as pending local edits so the decision
// reaches the service.
func (m *merger) settleKey(ctx context.Context, rec model.PlaceRecord) error {
	if rec.IsDeleted {
		return nil
	}
	actives, err := m.tx.ActiveByKey(ctx, rec.Key())
	if err != nil {
		return err
	}
	winner := rec
	for _, other := range actives {
		if other.ID == rec.ID {
			continue
		}
		w, l := resolve.ResolveKey(winner, other)
		ts := resolve.Tombstone(l, w)
		ts.IsSynced = false
		if err := m.tx.Put(ctx, ts); err != nil {
			return err
		}
		m.applied++
		m.conflicts++
		m.log.Debug("region key settled",
			zap.Stringer("key", rec.Key()),
			zap.String("winner", w.ID.String()),
			zap.String("loser", l.ID.String()),
		)
		winner = w
	}
	return nil
}
