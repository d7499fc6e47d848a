package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/placesync/internal/errs"
	"github.com/and161185/placesync/internal/limiter"
	"github.com/and161185/placesync/internal/model"
	"github.com/and161185/placesync/internal/repository"
	"github.com/and161185/placesync/internal/resolve"
)

// DefaultMaxBatch caps the number of changes accepted in one push.
const DefaultMaxBatch = 100

// SyncService reconciles pushed changes and returns the owner's delta.
type SyncService interface {
	// Sync applies a device batch and returns authoritative versions and the new cursor.
	Sync(ctx context.Context, ownerID uuid.UUID, batch model.SyncBatch) (model.SyncResult, error)
	// Status returns the owner's sync bookkeeping.
	Status(ctx context.Context, ownerID uuid.UUID) (model.SyncStatus, error)
}

type SyncServiceImpl struct {
	repo     repository.PlaceRepository
	resolver resolve.Resolver
	maxBatch int
	limiter  limiter.Limiter
	now      func() time.Time
	log      *zap.Logger
}

var _ SyncService = (*SyncServiceImpl)(nil)

// Option customizes a SyncServiceImpl.
type Option func(*SyncServiceImpl)

// WithMaxBatch overrides DefaultMaxBatch; n <= 0 keeps the default.
func WithMaxBatch(n int) Option {
	return func(s *SyncServiceImpl) {
		if n > 0 {
			s.maxBatch = n
		}
	}
}

// WithPolicy selects the conflict policy (LastWriteWins by default).
func WithPolicy(p resolve.Policy) Option {
	return func(s *SyncServiceImpl) { s.resolver = resolve.New(p) }
}

// WithLimiter throttles cycles per owner. Without it every cycle is admitted.
func WithLimiter(l limiter.Limiter) Option {
	return func(s *SyncServiceImpl) { s.limiter = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *SyncServiceImpl) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *SyncServiceImpl) { s.log = l }
}

// NewSyncService constructs the service over a repository.
func NewSyncService(repo repository.PlaceRepository, opts ...Option) *SyncServiceImpl {
	s := &SyncServiceImpl{
		repo:     repo,
		resolver: resolve.New(resolve.LastWriteWins),
		maxBatch: DefaultMaxBatch,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *SyncServiceImpl) validate(ownerID uuid.UUID, b *model.SyncBatch) error {
	if ownerID == uuid.Nil {
		return fmt.Errorf("%w: empty owner", errs.ErrInvalidArgument)
	}
	if b.DeviceID == "" {
		return fmt.Errorf("%w: empty device_id", errs.ErrInvalidArgument)
	}
	if len(b.Changes) > s.maxBatch {
		return fmt.Errorf("%w: batch too large (%d > %d)", errs.ErrInvalidArgument, len(b.Changes), s.maxBatch)
	}
	for i := range b.Changes {
		c := &b.Changes[i]
		if c.OwnerID != uuid.Nil && c.OwnerID != ownerID {
			return fmt.Errorf("change[%d]: foreign owner: %w", i, errs.ErrUnauthorized)
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("change[%d]: %w", i, err)
		}
		c.OwnerID = ownerID
		c.LastModifiedAt = model.NormalizeTime(c.LastModifiedAt)
	}
	return nil
}

// Sync validates the whole batch first, then resolves every change under the
// owner lock. Either the full batch is applied or nothing is.
func (s *SyncServiceImpl) Sync(ctx context.Context, ownerID uuid.UUID, batch model.SyncBatch) (model.SyncResult, error) {
	batch.Changes = append([]model.PlaceRecord(nil), batch.Changes...)
	if err := s.validate(ownerID, &batch); err != nil {
		return model.SyncResult{}, err
	}
	if s.limiter != nil {
		ok, wait, err := s.limiter.Allow(ctx, ownerID)
		if err != nil {
			return model.SyncResult{}, err
		}
		if !ok {
			return model.SyncResult{}, fmt.Errorf("%w: retry in %s", errs.ErrRateLimited, wait.Round(time.Second))
		}
	}

	var res model.SyncResult
	err := s.repo.WithOwner(ctx, ownerID, func(ctx context.Context, tx repository.PlaceTx) error {
		st, err := tx.Status(ctx)
		if err != nil {
			return err
		}
		serverTime := s.clock(st.LastServerTime)

		a := &applier{tx: tx, resolver: s.resolver, at: serverTime, log: s.log, auth: map[uuid.UUID]model.PlaceRecord{}}
		for _, in := range batch.Changes {
			if err := a.apply(ctx, in); err != nil {
				return fmt.Errorf("apply %s: %w", in.ID, err)
			}
		}

		changed, err := tx.ChangedSince(ctx, batch.Since)
		if err != nil {
			return fmt.Errorf("delta: %w", err)
		}
		for _, rec := range changed {
			a.echo(rec)
		}

		st.LastServerTime = serverTime
		st.LastSyncDevice = batch.DeviceID
		st.SyncCount++
		if err := tx.SaveStatus(ctx, st); err != nil {
			return fmt.Errorf("save status: %w", err)
		}

		res = model.SyncResult{ServerTime: serverTime, Changes: a.changes(), Conflicts: a.conflicts}
		return nil
	})
	if err != nil {
		return model.SyncResult{}, err
	}

	s.log.Debug("sync applied",
		zap.String("owner", ownerID.String()),
		zap.String("device", batch.DeviceID),
		zap.Int("pushed", len(batch.Changes)),
		zap.Int("returned", len(res.Changes)),
		zap.Int("conflicts", len(res.Conflicts)),
	)
	return res, nil
}

// Status returns the owner's bookkeeping.
func (s *SyncServiceImpl) Status(ctx context.Context, ownerID uuid.UUID) (model.SyncStatus, error) {
	if ownerID == uuid.Nil {
		return model.SyncStatus{}, fmt.Errorf("%w: empty owner", errs.ErrInvalidArgument)
	}
	return s.repo.GetStatus(ctx, ownerID)
}

// clock returns the cycle's server time: wall clock, but strictly after the
// owner's previous cycle.
func (s *SyncServiceImpl) clock(last time.Time) time.Time {
	t := model.NormalizeTime(s.now())
	if !t.After(last) {
		t = last.Add(model.ClockPrecision)
	}
	return t
}

// applier resolves the changes of one cycle and collects the response.
type applier struct {
	tx       repository.PlaceTx
	resolver resolve.Resolver
	at       time.Time
	log      *zap.Logger

	order     []uuid.UUID
	auth      map[uuid.UUID]model.PlaceRecord
	conflicts []model.PlaceRecord
}

func (a *applier) echo(rec model.PlaceRecord) {
	if _, seen := a.auth[rec.ID]; !seen {
		a.order = append(a.order, rec.ID)
	}
	a.auth[rec.ID] = rec
}

func (a *applier) put(ctx context.Context, rec model.PlaceRecord) error {
	if err := a.tx.Put(ctx, rec, a.at); err != nil {
		return err
	}
	a.echo(rec)
	return nil
}

func (a *applier) changes() []model.PlaceRecord {
	out := make([]model.PlaceRecord, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.auth[id])
	}
	return out
}

func (a *applier) apply(ctx context.Context, in model.PlaceRecord) error {
	candidate := in
	stored, err := a.tx.Get(ctx, in.ID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
	case err != nil:
		return err
	default:
		d := a.resolver.Resolve(stored, in)
		if d.Winner == resolve.Stored {
			a.echo(stored)
			if d.Reason != resolve.ReasonDuplicate && d.Reason != resolve.ReasonSameContent {
				a.conflicts = append(a.conflicts, in)
				a.log.Debug("incoming change lost",
					zap.String("id", in.ID.String()), zap.Stringer("reason", d.Reason))
			}
			return nil
		}
		if candidate.SyncVersion <= stored.SyncVersion {
			// resolved in favour of a non-sequential write
			candidate.SyncVersion = stored.SyncVersion + 1
		}
	}

	if !candidate.IsDeleted {
		other, err := a.tx.FindActiveByKey(ctx, candidate.Key())
		switch {
		case errors.Is(err, errs.ErrNotFound):
		case err != nil:
			return err
		case other.ID != candidate.ID:
			winner, loser := resolve.ResolveKey(other, candidate)
			if winner.ID == other.ID {
				a.echo(other)
				a.conflicts = append(a.conflicts, in)
				a.log.Debug("incoming change lost region key",
					zap.String("id", in.ID.String()), zap.Stringer("key", candidate.Key()))
				return a.put(ctx, resolve.Tombstone(loser, winner))
			}
			if err := a.put(ctx, resolve.Tombstone(loser, winner)); err != nil {
				return err
			}
		}
	}
	return a.put(ctx, candidate)
}
