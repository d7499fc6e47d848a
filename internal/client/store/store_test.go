package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/placesync/internal/errs"
	"github.com/and161185/placesync/internal/model"
)

var t0 = time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)

// frozenClock always returns t0, so every stamp relies on the never-earlier rule.
func frozenClock() time.Time { return t0 }

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", WithClock(frozenClock), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func input(rt model.RegionType, code string, st model.PlaceStatus) model.PlaceInput {
	return model.PlaceInput{RegionType: rt, RegionCode: code, RegionName: code, Status: st, VisitType: model.VisitFull}
}

func TestScenarioA_OfflineToggles(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	key := model.RegionKey{Type: model.RegionCountry, Code: "US"}

	a, err := s.UpsertByKey(ctx, input(model.RegionCountry, "US", model.StatusVisited))
	require.NoError(t, err)
	b, err := s.UpsertByKey(ctx, input(model.RegionCountry, "US", model.StatusBucketList))
	require.NoError(t, err)
	c, err := s.SoftDeleteByKey(ctx, key)
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, a.ID, c.ID)
	assert.Equal(t, []int64{1, 2, 3}, []int64{a.SyncVersion, b.SyncVersion, c.SyncVersion})
	assert.True(t, b.LastModifiedAt.After(a.LastModifiedAt))
	assert.True(t, c.LastModifiedAt.After(b.LastModifiedAt))

	_, err = s.FindActiveByKey(ctx, key)
	require.ErrorIs(t, err, errs.ErrNotFound)

	pending, err := s.ListUnsynced(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].IsDeleted)
	assert.False(t, pending[0].IsSynced)
	assert.Equal(t, model.StatusBucketList, pending[0].Status)
}

func TestUpsertByKey_RetoggleCreatesNewID(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	first, err := s.UpsertByKey(ctx, input(model.RegionUSState, "NY", model.StatusVisited))
	require.NoError(t, err)
	_, err = s.SoftDelete(ctx, first.ID)
	require.NoError(t, err)

	again, err := s.UpsertByKey(ctx, input(model.RegionUSState, "NY", model.StatusVisited))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, again.ID)
	assert.Equal(t, int64(1), again.SyncVersion)

	old, err := s.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, old.IsDeleted)

	// deleting a tombstone is a no-op
	same, err := s.SoftDelete(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, old.SyncVersion, same.SyncVersion)

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, again.ID, active[0].ID)
}

func TestUpsertByKey_ValidationAndFields(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.UpsertByKey(ctx, input(model.RegionCountry, "", model.StatusVisited))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	visited := time.Date(2023, 4, 1, 15, 30, 0, 999, time.FixedZone("JST", 9*3600))
	notes := "cherry blossoms"
	in := input(model.RegionCountry, "JP", model.StatusVisited)
	in.VisitType = model.VisitTransit
	in.VisitedDate = &visited
	in.Notes = &notes
	rec, err := s.UpsertByKey(ctx, in)
	require.NoError(t, err)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.SameVersion(rec))
	assert.Equal(t, model.VisitTransit, got.VisitType)
	assert.Equal(t, time.UTC, got.VisitedDate.Location())
	assert.True(t, got.VisitedDate.Equal(visited.Truncate(time.Microsecond)))
	assert.Nil(t, got.DepartureDate)
	assert.Equal(t, "cherry blossoms", *got.Notes)

	_, err = s.SoftDeleteByKey(ctx, model.RegionKey{Type: model.RegionCountry, Code: "KR"})
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = s.SoftDelete(ctx, uuid.Must(uuid.NewV4()))
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestListUnsynced_OrderAndLimit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for _, code := range []string{"AR", "BO", "CL"} {
		r, err := s.UpsertByKey(ctx, input(model.RegionCountry, code, model.StatusVisited))
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}
	// with a frozen wall clock each new record still gets t0, ordering falls back to id
	got, err := s.ListUnsynced(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].ID.String() < got[1].ID.String())

	n, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestApplyRemoteAndMarkSynced(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	local, err := s.UpsertByKey(ctx, input(model.RegionCountry, "FR", model.StatusVisited))
	require.NoError(t, err)

	remote := model.PlaceRecord{
		ID: uuid.Must(uuid.NewV4()), OwnerID: uuid.Must(uuid.NewV4()),
		RegionType: model.RegionCountry, RegionCode: "DE", RegionName: "Germany",
		Status: model.StatusBucketList, VisitType: model.VisitFull,
		SyncVersion: 4, LastModifiedAt: t0.Add(-time.Hour),
	}
	stale := remote
	stale.SyncVersion = 3
	stale.Status = model.StatusVisited

	err = s.Apply(ctx, func(ctx context.Context, tx *Tx) error {
		ok, err := tx.ApplyRemote(ctx, remote)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = tx.ApplyRemote(ctx, stale)
		require.NoError(t, err)
		require.False(t, ok, "older remote version must not overwrite")

		ok, err = tx.MarkSynced(ctx, local.ID, local.SyncVersion+1)
		require.NoError(t, err)
		require.False(t, ok, "version mismatch must not ack")

		ok, err = tx.MarkSynced(ctx, local.ID, local.SyncVersion)
		require.NoError(t, err)
		require.True(t, ok)

		return tx.SetCursor(ctx, t0.Add(time.Minute))
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, remote.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSynced)
	assert.Equal(t, uuid.Nil, got.OwnerID)
	assert.Equal(t, model.StatusBucketList, got.Status)

	n, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	cur, err := s.Cursor(ctx)
	require.NoError(t, err)
	assert.True(t, cur.Equal(t0.Add(time.Minute)))
}

func TestApply_RollbackLeavesNoTrace(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	local, err := s.UpsertByKey(ctx, input(model.RegionCountry, "IS", model.StatusVisited))
	require.NoError(t, err)

	interrupted := errors.New("interrupted")
	err = s.Apply(ctx, func(ctx context.Context, tx *Tx) error {
		_, err := tx.MarkSynced(ctx, local.ID, local.SyncVersion)
		require.NoError(t, err)
		require.NoError(t, tx.SetCursor(ctx, t0))
		return interrupted
	})
	require.ErrorIs(t, err, interrupted)

	cur, err := s.Cursor(ctx)
	require.NoError(t, err)
	assert.True(t, cur.IsZero())
	got, err := s.Get(ctx, local.ID)
	require.NoError(t, err)
	assert.False(t, got.IsSynced)
}

func TestDeviceID_Stable(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	a, err := s.DeviceID(ctx)
	require.NoError(t, err)
	b, err := s.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a)
}
