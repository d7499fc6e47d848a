// Package model defines domain entities used by stores, services and transports.
package model

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ClockPrecision is the resolution kept for every timestamp; it matches what
// both PostgreSQL and the wire format preserve, so equal clocks stay equal.
const ClockPrecision = time.Microsecond

// NormalizeTime returns t in UTC truncated to ClockPrecision.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(ClockPrecision)
}

// PlaceStatus tells whether a region was visited or is on the bucket list.
type PlaceStatus string

const (
	StatusVisited    PlaceStatus = "visited"
	StatusBucketList PlaceStatus = "bucket_list"
)

// Valid reports whether s is a known status.
func (s PlaceStatus) Valid() bool {
	return s == StatusVisited || s == StatusBucketList
}

// UnmarshalText rejects unknown statuses.
func (s *PlaceStatus) UnmarshalText(b []byte) error {
	v := PlaceStatus(b)
	if !v.Valid() {
		return fmt.Errorf("unknown status %q", string(b))
	}
	*s = v
	return nil
}

// VisitType distinguishes a full visit from a transit/layover.
type VisitType string

const (
	VisitFull    VisitType = "visited"
	VisitTransit VisitType = "transit"
)

// Valid reports whether v is a known visit type.
func (v VisitType) Valid() bool {
	return v == VisitFull || v == VisitTransit
}

// UnmarshalText rejects unknown visit types.
func (v *VisitType) UnmarshalText(b []byte) error {
	t := VisitType(b)
	if !t.Valid() {
		return fmt.Errorf("unknown visit type %q", string(b))
	}
	*v = t
	return nil
}

// RegionKey identifies a region for one owner; at most one active record exists per key.
type RegionKey struct {
	Type RegionType
	Code string
}

func (k RegionKey) String() string { return k.Type.String() + "#" + k.Code }

// PlaceRecord is a user's claim about one region, including sync metadata.
type PlaceRecord struct {
	ID      uuid.UUID // assigned at creation, immutable
	OwnerID uuid.UUID // uuid.Nil in the device store, where the owner is implicit

	RegionType RegionType
	RegionCode string
	RegionName string

	Status        PlaceStatus
	VisitType     VisitType
	VisitedDate   *time.Time
	DepartureDate *time.Time
	Notes         *string

	SyncVersion    int64     // starts at 1, +1 per accepted write
	LastModifiedAt time.Time // clock of the mutation that produced this version
	IsDeleted      bool      // tombstone flag
	IsSynced       bool      // device-local: false while a mutation awaits acknowledgement
}

// Key returns the region key of the record.
func (r PlaceRecord) Key() RegionKey {
	return RegionKey{Type: r.RegionType, Code: r.RegionCode}
}

// SameContent reports whether two versions carry identical user-visible content.
// Versions, clocks and the local sync flag are ignored.
func (r PlaceRecord) SameContent(o PlaceRecord) bool {
	return r.ID == o.ID &&
		r.RegionType == o.RegionType &&
		r.RegionCode == o.RegionCode &&
		r.RegionName == o.RegionName &&
		r.Status == o.Status &&
		r.VisitType == o.VisitType &&
		equalTime(r.VisitedDate, o.VisitedDate) &&
		equalTime(r.DepartureDate, o.DepartureDate) &&
		equalString(r.Notes, o.Notes) &&
		r.IsDeleted == o.IsDeleted
}

// SameVersion reports whether o is exactly the same version of the same record.
func (r PlaceRecord) SameVersion(o PlaceRecord) bool {
	return r.SyncVersion == o.SyncVersion &&
		r.LastModifiedAt.Equal(o.LastModifiedAt) &&
		r.SameContent(o)
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// PlaceInput is a local toggle intent: the content a user sets for a region.
type PlaceInput struct {
	RegionType    RegionType
	RegionCode    string
	RegionName    string
	Status        PlaceStatus
	VisitType     VisitType
	VisitedDate   *time.Time
	DepartureDate *time.Time
	Notes         *string
}

// SyncStatus is the per-owner service-side sync bookkeeping.
type SyncStatus struct {
	OwnerID        uuid.UUID
	LastServerTime time.Time // zero until the first cycle
	LastSyncDevice string
	SyncCount      int64
}
