// Package resolve decides which of two versions of a place record is authoritative.
//
// The same rules run on the service (authoritative) and on the device during
// merge, so both sides converge without further coordination. All functions are
// pure: the outcome depends only on the arguments and the configured policy.
package resolve

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/and161185/placesync/internal/model"
)

// Policy selects how concurrent tombstones compete with updates.
type Policy int

const (
	// LastWriteWins treats a tombstone as an ordinary value: it wins only by being newer.
	LastWriteWins Policy = iota
	// DeleteWins lets a tombstone beat a concurrent update regardless of clocks.
	DeleteWins
)

// ParsePolicy maps a flag value ("lww", "delete-wins") to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "lww":
		return LastWriteWins, nil
	case "delete-wins":
		return DeleteWins, nil
	default:
		return LastWriteWins, fmt.Errorf("unknown conflict policy %q", s)
	}
}

func (p Policy) String() string {
	if p == DeleteWins {
		return "delete-wins"
	}
	return "lww"
}

// Winner names the side chosen by Resolve.
type Winner int

const (
	Stored Winner = iota
	Incoming
)

// Reason explains a Decision.
type Reason int

const (
	// ReasonNewerVersion: incoming has a higher sync version (sequential edit).
	ReasonNewerVersion Reason = iota
	// ReasonDuplicate: incoming is exactly the stored version (retry).
	ReasonDuplicate
	// ReasonSameContent: versions differ but carry identical content.
	ReasonSameContent
	// ReasonDeleteWins: a tombstone beat a concurrent update under DeleteWins.
	ReasonDeleteWins
	// ReasonLaterClock: concurrent edit decided by last_modified_at.
	ReasonLaterClock
	// ReasonTieBreak: concurrent edit with equal clocks decided by content fingerprint.
	ReasonTieBreak
)

func (r Reason) String() string {
	switch r {
	case ReasonNewerVersion:
		return "newer_version"
	case ReasonDuplicate:
		return "duplicate"
	case ReasonSameContent:
		return "same_content"
	case ReasonDeleteWins:
		return "delete_wins"
	case ReasonLaterClock:
		return "later_clock"
	case ReasonTieBreak:
		return "tie_break"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Decision is the outcome of Resolve.
type Decision struct {
	Winner Winner
	Reason Reason
}

// Concurrent reports whether the decision settled a genuine concurrent edit.
func (d Decision) Concurrent() bool {
	switch d.Reason {
	case ReasonDeleteWins, ReasonLaterClock, ReasonTieBreak:
		return true
	default:
		return false
	}
}

// Resolver applies a Policy.
type Resolver struct {
	policy Policy
}

// New returns a Resolver for the given policy.
func New(p Policy) Resolver { return Resolver{policy: p} }

// Policy returns the configured policy.
func (r Resolver) Policy() Policy { return r.policy }

// Resolve picks the authoritative version between stored and incoming, which
// must share an id.
//
// Rules, in order:
//  1. a strictly higher incoming sync version wins;
//  2. identical content keeps stored (no write);
//  3. under DeleteWins a lone tombstone wins;
//  4. the later last_modified_at wins;
//  5. equal clocks: the greater content fingerprint wins.
//
// Rules 2-5 are symmetric, so two devices resolving the same pair in opposite
// roles select the same record.
func (r Resolver) Resolve(stored, incoming model.PlaceRecord) Decision {
	if incoming.SyncVersion > stored.SyncVersion {
		return Decision{Winner: Incoming, Reason: ReasonNewerVersion}
	}
	if stored.SameContent(incoming) {
		if stored.SyncVersion == incoming.SyncVersion {
			return Decision{Winner: Stored, Reason: ReasonDuplicate}
		}
		return Decision{Winner: Stored, Reason: ReasonSameContent}
	}
	if r.policy == DeleteWins && stored.IsDeleted != incoming.IsDeleted {
		if incoming.IsDeleted {
			return Decision{Winner: Incoming, Reason: ReasonDeleteWins}
		}
		return Decision{Winner: Stored, Reason: ReasonDeleteWins}
	}
	switch cmpTime(incoming.LastModifiedAt, stored.LastModifiedAt) {
	case 1:
		return Decision{Winner: Incoming, Reason: ReasonLaterClock}
	case -1:
		return Decision{Winner: Stored, Reason: ReasonLaterClock}
	}
	fi, fs := Fingerprint(incoming), Fingerprint(stored)
	if bytes.Compare(fi[:], fs[:]) > 0 {
		return Decision{Winner: Incoming, Reason: ReasonTieBreak}
	}
	return Decision{Winner: Stored, Reason: ReasonTieBreak}
}

// ResolveKey settles two active records with different ids claiming the same
// region key. The later last_modified_at wins; equal clocks go to the
// lexicographically greater id string. The result does not depend on argument order.
func ResolveKey(a, b model.PlaceRecord) (winner, loser model.PlaceRecord) {
	switch cmpTime(a.LastModifiedAt, b.LastModifiedAt) {
	case 1:
		return a, b
	case -1:
		return b, a
	}
	if a.ID.String() >= b.ID.String() {
		return a, b
	}
	return b, a
}

// Tombstone returns the version that retires loser after a region-key conflict
// won by winner: next sync version, deleted, stamped with the winner's clock.
// The clock always ends up strictly after the loser's, so a replay of the
// losing version cannot beat its own tombstone.
func Tombstone(loser, winner model.PlaceRecord) model.PlaceRecord {
	t := loser
	t.IsDeleted = true
	t.SyncVersion = loser.SyncVersion + 1
	t.LastModifiedAt = winner.LastModifiedAt
	if !t.LastModifiedAt.After(loser.LastModifiedAt) {
		t.LastModifiedAt = loser.LastModifiedAt.Add(model.ClockPrecision)
	}
	return t
}

// Fingerprint is a SHA-256 digest of the canonical content of a record.
// Sync metadata (versions, clocks, flags other than the tombstone) is excluded.
func Fingerprint(rec model.PlaceRecord) [sha256.Size]byte {
	h := sha256.New()
	field := func(s string) {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	optTime := func(t *time.Time) {
		if t == nil {
			field("")
			return
		}
		field(t.UTC().Format(time.RFC3339Nano))
	}

	field(rec.ID.String())
	field(rec.RegionType.String())
	field(rec.RegionCode)
	field(rec.RegionName)
	field(string(rec.Status))
	field(string(rec.VisitType))
	optTime(rec.VisitedDate)
	optTime(rec.DepartureDate)
	if rec.Notes == nil {
		field("\x00")
	} else {
		field("\x01" + *rec.Notes)
	}
	if rec.IsDeleted {
		field("1")
	} else {
		field("0")
	}

	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

func cmpTime(a, b time.Time) int {
	switch {
	case a.After(b):
		return 1
	case a.Before(b):
		return -1
	default:
		return 0
	}
}
