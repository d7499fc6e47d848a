package model

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/placesync/internal/errs"
)

// MaxNotesLen is the maximum length of notes, in characters.
const MaxNotesLen = 500

// Validate checks the content a user supplies for a region.
func (in PlaceInput) Validate() error {
	return validateContent(in.RegionType, in.RegionCode, in.Status, in.VisitType,
		in.VisitedDate, in.DepartureDate, in.Notes)
}

// Validate checks a full record version, as received from another party.
func (r PlaceRecord) Validate() error {
	if r.ID == uuid.Nil {
		return fmt.Errorf("%w: empty id", errs.ErrInvalidArgument)
	}
	if r.SyncVersion < 1 {
		return fmt.Errorf("%w: sync_version %d < 1", errs.ErrInvalidArgument, r.SyncVersion)
	}
	if r.LastModifiedAt.IsZero() {
		return fmt.Errorf("%w: missing last_modified_at", errs.ErrInvalidArgument)
	}
	return validateContent(r.RegionType, r.RegionCode, r.Status, r.VisitType,
		r.VisitedDate, r.DepartureDate, r.Notes)
}

func validateContent(rt RegionType, code string, st PlaceStatus, vt VisitType, visited, departed *time.Time, notes *string) error {
	switch {
	case !rt.Valid():
		return fmt.Errorf("%w: unknown region type", errs.ErrInvalidArgument)
	case code == "":
		return fmt.Errorf("%w: empty region code", errs.ErrInvalidArgument)
	case !st.Valid():
		return fmt.Errorf("%w: unknown status %q", errs.ErrInvalidArgument, st)
	case !vt.Valid():
		return fmt.Errorf("%w: unknown visit type %q", errs.ErrInvalidArgument, vt)
	case notes != nil && utf8.RuneCountInString(*notes) > MaxNotesLen:
		return fmt.Errorf("%w: notes longer than %d characters", errs.ErrInvalidArgument, MaxNotesLen)
	case visited != nil && departed != nil && departed.Before(*visited):
		return fmt.Errorf("%w: departure before visit date", errs.ErrInvalidArgument)
	}
	return nil
}
