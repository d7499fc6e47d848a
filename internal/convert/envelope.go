// Package convert maps between wire envelopes and domain records.
package convert

import (
	"fmt"
	"time"

	u "github.com/gofrs/uuid/v5"

	"github.com/and161185/placesync/internal/errs"
	model "github.com/and161185/placesync/internal/model"
	"github.com/and161185/placesync/internal/protocol"
)

// --- helpers ---

func optTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := protocol.FormatTime(*t)
	return &s
}

func parseOptDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := protocol.ParseDate(*s)
	if err != nil {
		return nil, err
	}
	t = model.NormalizeTime(t)
	return &t, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errs.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// --- records (both directions) ---

// ToEnvelope converts a domain record to its wire form. OwnerID is emitted
// only when known.
func ToEnvelope(r model.PlaceRecord) protocol.ChangeEnvelope {
	env := protocol.ChangeEnvelope{
		ID:             r.ID.String(),
		RegionType:     r.RegionType.String(),
		RegionCode:     r.RegionCode,
		RegionName:     r.RegionName,
		Status:         string(r.Status),
		VisitType:      string(r.VisitType),
		VisitedDate:    optTime(r.VisitedDate),
		DepartureDate:  optTime(r.DepartureDate),
		SyncVersion:    r.SyncVersion,
		LastModifiedAt: protocol.FormatTime(r.LastModifiedAt),
		IsDeleted:      r.IsDeleted,
	}
	if r.OwnerID != u.Nil {
		env.OwnerID = r.OwnerID.String()
	}
	if r.Notes != nil {
		n := *r.Notes
		env.Notes = &n
	}
	return env
}

// ToEnvelopes converts a slice of records.
func ToEnvelopes(rs []model.PlaceRecord) []protocol.ChangeEnvelope {
	out := make([]protocol.ChangeEnvelope, 0, len(rs))
	for _, r := range rs {
		out = append(out, ToEnvelope(r))
	}
	return out
}

// FromEnvelope parses a wire envelope. Enumerations, identifiers and
// timestamps are checked here; content rules are left to model.PlaceRecord.Validate.
// Timestamps are normalized to UTC microseconds. IsSynced is always false.
func FromEnvelope(in protocol.ChangeEnvelope) (model.PlaceRecord, error) {
	var id u.UUID
	if err := id.UnmarshalText([]byte(in.ID)); err != nil {
		return model.PlaceRecord{}, invalid("id: %v", err)
	}
	var owner u.UUID
	if in.OwnerID != "" {
		if err := owner.UnmarshalText([]byte(in.OwnerID)); err != nil {
			return model.PlaceRecord{}, invalid("owner_id: %v", err)
		}
	}
	rt, err := model.ParseRegionType(in.RegionType)
	if err != nil {
		return model.PlaceRecord{}, invalid("%v", err)
	}
	var st model.PlaceStatus
	if err := st.UnmarshalText([]byte(in.Status)); err != nil {
		return model.PlaceRecord{}, invalid("%v", err)
	}
	var vt model.VisitType
	if err := vt.UnmarshalText([]byte(in.VisitType)); err != nil {
		return model.PlaceRecord{}, invalid("%v", err)
	}
	modified, err := protocol.ParseTime(in.LastModifiedAt)
	if err != nil {
		return model.PlaceRecord{}, invalid("last_modified_at: %v", err)
	}
	visited, err := parseOptDate(in.VisitedDate)
	if err != nil {
		return model.PlaceRecord{}, invalid("visited_date: %v", err)
	}
	departed, err := parseOptDate(in.DepartureDate)
	if err != nil {
		return model.PlaceRecord{}, invalid("departure_date: %v", err)
	}
	var notes *string
	if in.Notes != nil {
		n := *in.Notes
		notes = &n
	}

	return model.PlaceRecord{
		ID:             id,
		OwnerID:        owner,
		RegionType:     rt,
		RegionCode:     in.RegionCode,
		RegionName:     in.RegionName,
		Status:         st,
		VisitType:      vt,
		VisitedDate:    visited,
		DepartureDate:  departed,
		Notes:          notes,
		SyncVersion:    in.SyncVersion,
		LastModifiedAt: model.NormalizeTime(modified),
		IsDeleted:      in.IsDeleted,
	}, nil
}

// FromEnvelopes parses a slice of envelopes, reporting the index of the first bad one.
func FromEnvelopes(in []protocol.ChangeEnvelope) ([]model.PlaceRecord, error) {
	out := make([]model.PlaceRecord, 0, len(in))
	for i, e := range in {
		r, err := FromEnvelope(e)
		if err != nil {
			return nil, fmt.Errorf("change[%d]: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// --- cursor ---

// ParseCursor parses an optional last_sync_at. A nil or empty value yields the
// zero time, meaning "full snapshot".
func ParseCursor(s *string) (time.Time, error) {
	if s == nil || *s == "" {
		return time.Time{}, nil
	}
	t, err := protocol.ParseTime(*s)
	if err != nil {
		return time.Time{}, invalid("last_sync_at: %v", err)
	}
	return model.NormalizeTime(t), nil
}

// FormatCursor renders a cursor; the zero time becomes nil.
func FormatCursor(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := protocol.FormatTime(t)
	return &s
}

// --- status ---

// ToStatusResponse converts the service-side bookkeeping to its wire form.
func ToStatusResponse(st model.SyncStatus) protocol.StatusResponse {
	return protocol.StatusResponse{
		OwnerID:        st.OwnerID.String(),
		LastSyncAt:     FormatCursor(st.LastServerTime),
		LastSyncDevice: st.LastSyncDevice,
		SyncCount:      st.SyncCount,
	}
}
