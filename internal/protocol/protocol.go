// Package protocol defines the JSON wire format of the sync endpoint.
//
// The same types travel over HTTP (POST /sync) and over gRPC with the JSON
// codec, so both transports share one schema. Field values are kept as plain
// strings here; package convert validates and maps them to domain types.
package protocol

import (
	"fmt"
	"time"
)

// ChangeEnvelope is the wire representation of one place record version.
type ChangeEnvelope struct {
	ID             string  `json:"id"`
	OwnerID        string  `json:"owner_id,omitempty"`
	RegionType     string  `json:"region_type"`
	RegionCode     string  `json:"region_code"`
	RegionName     string  `json:"region_name"`
	Status         string  `json:"status"`
	VisitType      string  `json:"visit_type"`
	VisitedDate    *string `json:"visited_date"`
	DepartureDate  *string `json:"departure_date"`
	Notes          *string `json:"notes"`
	SyncVersion    int64   `json:"sync_version"`
	LastModifiedAt string  `json:"last_modified_at"`
	IsDeleted      bool    `json:"is_deleted"`
}

// SyncRequest is pushed by a device once per cycle.
type SyncRequest struct {
	Changes    []ChangeEnvelope `json:"changes"`
	LastSyncAt *string          `json:"last_sync_at"`
	DeviceID   string           `json:"device_id"`
}

// SyncResponse carries the authoritative versions and the new cursor.
type SyncResponse struct {
	Changes    []ChangeEnvelope `json:"changes"`
	ServerTime string           `json:"server_time"`
	Conflicts  []ChangeEnvelope `json:"conflicts"`
}

// StatusRequest asks for the owner's sync bookkeeping. It has no fields; the
// owner comes from the bearer credential.
type StatusRequest struct{}

// StatusResponse reports the owner's sync bookkeeping.
type StatusResponse struct {
	OwnerID        string  `json:"owner_id"`
	LastSyncAt     *string `json:"last_sync_at"`
	LastSyncDevice string  `json:"last_sync_device"`
	SyncCount      int64   `json:"sync_count"`
}

// ErrorResponse is the HTTP error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// TimeLayout renders timestamps with fixed microsecond precision in UTC.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// DateLayout is accepted for visited/departure dates without a time part.
const DateLayout = time.DateOnly

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts any RFC 3339 timestamp, with or without fractional seconds.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

// ParseDate accepts an RFC 3339 timestamp or a bare YYYY-MM-DD date (UTC midnight).
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	return ParseTime(s)
}
