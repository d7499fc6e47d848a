package model

import "time"

// SyncBatch is one device's push for a cycle.
type SyncBatch struct {
	DeviceID string
	Since    time.Time // zero requests a full snapshot
	Changes  []PlaceRecord
}

// SyncResult is the service's answer to a SyncBatch.
type SyncResult struct {
	ServerTime time.Time
	// Changes holds the authoritative version of every pushed record plus every
	// record that changed since the batch cursor, each id once.
	Changes []PlaceRecord
	// Conflicts holds the pushed versions that lost resolution.
	Conflicts []PlaceRecord
}
