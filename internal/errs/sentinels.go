// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across store/service/transport layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates a write whose version does not advance the stored one.
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidArgument indicates a request that fails validation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrRateLimited indicates the owner exceeded the allowed number of sync cycles.
	ErrRateLimited = errors.New("too many sync cycles")

	// ErrBusy indicates a sync cycle is already in flight for this device.
	ErrBusy = errors.New("sync cycle already in flight")

	// ErrReauthRequired indicates the credential could not be refreshed; the user must sign in again.
	ErrReauthRequired = errors.New("sign-in required")
)
