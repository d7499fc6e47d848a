// Package transport carries sync requests from the device to the service,
// over HTTP or over gRPC with the JSON codec.
//
// Failures come back as the typed errors of package errs: *errs.AuthError
// when the credential is rejected (401, Unauthenticated), *errs.NetworkError
// for every other failure including a 403, *errs.MalformedResponseError when
// the body does not decode.
// Context cancellation is returned as the context's error.
package transport

import (
	"context"

	"github.com/and161185/placesync/internal/protocol"
)

// Transport is one way of reaching the sync service.
type Transport interface {
	Sync(ctx context.Context, token string, req protocol.SyncRequest) (protocol.SyncResponse, error)
	Status(ctx context.Context, token string) (protocol.StatusResponse, error)
}
