// Package grpcserver exposes the sync service over gRPC.
package grpcserver

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/and161185/placesync/internal/auth"
	"github.com/and161185/placesync/internal/convert"
	"github.com/and161185/placesync/internal/errs"
	"github.com/and161185/placesync/internal/model"
	"github.com/and161185/placesync/internal/protocol"
	"github.com/and161185/placesync/internal/service"
)

// Server wires the sync service into gRPC handlers.
type Server struct {
	sync     service.SyncService
	verifier *auth.Verifier
}

var _ SyncServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(sync service.SyncService, verifier *auth.Verifier) *Server {
	return &Server{sync: sync, verifier: verifier}
}

// Sync pushes a device batch and returns the authoritative delta.
func (s *Server) Sync(ctx context.Context, req *protocol.SyncRequest) (*protocol.SyncResponse, error) {
	ownerID, err := s.ownerFromCtx(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	changes, err := convert.FromEnvelopes(req.Changes)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad changes: %v", err)
	}
	since, err := convert.ParseCursor(req.LastSyncAt)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad cursor: %v", err)
	}

	res, err := s.sync.Sync(ctx, ownerID, model.SyncBatch{DeviceID: req.DeviceID, Since: since, Changes: changes})
	if err != nil {
		return nil, toStatus("sync", err)
	}
	return &protocol.SyncResponse{
		Changes:    convert.ToEnvelopes(res.Changes),
		ServerTime: protocol.FormatTime(res.ServerTime),
		Conflicts:  convert.ToEnvelopes(res.Conflicts),
	}, nil
}

// Status returns the caller's sync bookkeeping.
func (s *Server) Status(ctx context.Context, _ *protocol.StatusRequest) (*protocol.StatusResponse, error) {
	ownerID, err := s.ownerFromCtx(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	st, err := s.sync.Status(ctx, ownerID)
	if err != nil {
		return nil, toStatus("status", err)
	}
	resp := convert.ToStatusResponse(st)
	return &resp, nil
}

func toStatus(op string, err error) error {
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		return status.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.PermissionDenied, "foreign record")
	case errors.Is(err, errs.ErrVersionConflict):
		return status.Error(codes.Aborted, "concurrent write, retry")
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}

// ownerFromCtx: extract "authorization: Bearer <JWT>" and verify it.
func (s *Server) ownerFromCtx(ctx context.Context) (uuid.UUID, error) {
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	return s.verifier.Verify(tok)
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		if t, ok := auth.BearerToken(v); ok {
			return t, nil
		}
	}
	return "", errors.New("no bearer token")
}
