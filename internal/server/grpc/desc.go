package grpcserver

import (
	"context"

	"google.golang.org/grpc"

	"github.com/and161185/placesync/internal/protocol"
)

// SyncServer is the handler set behind ServiceDesc.
type SyncServer interface {
	Sync(ctx context.Context, req *protocol.SyncRequest) (*protocol.SyncResponse, error)
	Status(ctx context.Context, req *protocol.StatusRequest) (*protocol.StatusResponse, error)
}

// ServiceDesc declares placesync.v1.SyncService. Messages are the JSON
// documents of package protocol, carried with the "json" codec.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: protocol.ServiceName,
	HandlerType: (*SyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Sync", Handler: syncHandler},
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "placesync/v1/sync",
}

// Register attaches srv to gs.
func Register(gs grpc.ServiceRegistrar, srv SyncServer) {
	gs.RegisterService(&ServiceDesc, srv)
}

func syncHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(protocol.SyncRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServer).Sync(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: protocol.MethodSync}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncServer).Sync(ctx, req.(*protocol.SyncRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(protocol.StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: protocol.MethodStatus}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncServer).Status(ctx, req.(*protocol.StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}
