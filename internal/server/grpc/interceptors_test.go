package grpcserver

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/placesync/internal/protocol"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:12345" }

func TestLoggingUnary_LevelsAndFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	ic := LoggingUnary(zap.New(core))

	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})
	info := &grpc.UnaryServerInfo{FullMethod: protocol.MethodSync}

	req := &protocol.SyncRequest{DeviceID: "dev-1", Changes: make([]protocol.ChangeEnvelope, 3)}
	out := &protocol.SyncResponse{Changes: make([]protocol.ChangeEnvelope, 5), Conflicts: make([]protocol.ChangeEnvelope, 1)}
	resp, err := ic(ctx, req, info, func(context.Context, any) (any, error) { return out, nil })
	if err != nil || resp.(*protocol.SyncResponse) != out {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}

	wantErr := status.Error(codes.Internal, "boom")
	_, err = ic(ctx, "req", info, func(context.Context, any) (any, error) { return nil, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("want original error, got: %v", err)
	}

	_, _ = ic(ctx, "req", info, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.ResourceExhausted, "slow down")
	})

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("want 3 log entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[1].Level != zapcore.ErrorLevel || entries[2].Level != zapcore.WarnLevel {
		t.Fatalf("levels: %v %v %v", entries[0].Level, entries[1].Level, entries[2].Level)
	}
	first := entries[0].ContextMap()
	if first["device"] != "dev-1" || first["pushed"] != int64(3) || first["returned"] != int64(5) || first["conflicts"] != int64(1) {
		t.Fatalf("sync fields: %v", first)
	}
	fields := entries[1].ContextMap()
	if fields["method"] != protocol.MethodSync || fields["code"] != "Internal" || fields["peer"] != "127.0.0.1:12345" {
		t.Fatalf("fields: %v", fields)
	}
}

func TestRecoverUnary_CatchesPanic(t *testing.T) {
	t.Parallel()

	ic := RecoverUnary(zaptest.NewLogger(t))
	info := &grpc.UnaryServerInfo{FullMethod: protocol.MethodStatus}

	_, err := ic(context.Background(), "req", info, func(context.Context, any) (any, error) {
		panic("oh no")
	})
	if st, ok := status.FromError(err); !ok || st.Code() != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}

	resp, err := ic(context.Background(), "req", info, func(context.Context, any) (any, error) { return 42, nil })
	if err != nil || resp.(int) != 42 {
		t.Fatalf("passthrough: %v, %v", resp, err)
	}
}
