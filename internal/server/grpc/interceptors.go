package grpcserver

import (
	"context"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/placesync/internal/protocol"
)

// LoggingUnary returns a unary server interceptor for structured logging.
// Server-side failures are logged at error level, rejected credentials and
// throttled cycles at warn, everything else at info. Sync calls also report
// the device and batch sizes.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		var remote string
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			remote = p.Addr.String()
		}

		// metadata only, never payloads
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", remote),
		}
		log.Log(levelFor(code), "grpc", append(fields, syncFields(req, resp)...)...)
		return resp, err
	}
}

func syncFields(req, resp any) []zap.Field {
	var out []zap.Field
	if in, ok := req.(*protocol.SyncRequest); ok {
		out = append(out, zap.String("device", in.DeviceID), zap.Int("pushed", len(in.Changes)))
	}
	if res, ok := resp.(*protocol.SyncResponse); ok && res != nil {
		out = append(out, zap.Int("returned", len(res.Changes)), zap.Int("conflicts", len(res.Conflicts)))
	}
	return out
}

func levelFor(c codes.Code) zapcore.Level {
	switch c {
	case codes.Internal, codes.Unknown, codes.DataLoss:
		return zapcore.ErrorLevel
	case codes.Unauthenticated, codes.PermissionDenied, codes.ResourceExhausted:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// RecoverUnary returns a unary server interceptor that recovers from panics.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}
