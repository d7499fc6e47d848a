package transport

import (
	"context"
	"crypto/tls"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/and161185/placesync/internal/errs"
	"github.com/and161185/placesync/internal/protocol"
)

// GRPC invokes placesync.v1.SyncService methods with the JSON codec.
type GRPC struct {
	cc grpc.ClientConnInterface
}

// NewGRPC wraps an established connection.
func NewGRPC(cc grpc.ClientConnInterface) *GRPC { return &GRPC{cc: cc} }

// DialGRPC creates a client connection to addr. A nil tlsCfg uses plaintext.
func DialGRPC(addr string, tlsCfg *tls.Config, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	creds := insecure.NewCredentials()
	if tlsCfg != nil {
		creds = credentials.NewTLS(tlsCfg)
	}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(protocol.CodecName)),
	}, opts...)
	return grpc.NewClient(addr, opts...)
}

func (c *GRPC) Sync(ctx context.Context, token string, req protocol.SyncRequest) (protocol.SyncResponse, error) {
	var out protocol.SyncResponse
	err := c.invoke(ctx, protocol.MethodSync, token, &req, &out)
	return out, err
}

func (c *GRPC) Status(ctx context.Context, token string) (protocol.StatusResponse, error) {
	var out protocol.StatusResponse
	err := c.invoke(ctx, protocol.MethodStatus, token, &protocol.StatusRequest{}, &out)
	return out, err
}

func (c *GRPC) invoke(ctx context.Context, method, token string, in, out any) error {
	callCtx := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	err := c.cc.Invoke(callCtx, method, in, out, grpc.CallContentSubtype(protocol.CodecName))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fromStatus(method, err)
}

func fromStatus(method string, err error) error {
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated:
		return &errs.AuthError{Err: err}
	case codes.Internal:
		// decode failures of the response surface as Internal on the client side
		if strings.HasPrefix(st.Message(), "grpc: failed to unmarshal") {
			return &errs.MalformedResponseError{Reason: method, Err: err}
		}
	}
	return &errs.NetworkError{Op: method, Status: int(st.Code()), Err: err}
}
