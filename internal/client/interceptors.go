package client

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// metadataUserID mirrors the key the approval service reads the caller from.
const metadataUserID = "x-user-id"

// forwardMetadata is a gRPC unary client interceptor that propagates
// incoming request metadata to outgoing calls, so a caller identity received
// by one service reaches the next.
func forwardMetadata(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		ctx = metadata.NewOutgoingContext(ctx, md)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// withUserID stamps every outgoing call with userID unless the context
// already carries one.
func withUserID(userID string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if md, ok := metadata.FromOutgoingContext(ctx); !ok || len(md.Get(metadataUserID)) == 0 {
			ctx = metadata.AppendToOutgoingContext(ctx, metadataUserID, userID)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
