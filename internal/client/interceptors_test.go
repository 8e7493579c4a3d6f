package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

func captureOutgoing(md *metadata.MD) grpc.UnaryInvoker {
	return func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
		*md, _ = metadata.FromOutgoingContext(ctx)
		return nil
	}
}

func TestWithUserID(t *testing.T) {
	var md metadata.MD

	err := withUserID("u-alice")(context.Background(), "/svc/M", nil, nil, nil, captureOutgoing(&md))
	assert.NoError(t, err)
	assert.Equal(t, []string{"u-alice"}, md.Get(metadataUserID))

	ctx := metadata.AppendToOutgoingContext(context.Background(), metadataUserID, "u-bob")
	err = withUserID("u-alice")(ctx, "/svc/M", nil, nil, nil, captureOutgoing(&md))
	assert.NoError(t, err)
	assert.Equal(t, []string{"u-bob"}, md.Get(metadataUserID))
}

func TestForwardMetadata(t *testing.T) {
	var md metadata.MD
	in := metadata.NewIncomingContext(context.Background(), metadata.Pairs(metadataUserID, "u-carol", "x-request-id", "r1"))

	err := forwardMetadata(in, "/svc/M", nil, nil, nil, captureOutgoing(&md))
	assert.NoError(t, err)
	assert.Equal(t, []string{"u-carol"}, md.Get(metadataUserID))
	assert.Equal(t, []string{"r1"}, md.Get("x-request-id"))
}
